package flight

import (
	"context"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// NewFlightServer wraps srv in a Flight gRPC server with request logging.
func NewFlightServer(srv *GeoParquetFlightServer, opts ...grpc.ServerOption) flight.Server {
	server := flight.NewServerWithMiddleware([]flight.ServerMiddleware{loggingMiddleware(srv.logger)}, opts...)
	server.RegisterFlightService(srv)
	return server
}

// StartFlightServer listens on addr and serves until the server is shut down.
func StartFlightServer(server flight.Server, addr string, logger *slog.Logger) error {
	if err := server.Init(addr); err != nil {
		return err
	}
	logger.Info("starting Flight server", "address", server.Addr().String())
	return server.Serve()
}

func loggingMiddleware(logger *slog.Logger) flight.ServerMiddleware {
	return flight.ServerMiddleware{
		Unary: func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			start := time.Now()
			resp, err := handler(ctx, req)
			logCall(logger, info.FullMethod, start, err)
			return resp, err
		},
		Stream: func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
			start := time.Now()
			err := handler(srv, ss)
			logCall(logger, info.FullMethod, start, err)
			return err
		},
	}
}

func logCall(logger *slog.Logger, method string, start time.Time, err error) {
	if err != nil {
		logger.Warn("flight call failed",
			"method", method,
			"code", status.Code(err).String(),
			"duration", time.Since(start),
			"error", err,
		)
		return
	}
	logger.Debug("flight call", "method", method, "duration", time.Since(start))
}
