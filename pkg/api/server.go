package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"geoarrow-convert/pkg/metrics"
)

// APIServer represents the REST API server
type APIServer struct {
	handler     *APIHandler
	addr        string
	metrics     *metrics.Collector
	metricsPath string
	server      *http.Server
	logger      *slog.Logger
}

// ServerConfig configures the REST listener.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// MetricsPath is served when the handler has a collector.
	MetricsPath string
}

// NewAPIServer creates a new API server instance
func NewAPIServer(handler *APIHandler, cfg ServerConfig) *APIServer {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &APIServer{
		handler:     handler,
		addr:        cfg.Addr,
		metrics:     handler.metrics,
		metricsPath: cfg.MetricsPath,
		logger:      handler.logger,
	}
	s.server = &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the request multiplexer.
func (s *APIServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/convert", s.handler.ConvertHandler)
	mux.HandleFunc("/api/v1/inspect", s.handler.InspectHandler)

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if s.metrics == nil {
		return mux
	}
	mux.Handle(s.metricsPath, s.metrics.Handler())
	return s.metrics.Middleware(mux)
}

// Start starts the REST API server and blocks until it stops.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *APIServer) Serve(ln net.Listener) error {
	s.logger.Info("starting REST API server", "address", ln.Addr().String())
	return s.server.Serve(ln)
}

// Shutdown gracefully stops the REST API server. A later Serve returns
// http.ErrServerClosed.
func (s *APIServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
