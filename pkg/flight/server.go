package flight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/goccy/go-json"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"geoarrow-convert/pkg/convert"
	"geoarrow-convert/pkg/metrics"
)

const (
	surface = "flight"

	// OperationConvert is the DoExchange operation converting uploaded bytes.
	OperationConvert = "convert"
)

// ServerConfig configures a GeoParquetFlightServer.
type ServerConfig struct {
	// DataDir roots every path named by a ticket or descriptor.
	DataDir        string
	TempDir        string
	SpillThreshold int64
	Options        []convert.Option
	Metrics        *metrics.Collector
	Logger         *slog.Logger
	Allocator      memory.Allocator
}

// GeoParquetFlightServer serves converted GeoParquet files over Arrow Flight.
type GeoParquetFlightServer struct {
	flight.BaseFlightServer
	dataDir        string
	tempDir        string
	spillThreshold int64
	opts           []convert.Option
	metrics        *metrics.Collector
	logger         *slog.Logger
	mem            memory.Allocator
}

func NewGeoParquetFlightServer(cfg ServerConfig) *GeoParquetFlightServer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Allocator == nil {
		cfg.Allocator = memory.DefaultAllocator
	}

	opts := make([]convert.Option, 0, len(cfg.Options)+2)
	opts = append(opts, cfg.Options...)
	opts = append(opts, convert.WithAllocator(cfg.Allocator), convert.WithLogger(cfg.Logger))

	return &GeoParquetFlightServer{
		dataDir:        cfg.DataDir,
		tempDir:        cfg.TempDir,
		spillThreshold: cfg.SpillThreshold,
		opts:           opts,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		mem:            cfg.Allocator,
	}
}

type ticketRequest struct {
	Path string `json:"path"`
}

// exchangeAction is read from the first DoExchange message, either from its
// AppMetadata or from its descriptor command.
type exchangeAction struct {
	Operation string `json:"operation"`
	BatchSize int64  `json:"batch_size"`
}

// DoGet streams the converted records of the file named by the ticket.
func (s *GeoParquetFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	rel := parseTicket(tkt.GetTicket())

	pf, err := s.open(rel)
	if err != nil {
		return err
	}
	defer pf.Close()

	s.logger.Info("flight DoGet", "path", rel)
	return s.stream(stream.Context(), pf, stream, s.opts)
}

// GetSchema returns the converted schema of the file named by the descriptor.
func (s *GeoParquetFlightServer) GetSchema(ctx context.Context, desc *flight.FlightDescriptor) (*flight.SchemaResult, error) {
	rel, err := descriptorPath(desc)
	if err != nil {
		return nil, err
	}

	summary, err := s.describe(ctx, rel)
	if err != nil {
		return nil, err
	}

	return &flight.SchemaResult{Schema: flight.SerializeSchema(summary.Schema(), s.mem)}, nil
}

// GetFlightInfo describes the file named by the descriptor and hands out the
// ticket that streams it.
func (s *GeoParquetFlightServer) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	rel, err := descriptorPath(desc)
	if err != nil {
		return nil, err
	}

	summary, err := s.describe(ctx, rel)
	if err != nil {
		return nil, err
	}

	return s.flightInfo(rel, summary)
}

// ListFlights lists every convertible parquet file under the data directory.
// Files that fail to resolve are skipped.
func (s *GeoParquetFlightServer) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	if s.dataDir == "" {
		return status.Error(codes.FailedPrecondition, "no data directory configured")
	}

	ctx := stream.Context()
	return filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".parquet") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		summary, err := s.describe(ctx, rel)
		if err != nil {
			s.logger.Warn("skipping unconvertible file", "path", rel, "error", err)
			return nil
		}

		info, err := s.flightInfo(rel, summary)
		if err != nil {
			return err
		}
		return stream.Send(info)
	})
}

// DoExchange accepts a GeoParquet file as DataBody messages and streams the
// converted records back once the client closes its side.
func (s *GeoParquetFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	first, err := stream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	action := parseAction(first)
	s.logger.Debug("flight DoExchange", "operation", action.Operation)

	switch action.Operation {
	case OperationConvert:
		return s.handleConvert(stream, first, action)
	default:
		return status.Errorf(codes.InvalidArgument, "unsupported operation: %q", action.Operation)
	}
}

func (s *GeoParquetFlightServer) handleConvert(stream flight.FlightService_DoExchangeServer, first *flight.FlightData, action exchangeAction) error {
	buf := NewUploadBuffer(s.tempDir, s.spillThreshold, s.logger)
	defer func() {
		if err := buf.Cleanup(); err != nil {
			s.logger.Warn("failed to clean up upload", "error", err)
		}
	}()

	if _, err := buf.Write(first.GetDataBody()); err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if _, err := buf.Write(msg.GetDataBody()); err != nil {
			return status.Error(codes.Internal, err.Error())
		}
	}

	if buf.Size() == 0 {
		return status.Error(codes.InvalidArgument, "no geoparquet data received")
	}
	if s.metrics != nil {
		s.metrics.AddInputBytes(surface, int(buf.Size()))
	}

	opts := s.opts
	if action.BatchSize > 0 {
		opts = append(append([]convert.Option(nil), s.opts...), convert.WithBatchSize(action.BatchSize))
	}

	pf, err := buf.Open(opts...)
	if err != nil {
		s.observe(time.Now(), err)
		return toStatus(err)
	}
	defer pf.Close()

	s.logger.Info("flight DoExchange upload received", "bytes", buf.Size(), "spilled", buf.Spilled())
	return s.stream(stream.Context(), pf, stream, opts)
}

// stream converts pf and writes the records to w.
func (s *GeoParquetFlightServer) stream(ctx context.Context, pf *file.Reader, w flight.DataStreamWriter, opts []convert.Option) error {
	start := time.Now()

	rdr, err := convert.NewReader(ctx, pf, opts...)
	if err != nil {
		s.observe(start, err)
		return toStatus(err)
	}
	defer rdr.Release()

	writer := flight.NewRecordWriter(w, ipc.WithSchema(rdr.Schema()), ipc.WithAllocator(s.mem))
	defer writer.Close()

	for rdr.Next() {
		if err := writer.Write(rdr.RecordBatch()); err != nil {
			err = &convert.Error{Stage: convert.StageWrite, Err: err}
			s.observe(start, err)
			return toStatus(err)
		}
	}
	if err := rdr.Err(); err != nil {
		s.observe(start, err)
		return toStatus(err)
	}

	s.observe(start, nil)
	if s.metrics != nil {
		s.metrics.AddRows(rdr.Kind().String(), rdr.Rows())
	}
	return nil
}

func (s *GeoParquetFlightServer) observe(start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.ObserveConversion(surface, time.Since(start), err)
	}
}

func (s *GeoParquetFlightServer) describe(ctx context.Context, rel string) (*convert.Summary, error) {
	pf, err := s.open(rel)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	summary, err := convert.Describe(ctx, pf, s.opts...)
	if err != nil {
		return nil, toStatus(err)
	}
	return summary, nil
}

func (s *GeoParquetFlightServer) flightInfo(rel string, summary *convert.Summary) (*flight.FlightInfo, error) {
	tkt, err := json.Marshal(ticketRequest{Path: rel})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode ticket: %v", err)
	}

	return &flight.FlightInfo{
		Schema: flight.SerializeSchema(summary.Schema(), s.mem),
		FlightDescriptor: &flight.FlightDescriptor{
			Type: flight.DescriptorPATH,
			Path: strings.Split(rel, "/"),
		},
		Endpoint: []*flight.FlightEndpoint{
			{Ticket: &flight.Ticket{Ticket: tkt}},
		},
		TotalRecords: summary.NumRows,
		TotalBytes:   -1,
	}, nil
}

// open resolves rel under the data directory and opens it. rel must stay
// inside the directory, symlinks included.
func (s *GeoParquetFlightServer) open(rel string) (*file.Reader, error) {
	if s.dataDir == "" {
		return nil, status.Error(codes.FailedPrecondition, "no data directory configured")
	}

	local := filepath.FromSlash(rel)
	if local == "" || !filepath.IsLocal(local) {
		return nil, status.Errorf(codes.InvalidArgument, "invalid path %q", rel)
	}

	root, err := os.OpenRoot(s.dataDir)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "failed to open data directory: %v", err)
	}
	defer root.Close()

	f, err := root.Open(local)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, status.Errorf(codes.NotFound, "file %q not found", rel)
		}
		return nil, status.Errorf(codes.InvalidArgument, "invalid path %q: %v", rel, err)
	}

	pf, err := convert.OpenSource(f, s.opts...)
	if err != nil {
		f.Close()
		return nil, toStatus(err)
	}
	return pf, nil
}

// parseTicket accepts {"path": "..."} or the raw path.
func parseTicket(data []byte) string {
	var req ticketRequest
	if err := json.Unmarshal(data, &req); err == nil && req.Path != "" {
		return req.Path
	}
	return strings.TrimSpace(string(data))
}

func parseAction(msg *flight.FlightData) exchangeAction {
	var action exchangeAction

	raw := msg.GetAppMetadata()
	if len(raw) == 0 && msg.GetFlightDescriptor() != nil {
		raw = msg.GetFlightDescriptor().GetCmd()
	}
	if len(raw) == 0 {
		return action
	}

	// fall back to the raw bytes as the operation name
	if err := json.Unmarshal(raw, &action); err != nil || action.Operation == "" {
		action = exchangeAction{Operation: strings.TrimSpace(string(raw))}
	}
	return action
}

func descriptorPath(desc *flight.FlightDescriptor) (string, error) {
	if desc == nil {
		return "", status.Error(codes.InvalidArgument, "missing flight descriptor")
	}

	switch desc.GetType() {
	case flight.DescriptorPATH:
		if len(desc.GetPath()) == 0 {
			return "", status.Error(codes.InvalidArgument, "empty descriptor path")
		}
		return strings.Join(desc.GetPath(), "/"), nil
	case flight.DescriptorCMD:
		return parseTicket(desc.GetCmd()), nil
	default:
		return "", status.Errorf(codes.InvalidArgument, "unsupported descriptor type %s", desc.GetType())
	}
}

// toStatus maps conversion failures to gRPC status codes.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch convert.StageOf(err) {
	case convert.StageReadMetadata, convert.StageGeoMetadata, convert.StageResolveKind,
		convert.StagePatchSchema, convert.StageTransform:
		return status.Error(codes.InvalidArgument, err.Error())
	case convert.StageInferSchema, convert.StageReadChunk:
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, fmt.Sprintf("conversion failed: %v", err))
	}
}
