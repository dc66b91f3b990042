package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"geoarrow-convert/pkg/convert"
	"geoarrow-convert/pkg/metrics"
)

const surface = "http"

// APIHandler handles REST API requests for GeoParquet conversion
type APIHandler struct {
	opts    []convert.Option
	format  convert.Format
	maxBody int64
	metrics *metrics.Collector
	logger  *slog.Logger
}

// HandlerConfig carries the defaults applied to every request.
type HandlerConfig struct {
	Options      []convert.Option
	Format       convert.Format
	MaxBodyBytes int64
	Metrics      *metrics.Collector
	Logger       *slog.Logger
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(cfg HandlerConfig) *APIHandler {
	if cfg.Format == "" {
		cfg.Format = convert.FormatStream
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 512 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &APIHandler{
		opts:    cfg.Options,
		format:  cfg.Format,
		maxBody: cfg.MaxBodyBytes,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// ConvertHandler handles POST requests carrying a GeoParquet file and
// answers with the converted arrow IPC payload.
func (h *APIHandler) ConvertHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "only POST method is allowed", "")
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	opts, format, err := h.requestOptions(r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	start := time.Now()
	out, kind, rows, err := h.convert(r, body, opts)
	if h.metrics != nil {
		h.metrics.ObserveConversion(surface, time.Since(start), err)
	}
	if err != nil {
		h.sendConvertError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.AddRows(kind, rows)
	}

	h.logger.Info("converted geoparquet upload",
		"bytes_in", len(body),
		"bytes_out", out.Len(),
		"rows", rows,
		"kind", kind,
		"duration", time.Since(start),
	)

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Length", strconv.Itoa(out.Len()))
	w.Header().Set("X-Geometry-Type", kind)
	w.Header().Set("X-Row-Count", strconv.FormatInt(rows, 10))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Bytes())
}

// InspectHandler handles POST requests and describes the conversion of the
// uploaded file as JSON.
func (h *APIHandler) InspectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "only POST method is allowed", "")
		return
	}

	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	pf, err := convert.OpenBytes(body, h.opts...)
	if err != nil {
		h.sendConvertError(w, err)
		return
	}
	defer pf.Close()

	summary, err := convert.Describe(r.Context(), pf, h.withLogger(h.opts)...)
	if err != nil {
		h.sendConvertError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(summary)
}

func (h *APIHandler) convert(r *http.Request, body []byte, opts []convert.Option) (*bytes.Buffer, string, int64, error) {
	pf, err := convert.OpenBytes(body, opts...)
	if err != nil {
		return nil, "", 0, err
	}
	defer pf.Close()

	rdr, err := convert.NewReader(r.Context(), pf, opts...)
	if err != nil {
		return nil, "", 0, err
	}
	defer rdr.Release()

	// buffered so a failed chunk never produces a partial response
	var buf bytes.Buffer
	rows, err := convert.WriteTo(&buf, rdr, opts...)
	if err != nil {
		return nil, "", 0, err
	}

	return &buf, rdr.Kind().String(), rows, nil
}

func (h *APIHandler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.sendError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "")
			return nil, false
		}
		h.sendError(w, http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err), "")
		return nil, false
	}
	if len(body) == 0 {
		h.sendError(w, http.StatusBadRequest, "request body is empty", "")
		return nil, false
	}

	if h.metrics != nil {
		h.metrics.AddInputBytes(surface, len(body))
	}
	return body, true
}

// requestOptions layers the query parameters format, compression and
// batch_size over the handler defaults.
func (h *APIHandler) requestOptions(r *http.Request) ([]convert.Option, convert.Format, error) {
	opts := h.withLogger(h.opts)
	format := h.format
	q := r.URL.Query()

	if v := q.Get("format"); v != "" {
		f, err := convert.ParseFormat(v)
		if err != nil {
			return nil, "", err
		}
		format = f
	}
	opts = append(opts, convert.WithFormat(format))

	if v := q.Get("compression"); v != "" {
		switch v {
		case "none", "lz4", "zstd":
			opts = append(opts, convert.WithCompression(v))
		default:
			return nil, "", fmt.Errorf("unknown compression %q", v)
		}
	}

	if v := q.Get("batch_size"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, "", fmt.Errorf("invalid batch_size %q", v)
		}
		opts = append(opts, convert.WithBatchSize(n))
	}

	return opts, format, nil
}

func (h *APIHandler) withLogger(opts []convert.Option) []convert.Option {
	out := make([]convert.Option, 0, len(opts)+1)
	out = append(out, opts...)
	return append(out, convert.WithLogger(h.logger))
}

// sendConvertError answers input failures with 422 and output or unstaged
// failures with 500, carrying the stage when there is one.
func (h *APIHandler) sendConvertError(w http.ResponseWriter, err error) {
	stage := convert.StageOf(err)

	switch stage {
	case "", convert.StageWrite:
		h.logger.Error("geoparquet conversion failed", "stage", string(stage), "error", err)
		h.sendError(w, http.StatusInternalServerError, err.Error(), string(stage))
	default:
		h.logger.Warn("geoparquet conversion rejected", "stage", string(stage), "error", err)
		h.sendError(w, http.StatusUnprocessableEntity, err.Error(), string(stage))
	}
}

// sendError sends an error response as JSON
func (h *APIHandler) sendError(w http.ResponseWriter, statusCode int, message, stage string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Stage: stage})
}
