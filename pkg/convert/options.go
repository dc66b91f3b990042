package convert

import (
	"fmt"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultBatchSize is the number of rows read per chunk.
const DefaultBatchSize = 64 * 1024

// Format is the arrow IPC flavour written by Convert.
type Format string

const (
	FormatStream Format = "stream"
	FormatFile   Format = "file"
)

func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatStream:
		return FormatStream, nil
	case FormatFile:
		return FormatFile, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// ContentType returns the media type of the format.
func (f Format) ContentType() string {
	if f == FormatFile {
		return "application/vnd.apache.arrow.file"
	}
	return "application/vnd.apache.arrow.stream"
}

type options struct {
	mem         memory.Allocator
	batchSize   int64
	format      Format
	compression string
	logger      *slog.Logger
}

type Option func(*options)

func WithAllocator(mem memory.Allocator) Option {
	return func(o *options) { o.mem = mem }
}

func WithBatchSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// WithCompression sets IPC body compression: "", "lz4" or "zstd".
func WithCompression(codec string) Option {
	return func(o *options) { o.compression = codec }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		mem:       memory.DefaultAllocator,
		batchSize: DefaultBatchSize,
		format:    FormatStream,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *options) ipcOptions() ([]ipc.Option, error) {
	out := []ipc.Option{ipc.WithAllocator(o.mem)}
	switch o.compression {
	case "", "none":
	case "lz4":
		out = append(out, ipc.WithLZ4())
	case "zstd":
		out = append(out, ipc.WithZstd())
	default:
		return nil, fmt.Errorf("unknown ipc compression %q", o.compression)
	}
	return out, nil
}
