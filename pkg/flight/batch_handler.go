package flight

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/parquet/file"

	"geoarrow-convert/pkg/convert"
)

// DefaultSpillThreshold is the upload size above which DoExchange payloads
// are written to a temporary file instead of being kept in memory.
const DefaultSpillThreshold = 64 << 20

// UploadBuffer accumulates the GeoParquet bytes of a DoExchange upload.
// Small uploads stay in memory; larger ones spill to a temporary file.
type UploadBuffer struct {
	tempDir   string
	threshold int64
	mem       bytes.Buffer
	spill     *os.File
	size      int64
	logger    *slog.Logger
}

// NewUploadBuffer creates a buffer spilling to tempDir (os.TempDir when empty)
// once more than threshold bytes have been written.
func NewUploadBuffer(tempDir string, threshold int64, logger *slog.Logger) *UploadBuffer {
	if threshold <= 0 {
		threshold = DefaultSpillThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &UploadBuffer{
		tempDir:   tempDir,
		threshold: threshold,
		logger:    logger,
	}
}

// Write appends a chunk of the upload.
func (b *UploadBuffer) Write(p []byte) (int, error) {
	if b.spill == nil && b.size+int64(len(p)) > b.threshold {
		if err := b.spillToDisk(); err != nil {
			return 0, err
		}
	}

	var (
		n   int
		err error
	)
	if b.spill != nil {
		n, err = b.spill.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

func (b *UploadBuffer) spillToDisk() error {
	f, err := os.CreateTemp(b.tempDir, "geoarrow_upload_*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}

	if _, err := io.Copy(f, &b.mem); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("failed to write spill file: %w", err)
	}

	b.logger.Debug("upload spilled to disk", "path", f.Name(), "bytes", b.size)
	b.mem = bytes.Buffer{}
	b.spill = f
	return nil
}

// Size is the number of bytes received so far.
func (b *UploadBuffer) Size() int64 { return b.size }

// Spilled reports whether the upload lives on disk.
func (b *UploadBuffer) Spilled() bool { return b.spill != nil }

// Open returns a parquet reader over the complete upload.
func (b *UploadBuffer) Open(opts ...convert.Option) (*file.Reader, error) {
	if b.spill == nil {
		return convert.OpenBytes(b.mem.Bytes(), opts...)
	}

	if err := b.spill.Sync(); err != nil {
		return nil, fmt.Errorf("failed to flush spill file: %w", err)
	}
	return convert.OpenFile(b.spill.Name(), opts...)
}

// Cleanup removes the spill file, if any.
func (b *UploadBuffer) Cleanup() error {
	b.mem = bytes.Buffer{}
	if b.spill == nil {
		return nil
	}

	name := b.spill.Name()
	b.spill.Close()
	b.spill = nil
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spill file %s: %w", filepath.Base(name), err)
	}
	return nil
}
