package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
)

// Convert turns an in-memory GeoParquet file into an arrow IPC payload whose
// primary geometry column is a native GeoArrow array. Nothing is returned
// unless every chunk converted.
func Convert(ctx context.Context, data []byte, opts ...Option) ([]byte, error) {
	o := newOptions(opts)

	pf, err := OpenBytes(data, opts...)
	if err != nil {
		return nil, err
	}
	defer pf.Close()

	rdr, err := NewReader(ctx, pf, opts...)
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	var buf bytes.Buffer
	if _, err := WriteTo(&buf, rdr, opts...); err != nil {
		return nil, err
	}

	o.logger.Debug("encoded arrow ipc", "format", string(o.format), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// OpenBytes reads the parquet footer of an in-memory file.
func OpenBytes(data []byte, opts ...Option) (*file.Reader, error) {
	return OpenSource(bytes.NewReader(data), opts...)
}

// OpenSource reads the parquet footer from src. Closing the returned reader
// closes src when it is an io.Closer.
func OpenSource(src parquet.ReaderAtSeeker, opts ...Option) (*file.Reader, error) {
	o := newOptions(opts)

	pf, err := file.NewParquetReader(src, file.WithReadProps(parquet.NewReaderProperties(o.mem)))
	if err != nil {
		return nil, stageErr(StageReadMetadata, err)
	}
	return pf, nil
}

// OpenFile opens a GeoParquet file on disk.
func OpenFile(path string, opts ...Option) (*file.Reader, error) {
	o := newOptions(opts)

	pf, err := file.OpenParquetFile(path, false, file.WithReadProps(parquet.NewReaderProperties(o.mem)))
	if err != nil {
		return nil, stageErr(StageReadMetadata, err)
	}
	return pf, nil
}

type ipcWriter interface {
	Write(rec arrow.RecordBatch) error
	Close() error
}

// WriteTo drains rdr into w as arrow IPC and returns the number of rows written.
func WriteTo(w io.Writer, rdr *Reader, opts ...Option) (int64, error) {
	o := newOptions(opts)

	ipcOpts, err := o.ipcOptions()
	if err != nil {
		return 0, stageErr(StageWrite, err)
	}
	ipcOpts = append(ipcOpts, ipc.WithSchema(rdr.Schema()))

	var iw ipcWriter
	switch o.format {
	case FormatStream:
		iw = ipc.NewWriter(w, ipcOpts...)
	case FormatFile:
		fw, err := ipc.NewFileWriter(w, ipcOpts...)
		if err != nil {
			return 0, stageErr(StageWrite, err)
		}
		iw = fw
	default:
		return 0, stageErr(StageWrite, fmt.Errorf("unknown output format %q", o.format))
	}

	var rows int64
	for rdr.Next() {
		rec := rdr.RecordBatch()
		if err := iw.Write(rec); err != nil {
			iw.Close()
			return rows, stageErr(StageWrite, err)
		}
		rows += rec.NumRows()
	}
	if err := rdr.Err(); err != nil {
		iw.Close()
		return rows, err
	}

	if err := iw.Close(); err != nil {
		return rows, stageErr(StageWrite, err)
	}
	return rows, nil
}
