package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"geoarrow-convert/pkg/geoarrow"
	"geoarrow-convert/pkg/geoparquet"
)

// Reader streams the converted record batches of one GeoParquet file.
type Reader struct {
	meta        *geoparquet.Metadata
	kind        geoarrow.GeometryKind
	index       int
	transformer *Transformer
	rr          pqarrow.RecordReader
	cur         arrow.RecordBatch
	err         error
	done        bool
	chunks      int
	rows        int64
	logger      *slog.Logger
}

// NewReader resolves the primary geometry column of pf and prepares the
// converted schema. No chunk is read until Next.
func NewReader(ctx context.Context, pf *file.Reader, opts ...Option) (*Reader, error) {
	o := newOptions(opts)

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: o.batchSize}, o.mem)
	if err != nil {
		return nil, stageErr(StageInferSchema, err)
	}

	base, err := fr.Schema()
	if err != nil {
		return nil, stageErr(StageInferSchema, err)
	}

	base = WithFileMetadata(base, pf.MetaData().KeyValueMetadata())

	meta, err := geoparquet.MetadataFromFile(pf)
	if err != nil {
		return nil, stageErr(StageGeoMetadata, err)
	}

	kind, col, err := ResolveKind(meta)
	if err != nil {
		return nil, stageErr(StageResolveKind, err)
	}

	index, err := LocateColumn(base, meta.PrimaryColumn)
	if err != nil {
		return nil, stageErr(StagePatchSchema, err)
	}

	typ := ExtensionTypeFor(kind, col)
	schema := PatchSchema(base, index, typ)

	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, stageErr(StageReadChunk, err)
	}

	o.logger.Debug("resolved geoparquet column",
		"column", meta.PrimaryColumn,
		"index", index,
		"kind", kind.String(),
		"geo_version", meta.Version,
		"row_groups", pf.NumRowGroups(),
	)

	return &Reader{
		meta:        meta,
		kind:        kind,
		index:       index,
		transformer: NewTransformer(schema, index, typ, o.mem),
		rr:          rr,
		logger:      o.logger,
	}, nil
}

// Schema is the converted schema.
func (r *Reader) Schema() *arrow.Schema { return r.transformer.Schema() }

func (r *Reader) Metadata() *geoparquet.Metadata { return r.meta }

func (r *Reader) Kind() geoarrow.GeometryKind { return r.kind }

// ColumnIndex is the position of the primary geometry column.
func (r *Reader) ColumnIndex() int { return r.index }

// Next advances to the next converted chunk.
func (r *Reader) Next() bool {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.err != nil || r.done {
		return false
	}

	if !r.rr.Next() {
		r.done = true
		if err := r.rr.Err(); err != nil && !errors.Is(err, io.EOF) {
			r.err = stageErr(StageReadChunk, err)
			return false
		}
		r.logger.Info("geoparquet conversion finished",
			"column", r.meta.PrimaryColumn,
			"kind", r.kind.String(),
			"chunks", r.chunks,
			"rows", r.rows,
		)
		return false
	}

	out, err := r.transformer.Transform(r.rr.RecordBatch())
	if err != nil {
		r.err = stageErr(StageTransform, fmt.Errorf("chunk %d: %w", r.chunks, err))
		return false
	}

	r.cur = out
	r.chunks++
	r.rows += out.NumRows()
	r.logger.Debug("converted chunk", "chunk", r.chunks-1, "rows", out.NumRows())
	return true
}

// RecordBatch is valid until the next call to Next or Release.
func (r *Reader) RecordBatch() arrow.RecordBatch { return r.cur }

func (r *Reader) Err() error { return r.err }

// Rows returns the number of rows converted so far.
func (r *Reader) Rows() int64 { return r.rows }

func (r *Reader) Release() {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.rr != nil {
		r.rr.Release()
		r.rr = nil
	}
}
