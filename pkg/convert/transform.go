package convert

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"geoarrow-convert/pkg/geoarrow"
)

type binaryColumn interface {
	arrow.Array
	Value(i int) []byte
}

// Transformer swaps the WKB column of each chunk for a GeoArrow column.
// It holds no per-chunk state.
type Transformer struct {
	schema *arrow.Schema
	index  int
	typ    *geoarrow.GeometryType
	mem    memory.Allocator
}

// NewTransformer prepares a transformer producing records of schema, whose
// field at index must already be declared as typ.
func NewTransformer(schema *arrow.Schema, index int, typ *geoarrow.GeometryType, mem memory.Allocator) *Transformer {
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	return &Transformer{
		schema: schema,
		index:  index,
		typ:    typ,
		mem:    mem,
	}
}

func (t *Transformer) Schema() *arrow.Schema { return t.schema }

// Transform returns a new record with the geometry column decoded. Other
// columns are shared with rec, which the caller still owns.
func (t *Transformer) Transform(rec arrow.RecordBatch) (arrow.RecordBatch, error) {
	if int(rec.NumCols()) != t.schema.NumFields() {
		return nil, fmt.Errorf("chunk has %d columns, schema has %d", rec.NumCols(), t.schema.NumFields())
	}

	col := rec.Column(t.index)
	var blobs binaryColumn
	switch c := col.(type) {
	case *array.Binary:
		blobs = c
	case *array.LargeBinary:
		blobs = c
	case *array.BinaryView:
		blobs = c
	default:
		return nil, fmt.Errorf("%w: column %q has type %s",
			ErrGeometryColumnTypeMismatch, t.schema.Field(t.index).Name, col.DataType())
	}

	geom, err := t.decode(blobs)
	if err != nil {
		return nil, err
	}
	defer geom.Release()

	cols := make([]arrow.Array, rec.NumCols())
	copy(cols, rec.Columns())
	cols[t.index] = geom

	return array.NewRecordBatch(t.schema, cols, rec.NumRows()), nil
}

func (t *Transformer) decode(blobs binaryColumn) (arrow.Array, error) {
	b := geoarrow.NewBuilder(t.mem, t.typ)
	defer b.Release()

	n := blobs.Len()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if blobs.IsNull(i) {
			b.AppendNull()
			continue
		}
		if err := b.AppendWKB(blobs.Value(i)); err != nil {
			return nil, &geoarrow.DecodeError{Row: i, Kind: t.typ.Kind(), Err: err}
		}
	}

	return b.NewArray(), nil
}
