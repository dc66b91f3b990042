package convert

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoarrow-convert/pkg/geoarrow"
)

func buildChunk(t *testing.T, mem memory.Allocator, geomType arrow.DataType, blobs [][]byte) arrow.RecordBatch {
	t.Helper()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "geometry", Type: geomType, Nullable: true},
	}, nil)

	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	for i, blob := range blobs {
		rb.Field(0).(*array.Int64Builder).Append(int64(i))
		switch gb := rb.Field(1).(type) {
		case *array.BinaryBuilder:
			if blob == nil {
				gb.AppendNull()
			} else {
				gb.Append(blob)
			}
		case *array.StringBuilder:
			gb.Append(string(blob))
		}
	}

	return rb.NewRecordBatch()
}

func pointBlobs(t *testing.T, pts ...*orb.Point) [][]byte {
	out := make([][]byte, len(pts))
	for i, p := range pts {
		if p == nil {
			continue
		}
		data, err := wkb.Marshal(*p)
		require.NoError(t, err)
		out[i] = data
	}
	return out
}

func TestTransformer(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := buildChunk(t, mem, arrow.BinaryTypes.Binary, pointBlobs(t,
		&orb.Point{1, 2}, nil, &orb.Point{3, 4}, nil,
	))
	defer rec.Release()

	typ := geoarrow.NewGeometryType(geoarrow.Point, geoarrow.ExtensionMetadata{})
	schema := PatchSchema(rec.Schema(), 1, typ)
	tr := NewTransformer(schema, 1, typ, mem)

	out, err := tr.Transform(rec)
	require.NoError(t, err)
	defer out.Release()

	assert.Equal(t, rec.NumRows(), out.NumRows())
	assert.Equal(t, rec.NumCols(), out.NumCols())
	assert.True(t, out.Schema().Equal(schema))

	// untouched columns are shared, not copied
	assert.Same(t, rec.Column(0), out.Column(0))

	geom, ok := out.Column(1).(*geoarrow.GeometryArray)
	require.True(t, ok, "got %T", out.Column(1))
	for i := 0; i < int(rec.NumRows()); i++ {
		assert.Equal(t, rec.Column(1).IsNull(i), geom.IsNull(i), "row %d", i)
	}
	assert.Equal(t, orb.Point{1, 2}, geom.Value(0))
	assert.Equal(t, orb.Point{3, 4}, geom.Value(2))
}

func TestTransformerSlicedChunk(t *testing.T) {
	mem := memory.NewGoAllocator()
	rec := buildChunk(t, mem, arrow.BinaryTypes.Binary, pointBlobs(t,
		&orb.Point{0, 0}, &orb.Point{1, 1}, nil, &orb.Point{3, 3},
	))
	defer rec.Release()

	sliced := rec.NewSlice(1, 4)
	defer sliced.Release()

	typ := geoarrow.NewGeometryType(geoarrow.Point, geoarrow.ExtensionMetadata{})
	tr := NewTransformer(PatchSchema(rec.Schema(), 1, typ), 1, typ, mem)

	out, err := tr.Transform(sliced)
	require.NoError(t, err)
	defer out.Release()

	geom := out.Column(1).(*geoarrow.GeometryArray)
	require.Equal(t, 3, geom.Len())
	assert.Equal(t, orb.Point{1, 1}, geom.Value(0))
	assert.True(t, geom.IsNull(1))
	assert.Equal(t, orb.Point{3, 3}, geom.Value(2))
}

func TestTransformerTypeMismatch(t *testing.T) {
	mem := memory.NewGoAllocator()
	rec := buildChunk(t, mem, arrow.BinaryTypes.String, [][]byte{[]byte("POINT (1 2)")})
	defer rec.Release()

	typ := geoarrow.NewGeometryType(geoarrow.Point, geoarrow.ExtensionMetadata{})
	tr := NewTransformer(PatchSchema(rec.Schema(), 1, typ), 1, typ, mem)

	_, err := tr.Transform(rec)
	assert.ErrorIs(t, err, ErrGeometryColumnTypeMismatch)
}

func TestTransformerDecodeError(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	blobs := pointBlobs(t, &orb.Point{1, 2}, nil)
	line, err := wkb.Marshal(orb.LineString{{0, 0}, {1, 1}})
	require.NoError(t, err)
	blobs = append(blobs, line, []byte{0xde, 0xad})

	rec := buildChunk(t, mem, arrow.BinaryTypes.Binary, blobs)
	defer rec.Release()

	typ := geoarrow.NewGeometryType(geoarrow.Point, geoarrow.ExtensionMetadata{})
	tr := NewTransformer(PatchSchema(rec.Schema(), 1, typ), 1, typ, mem)

	_, err = tr.Transform(rec)
	require.ErrorIs(t, err, geoarrow.ErrGeometryDecode)

	var derr *geoarrow.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 2, derr.Row)
	assert.Equal(t, geoarrow.Point, derr.Kind)
}

func TestTransformerColumnCountMismatch(t *testing.T) {
	mem := memory.NewGoAllocator()
	rec := buildChunk(t, mem, arrow.BinaryTypes.Binary, pointBlobs(t, &orb.Point{1, 2}))
	defer rec.Release()

	typ := geoarrow.NewGeometryType(geoarrow.Point, geoarrow.ExtensionMetadata{})
	other := arrow.NewSchema([]arrow.Field{{Name: "geometry", Type: typ, Nullable: true}}, nil)
	tr := NewTransformer(other, 0, typ, mem)

	_, err := tr.Transform(rec)
	assert.Error(t, err)
}
