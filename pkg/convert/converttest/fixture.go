// Package converttest builds small GeoParquet files for tests.
package converttest

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// GeoJSON returns a "geo" document whose primary column declares types.
func GeoJSON(column string, types ...string) string {
	quoted := make([]string, len(types))
	for i, t := range types {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return fmt.Sprintf(`{"version":"1.1.0","primary_column":%q,"columns":{%q:{"encoding":"WKB","geometry_types":[%s],"crs":{"id":{"authority":"EPSG","code":4326}},"bbox":[0,0,100,100]}}}`,
		column, column, strings.Join(quoted, ","))
}

// Squares returns n unit squares along the diagonal.
func Squares(n int) []orb.Geometry {
	out := make([]orb.Geometry, n)
	for i := range out {
		x := float64(i)
		out[i] = orb.Polygon{{{x, x}, {x + 1, x}, {x + 1, x + 1}, {x, x + 1}, {x, x}}}
	}
	return out
}

// Fixture describes a three column file: id, geometry, name.
type Fixture struct {
	// Geo is the "geo" key value; empty leaves the key out.
	Geo string
	// GeomType is Binary unless set. String writes Raw as text.
	GeomType arrow.DataType
	// Geoms are WKB encoded; nil entries are null rows.
	Geoms []orb.Geometry
	// Raw replaces Geoms with literal blobs.
	Raw            [][]byte
	RowGroupLength int64
}

// Build writes the fixture as a Snappy compressed parquet file.
func (f Fixture) Build() ([]byte, error) {
	geomType := f.GeomType
	if geomType == nil {
		geomType = arrow.BinaryTypes.Binary
	}

	var md *arrow.Metadata
	if f.Geo != "" {
		m := arrow.NewMetadata([]string{"geo"}, []string{f.Geo})
		md = &m
	}

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "geometry", Type: geomType, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, md)

	rb := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer rb.Release()

	blobs := f.Raw
	if blobs == nil {
		blobs = make([][]byte, len(f.Geoms))
		for i, g := range f.Geoms {
			if g == nil {
				continue
			}
			data, err := wkb.Marshal(g)
			if err != nil {
				return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
			}
			blobs[i] = data
		}
	}

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
		default:
			return nil, fmt.Errorf("unsupported geometry builder %T", gb)
		}
		rb.Field(2).(*array.StringBuilder).Append(fmt.Sprintf("feature-%d", i))
	}

	rec := rb.NewRecordBatch()
	defer rec.Release()

	props := []parquet.WriterProperty{parquet.WithCompression(compress.Codecs.Snappy)}
	if f.RowGroupLength > 0 {
		props = append(props, parquet.WithMaxRowGroupLength(f.RowGroupLength))
	}

	var buf bytes.Buffer
	writer, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(props...), pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// MustBuild is Build failing the test on error.
func (f Fixture) MustBuild(t testing.TB) []byte {
	t.Helper()

	data, err := f.Build()
	if err != nil {
		t.Fatalf("failed to build geoparquet fixture: %v", err)
	}
	return data
}
