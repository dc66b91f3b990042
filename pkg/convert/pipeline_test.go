package convert

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/duckdb/duckdb-go/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geoarrow-convert/pkg/geoarrow"
	"geoarrow-convert/pkg/geoparquet"
)

func geometryColumn(t *testing.T, schema *arrow.Schema, recs []arrow.RecordBatch) []orb.Geometry {
	t.Helper()

	idx := schema.FieldIndices("geometry")
	require.Len(t, idx, 1)

	var out []orb.Geometry
	for _, rec := range recs {
		col, ok := rec.Column(idx[0]).(*geoarrow.GeometryArray)
		require.True(t, ok, "got %T", rec.Column(idx[0]))
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				out = append(out, nil)
				continue
			}
			out = append(out, col.Value(i))
		}
	}
	return out
}

func TestConvertPolygon(t *testing.T) {
	geoms := squares(10)
	data := parquetFixture{geo: geoJSON("geometry", "Polygon"), geoms: geoms}.build(t)

	out, err := Convert(context.Background(), data)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	schema, recs := readStream(t, out)
	require.Equal(t, 3, schema.NumFields())
	assert.Equal(t, []string{"id", "geometry", "name"},
		[]string{schema.Field(0).Name, schema.Field(1).Name, schema.Field(2).Name})

	ext, ok := schema.Field(1).Type.(*geoarrow.GeometryType)
	require.True(t, ok, "got %T", schema.Field(1).Type)
	assert.Equal(t, geoarrow.Polygon, ext.Kind())
	assert.Equal(t, "geoarrow.polygon", ext.ExtensionName())
	assert.JSONEq(t, `{"id":{"authority":"EPSG","code":4326}}`, string(ext.Metadata().CRS))

	// the geo document survives as schema metadata
	geo, found := schema.Metadata().GetValue(geoparquet.MetadataKey)
	require.True(t, found)
	assert.JSONEq(t, geoJSON("geometry", "Polygon"), geo)

	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
		assert.Equal(t, 0, rec.Column(1).NullN())
	}
	assert.EqualValues(t, len(geoms), rows)

	got := geometryColumn(t, schema, recs)
	require.Len(t, got, len(geoms))
	for i := range geoms {
		assert.True(t, orb.Equal(geoms[i], got[i]), "row %d: %v", i, got[i])
	}
}

func TestConvertEveryKind(t *testing.T) {
	cases := []struct {
		label string
		geoms []orb.Geometry
	}{
		{"Point", []orb.Geometry{orb.Point{1, 2}, nil, orb.Point{-3.5, 4}}},
		{"LineString", []orb.Geometry{orb.LineString{{0, 0}, {1, 1}, {2, 0}}, nil}},
		{"Polygon", squares(3)},
		{"MultiPoint", []orb.Geometry{orb.MultiPoint{{0, 0}, {1, 1}}, orb.MultiPoint{{5, 5}}}},
		{"MultiLineString", []orb.Geometry{orb.MultiLineString{{{0, 0}, {1, 1}}, {{2, 2}, {3, 3}}}}},
		{"MultiPolygon", []orb.Geometry{
			orb.MultiPolygon{
				{{{0, 0}, {4, 0}, {4, 4}, {0, 4}, {0, 0}}, {{1, 1}, {2, 1}, {2, 2}, {1, 1}}},
				{{{10, 10}, {11, 10}, {11, 11}, {10, 10}}},
			},
			nil,
		}},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			data := parquetFixture{geo: geoJSON("geometry", tc.label), geoms: tc.geoms}.build(t)

			out, err := Convert(context.Background(), data)
			require.NoError(t, err)

			schema, recs := readStream(t, out)
			got := geometryColumn(t, schema, recs)
			require.Len(t, got, len(tc.geoms))
			for i, want := range tc.geoms {
				if want == nil {
					assert.Nil(t, got[i], "row %d", i)
					continue
				}
				assert.True(t, orb.Equal(want, got[i]), "row %d: %v", i, got[i])
			}
		})
	}
}

func TestConvertChunking(t *testing.T) {
	geoms := make([]orb.Geometry, 11)
	for i := range geoms {
		if i%4 == 1 {
			continue
		}
		geoms[i] = orb.Point{float64(i), float64(-i)}
	}
	data := parquetFixture{
		geo:         geoJSON("geometry", "Point"),
		geoms:       geoms,
		rowGroupLen: 5,
	}.build(t)

	out, err := Convert(context.Background(), data, WithBatchSize(2), WithAllocator(memory.NewGoAllocator()))
	require.NoError(t, err)

	schema, recs := readStream(t, out)
	assert.Greater(t, len(recs), 1)

	got := geometryColumn(t, schema, recs)
	require.Len(t, got, len(geoms))
	for i, want := range geoms {
		if want == nil {
			assert.Nil(t, got[i], "row %d", i)
			continue
		}
		assert.Equal(t, want, got[i], "row %d", i)
	}
}

func TestConvertFailures(t *testing.T) {
	polygons := squares(2)

	cases := []struct {
		name    string
		fixture parquetFixture
		raw     []byte
		want    error
		stage   Stage
	}{
		{
			name:    "MixedGeometry",
			fixture: parquetFixture{geo: geoJSON("geometry", "Polygon", "MultiPolygon"), geoms: polygons},
			want:    geoarrow.ErrUnsupportedMixedGeometry,
			stage:   StageResolveKind,
		},
		{
			name:    "MissingGeoMetadata",
			fixture: parquetFixture{geoms: polygons},
			want:    geoparquet.ErrMissingGeoMetadata,
			stage:   StageGeoMetadata,
		},
		{
			name:    "MalformedGeoMetadata",
			fixture: parquetFixture{geo: `{"primary_column":`, geoms: polygons},
			want:    geoparquet.ErrMalformedGeoMetadata,
			stage:   StageGeoMetadata,
		},
		{
			name:    "UnknownGeometryType",
			fixture: parquetFixture{geo: geoJSON("geometry", "Circle"), geoms: polygons},
			want:    geoarrow.ErrUnknownGeometryType,
			stage:   StageResolveKind,
		},
		{
			name:    "PrimaryColumnNotInSchema",
			fixture: parquetFixture{geo: geoJSON("geom", "Polygon"), geoms: polygons},
			want:    ErrPrimaryColumnNotInSchema,
			stage:   StagePatchSchema,
		},
		{
			name: "StringGeometryColumn",
			fixture: parquetFixture{
				geo:      geoJSON("geometry", "Point"),
				geomType: arrow.BinaryTypes.String,
				raw:      [][]byte{[]byte("POINT (1 2)")},
			},
			want:  ErrGeometryColumnTypeMismatch,
			stage: StageTransform,
		},
		{
			name: "UndecodableBlob",
			fixture: parquetFixture{
				geo: geoJSON("geometry", "Point"),
				raw: [][]byte{{0x01, 0x01, 0x00}},
			},
			want:  geoarrow.ErrGeometryDecode,
			stage: StageTransform,
		},
		{
			name:  "NotParquet",
			raw:   []byte("definitely not a parquet file"),
			stage: StageReadMetadata,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.raw
			if data == nil {
				data = tc.fixture.build(t)
			}

			out, err := Convert(context.Background(), data)
			require.Error(t, err)
			assert.Nil(t, out)
			if tc.want != nil {
				assert.ErrorIs(t, err, tc.want)
			}

			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tc.stage, cerr.Stage)
			assert.Equal(t, tc.stage, StageOf(err))
		})
	}
}

func TestConvertEmptyFile(t *testing.T) {
	data := parquetFixture{geo: geoJSON("geometry", "MultiPolygon")}.build(t)

	out, err := Convert(context.Background(), data)
	require.NoError(t, err)

	schema, recs := readStream(t, out)
	ext, ok := schema.Field(1).Type.(*geoarrow.GeometryType)
	require.True(t, ok, "got %T", schema.Field(1).Type)
	assert.Equal(t, geoarrow.MultiPolygon, ext.Kind())

	var rows int64
	for _, rec := range recs {
		rows += rec.NumRows()
	}
	assert.Zero(t, rows)
}

func TestConvertDeterministic(t *testing.T) {
	data := parquetFixture{geo: geoJSON("geometry", "Polygon"), geoms: squares(4)}.build(t)

	first, err := Convert(context.Background(), data)
	require.NoError(t, err)
	second, err := Convert(context.Background(), data)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestConvertFileFormat(t *testing.T) {
	geoms := squares(5)
	data := parquetFixture{geo: geoJSON("geometry", "Polygon"), geoms: geoms}.build(t)

	out, err := Convert(context.Background(), data, WithFormat(FormatFile))
	require.NoError(t, err)

	r, err := ipc.NewFileReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer r.Close()

	_, ok := r.Schema().Field(1).Type.(*geoarrow.GeometryType)
	assert.True(t, ok)

	var rows int64
	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		require.NoError(t, err)
		rows += rec.NumRows()
	}
	assert.EqualValues(t, len(geoms), rows)
}

func TestConvertCompression(t *testing.T) {
	data := parquetFixture{geo: geoJSON("geometry", "Polygon"), geoms: squares(20)}.build(t)

	for _, codec := range []string{"lz4", "zstd"} {
		t.Run(codec, func(t *testing.T) {
			out, err := Convert(context.Background(), data, WithCompression(codec))
			require.NoError(t, err)

			schema, recs := readStream(t, out)
			assert.Len(t, geometryColumn(t, schema, recs), 20)
		})
	}

	_, err := Convert(context.Background(), data, WithCompression("brotli"))
	require.Error(t, err)
	assert.Equal(t, StageWrite, StageOf(err))
}

func TestReader(t *testing.T) {
	data := parquetFixture{geo: geoJSON("geometry", "LineString"), geoms: []orb.Geometry{
		orb.LineString{{0, 0}, {1, 0}},
		nil,
		orb.LineString{{2, 2}, {3, 3}, {4, 2}},
	}}.build(t)

	pf, err := OpenBytes(data)
	require.NoError(t, err)
	defer pf.Close()

	rdr, err := NewReader(context.Background(), pf, WithBatchSize(1))
	require.NoError(t, err)
	defer rdr.Release()

	assert.Equal(t, geoarrow.LineString, rdr.Kind())
	assert.Equal(t, 1, rdr.ColumnIndex())
	assert.Equal(t, "geometry", rdr.Metadata().PrimaryColumn)

	chunks := 0
	for rdr.Next() {
		rec := rdr.RecordBatch()
		assert.True(t, rec.Schema().Equal(rdr.Schema()))
		chunks++
	}
	require.NoError(t, rdr.Err())
	assert.Equal(t, 3, chunks)
	assert.EqualValues(t, 3, rdr.Rows())

	// exhausted readers stay exhausted
	assert.False(t, rdr.Next())
}

func TestConvertDuckDBFixture(t *testing.T) {
	connector, err := duckdb.NewConnector("", nil)
	require.NoError(t, err)
	defer connector.Close()

	db := sql.OpenDB(connector)
	defer db.Close()

	ctx := context.Background()
	_, err = db.ExecContext(ctx, `CREATE TABLE parcels (id INTEGER, name VARCHAR, geometry BLOB)`)
	require.NoError(t, err)

	parcels := []orb.Geometry{
		orb.MultiPolygon{{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}}},
		nil,
		orb.MultiPolygon{{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}}, {{{8, 8}, {9, 8}, {9, 9}, {8, 8}}}},
	}
	for i, g := range parcels {
		var blob any
		if g != nil {
			data, err := wkb.Marshal(g)
			require.NoError(t, err)
			blob = data
		}
		_, err = db.ExecContext(ctx, `INSERT INTO parcels VALUES (?, ?, ?)`, i, fmt.Sprintf("parcel-%d", i), blob)
		require.NoError(t, err)
	}

	path := filepath.Join(t.TempDir(), "parcels.parquet")
	geo := strings.ReplaceAll(geoJSON("geometry", "MultiPolygon"), "'", "''")
	_, err = db.ExecContext(ctx, fmt.Sprintf(
		`COPY (SELECT * FROM parcels ORDER BY id) TO '%s' (FORMAT PARQUET, KV_METADATA {geo: '%s'})`, path, geo))
	require.NoError(t, err)

	pf, err := OpenFile(path)
	require.NoError(t, err)
	defer pf.Close()

	rdr, err := NewReader(ctx, pf)
	require.NoError(t, err)
	defer rdr.Release()

	assert.Equal(t, geoarrow.MultiPolygon, rdr.Kind())
	assert.Equal(t, 2, rdr.ColumnIndex())

	var recs []arrow.RecordBatch
	for rdr.Next() {
		rec := rdr.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	require.NoError(t, rdr.Err())
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()

	got := geometryColumn(t, rdr.Schema(), recs)
	require.Len(t, got, len(parcels))
	for i, want := range parcels {
		if want == nil {
			assert.Nil(t, got[i], "row %d", i)
			continue
		}
		assert.True(t, orb.Equal(want, got[i]), "row %d: %v", i, got[i])
	}
}
