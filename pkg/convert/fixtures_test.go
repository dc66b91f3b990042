package convert

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"geoarrow-convert/pkg/convert/converttest"
)

func geoJSON(column string, types ...string) string {
	return converttest.GeoJSON(column, types...)
}

func squares(n int) []orb.Geometry { return converttest.Squares(n) }

type parquetFixture struct {
	geo         string
	geomType    arrow.DataType
	geoms       []orb.Geometry
	raw         [][]byte
	rowGroupLen int64
}

func (f parquetFixture) build(t *testing.T) []byte {
	t.Helper()

	return converttest.Fixture{
		Geo:            f.geo,
		GeomType:       f.geomType,
		Geoms:          f.geoms,
		Raw:            f.raw,
		RowGroupLength: f.rowGroupLen,
	}.MustBuild(t)
}

// readStream decodes an arrow IPC stream, returning retained records.
func readStream(t *testing.T, data []byte) (*arrow.Schema, []arrow.RecordBatch) {
	t.Helper()

	r, err := ipc.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer r.Release()

	var recs []arrow.RecordBatch
	for r.Next() {
		rec := r.RecordBatch()
		rec.Retain()
		recs = append(recs, rec)
	}
	require.NoError(t, r.Err())

	t.Cleanup(func() {
		for _, rec := range recs {
			rec.Release()
		}
	})
	return r.Schema(), recs
}
