package convert

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/file"

	"geoarrow-convert/pkg/geoparquet"
)

// Summary describes what a conversion of a file would produce, without
// reading any row data.
type Summary struct {
	PrimaryColumn string               `json:"primary_column"`
	Kind          string               `json:"geometry_type"`
	ExtensionName string               `json:"extension_name"`
	ColumnIndex   int                  `json:"column_index"`
	NumRows       int64                `json:"num_rows"`
	NumRowGroups  int                  `json:"num_row_groups"`
	Fields        []FieldSummary       `json:"fields"`
	Geo           *geoparquet.Metadata `json:"geo"`

	schema *arrow.Schema
}

type FieldSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Schema is the converted arrow schema.
func (s *Summary) Schema() *arrow.Schema { return s.schema }

// Describe resolves the geometry column of pf and the converted schema.
func Describe(ctx context.Context, pf *file.Reader, opts ...Option) (*Summary, error) {
	rdr, err := NewReader(ctx, pf, opts...)
	if err != nil {
		return nil, err
	}
	defer rdr.Release()

	schema := rdr.Schema()
	fields := make([]FieldSummary, schema.NumFields())
	for i, f := range schema.Fields() {
		fields[i] = FieldSummary{Name: f.Name, Type: f.Type.String(), Nullable: f.Nullable}
	}

	return &Summary{
		PrimaryColumn: rdr.Metadata().PrimaryColumn,
		Kind:          rdr.Kind().String(),
		ExtensionName: rdr.Kind().ExtensionName(),
		ColumnIndex:   rdr.ColumnIndex(),
		NumRows:       pf.NumRows(),
		NumRowGroups:  pf.NumRowGroups(),
		Fields:        fields,
		Geo:           rdr.Metadata(),
		schema:        schema,
	}, nil
}
