package convert

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet/metadata"

	"geoarrow-convert/pkg/geoarrow"
	"geoarrow-convert/pkg/geoparquet"
)

// ResolveKind looks up the primary column's geo metadata and resolves its
// single declared geometry type.
func ResolveKind(meta *geoparquet.Metadata) (geoarrow.GeometryKind, *geoparquet.ColumnMetadata, error) {
	col, err := meta.PrimaryColumnMetadata()
	if err != nil {
		return 0, nil, err
	}

	kind, err := geoarrow.KindFromGeometryTypes(col.GeometryTypes)
	if err != nil {
		return 0, nil, fmt.Errorf("column %q: %w", meta.PrimaryColumn, err)
	}

	return kind, col, nil
}

// ExtensionTypeFor builds the GeoArrow type for a resolved column, carrying
// the column's crs and edges.
func ExtensionTypeFor(kind geoarrow.GeometryKind, col *geoparquet.ColumnMetadata) *geoarrow.GeometryType {
	return geoarrow.NewGeometryType(kind, geoarrow.ExtensionMetadata{
		CRS:   col.CRS,
		Edges: col.Edges,
	})
}

// LocateColumn returns the index of the field called name.
func LocateColumn(schema *arrow.Schema, name string) (int, error) {
	indices := schema.FieldIndices(name)
	if len(indices) == 0 {
		return -1, fmt.Errorf("%w: %q", ErrPrimaryColumnNotInSchema, name)
	}

	return indices[0], nil
}

// PatchSchema returns a copy of schema where field idx is declared as typ.
// Names, nullability, field metadata and schema metadata are kept.
func PatchSchema(schema *arrow.Schema, idx int, typ arrow.DataType) *arrow.Schema {
	fields := make([]arrow.Field, schema.NumFields())
	for i := range fields {
		fields[i] = schema.Field(i)
	}
	fields[idx].Type = typ

	md := schema.Metadata()
	return arrow.NewSchemaWithEndian(fields, &md, schema.Endianness())
}

// arrowSchemaKey holds the serialized arrow schema pqarrow writes to the
// footer. It describes the stored file, not the converted stream.
const arrowSchemaKey = "ARROW:schema"

// WithFileMetadata returns schema with the parquet footer's key-value entries
// appended to its metadata. Keys the schema already has win.
func WithFileMetadata(schema *arrow.Schema, kv metadata.KeyValueMetadata) *arrow.Schema {
	if kv.Len() == 0 {
		return schema
	}

	md := schema.Metadata()
	keys := append([]string(nil), md.Keys()...)
	values := append([]string(nil), md.Values()...)

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}

	fileValues := kv.Values()
	for i, k := range kv.Keys() {
		if k == arrowSchemaKey || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
		values = append(values, fileValues[i])
	}

	merged := arrow.NewMetadata(keys, values)
	return arrow.NewSchemaWithEndian(schema.Fields(), &merged, schema.Endianness())
}
