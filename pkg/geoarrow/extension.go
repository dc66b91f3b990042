package geoarrow

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/goccy/go-json"
	"github.com/paulmach/orb"
)

// Coordinates are stored "separated": one x and one y child per vertex.
var coordType = arrow.StructOf(
	arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "y", Type: arrow.PrimitiveTypes.Float64},
)

func listOf(name string, elem arrow.DataType) *arrow.ListType {
	return arrow.ListOfField(arrow.Field{Name: name, Type: elem})
}

// StorageType returns the physical arrow type backing a kind.
func StorageType(k GeometryKind) arrow.DataType {
	switch k {
	case Point:
		return coordType
	case LineString:
		return listOf("vertices", coordType)
	case Polygon:
		return listOf("rings", listOf("vertices", coordType))
	case MultiPoint:
		return listOf("points", coordType)
	case MultiLineString:
		return listOf("linestrings", listOf("vertices", coordType))
	case MultiPolygon:
		return listOf("polygons", listOf("rings", listOf("vertices", coordType)))
	default:
		panic(fmt.Sprintf("geoarrow: invalid geometry kind %d", int(k)))
	}
}

// ExtensionMetadata is the serialized payload of a geoarrow extension type.
type ExtensionMetadata struct {
	CRS   json.RawMessage `json:"crs,omitempty"`
	Edges string          `json:"edges,omitempty"`
}

// GeometryType is the arrow extension type of a native GeoArrow column.
type GeometryType struct {
	arrow.ExtensionBase
	kind GeometryKind
	meta ExtensionMetadata
}

// NewGeometryType builds the extension type for kind. Planar edges are the
// default and are not serialized.
func NewGeometryType(kind GeometryKind, meta ExtensionMetadata) *GeometryType {
	if meta.Edges == "planar" {
		meta.Edges = ""
	}
	if isJSONNull(meta.CRS) {
		meta.CRS = nil
	}

	return &GeometryType{
		ExtensionBase: arrow.ExtensionBase{Storage: StorageType(kind)},
		kind:          kind,
		meta:          meta,
	}
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func (t *GeometryType) Kind() GeometryKind { return t.kind }

func (t *GeometryType) Metadata() ExtensionMetadata { return t.meta }

func (*GeometryType) ArrayType() reflect.Type { return reflect.TypeOf(GeometryArray{}) }

func (t *GeometryType) ExtensionName() string { return t.kind.ExtensionName() }

func (t *GeometryType) Serialize() string {
	if t.meta.CRS == nil && t.meta.Edges == "" {
		return "{}"
	}

	data, err := json.Marshal(t.meta)
	if err != nil {
		// RawMessage content was validated on the way in
		panic(fmt.Sprintf("geoarrow: failed to serialize extension metadata: %v", err))
	}
	return string(data)
}

// Deserialize rebuilds the type from IPC field metadata. The receiver is the
// registered instance, so it decides the kind.
func (t *GeometryType) Deserialize(storageType arrow.DataType, data string) (arrow.ExtensionType, error) {
	if !arrow.TypeEqual(storageType, StorageType(t.kind)) {
		return nil, fmt.Errorf("invalid storage type for %s: %s", t.ExtensionName(), storageType)
	}

	var meta ExtensionMetadata
	if strings.TrimSpace(data) != "" {
		if err := json.Unmarshal([]byte(data), &meta); err != nil {
			return nil, fmt.Errorf("invalid metadata for %s: %w", t.ExtensionName(), err)
		}
	}

	return NewGeometryType(t.kind, meta), nil
}

func (t *GeometryType) ExtensionEquals(other arrow.ExtensionType) bool {
	return t.ExtensionName() == other.ExtensionName() && t.Serialize() == other.Serialize()
}

func (t *GeometryType) String() string {
	return fmt.Sprintf("extension<%s[storage_type=%s]>", t.ExtensionName(), t.Storage)
}

// GeometryArray is a GeoArrow extension array.
type GeometryArray struct {
	array.ExtensionArrayBase
}

// Kind returns the geometry kind of the array.
func (a *GeometryArray) Kind() GeometryKind {
	return a.ExtensionType().(*GeometryType).Kind()
}

// Value decodes row i back to an orb geometry, nil for null rows.
func (a *GeometryArray) Value(i int) orb.Geometry {
	if a.IsNull(i) {
		return nil
	}

	switch a.Kind() {
	case Point:
		return pointAt(a.Storage().(*array.Struct), i)
	case LineString:
		return lineAt(a.Storage().(*array.List), i)
	case Polygon:
		return polygonAt(a.Storage().(*array.List), i)
	case MultiPoint:
		return orb.MultiPoint(lineAt(a.Storage().(*array.List), i))
	case MultiLineString:
		p := polygonAt(a.Storage().(*array.List), i)
		out := make(orb.MultiLineString, len(p))
		for j, ring := range p {
			out[j] = orb.LineString(ring)
		}
		return out
	case MultiPolygon:
		return multiPolygonAt(a.Storage().(*array.List), i)
	default:
		panic(fmt.Sprintf("geoarrow: invalid geometry kind %d", int(a.Kind())))
	}
}

func (a *GeometryArray) ValueStr(i int) string {
	if a.IsNull(i) {
		return array.NullValueStr
	}
	return fmt.Sprint(a.Value(i))
}

func (a *GeometryArray) GetOneForMarshal(i int) interface{} {
	if a.IsNull(i) {
		return nil
	}
	return a.Value(i)
}

func (a *GeometryArray) String() string {
	o := new(strings.Builder)
	o.WriteString("[")
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			o.WriteString(" ")
		}
		o.WriteString(a.ValueStr(i))
	}
	o.WriteString("]")
	return o.String()
}

func pointAt(st *array.Struct, i int) orb.Point {
	xs := st.Field(0).(*array.Float64)
	ys := st.Field(1).(*array.Float64)
	return orb.Point{xs.Value(i), ys.Value(i)}
}

func lineAt(l *array.List, i int) orb.LineString {
	start, end := l.ValueOffsets(i)
	coords := l.ListValues().(*array.Struct)
	out := make(orb.LineString, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, pointAt(coords, int(j)))
	}
	return out
}

func polygonAt(l *array.List, i int) orb.Polygon {
	start, end := l.ValueOffsets(i)
	rings := l.ListValues().(*array.List)
	out := make(orb.Polygon, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, orb.Ring(lineAt(rings, int(j))))
	}
	return out
}

func multiPolygonAt(l *array.List, i int) orb.MultiPolygon {
	start, end := l.ValueOffsets(i)
	polys := l.ListValues().(*array.List)
	out := make(orb.MultiPolygon, 0, end-start)
	for j := start; j < end; j++ {
		out = append(out, polygonAt(polys, int(j)))
	}
	return out
}

func init() {
	for _, k := range Kinds {
		if arrow.GetExtensionType(k.ExtensionName()) != nil {
			continue
		}
		if err := arrow.RegisterExtensionType(NewGeometryType(k, ExtensionMetadata{})); err != nil {
			panic(err)
		}
	}
}

var (
	_ arrow.ExtensionType  = (*GeometryType)(nil)
	_ array.ExtensionArray = (*GeometryArray)(nil)
)
