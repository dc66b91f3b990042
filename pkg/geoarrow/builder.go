package geoarrow

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// Builder accumulates geometries of a single kind into a GeometryArray.
type Builder struct {
	typ     *GeometryType
	storage array.Builder
}

func NewBuilder(mem memory.Allocator, typ *GeometryType) *Builder {
	return &Builder{
		typ:     typ,
		storage: array.NewBuilder(mem, typ.StorageType()),
	}
}

func (b *Builder) Len() int { return b.storage.Len() }

func (b *Builder) Reserve(n int) { b.storage.Reserve(n) }

func (b *Builder) AppendNull() { b.storage.AppendNull() }

// AppendWKB decodes one WKB blob and appends it. The decoded geometry must be
// of the builder's kind.
func (b *Builder) AppendWKB(data []byte) error {
	g, err := wkb.Unmarshal(data)
	if err != nil {
		return err
	}
	return b.Append(g)
}

// Append adds a decoded geometry. A nil geometry appends a null.
func (b *Builder) Append(g orb.Geometry) error {
	if g == nil {
		b.AppendNull()
		return nil
	}

	kind, ok := KindOf(g)
	if !ok {
		return fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
	}
	if kind != b.typ.Kind() {
		return fmt.Errorf("expected %s, got %s", b.typ.Kind(), kind)
	}

	switch kind {
	case Point:
		appendCoord(b.storage.(*array.StructBuilder), g.(orb.Point))
	case LineString:
		appendLine(b.storage.(*array.ListBuilder), g.(orb.LineString))
	case Polygon:
		appendPolygon(b.storage.(*array.ListBuilder), g.(orb.Polygon))
	case MultiPoint:
		appendLine(b.storage.(*array.ListBuilder), orb.LineString(g.(orb.MultiPoint)))
	case MultiLineString:
		lb := b.storage.(*array.ListBuilder)
		lb.Append(true)
		lines := lb.ValueBuilder().(*array.ListBuilder)
		for _, ls := range g.(orb.MultiLineString) {
			appendLine(lines, ls)
		}
	case MultiPolygon:
		lb := b.storage.(*array.ListBuilder)
		lb.Append(true)
		polys := lb.ValueBuilder().(*array.ListBuilder)
		for _, p := range g.(orb.MultiPolygon) {
			appendPolygon(polys, p)
		}
	default:
		panic(fmt.Sprintf("geoarrow: invalid geometry kind %d", int(kind)))
	}

	return nil
}

// NewArray returns the built GeometryArray and resets the builder.
func (b *Builder) NewArray() arrow.Array {
	storage := b.storage.NewArray()
	defer storage.Release()

	return array.NewExtensionArrayWithStorage(b.typ, storage)
}

func (b *Builder) Release() { b.storage.Release() }

func appendCoord(sb *array.StructBuilder, p orb.Point) {
	sb.Append(true)
	sb.FieldBuilder(0).(*array.Float64Builder).Append(p[0])
	sb.FieldBuilder(1).(*array.Float64Builder).Append(p[1])
}

func appendLine(lb *array.ListBuilder, ls orb.LineString) {
	lb.Append(true)
	coords := lb.ValueBuilder().(*array.StructBuilder)
	for _, p := range ls {
		appendCoord(coords, p)
	}
}

func appendPolygon(lb *array.ListBuilder, p orb.Polygon) {
	lb.Append(true)
	rings := lb.ValueBuilder().(*array.ListBuilder)
	for _, r := range p {
		appendLine(rings, orb.LineString(r))
	}
}
