package geoarrow

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var (
	ErrUnknownGeometryType      = errors.New("unknown geometry type")
	ErrUnsupportedMixedGeometry = errors.New("mixed geometry columns are not supported")
	ErrGeometryDecode           = errors.New("failed to decode geometry")
)

// GeometryKind is the closed set of geometry kinds a column can be converted to.
type GeometryKind int

const (
	Point GeometryKind = iota + 1
	LineString
	Polygon
	MultiPoint
	MultiLineString
	MultiPolygon
)

// Kinds lists every GeometryKind in declaration order.
var Kinds = []GeometryKind{Point, LineString, Polygon, MultiPoint, MultiLineString, MultiPolygon}

// ParseGeometryKind maps a GeoParquet geometry_types label to its kind.
// Matching is exact and case-sensitive.
func ParseGeometryKind(label string) (GeometryKind, error) {
	switch label {
	case "Point":
		return Point, nil
	case "LineString":
		return LineString, nil
	case "Polygon":
		return Polygon, nil
	case "MultiPoint":
		return MultiPoint, nil
	case "MultiLineString":
		return MultiLineString, nil
	case "MultiPolygon":
		return MultiPolygon, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownGeometryType, label)
	}
}

// KindFromGeometryTypes resolves a column's declared geometry_types. Only a
// single declared label is resolvable.
func KindFromGeometryTypes(types []string) (GeometryKind, error) {
	if len(types) != 1 {
		return 0, fmt.Errorf("%w: declared types %v", ErrUnsupportedMixedGeometry, types)
	}

	return ParseGeometryKind(types[0])
}

// String returns the GeoParquet label of the kind.
func (k GeometryKind) String() string {
	switch k {
	case Point:
		return "Point"
	case LineString:
		return "LineString"
	case Polygon:
		return "Polygon"
	case MultiPoint:
		return "MultiPoint"
	case MultiLineString:
		return "MultiLineString"
	case MultiPolygon:
		return "MultiPolygon"
	default:
		return fmt.Sprintf("GeometryKind(%d)", int(k))
	}
}

// ExtensionName returns the GeoArrow extension name for the kind.
func (k GeometryKind) ExtensionName() string {
	switch k {
	case Point:
		return "geoarrow.point"
	case LineString:
		return "geoarrow.linestring"
	case Polygon:
		return "geoarrow.polygon"
	case MultiPoint:
		return "geoarrow.multipoint"
	case MultiLineString:
		return "geoarrow.multilinestring"
	case MultiPolygon:
		return "geoarrow.multipolygon"
	default:
		panic(fmt.Sprintf("geoarrow: invalid geometry kind %d", int(k)))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k GeometryKind) Valid() bool {
	return k >= Point && k <= MultiPolygon
}

// KindOf reports the kind of a decoded orb geometry.
func KindOf(g orb.Geometry) (GeometryKind, bool) {
	switch g.(type) {
	case orb.Point:
		return Point, true
	case orb.LineString:
		return LineString, true
	case orb.Polygon:
		return Polygon, true
	case orb.MultiPoint:
		return MultiPoint, true
	case orb.MultiLineString:
		return MultiLineString, true
	case orb.MultiPolygon:
		return MultiPolygon, true
	default:
		return 0, false
	}
}

// DecodeError reports a row whose WKB blob could not be turned into the
// column's geometry kind.
type DecodeError struct {
	Row  int
	Kind GeometryKind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s at row %d: %v", e.Kind, e.Row, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrGeometryDecode, e.Err}
}
