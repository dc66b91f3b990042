package geoparquet

import (
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/goccy/go-json"
)

// MetadataKey is the parquet key-value metadata entry holding the geo document.
const MetadataKey = "geo"

var (
	ErrMissingGeoMetadata   = errors.New("missing 'geo' key in parquet metadata")
	ErrMalformedGeoMetadata = errors.New("malformed 'geo' metadata")
	ErrUnknownPrimaryColumn = errors.New("primary column has no geo column metadata")
)

// Metadata is the GeoParquet document stored under the "geo" key.
type Metadata struct {
	Version       string                     `json:"version"`
	PrimaryColumn string                     `json:"primary_column"`
	Columns       map[string]*ColumnMetadata `json:"columns"`
}

// ColumnMetadata describes one geometry column. Only GeometryTypes drives
// conversion, the rest is carried as-is.
type ColumnMetadata struct {
	Encoding      string          `json:"encoding"`
	GeometryTypes []string        `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	Orientation   string          `json:"orientation,omitempty"`
	Edges         string          `json:"edges,omitempty"`
	Bbox          []float64       `json:"bbox,omitempty"`
	Epoch         *float64        `json:"epoch,omitempty"`
	Covering      json.RawMessage `json:"covering,omitempty"`
}

// ParseMetadata finds the "geo" entry in the key-value metadata and decodes it.
func ParseMetadata(kv metadata.KeyValueMetadata) (*Metadata, error) {
	value := kv.FindValue(MetadataKey)
	if value == nil {
		return nil, ErrMissingGeoMetadata
	}

	return Unmarshal([]byte(*value))
}

// Unmarshal decodes a geo metadata JSON payload.
func Unmarshal(data []byte) (*Metadata, error) {
	var out Metadata
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGeoMetadata, err)
	}

	return &out, nil
}

// MetadataFromFile reads the geo document from an open parquet file footer.
func MetadataFromFile(pf *file.Reader) (*Metadata, error) {
	return ParseMetadata(pf.MetaData().KeyValueMetadata())
}

// PrimaryColumnMetadata returns the column entry of the primary geometry column.
func (m *Metadata) PrimaryColumnMetadata() (*ColumnMetadata, error) {
	col, ok := m.Columns[m.PrimaryColumn]
	if !ok || col == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPrimaryColumn, m.PrimaryColumn)
	}

	return col, nil
}

// Marshal encodes the document back to JSON.
func (m *Metadata) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
