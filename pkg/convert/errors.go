package convert

import (
	"errors"
	"fmt"
)

var (
	ErrPrimaryColumnNotInSchema   = errors.New("primary geometry column not found in schema")
	ErrGeometryColumnTypeMismatch = errors.New("geometry column is not a binary column")
)

// Stage names the pipeline step a conversion failed in.
type Stage string

const (
	StageReadMetadata Stage = "read_metadata"
	StageInferSchema  Stage = "infer_schema"
	StageGeoMetadata  Stage = "geo_metadata"
	StageResolveKind  Stage = "resolve_kind"
	StagePatchSchema  Stage = "patch_schema"
	StageReadChunk    Stage = "read_chunk"
	StageTransform    Stage = "transform"
	StageWrite        Stage = "write"
)

// Error is returned by every failed conversion.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("geoparquet conversion failed at %s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func stageErr(stage Stage, err error) error {
	return &Error{Stage: stage, Err: err}
}

// StageOf returns the stage of a conversion error, or "" for other errors.
func StageOf(err error) Stage {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Stage
	}
	return ""
}
