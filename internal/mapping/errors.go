package mapping

import "github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"

const (
	// Schema errors
	ErrSchemaNotFound = errors.ErrorCode("mapping_schema_not_found")
	ErrInvalidSchema  = errors.ErrorCode("mapping_invalid_schema")

	// Mapping outcomes surfaced as typed errors so callers can count them
	ErrRecordIgnored   = errors.ErrorCode("mapping_record_ignored")
	ErrUnmappedRecord  = errors.ErrorCode("mapping_unmapped_record")
	ErrUnmappableValue = errors.ErrorCode("mapping_unmappable_value")
	ErrUnknownMetric   = errors.ErrorCode("mapping_unknown_metric")
)
