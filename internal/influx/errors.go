package influx

import "github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrorCode("influx_invalid_config")

	// Availability errors: the source store is unreachable or a query failed
	ErrSourceUnavailable = errors.ErrorCode("influx_source_unavailable")
)
