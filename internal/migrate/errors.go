package migrate

import "github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrorCode("migrate_invalid_config")

	// Run errors
	ErrUnitFailed = errors.ErrorCode("migrate_unit_failed")
	ErrCanceled   = errors.ErrCanceled
)
