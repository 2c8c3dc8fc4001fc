package vm

import "github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrorCode("vm_invalid_config")

	// Write errors
	ErrWriteFailed = errors.ErrorCode("vm_write_failed")

	// Availability errors
	ErrUnavailable = errors.ErrorCode("vm_unavailable")

	// Admin/query errors
	ErrDeleteFailed = errors.ErrorCode("vm_delete_failed")
	ErrQueryFailed  = errors.ErrorCode("vm_query_failed")
)
