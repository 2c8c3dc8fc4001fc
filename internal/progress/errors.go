package progress

import "github.com/nanomad/ha-influx-to-victoriametrics/internal/errors"

const (
	// Configuration errors
	ErrInvalidDBPath = errors.ErrorCode("progress_invalid_db_path")

	// Schema errors
	ErrSchemaInitFailed       = errors.ErrorCode("progress_schema_init_failed")
	ErrSchemaValidationFailed = errors.ErrorCode("progress_schema_validation_failed")

	// Storage errors
	ErrStorageInit       = errors.ErrorCode("progress_storage_init_failed")
	ErrStorageAccess     = errors.ErrorCode("progress_storage_access_failed")
	ErrStorageClose      = errors.ErrorCode("progress_storage_close_failed")
	ErrTransactionFailed = errors.ErrorCode("progress_transaction_failed")
	ErrBackupFailed      = errors.ErrorCode("progress_backup_failed")
)
