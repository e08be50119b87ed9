package telemetry

import "codeberg.org/mutker/robotctl/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig    = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidOutputDir = errors.ErrorCode("telemetry_invalid_output_dir")

	// Emission errors
	ErrNoData     = errors.ErrorCode("telemetry_no_data")
	ErrEmitFailed = errors.ErrorCode("telemetry_emit_failed")

	// Storage errors
	ErrInvalidDBPath = errors.ErrorCode("telemetry_invalid_db_path")
	ErrStorageInit   = errors.ErrorCode("telemetry_storage_init_failed")
	ErrStorageAccess = errors.ErrorCode("telemetry_storage_access_failed")
	ErrStorageClose  = errors.ErrorCode("telemetry_storage_close_failed")
)
