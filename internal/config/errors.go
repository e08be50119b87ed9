package config

import "codeberg.org/mutker/robotctl/internal/errors"

const (
	ErrReadConfig      = errors.ErrorCode("config_read_failed")
	ErrParseConfig     = errors.ErrorCode("config_parse_failed")
	ErrInvalidPeriod   = errors.ErrorCode("config_invalid_period")
	ErrInvalidMapping  = errors.ErrorCode("config_invalid_joint_mapping")
	ErrLengthMismatch  = errors.ErrorCode("config_joint_array_length")
	ErrInvalidGroup    = errors.ErrorCode("config_invalid_observation_group")
	ErrInvalidHistory  = errors.ErrorCode("config_invalid_history")
	ErrMissingModel    = errors.ErrorCode("config_missing_model")
	ErrInvalidClipping = errors.ErrorCode("config_invalid_clip_bounds")
)
