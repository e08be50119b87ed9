package frame

import "codeberg.org/mutker/robotctl/internal/errors"

const (
	// Codec construction errors
	ErrInvalidMapping   = errors.ErrorCode("frame_invalid_joint_mapping")
	ErrDuplicateChannel = errors.ErrorCode("frame_duplicate_channel")
	ErrChannelRange     = errors.ErrorCode("frame_channel_out_of_range")

	// Encode errors
	ErrCommandLength = errors.ErrorCode("frame_command_length_mismatch")

	// Decode errors
	ErrFrameLength  = errors.ErrorCode("frame_length_mismatch")
	ErrChecksum     = errors.ErrorCode("frame_checksum_mismatch")
	ErrStateInvalid = errors.ErrorCode("frame_state_invalid")
)
