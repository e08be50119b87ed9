package policy

import "codeberg.org/mutker/robotctl/internal/errors"

const (
	// Model load errors (fatal at startup when no backend remains)
	ErrModelNotFound     = errors.ErrorCode("policy_model_not_found")
	ErrModelLoad         = errors.ErrorCode("policy_model_load_failed")
	ErrUnsupportedSchema = errors.ErrorCode("policy_unsupported_schema")
	ErrShapeInvalid      = errors.ErrorCode("policy_shape_invalid")
	ErrShapeOverflow     = errors.ErrorCode("policy_shape_overflow")

	// Inference errors (recoverable, the tick is skipped)
	ErrNotLoaded       = errors.ErrorCode("policy_model_not_loaded")
	ErrNoBackend       = errors.ErrorCode("policy_no_backend_available")
	ErrInferenceFailed = errors.ErrorCode("policy_inference_failed")
	ErrEmptyOutput     = errors.ErrorCode("policy_empty_output")

	// Tensor extraction errors
	ErrTypeMismatch = errors.ErrorCode("policy_tensor_type_mismatch")
	ErrBufferSize   = errors.ErrorCode("policy_tensor_buffer_size")
	ErrSlotRange    = errors.ErrorCode("policy_output_slot_out_of_range")
)
