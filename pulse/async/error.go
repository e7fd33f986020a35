package async

import (
	"context"

	"github.com/teranos/vidscope/errors"
)

// ErrorCode represents the classification of a job failure
type ErrorCode string

const (
	ErrorCodeAssetNotFound      ErrorCode = "asset_not_found"
	ErrorCodeDecodeFailure      ErrorCode = "decode_failure"
	ErrorCodeNoDetections       ErrorCode = "no_detections"
	ErrorCodeEncodeFailure      ErrorCode = "encode_failure"
	ErrorCodePersistenceFailure ErrorCode = "persistence_failure"
	ErrorCodeStorageError       ErrorCode = "storage_error"
	ErrorCodeValidationError    ErrorCode = "validation_error"
	ErrorCodeCancelled          ErrorCode = "cancelled"
	ErrorCodeUnknown            ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string
	Code      ErrorCode
	Message   string
	Retryable bool
}

// ClassifyError maps an error onto the failure taxonomy by sentinel
func ClassifyError(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ec := ErrorContext{Stage: stage, Message: err.Error()}
	switch {
	case errors.IsAny(err, context.Canceled, context.DeadlineExceeded):
		ec.Code = ErrorCodeCancelled
		ec.Retryable = true
	case errors.Is(err, errors.ErrAssetNotFound):
		ec.Code = ErrorCodeAssetNotFound
	case errors.Is(err, errors.ErrNoDetections):
		ec.Code = ErrorCodeNoDetections
	case errors.Is(err, errors.ErrDecodeFailure):
		ec.Code = ErrorCodeDecodeFailure
	case errors.Is(err, errors.ErrEncodeFailure):
		ec.Code = ErrorCodeEncodeFailure
	case errors.Is(err, errors.ErrPersistenceFailure):
		ec.Code = ErrorCodePersistenceFailure
		ec.Retryable = true
	case errors.Is(err, errors.ErrTransientStorage):
		ec.Code = ErrorCodeStorageError
		ec.Retryable = true
	case errors.IsInvalidRequestError(err):
		ec.Code = ErrorCodeValidationError
	default:
		ec.Code = ErrorCodeUnknown
	}
	return ec
}
