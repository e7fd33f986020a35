// Package errors provides error handling for vidscope.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Wrap with context
//	if err := transcode(); err != nil {
//	    return errors.Wrap(errors.ErrEncodeFailure, err.Error())
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNoDetections) {
//	    // heatmap stage only
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// CombineErrors joins a primary and secondary error, keeping the first as the cause.
var CombineErrors = crdb.CombineErrors

// Generic sentinels. Wrap these with errors.Wrap() to add context while
// preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a resource conflict (e.g., job already running)
	ErrConflict = New("resource conflict")
)

// Pipeline failure taxonomy.
var (
	// ErrAssetNotFound: the source video is missing from object storage.
	ErrAssetNotFound = New("asset not found")

	// ErrDecodeFailure: the video cannot be opened or read.
	ErrDecodeFailure = New("decode failure")

	// ErrNoDetections: a heatmap was requested but no valid detections exist.
	ErrNoDetections = New("no detections found for heatmap generation")

	// ErrEncodeFailure: the transcode step failed or produced empty output.
	ErrEncodeFailure = New("encode failure")

	// ErrPersistenceFailure: a metadata upsert exhausted its retries.
	ErrPersistenceFailure = New("persistence failure")

	// ErrTransientStorage: an object-storage call failed but may succeed if retried.
	ErrTransientStorage = New("transient storage failure")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound or ErrAssetNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && IsAny(err, ErrNotFound, ErrAssetNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// Mark tags err with a sentinel so errors.Is(err, sentinel) holds while the
// original message and cause are kept.
func Mark(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	return crdb.Mark(err, sentinel)
}
