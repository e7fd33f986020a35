package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across vidscope.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldRequestID = "request_id"

	// Components
	FieldComponent = "component"
	FieldHandler   = "handler"

	// Pipeline
	FieldVideo    = "video"
	FieldStage    = "stage"
	FieldProgress = "progress"
	FieldBucket   = "bucket"
	FieldKey      = "key"
	FieldFrames   = "frames"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError   = "error"
	FieldAttempt = "attempt"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"

	// Files and paths
	FieldPath = "path"

	// Network
	FieldAddress = "address"
	FieldMethod  = "method"
	FieldRemote  = "remote"
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	requestIDKey contextKey = "logger_request_id"
	videoKey     contextKey = "logger_video"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithVideo adds the video name being processed to the context for logging
func WithVideo(ctx context.Context, video string) context.Context {
	return context.WithValue(ctx, videoKey, video)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		fields = append(fields, FieldRequestID, requestID)
	}
	if video, ok := ctx.Value(videoKey).(string); ok && video != "" {
		fields = append(fields, FieldVideo, video)
	}

	return fields
}

// FromContext returns base with fields extracted from ctx.
// Falls back to the global Logger when base is nil.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
