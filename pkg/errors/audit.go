package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified per-material infrastructure failure.
type ErrorCode string

const (
	// ErrParseError means no usable judgment was obtained for the material.
	ErrParseError ErrorCode = "parse_error"
	// ErrImageError means the evidence itself could not be retrieved or decoded.
	ErrImageError ErrorCode = "image_error"
)

// AuditError is a structured error for a failed per-material audit.
type AuditError struct {
	Code     ErrorCode
	Stage    string
	Material string
	Message  string
	Duration time.Duration
	Cause    error
}

func (e *AuditError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Stage != "" {
		b.WriteString(": ")
		b.WriteString(e.Stage)
	}
	if e.Material != "" {
		fmt.Fprintf(&b, " [%s]", e.Material)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

func (e *AuditError) Unwrap() error {
	return e.Cause
}

// NewParseError builds a parse_error for stage.
func NewParseError(stage, message string, cause error) *AuditError {
	return &AuditError{Code: ErrParseError, Stage: stage, Message: message, Cause: cause}
}

// NewImageError builds an image_error for stage.
func NewImageError(stage, message string, cause error) *AuditError {
	return &AuditError{Code: ErrImageError, Stage: stage, Message: message, Cause: cause}
}

// imagePatterns mark failures on the evidence side of the model call.
var imagePatterns = []string{
	"image",
	"evidence",
	"photo",
	"download",
	"unsupported media",
	"415",
}

// ClassifyError inspects an error and returns an *AuditError with the
// appropriate code. Anything that is not recognisably an evidence failure is
// classified as a parse error, since no usable judgment exists either way.
func ClassifyError(err error, stage string) *AuditError {
	if err == nil {
		return nil
	}

	var ae *AuditError
	if errors.As(err, &ae) {
		if ae.Stage == "" {
			ae.Stage = stage
		}
		return ae
	}

	result := &AuditError{Stage: stage, Cause: err, Message: err.Error()}

	switch {
	case errors.Is(err, ErrEvidenceUnavailable):
		result.Code = ErrImageError
		return result
	case errors.Is(err, ErrMalformedJudgment):
		result.Code = ErrParseError
		return result
	case errors.Is(err, context.DeadlineExceeded):
		result.Code = ErrParseError
		result.Message = "model call timed out"
		return result
	case errors.Is(err, context.Canceled):
		result.Code = ErrParseError
		result.Message = "model call cancelled"
		return result
	}

	lower := strings.ToLower(err.Error())
	for _, p := range imagePatterns {
		if strings.Contains(lower, p) {
			result.Code = ErrImageError
			return result
		}
	}

	result.Code = ErrParseError
	return result
}

// IsParseError reports whether err classifies as a parse_error.
func IsParseError(err error) bool {
	var ae *AuditError
	return errors.As(err, &ae) && ae.Code == ErrParseError
}

// IsImageError reports whether err classifies as an image_error.
func IsImageError(err error) bool {
	var ae *AuditError
	return errors.As(err, &ae) && ae.Code == ErrImageError
}
