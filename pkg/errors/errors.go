// Package errors provides the domain error types shared across binaudit.
//
// Sentinel errors describe request-level conditions (validation, not found).
// AuditError describes a per-material infrastructure failure that the batch
// orchestrator converts into a terminal verdict instead of failing the batch.
//
// Usage:
//
//	import auerrors "github.com/otherjamesbrown/binaudit/pkg/errors"
//
//	if auerrors.IsValidation(err) {
//	    // reject the request
//	}
package errors

import "errors"

// Domain errors.
var (
	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates invalid input or validation failure.
	ErrValidation = errors.New("validation error")

	// ErrInvalidState indicates the operation is not valid for the current state.
	ErrInvalidState = errors.New("invalid state")

	// ErrMalformedJudgment indicates the external model output could not be
	// turned into a judgment.
	ErrMalformedJudgment = errors.New("malformed judgment")

	// ErrEvidenceUnavailable indicates evidence images could not be retrieved
	// or decoded.
	ErrEvidenceUnavailable = errors.New("evidence unavailable")
)

// IsNotFound reports whether any error in err's chain is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether any error in err's chain is ErrValidation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInvalidState reports whether any error in err's chain is ErrInvalidState.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}
