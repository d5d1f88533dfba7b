// Package diag defines the error taxonomy shared by every pipeline phase.
//
// Each phase returns its own typed error (canon.WellFormednessError,
// fit.FailureReport, emit.EmissionError, ...). Those types implement Coded so
// callers can classify a failure without importing the producing package:
//
//	if diag.Is(err, diag.ResourceFitFailure) { ... }
//
// Classification works through fmt.Errorf("%w") wrapping.
package diag

import (
	"context"
	"errors"
	"fmt"
)

// Code categorizes a pipeline failure.
type Code string

const (
	// WellFormedness is a fatal canonicalization violation. Never retried.
	WellFormedness Code = "WELL_FORMEDNESS"

	// ObligationFailure means the verification gate saw a non-waived
	// obligation that is not verified.
	ObligationFailure Code = "OBLIGATION_FAILURE"

	// ResourceFitFailure means every fit strategy was exhausted.
	ResourceFitFailure Code = "RESOURCE_FIT_FAILURE"

	// EmissionError is a backend-reported emission failure.
	EmissionError Code = "EMISSION_ERROR"

	// ModelFidelity is a post-emission mismatch between prediction and
	// artifact.
	ModelFidelity Code = "MODEL_FIDELITY"

	// Timeout is a per-engine timeout. It escalates; it is only surfaced when
	// a critical obligation settles inconclusive because of it.
	Timeout Code = "TIMEOUT"

	// WaiverPolicyViolation covers malformed, duplicate or expired waivers.
	WaiverPolicyViolation Code = "WAIVER_POLICY_VIOLATION"

	// Transform is a lowering failure that no fit strategy can repair.
	Transform Code = "TRANSFORM"

	// Cancelled means the run was cancelled and uncommitted writes dropped.
	Cancelled Code = "CANCELLED"

	// Internal is any unclassified failure.
	Internal Code = "INTERNAL"
)

// Coded is implemented by errors that carry a taxonomy code.
type Coded interface {
	DiagCode() Code
}

// CodeOf returns the code of the first Coded error in err's chain.
// Context cancellation maps to Cancelled; anything else is Internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var c Coded
	if errors.As(err, &c) {
		return c.DiagCode()
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}

// Is reports whether err classifies as code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Error is a generic coded error for failures that have no richer type.
type Error struct {
	Code    Code
	Message string
	Details map[string]string
	Err     error
}

// New creates a coded error.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DiagCode implements Coded.
func (e *Error) DiagCode() Code { return e.Code }

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// WithDetail adds a key/value detail and returns e.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = map[string]string{}
	}
	e.Details[key] = value
	return e
}
