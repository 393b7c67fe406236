package workflow

import (
	"context"
	"errors"
	"fmt"
)

// Signal is the control signal a step ends with. The zero value means the
// step finished normally and the sequence continues.
type Signal string

const (
	SignalContinue Signal = ""

	// Terminal signals produced by explicit success/status steps
	SignalSuccess Signal = "success"
	SignalPending Signal = "pending"
	SignalFailure Signal = "failure"

	// Classified signals
	SignalEntityIsSuccess         Signal = "entity_is_success"
	SignalCredentialInvalid       Signal = "credential_invalid"
	SignalEntityInvalid           Signal = "entity_invalid"
	SignalInvalidValidationMethod Signal = "invalid_validation_method"
	SignalEmptyList               Signal = "empty_list"
	SignalNotFound                Signal = "not_found"
	SignalMaxRetries              Signal = "max_retries"
	SignalCaptchaError            Signal = "captcha_error"
	SignalTerminatedByUser        Signal = "terminated_by_user"

	// SignalUnclassified marks an unexpected page or state.
	SignalUnclassified Signal = "unclassified"
)

// Sentinel errors raised by the sequencer itself.
var (
	ErrNoTerminalSignal = errors.New("step sequence finished without a terminal signal")
	ErrUndeclaredSignal = errors.New("step raised a signal it does not declare")
	ErrMissingField     = errors.New("required entity field is empty")
	ErrStepPanicked     = errors.New("step panicked")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// SignalError carries a classified signal through ordinary error returns so
// that page helpers can stay plain `func(...) error` functions.
type SignalError struct {
	Signal Signal
	Err    error
}

func (e *SignalError) Error() string {
	if e.Err == nil {
		return string(e.Signal)
	}
	return fmt.Sprintf("%s: %v", e.Signal, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// Raise returns a SignalError with a plain message.
func Raise(sig Signal, msg string) error {
	return &SignalError{Signal: sig, Err: errors.New(msg)}
}

// Wrap attaches a signal to an existing error.
func Wrap(sig Signal, err error) error {
	return &SignalError{Signal: sig, Err: err}
}

// SignalOf extracts the signal carried by err. Context cancellation maps to
// SignalTerminatedByUser; any other error is unclassified.
func SignalOf(err error) Signal {
	if err == nil {
		return SignalContinue
	}

	var se *SignalError
	if errors.As(err, &se) {
		return se.Signal
	}

	if errors.Is(err, context.Canceled) {
		return SignalTerminatedByUser
	}

	return SignalUnclassified
}
