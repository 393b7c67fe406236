package workflow

// Outcome is the terminal classification of one entity run.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomePending Outcome = "pending"
	OutcomeInvalid Outcome = "invalid"
	OutcomeSkipped Outcome = "skipped"

	// Run endings that never reach the record service
	OutcomeUnclassified Outcome = "unclassified"
	OutcomeAborted      Outcome = "aborted"
	OutcomeFatal        Outcome = "fatal"
)

var classification = map[Signal]Outcome{
	SignalSuccess:                 OutcomeSuccess,
	SignalEntityIsSuccess:         OutcomeSuccess,
	SignalPending:                 OutcomePending,
	SignalFailure:                 OutcomeFailure,
	SignalCredentialInvalid:       OutcomeFailure,
	SignalEntityInvalid:           OutcomeFailure,
	SignalInvalidValidationMethod: OutcomeFailure,
	SignalEmptyList:               OutcomeSkipped,
	SignalNotFound:                OutcomeSkipped,
	SignalMaxRetries:              OutcomeSkipped,
	SignalCaptchaError:            OutcomeFatal,
	SignalTerminatedByUser:        OutcomeAborted,
}

// Classify maps a terminal signal to its outcome. Unknown signals, and a
// sequence that never produced one, are unclassified.
func Classify(sig Signal) Outcome {
	if outcome, ok := classification[sig]; ok {
		return outcome
	}
	return OutcomeUnclassified
}

// Reportable reports whether the outcome is delivered to the record service.
func (o Outcome) Reportable() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomePending, OutcomeInvalid:
		return true
	}
	return false
}

// StopsRunner reports whether no further entity may be processed after o.
func (o Outcome) StopsRunner() bool {
	return o == OutcomeFatal || o == OutcomeAborted
}
