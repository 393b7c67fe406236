package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Reporter delivers the outcome of a run to the entity's record service.
type Reporter struct {
	logger *logrus.Logger
}

// NewReporter creates a new reporter
func NewReporter(logger *logrus.Logger) *Reporter {
	return &Reporter{logger: logger}
}

// Report records outcome on the run and, for reportable outcomes, invokes
// exactly one report callback on the entity. It never fails: delivery errors
// are logged and the outcome stands. The return value tells whether a
// callback was invoked.
func (r *Reporter) Report(ctx context.Context, run *Run, outcome Outcome, payload map[string]string) (reported bool) {
	log := run.Logger.WithField("outcome", outcome)

	if !run.SetOutcome(outcome) {
		log.WithField("recorded", run.Outcome()).Warn("Outcome already recorded, ignoring")
		return false
	}

	if !outcome.Reportable() {
		log.Info("Outcome not reported")
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Record service panicked while reporting")
		}
	}()

	reported = true
	if err := r.deliver(ctx, run.Entity, outcome, payload); err != nil {
		log.WithError(err).Error("Failed to report outcome")
		return reported
	}

	log.WithField("payload", payload).Info("Outcome reported")
	return reported
}

func (r *Reporter) deliver(ctx context.Context, entity Entity, outcome Outcome, payload map[string]string) error {
	switch outcome {
	case OutcomeSuccess:
		return entity.ReportSuccess(ctx, payload)
	case OutcomeFailure, OutcomeInvalid:
		return entity.ReportFail(ctx)
	case OutcomePending:
		return entity.ReportPending(ctx)
	}
	return fmt.Errorf("outcome %q is not reportable", outcome)
}
