package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Bot supplies the entity-specific parts of a pipeline.
type Bot[S Session] interface {
	Name() string

	// Validate runs before any session is opened. A non-nil error ends the
	// run as OutcomeInvalid.
	Validate(entity Entity) error

	// Steps builds a fresh step list bound to one run and its session.
	Steps(run *Run, session S) []Step
}

// OpenFunc opens the session a run is executed against.
type OpenFunc[S Session] func(ctx context.Context, run *Run) (S, error)

// Report is the end state of one processed entity.
type Report struct {
	RunID    string
	Entity   string
	Outcome  Outcome
	Signal   Signal
	Step     string
	Err      error
	Reported bool
	Duration time.Duration
}

// Pipeline drives one entity through open, sequence, classify, report and
// close.
type Pipeline[S Session] struct {
	bot       Bot[S]
	open      OpenFunc[S]
	sequencer *Sequencer
	reporter  *Reporter
	logger    *logrus.Logger

	snapshotTimeout time.Duration
}

// NewPipeline creates a new pipeline for bot
func NewPipeline[S Session](bot Bot[S], open OpenFunc[S], logger *logrus.Logger) *Pipeline[S] {
	return &Pipeline[S]{
		bot:             bot,
		open:            open,
		sequencer:       NewSequencer(logger),
		reporter:        NewReporter(logger),
		logger:          logger,
		snapshotTimeout: 30 * time.Second,
	}
}

// SetSnapshotTimeout bounds the diagnostic snapshot of an unclassified run.
func (p *Pipeline[S]) SetSnapshotTimeout(d time.Duration) {
	if d > 0 {
		p.snapshotTimeout = d
	}
}

// Process runs the bot against entity and returns the report of the run.
func (p *Pipeline[S]) Process(ctx context.Context, entity Entity) Report {
	run := NewRun(p.bot.Name(), entity, p.logger)
	run.Logger.Info("Processing entity")

	if err := p.bot.Validate(entity); err != nil {
		run.Logger.WithError(err).Warn("Entity failed validation")
		reported := p.reporter.Report(ctx, run, OutcomeInvalid, nil)
		return p.finish(run, Result{Err: err}, reported)
	}

	if err := ctx.Err(); err != nil {
		run.SetOutcome(OutcomeAborted)
		return p.finish(run, Result{Signal: SignalTerminatedByUser, Err: err}, false)
	}

	session, err := p.open(ctx, run)
	if err != nil {
		res := FromError(fmt.Errorf("failed to open session: %w", err))
		if ctx.Err() != nil {
			res.Signal = SignalTerminatedByUser
		}
		p.reporter.Report(ctx, run, Classify(res.Signal), nil)
		return p.finish(run, res, false)
	}

	closed := false
	closeSession := func() {
		if closed {
			return
		}
		closed = true
		if err := session.Close(); err != nil {
			run.Logger.WithError(err).Warn("Failed to close session")
		}
	}
	defer closeSession()

	res := p.sequencer.Run(ctx, run, p.bot.Steps(run, session))
	outcome := Classify(res.Signal)

	if outcome == OutcomeUnclassified {
		run.Logger.WithFields(logrus.Fields{
			"step":  res.Step,
			"error": res.Err,
		}).Error("Unclassified failure, taking snapshot")
		p.snapshot(ctx, session, res)
	}

	reported := p.reporter.Report(ctx, run, outcome, res.Data)
	closeSession()

	return p.finish(run, res, reported)
}

func (p *Pipeline[S]) snapshot(ctx context.Context, session S, res Result) {
	snapCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.snapshotTimeout)
	defer cancel()

	reason := res.Step
	if reason == "" {
		reason = "sequence"
	}
	session.Snapshot(snapCtx, reason)
}

func (p *Pipeline[S]) finish(run *Run, res Result, reported bool) Report {
	report := Report{
		RunID:    run.ID.String(),
		Entity:   run.Entity.Key(),
		Outcome:  run.Outcome(),
		Signal:   res.Signal,
		Step:     res.Step,
		Err:      res.Err,
		Reported: reported,
		Duration: time.Since(run.StartedAt),
	}

	run.Logger.WithFields(logrus.Fields{
		"outcome":  report.Outcome,
		"signal":   report.Signal,
		"reported": report.Reported,
		"duration": report.Duration,
	}).Info("Entity processed")

	return report
}

// PaceFunc blocks until the next entity may start. It is called before every
// entity, the first included. Returning an error stops the runner.
type PaceFunc func(ctx context.Context) error

// ErrStopped is returned by Runner.Run when a run outcome stopped processing.
var ErrStopped = errors.New("runner stopped")

// Summary aggregates the reports of one runner invocation.
type Summary struct {
	Reports []Report
	Counts  map[Outcome]int
}

// Runner processes entities one after another through a pipeline.
type Runner[S Session] struct {
	pipeline *Pipeline[S]
	pace     PaceFunc
	logger   *logrus.Logger
}

// NewRunner creates a new runner. pace may be nil.
func NewRunner[S Session](pipeline *Pipeline[S], pace PaceFunc, logger *logrus.Logger) *Runner[S] {
	return &Runner[S]{
		pipeline: pipeline,
		pace:     pace,
		logger:   logger,
	}
}

// Run processes entities strictly sequentially. It stops early on a fatal or
// aborted outcome, on context cancellation, or when pacing refuses.
func (r *Runner[S]) Run(ctx context.Context, entities []Entity) (Summary, error) {
	summary := Summary{Counts: make(map[Outcome]int)}

	r.logger.WithField("entities", len(entities)).Info("Starting run")

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if r.pace != nil {
			if err := r.pace(ctx); err != nil {
				r.logger.WithError(err).Warn("Pacing stopped the run")
				return summary, err
			}
		}

		report := r.pipeline.Process(ctx, entity)
		summary.Reports = append(summary.Reports, report)
		summary.Counts[report.Outcome]++

		if report.Outcome.StopsRunner() {
			r.logger.WithFields(logrus.Fields{
				"entity":  report.Entity,
				"outcome": report.Outcome,
			}).Error("Stopping run")
			return summary, fmt.Errorf("%w: %s on %s: %v", ErrStopped, report.Outcome, report.Entity, report.Err)
		}
	}

	r.logger.WithField("counts", summary.Counts).Info("Run complete")
	return summary, nil
}
