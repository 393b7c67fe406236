package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Sequencer executes an ordered list of steps against one run. It keeps no
// state between calls.
type Sequencer struct {
	logger *logrus.Logger
}

// NewSequencer creates a new sequencer
func NewSequencer(logger *logrus.Logger) *Sequencer {
	return &Sequencer{logger: logger}
}

// Run executes steps in declared order and returns the first terminal result.
func (s *Sequencer) Run(ctx context.Context, run *Run, steps []Step) Result {
	for i, step := range steps {
		log := run.Logger.WithFields(logrus.Fields{
			"step":  step.Name,
			"index": i,
		})

		if err := ctx.Err(); err != nil {
			log.Warn("Run cancelled before step")
			return Result{Signal: SignalTerminatedByUser, Err: err, Step: step.Name}
		}

		if missing := run.missingFields(step.Requires); len(missing) > 0 {
			if !step.Required {
				log.WithField("missing", missing).Debug("Skipping optional step")
				continue
			}
			return Result{
				Signal: SignalEntityInvalid,
				Err:    fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", ")),
				Step:   step.Name,
			}
		}

		log.Info("Running step")
		started := time.Now()

		res := s.runStep(ctx, run, step)
		res.Step = step.Name

		log = log.WithField("duration", time.Since(started))

		if !res.Terminal() {
			log.Debug("Step completed")
			continue
		}

		// Errors caused by cancellation surface from the driver unwrapped.
		if res.Signal == SignalUnclassified && ctx.Err() != nil {
			res.Signal = SignalTerminatedByUser
		}

		if !step.expects(res.Signal) {
			log.WithField("signal", res.Signal).Error("Step raised an undeclared signal")
			return Result{
				Signal: SignalUnclassified,
				Err:    fmt.Errorf("%w: %s raised %s: %v", ErrUndeclaredSignal, step.Name, res.Signal, res.Err),
				Step:   step.Name,
			}
		}

		log.WithFields(logrus.Fields{
			"signal": res.Signal,
			"error":  res.Err,
		}).Info("Step ended the sequence")
		return res
	}

	return Result{Signal: SignalUnclassified, Err: ErrNoTerminalSignal}
}

func (s *Sequencer) runStep(ctx context.Context, run *Run, step Step) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Signal: SignalUnclassified,
				Err:    fmt.Errorf("%w: %v", ErrStepPanicked, r),
			}
		}
	}()

	if step.Run == nil {
		return Continue()
	}
	return step.Run(ctx, run)
}
