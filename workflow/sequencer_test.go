package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRun(entity Entity) *Run {
	logger, _ := newTestLogger()
	return NewRun("test", entity, logger)
}

func TestSequencerStopsAtFirstTerminalSignal(t *testing.T) {
	logger, _ := newTestLogger()
	rec := &recorder{}

	steps := []Step{
		rec.step("login", Continue()),
		rec.step("open_verification", Terminate(SignalEntityIsSuccess, errors.New("Published")), SignalEntityIsSuccess),
		rec.step("go_to_edit", Continue()),
		rec.step("final_data", Succeed(nil), SignalSuccess),
	}

	res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

	assert.Equal(t, SignalEntityIsSuccess, res.Signal)
	assert.Equal(t, "open_verification", res.Step)
	assert.Equal(t, []string{"login", "open_verification"}, rec.trace)
}

func TestSequencerRequiresExplicitSuccess(t *testing.T) {
	logger, _ := newTestLogger()
	rec := &recorder{}

	steps := []Step{
		rec.step("a", Continue()),
		rec.step("b", Continue()),
	}

	res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

	assert.Equal(t, SignalUnclassified, res.Signal)
	assert.ErrorIs(t, res.Err, ErrNoTerminalSignal)
	assert.Equal(t, []string{"a", "b"}, rec.trace)
}

func TestSequencerPreconditions(t *testing.T) {
	logger, _ := newTestLogger()

	t.Run("optional step skipped", func(t *testing.T) {
		rec := &recorder{}
		name := rec.step("final_name", Continue())
		name.Requires = []string{"final_name"}

		steps := []Step{name, rec.step("done", Succeed(nil), SignalSuccess)}
		res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

		assert.Equal(t, SignalSuccess, res.Signal)
		assert.Equal(t, []string{"done"}, rec.trace)
	})

	t.Run("optional step runs when field present", func(t *testing.T) {
		rec := &recorder{}
		name := rec.step("final_name", Continue())
		name.Requires = []string{"final_name"}

		entity := newFakeEntity("biz-1", map[string]string{"final_name": "Acme Plumbing"})
		steps := []Step{name, rec.step("done", Succeed(nil), SignalSuccess)}
		res := NewSequencer(logger).Run(context.Background(), newTestRun(entity), steps)

		assert.Equal(t, SignalSuccess, res.Signal)
		assert.Equal(t, []string{"final_name", "done"}, rec.trace)
	})

	t.Run("required step missing field", func(t *testing.T) {
		rec := &recorder{}
		phone := rec.step("phone", Continue())
		phone.Requires = []string{"final_phone"}
		phone.Required = true

		steps := []Step{phone, rec.step("done", Succeed(nil), SignalSuccess)}
		res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

		assert.Equal(t, SignalEntityInvalid, res.Signal)
		assert.ErrorIs(t, res.Err, ErrMissingField)
		assert.Contains(t, res.Err.Error(), "final_phone")
		assert.Empty(t, rec.trace)
	})
}

func TestSequencerUndeclaredSignal(t *testing.T) {
	logger, _ := newTestLogger()
	rec := &recorder{}

	steps := []Step{
		rec.step("address", Terminate(SignalNotFound, errBoom), SignalEntityInvalid),
		rec.step("done", Succeed(nil), SignalSuccess),
	}

	res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

	assert.Equal(t, SignalUnclassified, res.Signal)
	assert.ErrorIs(t, res.Err, ErrUndeclaredSignal)
	assert.Equal(t, []string{"address"}, rec.trace)
}

func TestSequencerRecoversPanics(t *testing.T) {
	logger, _ := newTestLogger()

	steps := []Step{{
		Name: "explode",
		Run: func(context.Context, *Run) Result {
			panic("nil element")
		},
	}}

	res := NewSequencer(logger).Run(context.Background(), newTestRun(newFakeEntity("biz-1", nil)), steps)

	assert.Equal(t, SignalUnclassified, res.Signal)
	assert.ErrorIs(t, res.Err, ErrStepPanicked)
	assert.Equal(t, "explode", res.Step)
}

func TestSequencerCancellation(t *testing.T) {
	logger, _ := newTestLogger()

	t.Run("cancelled before step", func(t *testing.T) {
		rec := &recorder{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res := NewSequencer(logger).Run(ctx, newTestRun(newFakeEntity("biz-1", nil)), []Step{rec.step("a", Continue())})

		assert.Equal(t, SignalTerminatedByUser, res.Signal)
		assert.Empty(t, rec.trace)
	})

	t.Run("cancelled during step", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		steps := []Step{{
			Name: "wait",
			Run: Do(func(ctx context.Context, _ *Run) error {
				cancel()
				<-ctx.Done()
				return errors.New("element lookup aborted")
			}),
		}}

		res := NewSequencer(logger).Run(ctx, newTestRun(newFakeEntity("biz-1", nil)), steps)
		assert.Equal(t, SignalTerminatedByUser, res.Signal)
	})
}

func TestDoMapsSignalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Signal
	}{
		{"nil", nil, SignalContinue},
		{"signal", Raise(SignalNotFound, "row missing"), SignalNotFound},
		{"wrapped signal", errors.Join(errBoom, Wrap(SignalCredentialInvalid, errBoom)), SignalCredentialInvalid},
		{"cancel", context.Canceled, SignalTerminatedByUser},
		{"plain", errBoom, SignalUnclassified},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Do(func(context.Context, *Run) error { return tt.err })(context.Background(), nil)
			assert.Equal(t, tt.want, res.Signal)
		})
	}
}

func TestPoll(t *testing.T) {
	t.Run("exhausts attempts", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), 4, time.Millisecond, func(context.Context, int) (bool, error) {
			calls++
			return false, nil
		})

		require.Error(t, err)
		assert.Equal(t, SignalMaxRetries, SignalOf(err))
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 4, calls)
	})

	t.Run("stops when done", func(t *testing.T) {
		calls := 0
		err := Poll(context.Background(), 10, time.Millisecond, func(_ context.Context, attempt int) (bool, error) {
			calls++
			return attempt == 3, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("check error stops polling", func(t *testing.T) {
		err := Poll(context.Background(), 10, time.Millisecond, func(context.Context, int) (bool, error) {
			return false, Raise(SignalInvalidValidationMethod, "Couldn't connect")
		})
		assert.Equal(t, SignalInvalidValidationMethod, SignalOf(err))
	})
}
