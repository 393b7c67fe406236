package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing-automation/ratelimit"
)

func newTestPipeline(t *testing.T, bot *fakeBot, session *fakeSession) *Pipeline[*fakeSession] {
	t.Helper()
	logger, _ := newTestLogger()
	open := func(context.Context, *Run) (*fakeSession, error) {
		return session, nil
	}
	return NewPipeline[*fakeSession](bot, open, logger)
}

func stepsOf(steps ...Step) func(*Run, *fakeSession) []Step {
	return func(*Run, *fakeSession) []Step { return steps }
}

func TestClassify(t *testing.T) {
	tests := []struct {
		signal Signal
		want   Outcome
	}{
		{SignalSuccess, OutcomeSuccess},
		{SignalEntityIsSuccess, OutcomeSuccess},
		{SignalPending, OutcomePending},
		{SignalFailure, OutcomeFailure},
		{SignalCredentialInvalid, OutcomeFailure},
		{SignalEntityInvalid, OutcomeFailure},
		{SignalInvalidValidationMethod, OutcomeFailure},
		{SignalEmptyList, OutcomeSkipped},
		{SignalNotFound, OutcomeSkipped},
		{SignalMaxRetries, OutcomeSkipped},
		{SignalCaptchaError, OutcomeFatal},
		{SignalTerminatedByUser, OutcomeAborted},
		{SignalUnclassified, OutcomeUnclassified},
		{Signal("something_new"), OutcomeUnclassified},
	}

	for _, tt := range tests {
		t.Run(string(tt.signal), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.signal))
		})
	}
}

func TestPipelinePublishedIsSuccess(t *testing.T) {
	rec := &recorder{}
	session := &fakeSession{}
	entity := newFakeEntity("biz-1", nil)

	bot := &fakeBot{name: "renamer", steps: stepsOf(
		rec.step("login", Continue()),
		rec.step("open_verification", Terminate(SignalEntityIsSuccess, errors.New("status Published")), SignalEntityIsSuccess),
		rec.step("go_to_edit", Continue()),
	)}

	report := newTestPipeline(t, bot, session).Process(context.Background(), entity)

	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.True(t, report.Reported)
	assert.Equal(t, []string{"login", "open_verification"}, rec.trace)
	assert.Len(t, entity.successes, 1)
	assert.Equal(t, 1, entity.reportCalls())
	assert.Equal(t, 1, session.closes)
	assert.Empty(t, session.snapshots)
}

func TestPipelineEmptyListSkips(t *testing.T) {
	session := &fakeSession{}
	entity := newFakeEntity("cred-1", nil)

	bot := &fakeBot{name: "uploader", steps: stepsOf(Step{
		Name:    "scan_rows",
		Expects: []Signal{SignalEmptyList},
		Run: Do(func(context.Context, *Run) error {
			return Raise(SignalEmptyList, "no rows")
		}),
	})}

	report := newTestPipeline(t, bot, session).Process(context.Background(), entity)

	assert.Equal(t, OutcomeSkipped, report.Outcome)
	assert.False(t, report.Reported)
	assert.Zero(t, entity.reportCalls())
	assert.Equal(t, 1, session.closes)
}

func TestPipelineReportsExactlyOnce(t *testing.T) {
	tests := []struct {
		name    string
		res     Result
		outcome Outcome
		calls   int
	}{
		{"success", Succeed(map[string]string{"google_maps": "https://maps"}), OutcomeSuccess, 1},
		{"pending", Terminate(SignalPending, nil), OutcomePending, 1},
		{"failure", Terminate(SignalFailure, nil), OutcomeFailure, 1},
		{"credential invalid", Terminate(SignalCredentialInvalid, nil), OutcomeFailure, 1},
		{"max retries", Terminate(SignalMaxRetries, nil), OutcomeSkipped, 0},
		{"not found", Terminate(SignalNotFound, nil), OutcomeSkipped, 0},
		{"captcha error", Terminate(SignalCaptchaError, nil), OutcomeFatal, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			session := &fakeSession{}
			entity := newFakeEntity("biz-1", nil)
			bot := &fakeBot{name: "renamer", steps: stepsOf(rec.step("final", tt.res, tt.res.Signal))}

			report := newTestPipeline(t, bot, session).Process(context.Background(), entity)

			assert.Equal(t, tt.outcome, report.Outcome)
			assert.Equal(t, tt.calls, entity.reportCalls())
			assert.Equal(t, tt.calls == 1, report.Reported)
			assert.Equal(t, 1, session.closes)
		})
	}
}

func TestPipelineSuccessPayload(t *testing.T) {
	entity := newFakeEntity("biz-1", nil)
	payload := map[string]string{"google_maps": "https://maps.google.com/?cid=1"}
	bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
		Name:    "final_data",
		Expects: []Signal{SignalSuccess},
		Run: func(context.Context, *Run) Result {
			return Succeed(payload)
		},
	})}

	newTestPipeline(t, bot, &fakeSession{}).Process(context.Background(), entity)

	require.Len(t, entity.successes, 1)
	assert.Equal(t, payload, entity.successes[0])
}

func TestPipelineUnclassifiedTakesOneSnapshot(t *testing.T) {
	session := &fakeSession{}
	entity := newFakeEntity("biz-1", nil)
	bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
		Name: "address",
		Run:  Do(func(context.Context, *Run) error { return errBoom }),
	})}

	report := newTestPipeline(t, bot, session).Process(context.Background(), entity)

	assert.Equal(t, OutcomeUnclassified, report.Outcome)
	assert.Equal(t, []string{"address"}, session.snapshots)
	assert.Zero(t, entity.reportCalls())
	assert.Equal(t, 1, session.closes)
}

func TestPipelineValidationFailure(t *testing.T) {
	opened := false
	logger, _ := newTestLogger()
	entity := newFakeEntity("biz-1", nil)
	bot := &fakeBot{name: "renamer", validateErr: errors.New("bad address")}

	pipeline := NewPipeline[*fakeSession](bot, func(context.Context, *Run) (*fakeSession, error) {
		opened = true
		return &fakeSession{}, nil
	}, logger)

	report := pipeline.Process(context.Background(), entity)

	assert.False(t, opened)
	assert.Equal(t, OutcomeInvalid, report.Outcome)
	assert.Equal(t, 1, entity.fails)
}

func TestPipelineReportFailureDoesNotMaskOutcome(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		entity := newFakeEntity("biz-1", nil)
		entity.reportErr = errBoom
		bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
			Name: "final_data", Expects: []Signal{SignalPending},
			Run: func(context.Context, *Run) Result { return Terminate(SignalPending, nil) },
		})}

		report := newTestPipeline(t, bot, &fakeSession{}).Process(context.Background(), entity)
		assert.Equal(t, OutcomePending, report.Outcome)
		assert.Equal(t, 1, entity.pendings)
	})

	t.Run("panic", func(t *testing.T) {
		session := &fakeSession{}
		entity := newFakeEntity("biz-1", nil)
		entity.reportPanic = true
		bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
			Name: "final_data", Expects: []Signal{SignalFailure},
			Run: func(context.Context, *Run) Result { return Terminate(SignalFailure, nil) },
		})}

		report := newTestPipeline(t, bot, session).Process(context.Background(), entity)
		assert.Equal(t, OutcomeFailure, report.Outcome)
		assert.Equal(t, 1, session.closes)
	})
}

func TestPipelineCancellationSkipsReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := &fakeSession{}
	entity := newFakeEntity("biz-1", nil)
	bot := &fakeBot{name: "renamer", steps: stepsOf(
		Step{Name: "login", Run: func(context.Context, *Run) Result {
			cancel()
			return Continue()
		}},
		Step{Name: "final_data", Expects: []Signal{SignalSuccess}, Run: func(context.Context, *Run) Result {
			return Succeed(nil)
		}},
	)}

	report := newTestPipeline(t, bot, session).Process(ctx, entity)

	assert.Equal(t, OutcomeAborted, report.Outcome)
	assert.Zero(t, entity.reportCalls())
	assert.Empty(t, session.snapshots)
	assert.Equal(t, 1, session.closes)
}

func TestReporterWriteOnce(t *testing.T) {
	logger, _ := newTestLogger()
	entity := newFakeEntity("biz-1", nil)
	run := NewRun("renamer", entity, logger)
	reporter := NewReporter(logger)

	assert.True(t, reporter.Report(context.Background(), run, OutcomeSuccess, nil))
	assert.False(t, reporter.Report(context.Background(), run, OutcomeFailure, nil))

	assert.Equal(t, OutcomeSuccess, run.Outcome())
	assert.Equal(t, 1, entity.reportCalls())
}

func TestRunnerStopsOnFatal(t *testing.T) {
	logger, _ := newTestLogger()
	processed := 0

	bot := &fakeBot{name: "uploader"}
	bot.steps = func(run *Run, _ *fakeSession) []Step {
		return []Step{{
			Name:    "login",
			Expects: []Signal{SignalCaptchaError, SignalSuccess},
			Run: func(context.Context, *Run) Result {
				processed++
				if run.Entity.Key() == "cred-2" {
					return Terminate(SignalCaptchaError, errBoom)
				}
				return Succeed(nil)
			},
		}}
	}

	pipeline := NewPipeline[*fakeSession](bot, func(context.Context, *Run) (*fakeSession, error) {
		return &fakeSession{}, nil
	}, logger)

	paced := 0
	runner := NewRunner(pipeline, func(context.Context) error {
		paced++
		return nil
	}, logger)

	entities := []Entity{newFakeEntity("cred-1", nil), newFakeEntity("cred-2", nil), newFakeEntity("cred-3", nil)}
	summary, err := runner.Run(context.Background(), entities)

	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 2, processed)
	assert.Equal(t, 2, paced)
	assert.Equal(t, 1, summary.Counts[OutcomeSuccess])
	assert.Equal(t, 1, summary.Counts[OutcomeFatal])
}

func TestRunnerContinuesAfterPerEntityOutcomes(t *testing.T) {
	logger, _ := newTestLogger()
	bot := &fakeBot{name: "renamer"}
	bot.steps = func(run *Run, _ *fakeSession) []Step {
		sig := SignalNotFound
		if run.Entity.Key() == "biz-2" {
			sig = SignalFailure
		}
		return []Step{{Name: "final", Expects: []Signal{sig}, Run: func(context.Context, *Run) Result {
			return Terminate(sig, nil)
		}}}
	}

	pipeline := NewPipeline[*fakeSession](bot, func(context.Context, *Run) (*fakeSession, error) {
		return &fakeSession{}, nil
	}, logger)

	summary, err := NewRunner(pipeline, nil, logger).Run(context.Background(), []Entity{
		newFakeEntity("biz-1", nil), newFakeEntity("biz-2", nil), newFakeEntity("biz-3", nil),
	})

	require.NoError(t, err)
	assert.Len(t, summary.Reports, 3)
	assert.Equal(t, 2, summary.Counts[OutcomeSkipped])
	assert.Equal(t, 1, summary.Counts[OutcomeFailure])
}

func TestRunnerPacingError(t *testing.T) {
	logger, _ := newTestLogger()
	bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
		Name: "final", Expects: []Signal{SignalSuccess},
		Run: func(context.Context, *Run) Result { return Succeed(nil) },
	})}
	pipeline := NewPipeline[*fakeSession](bot, func(context.Context, *Run) (*fakeSession, error) {
		return &fakeSession{}, nil
	}, logger)

	quota := errors.New("daily limit exceeded")
	summary, err := NewRunner(pipeline, func(context.Context) error { return quota }, logger).
		Run(context.Background(), []Entity{newFakeEntity("a", nil), newFakeEntity("b", nil)})

	assert.ErrorIs(t, err, quota)
	assert.Empty(t, summary.Reports)
}

func TestRunnerPacesWithRateLimiter(t *testing.T) {
	logger, _ := newTestLogger()

	var started []time.Time
	bot := &fakeBot{name: "renamer", steps: stepsOf(Step{
		Name: "final", Expects: []Signal{SignalSuccess},
		Run: func(context.Context, *Run) Result {
			started = append(started, time.Now())
			return Succeed(nil)
		},
	})}
	pipeline := NewPipeline[*fakeSession](bot, func(context.Context, *Run) (*fakeSession, error) {
		return &fakeSession{}, nil
	}, logger)

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		EntityDelay:   50 * time.Millisecond,
		DailyEntities: 2,
	}, logger)

	summary, err := NewRunner(pipeline, limiter.Pace, logger).Run(context.Background(), []Entity{
		newFakeEntity("a", nil), newFakeEntity("b", nil), newFakeEntity("c", nil),
	})

	require.ErrorIs(t, err, ratelimit.ErrLimitExceeded)
	assert.Len(t, summary.Reports, 2)
	require.Len(t, started, 2)
	assert.GreaterOrEqual(t, started[1].Sub(started[0]), 50*time.Millisecond)
}
