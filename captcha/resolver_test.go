package captcha

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeChallenge stays visible until acceptAfter submissions were made.
type fakeChallenge struct {
	visible     bool
	acceptAfter int
	images      int
	submitted   []string
	submitErr   error
}

func (c *fakeChallenge) Visible(context.Context) (bool, error) {
	return c.visible, nil
}

func (c *fakeChallenge) Image(context.Context) (string, error) {
	c.images++
	return fmt.Sprintf("captcha-%d.jpg", c.images), nil
}

func (c *fakeChallenge) Submit(_ context.Context, text string) error {
	if c.submitErr != nil {
		return c.submitErr
	}
	c.submitted = append(c.submitted, text)
	if c.acceptAfter > 0 && len(c.submitted) >= c.acceptAfter {
		c.visible = false
	}
	return nil
}

type fakeSolver struct {
	balance    float64
	balanceErr error
	decodeErr  error
	decoded    []string
	reported   []int64
	nextID     int64
}

func (s *fakeSolver) Balance(context.Context) (float64, error) {
	return s.balance, s.balanceErr
}

func (s *fakeSolver) Decode(_ context.Context, imagePath string) (*Task, error) {
	if s.decodeErr != nil {
		return nil, s.decodeErr
	}
	s.nextID++
	s.decoded = append(s.decoded, imagePath)
	return &Task{ID: s.nextID, ImagePath: imagePath, Text: fmt.Sprintf("text-%d", s.nextID)}, nil
}

func (s *fakeSolver) Report(_ context.Context, id int64) error {
	s.reported = append(s.reported, id)
	return nil
}

func newTestResolver(solver Solver, maxRetries int) *Resolver {
	logger, _ := test.NewNullLogger()
	return NewResolver(solver, maxRetries, logger)
}

func TestResolveNoChallenge(t *testing.T) {
	solver := &fakeSolver{balance: 10}
	text, err := newTestResolver(solver, 10).Resolve(context.Background(), &fakeChallenge{})

	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, solver.decoded)
}

func TestResolveAcceptedFirstTry(t *testing.T) {
	solver := &fakeSolver{balance: 10}
	ch := &fakeChallenge{visible: true, acceptAfter: 1}

	text, err := newTestResolver(solver, 10).Resolve(context.Background(), ch)

	require.NoError(t, err)
	assert.Equal(t, "text-1", text)
	assert.Empty(t, solver.reported)
}

func TestResolveReportsRejectedSolutions(t *testing.T) {
	solver := &fakeSolver{balance: 10}
	ch := &fakeChallenge{visible: true, acceptAfter: 3}

	text, err := newTestResolver(solver, 10).Resolve(context.Background(), ch)

	require.NoError(t, err)
	assert.Equal(t, "text-3", text)
	assert.Equal(t, []int64{1, 2}, solver.reported)

	// every attempt decoded a fresh image
	assert.Equal(t, []string{"captcha-1.jpg", "captcha-2.jpg", "captcha-3.jpg"}, solver.decoded)
}

func TestResolveMaxRetries(t *testing.T) {
	solver := &fakeSolver{balance: 10}
	ch := &fakeChallenge{visible: true}

	_, err := newTestResolver(solver, 10).Resolve(context.Background(), ch)

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Len(t, ch.submitted, 10)
	assert.Len(t, solver.decoded, 10)
	assert.Len(t, solver.reported, 10)
}

func TestResolveAcceptedOnLastAttempt(t *testing.T) {
	solver := &fakeSolver{balance: 10}
	ch := &fakeChallenge{visible: true, acceptAfter: 10}

	text, err := newTestResolver(solver, 10).Resolve(context.Background(), ch)

	require.NoError(t, err)
	assert.Equal(t, "text-10", text)
	assert.Len(t, solver.reported, 9)
}

func TestResolveDecodeFailuresCountAsAttempts(t *testing.T) {
	solver := &fakeSolver{balance: 10, decodeErr: ErrNotSolved}
	ch := &fakeChallenge{visible: true}

	_, err := newTestResolver(solver, 4).Resolve(context.Background(), ch)

	require.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 4, ch.images)
	assert.Empty(t, ch.submitted)
}

func TestResolveAccessDeniedIsFatal(t *testing.T) {
	tests := []struct {
		name   string
		solver *fakeSolver
	}{
		{"zero balance", &fakeSolver{balance: 0}},
		{"forbidden", &fakeSolver{balance: 10, balanceErr: fmt.Errorf("failed to get balance: %w", ErrAccessDenied)}},
		{"decode forbidden", &fakeSolver{balance: 10, decodeErr: ErrAccessDenied}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChallenge{visible: true}
			_, err := newTestResolver(tt.solver, 10).Resolve(context.Background(), ch)

			require.ErrorIs(t, err, ErrAccessDenied)
			assert.Equal(t, 1, ch.images)
		})
	}
}

func TestResolveUnreachableServiceIsFatal(t *testing.T) {
	refused := fmt.Errorf("dial tcp 127.0.0.1:80: %w", syscall.ECONNREFUSED)

	tests := []struct {
		name   string
		solver *fakeSolver
	}{
		{"balance", &fakeSolver{balance: 10, balanceErr: refused}},
		{"decode", &fakeSolver{balance: 10, decodeErr: refused}},
		{"service error", &fakeSolver{balance: 10, decodeErr: fmt.Errorf("%w: status 502", ErrUnavailable)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := &fakeChallenge{visible: true}
			_, err := newTestResolver(tt.solver, 10).Resolve(context.Background(), ch)

			require.ErrorIs(t, err, ErrUnavailable)
			assert.NotErrorIs(t, err, ErrMaxRetries)
			assert.Equal(t, 1, ch.images)
			assert.Empty(t, ch.submitted)
		})
	}
}

func TestResolveSubmitError(t *testing.T) {
	ch := &fakeChallenge{visible: true, submitErr: errors.New("input detached")}
	_, err := newTestResolver(&fakeSolver{balance: 10}, 10).Resolve(context.Background(), ch)

	assert.ErrorContains(t, err, "input detached")
	assert.NotErrorIs(t, err, ErrMaxRetries)
}

func TestNewResolverDefaultRetries(t *testing.T) {
	r := newTestResolver(&fakeSolver{}, 0)
	assert.Equal(t, DefaultMaxRetries, r.maxRetries)
}
