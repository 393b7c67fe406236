package captcha

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	// ErrAccessDenied means the solving service refused the account:
	// bad credentials, zero balance or a ban.
	ErrAccessDenied = errors.New("captcha service access denied")

	// ErrMaxRetries means every allowed attempt left the challenge showing.
	ErrMaxRetries = errors.New("captcha retries exhausted")

	// ErrNotSolved means the service gave no usable text for an image.
	ErrNotSolved = errors.New("captcha not solved")

	// ErrUnavailable means the solving service could not be reached or
	// failed on its side.
	ErrUnavailable = errors.New("captcha service unavailable")
)

// DefaultMaxRetries bounds the attempts of a Resolver.
const DefaultMaxRetries = 10

// Task is one decode of one challenge image. A task is consumed once: it is
// either accepted or reported as incorrect, never reused.
type Task struct {
	ID        int64
	ImagePath string
	Text      string
	Rejected  bool
}

// Solver is the solving service.
type Solver interface {
	Balance(ctx context.Context) (float64, error)
	Decode(ctx context.Context, imagePath string) (*Task, error)
	Report(ctx context.Context, id int64) error
}

// Challenge is the page-side half of the loop.
type Challenge interface {
	// Visible reports whether a challenge image is showing.
	Visible(ctx context.Context) (bool, error)

	// Image stores the current challenge image and returns its path.
	Image(ctx context.Context) (string, error)

	// Submit enters a solution.
	Submit(ctx context.Context, text string) error
}

// State of the resolution loop.
type State string

const (
	StateNoChallenge State = "no_challenge"
	StateVisible     State = "challenge_visible"
	StateSubmitted   State = "submitted"
	StateAccepted    State = "accepted"
	StateRejected    State = "rejected"
)

// Resolver drives the bounded retry loop between a Challenge and a Solver.
type Resolver struct {
	solver     Solver
	maxRetries int
	logger     *logrus.Logger
}

// NewResolver creates a new resolver. maxRetries <= 0 uses DefaultMaxRetries.
func NewResolver(solver Solver, maxRetries int, logger *logrus.Logger) *Resolver {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Resolver{
		solver:     solver,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Resolve solves the challenge until it disappears. It returns the accepted
// text, or "" when no challenge was showing. Only an image the service could
// not solve uses up an attempt: access problems are returned wrapping
// ErrAccessDenied and every other solver failure wrapping ErrUnavailable.
func (r *Resolver) Resolve(ctx context.Context, ch Challenge) (string, error) {
	var (
		pending  *Task
		attempts int
		state    = StateNoChallenge
	)

	for {
		visible, err := ch.Visible(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to check challenge: %w", err)
		}

		if !visible {
			if pending == nil {
				r.transition(&state, StateNoChallenge, attempts)
				return "", nil
			}
			r.transition(&state, StateAccepted, attempts)
			return pending.Text, nil
		}

		if pending != nil {
			r.transition(&state, StateRejected, attempts)
			if err := r.reject(ctx, pending); err != nil {
				return "", err
			}
			pending = nil
		}
		r.transition(&state, StateVisible, attempts)

		if attempts >= r.maxRetries {
			return "", fmt.Errorf("%w after %d attempts", ErrMaxRetries, attempts)
		}
		attempts++

		task, err := r.decode(ctx, ch)
		if err != nil {
			if ctx.Err() != nil || !errors.Is(err, ErrNotSolved) {
				return "", err
			}
			r.logger.WithError(err).WithField("attempt", attempts).Warn("Captcha decode failed")
			continue
		}

		if err := ch.Submit(ctx, task.Text); err != nil {
			return "", fmt.Errorf("failed to submit captcha solution: %w", err)
		}
		pending = task
		r.transition(&state, StateSubmitted, attempts)
	}
}

func (r *Resolver) decode(ctx context.Context, ch Challenge) (*Task, error) {
	path, err := ch.Image(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch challenge image: %w", err)
	}

	balance, err := r.solver.Balance(ctx)
	if err != nil {
		return nil, serviceError(err)
	}
	if balance <= 0 {
		return nil, fmt.Errorf("%w: balance %.2f", ErrAccessDenied, balance)
	}

	task, err := r.solver.Decode(ctx, path)
	if err != nil {
		return nil, serviceError(err)
	}
	if task.Text == "" {
		return nil, fmt.Errorf("%w: task %d", ErrNotSolved, task.ID)
	}

	r.logger.WithFields(logrus.Fields{
		"task": task.ID,
		"text": task.Text,
	}).Info("Captcha solved")
	return task, nil
}

func (r *Resolver) reject(ctx context.Context, task *Task) error {
	task.Rejected = true

	err := r.solver.Report(ctx, task.ID)
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if err != nil {
		r.logger.WithError(err).WithField("task", task.ID).Warn("Failed to report incorrect captcha")
	}
	return nil
}

// serviceError keeps the classified solver errors and marks anything else
// as the service being unavailable.
func serviceError(err error) error {
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotSolved) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (r *Resolver) transition(state *State, next State, attempt int) {
	if *state == next {
		return
	}
	r.logger.WithFields(logrus.Fields{
		"from":    *state,
		"to":      next,
		"attempt": attempt,
	}).Debug("Captcha state changed")
	*state = next
}
