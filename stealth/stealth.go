package stealth

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// automationScript hides the leftovers go-rod/stealth does not cover
const automationScript = `
	Object.defineProperty(navigator, 'webdriver', {
		get: () => undefined,
	});

	window.chrome = window.chrome || { runtime: {} };

	const originalQuery = window.navigator.permissions.query;
	window.navigator.permissions.query = (parameters) => (
		parameters.name === 'notifications' ?
			Promise.resolve({ state: Notification.permission }) :
			originalQuery(parameters)
	);
`

// StealthManager applies anti-detection scripts and human-like pacing
type StealthManager struct {
	config StealthConfig
	logger *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// StealthConfig contains stealth configuration
type StealthConfig struct {
	Enabled      bool
	MinDelay     time.Duration
	MaxDelay     time.Duration
	TypeMinDelay time.Duration
	TypeMaxDelay time.Duration
}

// NewStealthManager creates a new stealth manager
func NewStealthManager(config StealthConfig, logger *logrus.Logger) *StealthManager {
	return &StealthManager{
		config: config,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewPage opens a page on browser with the stealth scripts installed before
// any document loads.
func (s *StealthManager) NewPage(browser *rod.Browser) (*rod.Page, error) {
	if !s.config.Enabled {
		page, err := browser.Page(proto.TargetCreateTarget{})
		if err != nil {
			return nil, fmt.Errorf("failed to create page: %w", err)
		}
		return page, nil
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fmt.Errorf("failed to create stealth page: %w", err)
	}

	if _, err := page.EvalOnNewDocument(automationScript); err != nil {
		s.logger.WithError(err).Warn("Failed to disable automation indicators")
	}

	s.logger.Debug("Stealth page created")
	return page, nil
}

// Prepare installs the stealth scripts on a page that was not created by
// NewPage, e.g. a window spawned by a modified click. Such a window is
// already loading, so the scripts also run once on its current document.
// Failures are logged and otherwise ignored.
func (s *StealthManager) Prepare(page *rod.Page) {
	s.prepare(page)
}

// scriptTarget is the part of *rod.Page Prepare drives.
type scriptTarget interface {
	proto.Client
	EvalOnNewDocument(js string) (func() error, error)
}

func (s *StealthManager) prepare(page scriptTarget) {
	if !s.config.Enabled {
		return
	}

	var failed []string
	for _, script := range []struct {
		name string
		js   string
	}{
		{"stealth script", stealth.JS},
		{"automation indicators", automationScript},
	} {
		if _, err := page.EvalOnNewDocument(script.js); err != nil {
			failed = append(failed, script.name)
			continue
		}
		if _, err := (proto.RuntimeEvaluate{Expression: script.js}).Call(page); err != nil {
			failed = append(failed, script.name+" (current document)")
		}
	}

	if len(failed) > 0 {
		s.logger.WithField("failed_features", failed).Warn("Failed to apply some stealth features")
	}
}

// RandomDelay returns a delay between MinDelay and MaxDelay
func (s *StealthManager) RandomDelay() time.Duration {
	return s.between(s.config.MinDelay, s.config.MaxDelay)
}

// TypingDelay returns the pause before the next keystroke
func (s *StealthManager) TypingDelay() time.Duration {
	return s.between(s.config.TypeMinDelay, s.config.TypeMaxDelay)
}

func (s *StealthManager) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// Pause sleeps for a random delay. It is a no-op when stealth is disabled.
func (s *StealthManager) Pause(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}
	return sleep(ctx, s.RandomDelay())
}

// HumanLikeType types text into el one character at a time
func (s *StealthManager) HumanLikeType(ctx context.Context, el *rod.Element, text string) error {
	s.logger.WithField("text_length", len(text)).Debug("Starting human-like typing")

	if !s.config.Enabled {
		if err := el.Input(text); err != nil {
			return fmt.Errorf("failed to type text: %w", err)
		}
		return nil
	}

	for _, r := range text {
		if err := el.Input(string(r)); err != nil {
			return fmt.Errorf("failed to type text: %w", err)
		}
		if err := sleep(ctx, s.TypingDelay()); err != nil {
			return err
		}
	}

	return nil
}

// HumanLikeClick hovers el, waits a moment and clicks it
func (s *StealthManager) HumanLikeClick(ctx context.Context, el *rod.Element) error {
	if s.config.Enabled {
		if err := el.Hover(); err != nil {
			s.logger.WithError(err).Debug("Failed to hover element before click")
		}
		if err := s.Pause(ctx); err != nil {
			return err
		}
	}

	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("failed to click element: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
