package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"listing-automation/stealth"
)

// Viewport is the fixed window size every session is opened with.
type Viewport struct {
	Width  int
	Height int
}

// SessionConfig contains browser session settings
type SessionConfig struct {
	Headless        bool
	SlowMo          time.Duration
	UserAgent       string
	ExecutablePath  string
	DataDir         string
	DebugDir        string
	ElementTimeout  time.Duration
	PageLoadTimeout time.Duration
	SpawnSettle     time.Duration
}

// SessionManager opens browser sessions
type SessionManager struct {
	config  SessionConfig
	stealth *stealth.StealthManager
	logger  *logrus.Logger
}

// NewSessionManager creates a new session manager
func NewSessionManager(config SessionConfig, stealth *stealth.StealthManager, logger *logrus.Logger) *SessionManager {
	return &SessionManager{
		config:  config,
		stealth: stealth,
		logger:  logger,
	}
}

// Session is one browser process with its tracked windows. It is owned by a
// single run and never reused.
type Session struct {
	id       string
	config   SessionConfig
	browser  *rod.Browser
	launcher *launcher.Launcher
	windows  *WindowCoordinator
	stealth  *stealth.StealthManager
	logger   *logrus.Logger

	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	snapshots int
}

// Open launches a browser for the run identified by id, with one primary
// window sized to viewport.
func (m *SessionManager) Open(ctx context.Context, id string, viewport Viewport) (*Session, error) {
	m.logger.WithFields(logrus.Fields{
		"session":  id,
		"headless": m.config.Headless,
		"viewport": fmt.Sprintf("%dx%d", viewport.Width, viewport.Height),
	}).Info("Opening browser session")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	userDataDir := filepath.Join(m.config.DataDir, id)
	if err := os.MkdirAll(userDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	l := launcher.New().
		Headless(m.config.Headless).
		Leakless(false).
		UserDataDir(userDataDir).
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-popup-blocking").
		Set("disable-dev-shm-usage").
		Set("window-size", fmt.Sprintf("%d,%d", viewport.Width, viewport.Height))
	if m.config.UserAgent != "" {
		l = l.Set("user-agent", m.config.UserAgent)
	}
	if m.config.ExecutablePath != "" {
		l = l.Bin(m.config.ExecutablePath)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if m.config.SlowMo > 0 {
		browser = browser.SlowMotion(m.config.SlowMo)
	}
	if err := browser.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	s := &Session{
		id:       id,
		config:   m.config,
		browser:  browser,
		launcher: l,
		windows:  NewWindowCoordinator(&rodDriver{browser: browser}, m.config.SpawnSettle, m.logger),
		stealth:  m.stealth,
		logger:   m.logger,
	}

	page, err := m.stealth.NewPage(browser)
	if err != nil {
		s.Close()
		return nil, err
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewport.Width,
		Height:            viewport.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	// stealth.Page leaves the initial about:blank tab behind
	if pages, err := browser.Pages(); err == nil {
		for _, p := range pages {
			if p.TargetID != page.TargetID {
				p.Close()
			}
		}
	}

	s.windows.RegisterPrimary(string(page.TargetID))

	m.logger.WithField("session", id).Info("Browser session opened")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Windows returns the session's window coordinator.
func (s *Session) Windows() *WindowCoordinator {
	return s.windows
}

// Page returns the focused window bound to ctx.
func (s *Session) Page(ctx context.Context) (*rod.Page, error) {
	active := s.windows.Active()
	if active == nil {
		return nil, fmt.Errorf("%w: no active window", ErrWindowNotFound)
	}

	page, err := s.browser.PageFromTarget(proto.TargetTargetID(active.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to window %s: %w", active.ID, err)
	}
	return page.Context(ctx), nil
}

// Navigate loads url in the focused window and waits for it to load.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page, err := s.Page(ctx)
	if err != nil {
		return err
	}

	s.logger.WithField("url", url).Debug("Navigating")

	page = page.Timeout(s.config.PageLoadTimeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

// URL returns the address of the focused window.
func (s *Session) URL(ctx context.Context) (string, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

// Spawn activates el with the platform modifier held and returns the window
// it opened, or nil when the flow stayed inline.
func (s *Session) Spawn(ctx context.Context, role Role, el *rod.Element) (*WindowHandle, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return nil, err
	}

	h, err := s.windows.Spawn(ctx, role, func(ctx context.Context, modifier input.Key) error {
		kb := page.Keyboard
		if err := kb.Press(modifier); err != nil {
			return err
		}
		clickErr := el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
		if err := kb.Release(modifier); err != nil && clickErr == nil {
			return err
		}
		return clickErr
	})
	if err != nil || h == nil {
		return h, err
	}

	if spawned, err := s.browser.PageFromTarget(proto.TargetTargetID(h.ID)); err == nil {
		s.stealth.Prepare(spawned)
	}
	return h, nil
}

// SpawnFrom is Spawn on the element matched by l.
func (s *Session) SpawnFrom(ctx context.Context, role Role, l Locator) (*WindowHandle, error) {
	el, err := s.Find(ctx, l)
	if err != nil {
		return nil, err
	}
	return s.Spawn(ctx, role, el)
}

// Dwell waits d unless ctx ends first.
func (s *Session) Dwell(ctx context.Context, d time.Duration) error {
	s.logger.WithField("duration", d).Info("Waiting")

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Snapshot writes a screenshot and the HTML of the focused window to the
// debug directory. It never fails; problems are logged.
func (s *Session) Snapshot(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Debug("Snapshot panicked")
		}
	}()

	s.mu.Lock()
	s.snapshots++
	n := s.snapshots
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"session": s.id,
		"reason":  reason,
	})

	if err := os.MkdirAll(s.config.DebugDir, 0755); err != nil {
		log.WithError(err).Debug("Failed to create debug directory")
		return
	}

	page, err := s.Page(ctx)
	if err != nil {
		log.WithError(err).Debug("No page to snapshot")
		return
	}

	base := filepath.Join(s.config.DebugDir, fmt.Sprintf("%s-%d-%s", s.id, n, unsafeName.ReplaceAllString(reason, "_")))

	if png, err := page.Screenshot(true, nil); err != nil {
		log.WithError(err).Debug("Failed to capture screenshot")
	} else if err := os.WriteFile(base+".png", png, 0644); err != nil {
		log.WithError(err).Debug("Failed to write screenshot")
	}

	if html, err := page.HTML(); err != nil {
		log.WithError(err).Debug("Failed to capture page source")
	} else if err := os.WriteFile(base+".html", []byte(html), 0644); err != nil {
		log.WithError(err).Debug("Failed to write page source")
	}

	fields := logrus.Fields{"path": base}
	if info, err := page.Info(); err == nil {
		fields["url"] = info.URL
		fields["title"] = info.Title
	}
	log.WithFields(fields).Warn("Snapshot taken")
}

// Close closes every window, the browser and its process. Calling it more
// than once returns the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs []error
		if err := s.windows.CloseAll(ctx); err != nil {
			errs = append(errs, err)
		}
		// The browser may already be gone once its last window closed.
		if err := s.browser.Close(); err != nil {
			s.logger.WithError(err).Debug("Browser close returned an error")
		}
		s.launcher.Kill()
		s.launcher.Cleanup()

		s.closeErr = errors.Join(errs...)
		s.logger.WithField("session", s.id).Info("Browser session closed")
	})
	return s.closeErr
}
