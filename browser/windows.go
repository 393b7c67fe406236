package browser

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/sirupsen/logrus"
)

// ErrWindowNotFound is returned when no live window carries the requested role.
var ErrWindowNotFound = errors.New("window not found")

// Role tags a window with the part it plays in a run.
type Role string

const (
	RolePrimary      Role = "primary"
	RoleVerification Role = "verification"
)

// WindowHandle identifies one tracked window.
type WindowHandle struct {
	ID   string
	Role Role
}

// Switch is one recorded focus change.
type Switch struct {
	From string
	To   string
	Role Role
	At   time.Time
}

// WindowDriver is the browser surface the coordinator needs.
type WindowDriver interface {
	WindowIDs(ctx context.Context) ([]string, error)
	ActivateWindow(ctx context.Context, id string) error
	CloseWindow(ctx context.Context, id string) error
}

// TriggerFunc performs the gesture that may open a new window. modifier is
// the key to hold while activating the element.
type TriggerFunc func(ctx context.Context, modifier input.Key) error

// WindowCoordinator tracks the windows of one session and their roles.
type WindowCoordinator struct {
	driver   WindowDriver
	logger   *logrus.Logger
	settle   time.Duration
	interval time.Duration
	modifier input.Key

	mu      sync.Mutex
	handles []*WindowHandle
	active  *WindowHandle
	history []Switch
}

// NewWindowCoordinator creates a coordinator. settle bounds how long Spawn
// waits for a new window to appear.
func NewWindowCoordinator(driver WindowDriver, settle time.Duration, logger *logrus.Logger) *WindowCoordinator {
	return &WindowCoordinator{
		driver:   driver,
		logger:   logger,
		settle:   settle,
		interval: 100 * time.Millisecond,
		modifier: PlatformModifier(),
	}
}

// PlatformModifier returns the key that opens a link in a new context.
func PlatformModifier() input.Key {
	if runtime.GOOS == "darwin" {
		return input.MetaLeft
	}
	return input.ControlLeft
}

// RegisterPrimary starts tracking id as the primary window and focuses it.
func (w *WindowCoordinator) RegisterPrimary(id string) *WindowHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	h := &WindowHandle{ID: id, Role: RolePrimary}
	w.handles = append(w.handles, h)
	w.active = h
	return h
}

// Spawn runs trigger and reports the window it opened. A nil handle with a
// nil error means the window count did not change and the flow continues
// inline. Focus after Spawn is unspecified; callers must SwitchTo explicitly.
func (w *WindowCoordinator) Spawn(ctx context.Context, role Role, trigger TriggerFunc) (*WindowHandle, error) {
	before, err := w.driver.WindowIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	if err := trigger(ctx, w.modifier); err != nil {
		return nil, fmt.Errorf("failed to trigger new window: %w", err)
	}

	deadline := time.Now().Add(w.settle)
	for {
		after, err := w.driver.WindowIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list windows: %w", err)
		}

		if len(after) > len(before) {
			h := &WindowHandle{ID: newestID(before, after), Role: role}

			w.mu.Lock()
			w.handles = append(w.handles, h)
			w.mu.Unlock()

			w.logger.WithFields(logrus.Fields{
				"window": h.ID,
				"role":   role,
				"count":  len(after),
			}).Debug("Window spawned")
			return h, nil
		}

		if !time.Now().Before(deadline) {
			break
		}

		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	w.logger.WithField("role", role).Debug("No window spawned, continuing inline")
	return nil, nil
}

func newestID(before, after []string) string {
	seen := make(map[string]bool, len(before))
	for _, id := range before {
		seen[id] = true
	}
	for i := len(after) - 1; i >= 0; i-- {
		if !seen[after[i]] {
			return after[i]
		}
	}
	return after[len(after)-1]
}

// SwitchTo focuses the most recently spawned live window of role.
func (w *WindowCoordinator) SwitchTo(ctx context.Context, role Role) (*WindowHandle, error) {
	w.mu.Lock()
	var target *WindowHandle
	for i := len(w.handles) - 1; i >= 0; i-- {
		if w.handles[i].Role == role {
			target = w.handles[i]
			break
		}
	}
	w.mu.Unlock()

	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrWindowNotFound, role)
	}
	return target, w.Activate(ctx, target)
}

// Activate focuses h and records the switch.
func (w *WindowCoordinator) Activate(ctx context.Context, h *WindowHandle) error {
	if !w.tracked(h) {
		return fmt.Errorf("%w: %s", ErrWindowNotFound, h.ID)
	}

	if err := w.driver.ActivateWindow(ctx, h.ID); err != nil {
		return fmt.Errorf("failed to activate window %s: %w", h.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	from := ""
	if w.active != nil {
		from = w.active.ID
	}
	w.history = append(w.history, Switch{From: from, To: h.ID, Role: h.Role, At: time.Now()})
	w.active = h

	return nil
}

// Close closes one tracked window. Closing an untracked window is a no-op.
func (w *WindowCoordinator) Close(ctx context.Context, h *WindowHandle) error {
	if !w.tracked(h) {
		return nil
	}

	if err := w.driver.CloseWindow(ctx, h.ID); err != nil {
		return fmt.Errorf("failed to close window %s: %w", h.ID, err)
	}

	w.untrack(h)
	return nil
}

// CloseAllExcept closes every window not tagged role and focuses the
// remaining window of that role.
func (w *WindowCoordinator) CloseAllExcept(ctx context.Context, role Role) error {
	var errs []error
	for _, h := range w.Handles("") {
		if h.Role == role {
			continue
		}
		if err := w.Close(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	_, err := w.SwitchTo(ctx, role)
	return err
}

// CloseAll closes every tracked window, secondary ones first.
func (w *WindowCoordinator) CloseAll(ctx context.Context) error {
	handles := w.Handles("")

	var errs []error
	for i := len(handles) - 1; i >= 0; i-- {
		if err := w.Close(ctx, handles[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handles returns the tracked windows of role in spawn order, or all of
// them when role is empty.
func (w *WindowCoordinator) Handles(role Role) []*WindowHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*WindowHandle
	for _, h := range w.handles {
		if role == "" || h.Role == role {
			out = append(out, h)
		}
	}
	return out
}

// Active returns the focused window, nil when none is.
func (w *WindowCoordinator) Active() *WindowHandle {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// History returns the recorded focus changes in order.
func (w *WindowCoordinator) History() []Switch {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Switch(nil), w.history...)
}

func (w *WindowCoordinator) tracked(h *WindowHandle) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range w.handles {
		if t == h {
			return true
		}
	}
	return false
}

func (w *WindowCoordinator) untrack(h *WindowHandle) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, t := range w.handles {
		if t == h {
			w.handles = append(w.handles[:i], w.handles[i+1:]...)
			break
		}
	}
	if w.active == h {
		w.active = nil
	}
}
