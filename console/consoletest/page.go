// Package consoletest provides a scripted console.Page for bot tests.
package consoletest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/sirupsen/logrus/hooks/test"
	"listing-automation/browser"
)

// Element is the state of one located element.
type Element struct {
	Text  string
	Value string
	Attrs map[string]string
	Count int
}

// Page is a fake console.Page keyed by locator name. Elements absent from
// Elements are not found unless Permissive is set, in which case only hidden
// elements are missing. Every action is appended to Log.
type Page struct {
	Permissive bool
	CurrentURL string
	Elements   map[string]*Element
	Tables     map[string][][]string

	// Bodies holds the document text per window id.
	Bodies map[string]string

	// Spawns lists the locators that open a new window when clicked.
	Spawns map[string]bool

	// OnClick and OnEnter mutate the page after an action.
	OnClick map[string]func(p *Page)
	OnEnter func(p *Page)

	Errors    map[string]error
	Log       []string
	Fills     map[string]string
	Dwells    []time.Duration
	Snapshots []string
	Closed    int

	hidden  map[string]bool
	driver  *Driver
	windows *browser.WindowCoordinator
}

// NewPage creates a page with one primary window "w0".
func NewPage() *Page {
	logger, _ := test.NewNullLogger()
	driver := &Driver{IDs: []string{"w0"}}
	windows := browser.NewWindowCoordinator(driver, time.Millisecond, logger)
	windows.RegisterPrimary("w0")

	return &Page{
		Elements: make(map[string]*Element),
		Tables:   make(map[string][][]string),
		Bodies:   make(map[string]string),
		Spawns:   make(map[string]bool),
		OnClick:  make(map[string]func(p *Page)),
		Errors:   make(map[string]error),
		Fills:    make(map[string]string),
		hidden:   make(map[string]bool),
		driver:   driver,
		windows:  windows,
	}
}

// Set makes an element present.
func (p *Page) Set(name string, el *Element) *Page {
	delete(p.hidden, name)
	p.Elements[name] = el
	return p
}

// Show makes an element present with the given text.
func (p *Page) Show(name, text string) *Page {
	return p.Set(name, &Element{Text: text})
}

// Hide removes an element.
func (p *Page) Hide(name string) *Page {
	delete(p.Elements, name)
	p.hidden[name] = true
	return p
}

// SetBody sets the document text of the active window.
func (p *Page) SetBody(text string) *Page {
	p.Bodies[p.activeID()] = text
	return p
}

func (p *Page) activeID() string {
	if h := p.windows.Active(); h != nil {
		return h.ID
	}
	return ""
}

func (p *Page) record(format string, args ...interface{}) {
	p.Log = append(p.Log, fmt.Sprintf(format, args...))
}

func (p *Page) find(l browser.Locator) (*Element, error) {
	if err := p.Errors[l.Name]; err != nil {
		return nil, err
	}
	el, ok := p.Elements[l.Name]
	if !ok {
		if !p.Permissive || p.hidden[l.Name] {
			return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, l.Name)
		}
		el = &Element{}
		p.Elements[l.Name] = el
	}
	return el, nil
}

func (p *Page) Navigate(_ context.Context, url string) error {
	p.record("navigate %s", url)
	p.CurrentURL = url
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	return p.CurrentURL, nil
}

func (p *Page) BodyText(context.Context) (string, error) {
	return p.Bodies[p.activeID()], nil
}

func (p *Page) PressEnter(context.Context) error {
	p.record("enter")
	if p.OnEnter != nil {
		p.OnEnter(p)
	}
	return nil
}

func (p *Page) Dwell(ctx context.Context, d time.Duration) error {
	p.Dwells = append(p.Dwells, d)
	return ctx.Err()
}

func (p *Page) Exists(_ context.Context, l browser.Locator) (bool, error) {
	if err := p.Errors[l.Name]; err != nil {
		return false, err
	}
	_, err := p.find(l)
	return err == nil, nil
}

func (p *Page) Count(_ context.Context, l browser.Locator) (int, error) {
	el, err := p.find(l)
	if err != nil {
		return 0, nil
	}
	if el.Count == 0 {
		return 1, nil
	}
	return el.Count, nil
}

func (p *Page) Click(_ context.Context, l browser.Locator) error {
	if _, err := p.find(l); err != nil {
		return err
	}
	p.record("click %s", l.Name)
	if fn := p.OnClick[l.Name]; fn != nil {
		fn(p)
	}
	return nil
}

func (p *Page) ClickJS(ctx context.Context, l browser.Locator) error {
	return p.Click(ctx, l)
}

func (p *Page) Fill(_ context.Context, l browser.Locator, text string) error {
	el, err := p.find(l)
	if err != nil {
		return err
	}
	el.Value = text
	p.Fills[l.Name] = text
	p.record("fill %s=%s", l.Name, text)
	return nil
}

func (p *Page) Text(_ context.Context, l browser.Locator) (string, error) {
	el, err := p.find(l)
	if err != nil {
		return "", err
	}
	return el.Text, nil
}

func (p *Page) Value(_ context.Context, l browser.Locator) (string, error) {
	el, err := p.find(l)
	if err != nil {
		return "", err
	}
	return el.Value, nil
}

func (p *Page) Attribute(_ context.Context, l browser.Locator, name string) (string, error) {
	el, err := p.find(l)
	if err != nil {
		return "", err
	}
	return el.Attrs[name], nil
}

func (p *Page) Table(_ context.Context, l browser.Locator) ([][]string, error) {
	if err := p.Errors[l.Name]; err != nil {
		return nil, err
	}
	return p.Tables[l.Name], nil
}

func (p *Page) SaveImage(_ context.Context, l browser.Locator, path string) error {
	if _, err := p.find(l); err != nil {
		return err
	}
	p.record("save %s", l.Name)
	return nil
}

func (p *Page) SpawnFrom(ctx context.Context, role browser.Role, l browser.Locator) (*browser.WindowHandle, error) {
	if _, err := p.find(l); err != nil {
		return nil, err
	}
	return p.windows.Spawn(ctx, role, func(context.Context, input.Key) error {
		p.record("spawn %s", l.Name)
		if p.Spawns[l.Name] {
			p.driver.open()
		}
		return nil
	})
}

func (p *Page) Windows() *browser.WindowCoordinator {
	return p.windows
}

func (p *Page) Snapshot(_ context.Context, reason string) {
	p.Snapshots = append(p.Snapshots, reason)
}

func (p *Page) Close() error {
	p.Closed++
	return nil
}

// Driver is an in-memory browser.WindowDriver.
type Driver struct {
	mu     sync.Mutex
	IDs    []string
	Closed []string
	next   int
}

func (d *Driver) open() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	d.IDs = append(d.IDs, fmt.Sprintf("w%d", d.next))
}

func (d *Driver) WindowIDs(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.IDs...), nil
}

func (d *Driver) ActivateWindow(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, known := range d.IDs {
		if known == id {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", browser.ErrWindowNotFound, id)
}

func (d *Driver) CloseWindow(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, known := range d.IDs {
		if known == id {
			d.IDs = append(d.IDs[:i], d.IDs[i+1:]...)
			d.Closed = append(d.Closed, id)
			return nil
		}
	}
	return nil
}
