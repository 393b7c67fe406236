package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
)

// ErrElementNotFound is returned when no candidate of a locator matched in time.
var ErrElementNotFound = errors.New("element not found")

const findInterval = 250 * time.Millisecond

// Locator is an ordered list of XPath candidates for one logical element.
// The first candidate that matches wins, which tolerates UI version drift.
type Locator struct {
	Name    string
	XPaths  []string
	Timeout time.Duration
}

// XPath builds a locator from candidates.
func XPath(name string, candidates ...string) Locator {
	return Locator{Name: name, XPaths: candidates}
}

// Within returns a copy of l with its own wait bound.
func (l Locator) Within(d time.Duration) Locator {
	l.Timeout = d
	return l
}

// At narrows l to its i-th match (1-based) and, when rel is set, to the
// path rel below it.
func (l Locator) At(i int, rel string) Locator {
	out := Locator{Name: fmt.Sprintf("%s[%d]", l.Name, i), Timeout: l.Timeout}
	if rel != "" {
		out.Name += "/" + rel
	}
	for _, xp := range l.XPaths {
		c := fmt.Sprintf("(%s)[%d]", xp, i)
		if rel != "" {
			c += "/" + rel
		}
		out.XPaths = append(out.XPaths, c)
	}
	return out
}

// WithText narrows every candidate of l to elements whose normalized text
// equals s.
func (l Locator) WithText(s string) Locator {
	out := Locator{Name: fmt.Sprintf("%s %q", l.Name, s), Timeout: l.Timeout}
	for _, xp := range l.XPaths {
		out.XPaths = append(out.XPaths, fmt.Sprintf("%s[normalize-space(.)=%s]", xp, xpathLiteral(s)))
	}
	return out
}

// Containing is a locator matching any element whose text contains s.
func Containing(s string) Locator {
	return XPath(s, fmt.Sprintf(`//*[contains(text(), %s)]`, xpathLiteral(s)))
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

func (s *Session) timeout(l Locator) time.Duration {
	if l.Timeout > 0 {
		return l.Timeout
	}
	return s.config.ElementTimeout
}

// waitFor polls probe until it yields elements or the locator's bound passes.
func (s *Session) waitFor(ctx context.Context, l Locator, probe func(xpath string) (rod.Elements, error)) (rod.Elements, error) {
	deadline := time.Now().Add(s.timeout(l))

	for {
		for _, xp := range l.XPaths {
			els, err := probe(xp)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, fmt.Errorf("failed to query %s: %w", l.Name, err)
			}
			if len(els) > 0 {
				return els, nil
			}
		}

		if !time.Now().Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(findInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Find returns the first element matched by l in the focused window.
func (s *Session) Find(ctx context.Context, l Locator) (*rod.Element, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return nil, err
	}

	els, err := s.waitFor(ctx, l, func(xp string) (rod.Elements, error) {
		return page.ElementsX(xp)
	})
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, l.Name)
	}
	return els[0], nil
}

// FindIn returns the first element matched by l below parent. Candidates
// should be relative paths such as ".//span".
func (s *Session) FindIn(ctx context.Context, parent *rod.Element, l Locator) (*rod.Element, error) {
	parent = parent.Context(ctx)

	els, err := s.waitFor(ctx, l, func(xp string) (rod.Elements, error) {
		return parent.ElementsX(xp)
	})
	if err != nil {
		return nil, err
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, l.Name)
	}
	return els[0], nil
}

// FindAll returns every element matched by the first matching candidate.
// An empty result after the wait bound is not an error.
func (s *Session) FindAll(ctx context.Context, l Locator) (rod.Elements, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return nil, err
	}

	return s.waitFor(ctx, l, func(xp string) (rod.Elements, error) {
		return page.ElementsX(xp)
	})
}

// Count returns how many elements l matches, waiting at most its bound
// for the first one.
func (s *Session) Count(ctx context.Context, l Locator) (int, error) {
	els, err := s.FindAll(ctx, l)
	return len(els), err
}

// Table returns the trimmed cell texts of every row matched by l.
func (s *Session) Table(ctx context.Context, l Locator) ([][]string, error) {
	rows, err := s.FindAll(ctx, l)
	if err != nil {
		return nil, err
	}

	table := make([][]string, 0, len(rows))
	for i, row := range rows {
		cells, err := row.Context(ctx).ElementsX("./td")
		if err != nil {
			return nil, fmt.Errorf("failed to read cells of %s row %d: %w", l.Name, i+1, err)
		}
		texts := make([]string, len(cells))
		for j, cell := range cells {
			text, err := cell.Text()
			if err != nil {
				return nil, fmt.Errorf("failed to read %s row %d cell %d: %w", l.Name, i+1, j+1, err)
			}
			texts[j] = strings.TrimSpace(text)
		}
		table = append(table, texts)
	}
	return table, nil
}

// SaveImage stores the resource of the image matched by l at path.
func (s *Session) SaveImage(ctx context.Context, l Locator, path string) error {
	el, err := s.Find(ctx, l)
	if err != nil {
		return err
	}
	data, err := el.Context(ctx).Resource()
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", l.Name, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Exists reports whether l matches within its wait bound.
func (s *Session) Exists(ctx context.Context, l Locator) (bool, error) {
	_, err := s.Find(ctx, l)
	if errors.Is(err, ErrElementNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Click clicks the element matched by l the way a user would.
func (s *Session) Click(ctx context.Context, l Locator) error {
	el, err := s.Find(ctx, l)
	if err != nil {
		return err
	}
	if err := s.stealth.HumanLikeClick(ctx, el.Context(ctx)); err != nil {
		return fmt.Errorf("failed to click %s: %w", l.Name, err)
	}
	return nil
}

// ClickJS clicks through the DOM, for elements covered by overlays.
func (s *Session) ClickJS(ctx context.Context, l Locator) error {
	el, err := s.Find(ctx, l)
	if err != nil {
		return err
	}
	if _, err := el.Context(ctx).Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("failed to click %s: %w", l.Name, err)
	}
	return nil
}

// Fill clears the element matched by l and types text into it.
func (s *Session) Fill(ctx context.Context, l Locator, text string) error {
	el, err := s.Find(ctx, l)
	if err != nil {
		return err
	}
	el = el.Context(ctx)

	if err := clearInput(el); err != nil {
		return fmt.Errorf("failed to clear %s: %w", l.Name, err)
	}
	if err := s.stealth.HumanLikeType(ctx, el, text); err != nil {
		return fmt.Errorf("failed to fill %s: %w", l.Name, err)
	}
	return nil
}

func clearInput(el *rod.Element) error {
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input("")
}

// Text returns the visible text of the element matched by l.
func (s *Session) Text(ctx context.Context, l Locator) (string, error) {
	el, err := s.Find(ctx, l)
	if err != nil {
		return "", err
	}
	text, err := el.Context(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", l.Name, err)
	}
	return strings.TrimSpace(text), nil
}

// Value returns the current value of the input matched by l.
func (s *Session) Value(ctx context.Context, l Locator) (string, error) {
	el, err := s.Find(ctx, l)
	if err != nil {
		return "", err
	}
	res, err := el.Context(ctx).Eval(`() => this.value`)
	if err != nil {
		return "", fmt.Errorf("failed to read value of %s: %w", l.Name, err)
	}
	return res.Value.Str(), nil
}

// Attribute returns the named attribute of the element matched by l, or ""
// when it is absent.
func (s *Session) Attribute(ctx context.Context, l Locator, name string) (string, error) {
	el, err := s.Find(ctx, l)
	if err != nil {
		return "", err
	}
	v, err := el.Context(ctx).Attribute(name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s of %s: %w", name, l.Name, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

// BodyText returns the visible text of the whole focused document.
func (s *Session) BodyText(ctx context.Context) (string, error) {
	page, err := s.Page(ctx)
	if err != nil {
		return "", err
	}
	res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("failed to read page text: %w", err)
	}
	return res.Value.Str(), nil
}

// PressEnter types the Enter key into the focused window.
func (s *Session) PressEnter(ctx context.Context) error {
	page, err := s.Page(ctx)
	if err != nil {
		return err
	}
	return page.Keyboard.Type(input.Enter)
}
