package console

import (
	"context"
	"time"

	"listing-automation/browser"
	"listing-automation/workflow"
)

// Page is the part of a browser session the console actions drive. Every
// element is addressed through a browser.Locator.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	BodyText(ctx context.Context) (string, error)
	PressEnter(ctx context.Context) error
	Dwell(ctx context.Context, d time.Duration) error

	Exists(ctx context.Context, l browser.Locator) (bool, error)
	Count(ctx context.Context, l browser.Locator) (int, error)
	Click(ctx context.Context, l browser.Locator) error
	ClickJS(ctx context.Context, l browser.Locator) error
	Fill(ctx context.Context, l browser.Locator, text string) error
	Text(ctx context.Context, l browser.Locator) (string, error)
	Value(ctx context.Context, l browser.Locator) (string, error)
	Attribute(ctx context.Context, l browser.Locator, name string) (string, error)
	Table(ctx context.Context, l browser.Locator) ([][]string, error)
	SaveImage(ctx context.Context, l browser.Locator, path string) error

	SpawnFrom(ctx context.Context, role browser.Role, l browser.Locator) (*browser.WindowHandle, error)
	Windows() *browser.WindowCoordinator
}

// Session is a Page the pipeline can snapshot and close.
type Session interface {
	Page
	workflow.Session
}

var _ Session = (*browser.Session)(nil)
