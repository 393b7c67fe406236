package browser

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// rodDriver implements WindowDriver on a go-rod browser.
type rodDriver struct {
	browser *rod.Browser
}

func (d *rodDriver) WindowIDs(ctx context.Context) ([]string, error) {
	pages, err := d.browser.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(pages))
	for _, p := range pages {
		ids = append(ids, string(p.TargetID))
	}
	return ids, nil
}

func (d *rodDriver) ActivateWindow(ctx context.Context, id string) error {
	page, err := d.page(ctx, id)
	if err != nil {
		return err
	}
	_, err = page.Activate()
	return err
}

func (d *rodDriver) CloseWindow(ctx context.Context, id string) error {
	ids, err := d.WindowIDs(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(ids, id) {
		return nil
	}

	page, err := d.page(ctx, id)
	if err != nil {
		return err
	}
	return page.Close()
}

func (d *rodDriver) page(ctx context.Context, id string) (*rod.Page, error) {
	page, err := d.browser.PageFromTarget(proto.TargetTargetID(id))
	if err != nil {
		return nil, fmt.Errorf("failed to attach to window %s: %w", id, err)
	}
	return page.Context(ctx), nil
}
