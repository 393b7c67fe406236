package console

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// loginChallenge is the CAPTCHA shown on the login password step.
type loginChallenge struct {
	page     Page
	password string
	dir      string
	wait     time.Duration
	prefix   string
	images   int
}

func (c *loginChallenge) Visible(ctx context.Context) (bool, error) {
	shown, err := c.page.Exists(ctx, captchaImage.Within(c.wait))
	if err != nil || !shown {
		return false, err
	}
	src, err := c.page.Attribute(ctx, captchaImage, "src")
	if err != nil {
		return false, err
	}
	return src != "", nil
}

func (c *loginChallenge) Image(ctx context.Context) (string, error) {
	if c.prefix == "" {
		c.prefix = uuid.NewString()
	}
	c.images++
	path := filepath.Join(c.dir, fmt.Sprintf("%s-%d.jpg", c.prefix, c.images))
	if err := c.page.SaveImage(ctx, captchaImage, path); err != nil {
		return "", err
	}
	return path, nil
}

// Submit re-enters the password, which the page clears on every challenge,
// then the solution.
func (c *loginChallenge) Submit(ctx context.Context, text string) error {
	if err := c.page.Fill(ctx, passwordInput, c.password); err != nil {
		return err
	}
	if err := c.page.Fill(ctx, captchaInput, text); err != nil {
		return err
	}
	return c.page.PressEnter(ctx)
}
