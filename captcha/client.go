package captcha

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientConfig contains solving service settings
type ClientConfig struct {
	Endpoint      string
	Username      string
	Password      string
	DecodeTimeout time.Duration
	PollInterval  time.Duration
}

// Client talks to a DeathByCaptcha-compatible HTTP API.
type Client struct {
	config ClientConfig
	http   *http.Client
	logger *logrus.Logger
}

type userStatus struct {
	User     int64   `json:"user"`
	Balance  float64 `json:"balance"`
	IsBanned bool    `json:"is_banned"`
}

type captchaStatus struct {
	Captcha   int64  `json:"captcha"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// NewClient creates a new solving service client
func NewClient(config ClientConfig, logger *logrus.Logger) *Client {
	if config.PollInterval <= 0 {
		config.PollInterval = 2 * time.Second
	}
	if config.DecodeTimeout <= 0 {
		config.DecodeTimeout = 60 * time.Second
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Balance returns the account balance. A banned account is ErrAccessDenied.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	var status userStatus
	if err := c.postForm(ctx, "user", c.credentials(), &status); err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	if status.IsBanned {
		return 0, fmt.Errorf("%w: account banned", ErrAccessDenied)
	}

	c.logger.WithField("balance", status.Balance).Debug("Captcha balance")
	return status.Balance, nil
}

// Decode uploads an image and waits up to DecodeTimeout for its text.
func (c *Client) Decode(ctx context.Context, imagePath string) (*Task, error) {
	status, err := c.upload(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to upload captcha: %w", err)
	}

	task := &Task{ID: status.Captcha, ImagePath: imagePath, Text: status.Text}
	if task.Text != "" {
		return task, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.DecodeTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.config.PollInterval), 1)
	limiter.Reserve() // the upload consumed the first slot

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrNotSolved, task.ID, err)
		}

		var polled captchaStatus
		if err := c.get(ctx, fmt.Sprintf("captcha/%d", task.ID), &polled); err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: task %d: %v", ErrNotSolved, task.ID, ctx.Err())
			}
			return nil, fmt.Errorf("failed to poll captcha %d: %w", task.ID, err)
		}

		if polled.Text != "" {
			if !polled.IsCorrect {
				return nil, fmt.Errorf("%w: task %d flagged incorrect", ErrNotSolved, task.ID)
			}
			task.Text = polled.Text
			return task, nil
		}
	}
}

// Report marks a decoded task as incorrect.
func (c *Client) Report(ctx context.Context, id int64) error {
	var status captchaStatus
	if err := c.postForm(ctx, fmt.Sprintf("captcha/%d/report", id), c.credentials(), &status); err != nil {
		return fmt.Errorf("failed to report captcha %d: %w", id, err)
	}
	c.logger.WithField("task", id).Info("Reported incorrect captcha")
	return nil
}

func (c *Client) credentials() url.Values {
	return url.Values{
		"username": {c.config.Username},
		"password": {c.config.Password},
	}
}

func (c *Client) upload(ctx context.Context, imagePath string) (*captchaStatus, error) {
	image, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for key, values := range c.credentials() {
		if err := w.WriteField(key, values[0]); err != nil {
			return nil, err
		}
	}
	part, err := w.CreateFormFile("captchafile", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("captcha"), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var status captchaStatus
	if err := c.do(req, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.config.Endpoint, "/") + "/" + path
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAccessDenied, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(data)))
	case resp.StatusCode >= 400:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
