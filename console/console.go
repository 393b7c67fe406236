package console

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"listing-automation/browser"
	"listing-automation/captcha"
	"listing-automation/workflow"
)

// ErrPhoneVerificationUnavailable means the verification flow offers no
// phone code for the listing.
var ErrPhoneVerificationUnavailable = errors.New("cannot verify by phone")

// Config contains console endpoints and settle times
type Config struct {
	LoginURL     string
	LocationsURL string
	AccountURL   string
	MaxPageSize  int
	ImageDir     string
	Settle       time.Duration
}

// Console performs the site actions shared by the bots.
type Console struct {
	config   Config
	resolver *captcha.Resolver
	logger   *logrus.Logger

	loginPacer func(ctx context.Context) error
}

// NewConsole creates a new console
func NewConsole(config Config, resolver *captcha.Resolver, logger *logrus.Logger) *Console {
	return &Console{
		config:   config,
		resolver: resolver,
		logger:   logger,
	}
}

// Account is what a login needs.
type Account struct {
	Email         string
	Password      string
	RecoveryEmail string
}

// AccountOf reads the login fields of an entity.
func AccountOf(e workflow.Entity) Account {
	return Account{
		Email:         e.Field("email"),
		Password:      e.Field("password"),
		RecoveryEmail: e.Field("recovery_email"),
	}
}

// SetLoginPacer makes Login wait on pace before opening the login page.
func (c *Console) SetLoginPacer(pace func(ctx context.Context) error) {
	c.loginPacer = pace
}

// Login signs in, solving CAPTCHA challenges on the way. Failures carry a
// signal: a rejected password is SignalCredentialInvalid, a demanded phone
// number SignalEntityInvalid, a refused solver account SignalCaptchaError and
// exhausted solving attempts SignalMaxRetries.
func (c *Console) Login(ctx context.Context, p Page, acct Account) error {
	log := c.logger.WithField("email", acct.Email)
	if c.loginPacer != nil {
		if err := c.loginPacer(ctx); err != nil {
			return fmt.Errorf("failed to wait for login: %w", err)
		}
	}
	log.Info("Logging in")

	if err := p.Navigate(ctx, c.config.LoginURL); err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}
	if err := c.submit(ctx, p, identifierInput, acct.Email); err != nil {
		return fmt.Errorf("failed to enter email: %w", err)
	}
	if err := c.submit(ctx, p, passwordInput, acct.Password); err != nil {
		return fmt.Errorf("failed to enter password: %w", err)
	}

	if ok, err := c.signedIn(ctx, p); err != nil || ok {
		return err
	}

	challenge := &loginChallenge{
		page:     p,
		password: acct.Password,
		dir:      c.config.ImageDir,
		wait:     c.config.Settle,
	}
	if _, err := c.resolver.Resolve(ctx, challenge); err != nil {
		switch {
		case errors.Is(err, captcha.ErrAccessDenied), errors.Is(err, captcha.ErrUnavailable):
			return workflow.Wrap(workflow.SignalCaptchaError, err)
		case errors.Is(err, captcha.ErrMaxRetries):
			return workflow.Wrap(workflow.SignalMaxRetries, err)
		}
		return fmt.Errorf("failed to solve captcha: %w", err)
	}

	if wrong, err := p.Exists(ctx, passwordInput.Within(c.config.Settle)); err != nil {
		return err
	} else if wrong {
		return workflow.Raise(workflow.SignalCredentialInvalid, "wrong password")
	}

	if asked, err := p.Exists(ctx, recoveryOption.Within(c.config.Settle)); err != nil {
		return err
	} else if asked {
		if acct.RecoveryEmail == "" {
			return workflow.Raise(workflow.SignalCredentialInvalid, "recovery email required")
		}
		log.Info("Answering recovery email challenge")
		if err := p.Click(ctx, recoveryOption); err != nil {
			return err
		}
		if err := c.submit(ctx, p, recoveryInput, acct.RecoveryEmail); err != nil {
			return fmt.Errorf("failed to enter recovery email: %w", err)
		}
	}

	if phone, err := p.Exists(ctx, deviceAddress.Within(c.config.Settle)); err != nil {
		return err
	} else if phone {
		return workflow.Raise(workflow.SignalEntityInvalid, "phone number is required")
	}

	ok, err := c.signedIn(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return workflow.Raise(workflow.SignalCredentialInvalid, "login failed")
	}

	log.Info("Logged in")
	return nil
}

func (c *Console) submit(ctx context.Context, p Page, l browser.Locator, text string) error {
	if err := p.Fill(ctx, l, text); err != nil {
		return err
	}
	return p.PressEnter(ctx)
}

func (c *Console) signedIn(ctx context.Context, p Page) (bool, error) {
	if err := p.Dwell(ctx, c.config.Settle); err != nil {
		return false, err
	}
	url, err := p.URL(ctx)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(url, c.config.AccountURL), nil
}

// GoToManager opens the locations manager unless it is already showing.
func (c *Console) GoToManager(ctx context.Context, p Page) error {
	url, err := p.URL(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(url, c.config.LocationsURL) {
		return nil
	}
	if err := p.Navigate(ctx, c.config.LocationsURL); err != nil {
		return fmt.Errorf("failed to open locations: %w", err)
	}
	if err := p.Dwell(ctx, c.config.Settle); err != nil {
		return err
	}

	// the tip overlay covers the table and swallows real clicks
	for _, l := range []browser.Locator{managerTip, listView} {
		shown, err := p.Exists(ctx, l.Within(c.config.Settle))
		if err != nil {
			return err
		}
		if !shown {
			continue
		}
		if err := p.ClickJS(ctx, l); err != nil {
			c.logger.WithError(err).WithField("element", l.Name).Debug("Failed to dismiss overlay")
		}
	}
	return nil
}

// Paginate switches the locations table to its largest page size. A missing
// control leaves the default page size in place.
func (c *Console) Paginate(ctx context.Context, p Page) error {
	if err := p.Click(ctx, pageSizeMenu); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			c.logger.WithError(err).Warn("Pagination control not found, keeping default page size")
			return nil
		}
		return err
	}

	if err := p.Click(ctx, pageSizeLargest.Within(c.config.Settle)); err != nil {
		if errors.Is(err, browser.ErrElementNotFound) {
			c.logger.WithField("max_page_size", c.config.MaxPageSize).Warn("Page size option not found, keeping default page size")
			return nil
		}
		return err
	}
	return p.Dwell(ctx, c.config.Settle)
}

// Rows reads the locations table. An empty table is not an error.
func (c *Console) Rows(ctx context.Context, p Page) ([]Row, error) {
	if err := c.GoToManager(ctx, p); err != nil {
		return nil, err
	}

	table, err := p.Table(ctx, Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to read locations: %w", err)
	}

	rows := make([]Row, 0, len(table))
	for i, cells := range table {
		row, ok := ParseRow(i+1, cells)
		if !ok {
			c.logger.WithField("cells", cells).Debug("Skipping unrecognized locations row")
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ConfirmVerification prepares the verification window for a phone code,
// answering the ownership question when it is asked.
func (c *Console) ConfirmVerification(ctx context.Context, p Page) error {
	text, err := p.BodyText(ctx)
	if err != nil {
		return err
	}

	if strings.Contains(text, TextIsYourBusiness) {
		n, err := p.Count(ctx, ownershipOptions)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: no ownership options", browser.ErrElementNotFound)
		}
		if err := p.Click(ctx, ownershipOptions.At(n, "div[1]")); err != nil {
			return err
		}
		if err := p.Click(ctx, ownershipConfirm); err != nil {
			return err
		}
		if err := p.Dwell(ctx, c.config.Settle); err != nil {
			return err
		}
		if text, err = p.BodyText(ctx); err != nil {
			return err
		}
	}

	if !strings.Contains(text, TextEnterCode) && !strings.Contains(text, TextAutomatedCall) {
		return ErrPhoneVerificationUnavailable
	}
	return nil
}
