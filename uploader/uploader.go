// Package uploader discovers the listings of a credential that are waiting
// for phone verification and stores them as businesses.
package uploader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"listing-automation/browser"
	"listing-automation/console"
	"listing-automation/records"
	"listing-automation/workflow"
)

// Name is the bot name used on the command line.
const Name = "uploader"

// Store receives the discovered businesses.
type Store interface {
	CreateBusiness(ctx context.Context, b *records.Business) error
}

// Config contains the uploader timing
type Config struct {
	Settle time.Duration
}

// Uploader is the uploader bot.
type Uploader struct {
	config  Config
	console *console.Console
	store   Store
	logger  *logrus.Logger
}

// NewUploader creates a new uploader bot
func NewUploader(config Config, c *console.Console, store Store, logger *logrus.Logger) *Uploader {
	return &Uploader{
		config:  config,
		console: c,
		store:   store,
		logger:  logger,
	}
}

func (u *Uploader) Name() string {
	return Name
}

func (u *Uploader) Validate(e workflow.Entity) error {
	var missing []string
	for _, field := range []string{"email", "password"} {
		if e.Field(field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", workflow.ErrMissingField, missing)
	}
	return nil
}

// Steps builds the discovery sequence for one credential.
func (u *Uploader) Steps(run *workflow.Run, s console.Session) []workflow.Step {
	j := &job{Uploader: u, run: run, page: s}

	return []workflow.Step{
		{
			Name:    "login",
			Run:     workflow.Do(j.login),
			Expects: []workflow.Signal{workflow.SignalCredentialInvalid, workflow.SignalEntityInvalid, workflow.SignalCaptchaError, workflow.SignalMaxRetries},
		},
		{Name: "manager", Run: workflow.Do(j.manager)},
		{Name: "pagination", Run: workflow.Do(j.pagination)},
		{
			Name:    "scan_rows",
			Run:     workflow.Do(j.scanRows),
			Expects: []workflow.Signal{workflow.SignalEmptyList},
		},
		{Name: "open_verifications", Run: workflow.Do(j.openVerifications)},
		{Name: "inspect_windows", Run: workflow.Do(j.inspectWindows)},
		{Name: "close_verifications", Run: workflow.Do(j.closeVerifications)},
		{
			Name:    "save_listings",
			Run:     j.saveListings,
			Expects: []workflow.Signal{workflow.SignalSuccess},
		},
	}
}

// listing is one locations row followed through the run.
type listing struct {
	row    console.Row
	window *browser.WindowHandle
	phone  string
}

// business converts a verified listing into a record owned by the
// credential that manages it.
func (l listing) business(e workflow.Entity) (*records.Business, error) {
	addr, err := console.SplitAddress(l.row.Address)
	if err != nil {
		return nil, err
	}
	return &records.Business{
		ListingID:        l.row.ListingID,
		Name:             l.row.Name,
		Email:            e.Field("email"),
		Password:         e.Field("password"),
		RecoveryEmail:    e.Field("recovery_email"),
		Phone:            l.phone,
		FinalAddress:     addr.Street,
		FinalCity:        addr.City,
		FinalState:       addr.State,
		FinalZipCode:     addr.ZipCode,
		FinalCountry:     addr.Country,
		FinalPhoneNumber: l.phone,
		Status:           records.StatusNew,
	}, nil
}
