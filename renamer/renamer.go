// Package renamer edits a verified-pending listing to its final data and
// verifies it by phone.
package renamer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"listing-automation/browser"
	"listing-automation/console"
	"listing-automation/workflow"
)

// Name is the bot name used on the command line.
const Name = "renamer"

// CodeSource delivers the verification codes sent to a listing's phone.
type CodeSource interface {
	VerificationCode(ctx context.Context, businessID int64, phone string) (string, error)
}

// Config contains the renamer timing
type Config struct {
	CodeRetries      int
	CodePollInterval time.Duration
	CodeSendDwell    time.Duration
	// CodeSettle is the wait between receiving a code and entering it.
	CodeSettle time.Duration
	Settle     time.Duration
}

// Renamer is the renamer bot.
type Renamer struct {
	config  Config
	console *console.Console
	codes   CodeSource
	logger  *logrus.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRenamer creates a new renamer bot
func NewRenamer(config Config, c *console.Console, codes CodeSource, logger *logrus.Logger) *Renamer {
	return &Renamer{
		config:  config,
		console: c,
		codes:   codes,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *Renamer) Name() string {
	return Name
}

// Validate requires the login and the current name of the listing.
func (r *Renamer) Validate(e workflow.Entity) error {
	var missing []string
	for _, field := range []string{"id", "name", "email", "password"} {
		if e.Field(field) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", workflow.ErrMissingField, missing)
	}
	if _, err := strconv.ParseInt(e.Field("id"), 10, 64); err != nil {
		return fmt.Errorf("invalid business id %q: %w", e.Field("id"), err)
	}
	return nil
}

// Steps builds the renaming sequence for one business.
func (r *Renamer) Steps(run *workflow.Run, s console.Session) []workflow.Step {
	j := &job{Renamer: r, run: run, page: s}

	return []workflow.Step{
		{
			Name:    "login",
			Run:     workflow.Do(j.login),
			Expects: []workflow.Signal{workflow.SignalCredentialInvalid, workflow.SignalEntityInvalid, workflow.SignalCaptchaError, workflow.SignalMaxRetries},
		},
		{
			Name:    "open_verification",
			Run:     workflow.Do(j.openVerification),
			Expects: []workflow.Signal{workflow.SignalEmptyList, workflow.SignalNotFound, workflow.SignalEntityIsSuccess, workflow.SignalEntityInvalid},
		},
		{
			Name:    "go_to_edit",
			Run:     workflow.Do(j.goToEdit),
			Expects: []workflow.Signal{workflow.SignalEmptyList, workflow.SignalNotFound},
		},
		{Name: "final_name", Requires: []string{"final_name"}, Run: workflow.Do(j.finalName)},
		{Name: "final_category", Requires: []string{"final_category"}, Run: workflow.Do(j.finalCategory)},
		{Name: "service_area", Requires: []string{"final_city", "final_state"}, Required: true, Run: workflow.Do(j.serviceArea)},
		{Name: "hours", Run: workflow.Do(j.hours)},
		{Name: "special_hours", Run: workflow.Do(j.specialHours)},
		{Name: "website", Requires: []string{"final_website"}, Run: workflow.Do(j.website)},
		{Name: "attributes", Run: workflow.Do(j.attributes)},
		{Name: "description", Requires: []string{"final_description"}, Run: workflow.Do(j.description)},
		{Name: "opening_date", Run: workflow.Do(j.openingDate)},
		{
			Name:    "code_fill",
			Run:     workflow.Do(j.codeFill),
			Expects: []workflow.Signal{workflow.SignalMaxRetries, workflow.SignalInvalidValidationMethod},
		},
		{
			Name:     "address",
			Requires: []string{"final_address", "final_city", "final_state", "final_zip_code"},
			Required: true,
			Run:      workflow.Do(j.address),
		},
		{Name: "phone", Requires: []string{"final_phone_number"}, Required: true, Run: workflow.Do(j.phone)},
		{Name: "close_verification", Run: workflow.Do(j.closeVerification)},
		{Name: "code_send", Run: workflow.Do(j.codeSend)},
		{
			Name:    "final_data",
			Run:     j.finalData,
			Expects: []workflow.Signal{workflow.SignalSuccess, workflow.SignalFailure, workflow.SignalPending},
		},
	}
}

// intn draws from the bot's shared source.
func (r *Renamer) intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}

// openingDate picks a random day between 2011-01-01 and 2018-12-31.
func (r *Renamer) openingDate() time.Time {
	start := time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC)
	days := int(end.Sub(start).Hours()/24) + 1
	return start.AddDate(0, 0, r.intn(days))
}

// ignoreMissing treats an absent optional control as done.
func ignoreMissing(err error) error {
	if errors.Is(err, browser.ErrElementNotFound) {
		return nil
	}
	return err
}
