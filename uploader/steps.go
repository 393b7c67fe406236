package uploader

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"
	"listing-automation/browser"
	"listing-automation/console"
	"listing-automation/workflow"
)

// job is the state of one discovery run. Each step reads what the previous
// one left in listings.
type job struct {
	*Uploader
	run      *workflow.Run
	page     console.Session
	listings []*listing
}

func (j *job) log() *logrus.Entry {
	return j.run.Logger
}

func (j *job) login(ctx context.Context, _ *workflow.Run) error {
	return j.console.Login(ctx, j.page, console.AccountOf(j.run.Entity))
}

func (j *job) manager(ctx context.Context, _ *workflow.Run) error {
	return j.console.GoToManager(ctx, j.page)
}

func (j *job) pagination(ctx context.Context, _ *workflow.Run) error {
	return j.console.Paginate(ctx, j.page)
}

func (j *job) scanRows(ctx context.Context, _ *workflow.Run) error {
	rows, err := j.console.Rows(ctx, j.page)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return workflow.Raise(workflow.SignalEmptyList, "there aren't any businesses")
	}

	j.listings = j.listings[:0]
	for _, row := range rows {
		j.listings = append(j.listings, &listing{row: row})
	}
	j.log().WithField("rows", len(rows)).Info("Locations scanned")
	return nil
}

// openVerifications opens every "Verify now" row in its own window. A row
// that verifies inline is left without a window and skipped.
func (j *job) openVerifications(ctx context.Context, _ *workflow.Run) error {
	for _, l := range j.listings {
		if l.row.Action != console.ActionVerifyNow {
			continue
		}

		h, err := j.page.SpawnFrom(ctx, browser.RoleVerification, l.row.ActionCell())
		if err != nil {
			return err
		}
		if h == nil {
			j.log().WithField("listing", l.row.Name).Warn("Verification opened inline, skipping")
			continue
		}
		l.window = h
	}
	return nil
}

// inspectWindows reads the verification phone from each opened window.
func (j *job) inspectWindows(ctx context.Context, _ *workflow.Run) error {
	for _, l := range j.listings {
		if l.window == nil {
			continue
		}
		log := j.log().WithFields(logrus.Fields{
			"listing": l.row.Name,
			"window":  l.window.ID,
		})

		if err := j.page.Windows().Activate(ctx, l.window); err != nil {
			return err
		}
		if err := j.console.ConfirmVerification(ctx, j.page); err != nil {
			if errors.Is(err, console.ErrPhoneVerificationUnavailable) {
				log.Warn("Cannot validate by phone")
				continue
			}
			return err
		}

		phone, err := j.page.Text(ctx, console.VerificationPhone)
		if err != nil {
			return err
		}
		l.phone = console.PhoneClean(phone)
		log.WithField("phone", l.phone).Info("Verification phone found")
	}
	return nil
}

func (j *job) closeVerifications(ctx context.Context, _ *workflow.Run) error {
	return j.page.Windows().CloseAllExcept(ctx, browser.RolePrimary)
}

// saveListings stores every listing with a verification phone and ends the
// run with the number stored.
func (j *job) saveListings(ctx context.Context, run *workflow.Run) workflow.Result {
	saved := 0
	for _, l := range j.listings {
		if l.phone == "" {
			continue
		}

		b, err := l.business(run.Entity)
		if err != nil {
			j.log().WithError(err).WithField("listing", l.row.Name).Warn("Skipping listing with unreadable address")
			continue
		}
		if err := j.store.CreateBusiness(ctx, b); err != nil {
			return workflow.FromError(err)
		}

		j.log().WithFields(logrus.Fields{
			"business_id": b.ID,
			"listing":     b.Name,
		}).Info("Business created")
		saved++
	}

	return workflow.Succeed(map[string]string{"listings": strconv.Itoa(saved)})
}
