package renamer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"listing-automation/browser"
	"listing-automation/console"
	"listing-automation/workflow"
)

// job is the state of one renaming run.
type job struct {
	*Renamer
	run  *workflow.Run
	page console.Session
}

func (j *job) field(name string) string {
	return j.run.Entity.Field(name)
}

func (j *job) log() *logrus.Entry {
	return j.run.Logger
}

func (j *job) login(ctx context.Context, _ *workflow.Run) error {
	return j.console.Login(ctx, j.page, console.AccountOf(j.run.Entity))
}

// row finds the business in the locations table by its current or final name.
func (j *job) row(ctx context.Context) (console.Row, error) {
	rows, err := j.console.Rows(ctx, j.page)
	if err != nil {
		return console.Row{}, err
	}
	if len(rows) == 0 {
		return console.Row{}, workflow.Raise(workflow.SignalEmptyList, "there aren't any businesses")
	}

	row, ok := console.FindRow(rows, j.field("name"), j.field("final_name"))
	if !ok {
		return console.Row{}, workflow.Raise(workflow.SignalNotFound, "business not found")
	}
	return row, nil
}

func (j *job) openVerification(ctx context.Context, _ *workflow.Run) error {
	row, err := j.row(ctx)
	if err != nil {
		return err
	}

	j.log().WithField("status", row.Status).Info("Business found")
	switch row.Status {
	case console.StatusPublished:
		return workflow.Raise(workflow.SignalEntityIsSuccess, "business is already published")
	case console.StatusSuspended:
		return workflow.Raise(workflow.SignalEntityInvalid, "business is suspended")
	}

	h, err := j.page.SpawnFrom(ctx, browser.RoleVerification, row.ActionCell())
	if err != nil {
		return err
	}
	if h == nil {
		return fmt.Errorf("verification did not open a window")
	}

	if _, err := j.page.Windows().SwitchTo(ctx, browser.RoleVerification); err != nil {
		return err
	}
	if err := j.console.ConfirmVerification(ctx, j.page); err != nil {
		if errors.Is(err, console.ErrPhoneVerificationUnavailable) {
			return workflow.Wrap(workflow.SignalEntityInvalid, err)
		}
		return err
	}

	_, err = j.page.Windows().SwitchTo(ctx, browser.RolePrimary)
	return err
}

func (j *job) goToEdit(ctx context.Context, _ *workflow.Run) error {
	row, err := j.row(ctx)
	if err != nil {
		return err
	}
	if err := j.page.Click(ctx, row.NameLink()); err != nil {
		return err
	}
	if err := j.page.Dwell(ctx, j.config.Settle); err != nil {
		return err
	}

	url, err := j.page.URL(ctx)
	if err != nil {
		return err
	}
	return j.page.Navigate(ctx, strings.Replace(url, "/dashboard/", "/edit/", 1))
}

// edit opens a section of the edit page, fills input with text and applies.
func (j *job) edit(ctx context.Context, section, input browser.Locator, text string, apply browser.Locator) error {
	if err := j.page.Click(ctx, section); err != nil {
		return err
	}
	if err := j.page.Fill(ctx, input, text); err != nil {
		return err
	}
	return j.page.Click(ctx, apply)
}

func (j *job) finalName(ctx context.Context, _ *workflow.Run) error {
	return j.edit(ctx, nameSection, nameInput, j.field("final_name"), nameApply)
}

func (j *job) finalCategory(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, categorySection); err != nil {
		return err
	}
	if err := j.page.Fill(ctx, categoryInput, j.field("final_category")); err != nil {
		return err
	}
	if err := j.page.Click(ctx, categorySuggestion); err != nil {
		return err
	}
	return j.page.Click(ctx, applyButton)
}

func (j *job) serviceArea(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, serviceAreaSection); err != nil {
		return err
	}
	area := fmt.Sprintf("%s, %s", j.field("final_city"), j.field("final_state"))
	if err := j.page.Fill(ctx, serviceAreaInput, area); err != nil {
		return err
	}
	if err := j.page.Click(ctx, serviceAreaSuggestion); err != nil {
		return err
	}
	return j.page.Click(ctx, applyButton)
}

// hours opens every day and picks the first suggested opening time.
func (j *job) hours(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, hoursSection); err != nil {
		return err
	}
	days, err := j.page.Count(ctx, hoursDays)
	if err != nil {
		return err
	}

	for i := 1; i <= days; i++ {
		checkbox := hoursDays.At(i, "label/div")
		checked, err := j.page.Attribute(ctx, checkbox, "aria-checked")
		if err != nil {
			return err
		}
		if checked != "true" {
			if err := j.page.Click(ctx, checkbox); err != nil {
				return err
			}
		}
		if err := j.page.Click(ctx, hoursDays.At(i, "div[2]/div[1]/div/div[1]/div[1]/input[2]")); err != nil {
			return err
		}
		if err := j.page.Click(ctx, hoursDays.At(i, "div[2]/div[1]/div/div[1]/div[2]/div/div/div[1]")); err != nil {
			return err
		}
	}
	return j.page.Click(ctx, shortApply)
}

func (j *job) specialHours(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, specialHoursSection); err != nil {
		return err
	}
	for _, option := range specialHoursOptions {
		if err := ignoreMissing(j.page.Click(ctx, option.Within(j.config.Settle))); err != nil {
			return err
		}
	}
	return j.page.Click(ctx, applyButton)
}

func (j *job) website(ctx context.Context, _ *workflow.Run) error {
	return j.edit(ctx, websiteSection, websiteInput, j.field("final_website"), applyButton)
}

// attributes ticks one randomly chosen attribute.
func (j *job) attributes(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, attributesSection); err != nil {
		return err
	}

	var candidates []browser.Locator
	for _, l := range attributeCandidates {
		ok, err := j.page.Exists(ctx, l.Within(j.config.Settle))
		if err != nil {
			return err
		}
		if ok {
			candidates = append(candidates, l)
		}
	}

	var target browser.Locator
	if len(candidates) > 0 {
		target = candidates[j.intn(len(candidates))]
	} else {
		n, err := j.page.Count(ctx, attributeList)
		if err != nil {
			return err
		}
		if n < 3 {
			return fmt.Errorf("%w: only %d attributes listed", browser.ErrElementNotFound, n)
		}
		target = attributeList.At(2+j.intn(2), "div")
	}

	checked, err := j.page.Attribute(ctx, target, "aria-checked")
	if err != nil {
		return err
	}
	if checked != "true" {
		if err := j.page.Click(ctx, target); err != nil {
			return err
		}
	}
	return j.page.Click(ctx, applyButton)
}

func (j *job) description(ctx context.Context, _ *workflow.Run) error {
	return j.edit(ctx, descriptionSection, descriptionInput, j.field("final_description"), applyButton)
}

func (j *job) openingDate(ctx context.Context, _ *workflow.Run) error {
	date := j.Renamer.openingDate()
	j.log().WithField("date", date.Format("2006-01-02")).Debug("Opening date chosen")

	if err := j.page.Click(ctx, openingDateSection); err != nil {
		return err
	}
	if err := j.page.Fill(ctx, yearInput, strconv.Itoa(date.Year())); err != nil {
		return err
	}

	// the menus list two placeholder entries before the first month and day
	if err := j.page.Click(ctx, monthMenu); err != nil {
		return err
	}
	if err := j.page.Click(ctx, monthMenu.At(1, fmt.Sprintf("div[2]/div[%d]", int(date.Month())+2))); err != nil {
		return err
	}
	if err := j.page.Click(ctx, dayMenu); err != nil {
		return err
	}
	if err := j.page.Click(ctx, dayMenu.At(1, fmt.Sprintf("div[2]/div[%d]", date.Day()+2))); err != nil {
		return err
	}
	return j.page.Click(ctx, applyButton)
}

// codeFill requests the phone code in the verification window and enters
// it once the record service has received it.
func (j *job) codeFill(ctx context.Context, _ *workflow.Run) error {
	if _, err := j.page.Windows().SwitchTo(ctx, browser.RoleVerification); err != nil {
		return err
	}
	if err := j.page.Click(ctx, sendCodeButton); err != nil {
		return err
	}

	phone, err := j.page.Text(ctx, console.VerificationPhone)
	if err != nil {
		return err
	}
	phone = console.PhoneClean(phone)

	id, err := strconv.ParseInt(j.field("id"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid business id: %w", err)
	}

	var code string
	err = workflow.Poll(ctx, j.config.CodeRetries, j.config.CodePollInterval, func(ctx context.Context, attempt int) (bool, error) {
		c, err := j.codes.VerificationCode(ctx, id, phone)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			j.log().WithError(err).WithField("attempt", attempt).Warn("Failed to fetch verification code")
			return false, nil
		}
		code = c
		return code != "", nil
	})
	if err != nil {
		return err
	}
	j.log().WithField("phone", phone).Info("Verification code received")

	if err := j.page.Dwell(ctx, j.config.CodeSettle); err != nil {
		return err
	}
	text, err := j.page.BodyText(ctx)
	if err != nil {
		return err
	}
	if strings.Contains(text, console.TextCouldntConnect) {
		return workflow.Raise(workflow.SignalInvalidValidationMethod, "phone could not be reached")
	}

	return j.page.Fill(ctx, codeInput, code)
}

func (j *job) address(ctx context.Context, _ *workflow.Run) error {
	if _, err := j.page.Windows().SwitchTo(ctx, browser.RolePrimary); err != nil {
		return err
	}
	if err := j.page.Click(ctx, addressSection); err != nil {
		return err
	}
	if err := j.page.Click(ctx, addressEdit); err != nil {
		return err
	}

	state := console.StateName(j.field("final_state"))
	full := fmt.Sprintf("%s %s %s %s", j.field("final_address"), j.field("final_city"), state, j.field("final_zip_code"))
	if err := j.page.Fill(ctx, addressInput, full); err != nil {
		return err
	}
	if err := j.page.Fill(ctx, zipInput, j.field("final_zip_code")); err != nil {
		return err
	}
	if err := j.page.Fill(ctx, cityInput, j.field("final_city")); err != nil {
		return err
	}
	if err := j.page.Click(ctx, stateMenu); err != nil {
		return err
	}
	if err := ignoreMissing(j.page.Click(ctx, stateOptions.WithText(state))); err != nil {
		return err
	}

	// the full address only seeds the autocompletion; the street goes last
	if err := j.page.Fill(ctx, addressInput, j.field("final_address")); err != nil {
		return err
	}
	return j.page.Click(ctx, applyButton)
}

// phone sets the final number and keeps the current one as secondary.
func (j *job) phone(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, phoneSection); err != nil {
		return err
	}

	current, err := j.page.Value(ctx, phoneInput)
	if err != nil {
		return err
	}
	if err := j.page.Fill(ctx, phoneInput, j.field("final_phone_number")); err != nil {
		return err
	}

	if current != "" {
		if err := j.page.Click(ctx, addPhone); err != nil {
			return err
		}
		if err := j.page.Fill(ctx, secondaryPhoneInput, current); err != nil {
			return err
		}
	}
	return j.page.Click(ctx, shortApply)
}

func (j *job) closeVerification(ctx context.Context, _ *workflow.Run) error {
	return j.page.Windows().CloseAllExcept(ctx, browser.RolePrimary)
}

func (j *job) codeSend(ctx context.Context, _ *workflow.Run) error {
	if err := j.page.Click(ctx, verifyButton); err != nil {
		return err
	}
	return j.page.Dwell(ctx, j.config.CodeSendDwell)
}

// finalData reads the listing state after verification and ends the run.
func (j *job) finalData(ctx context.Context, _ *workflow.Run) workflow.Result {
	if err := j.page.Click(ctx, getStarted); err != nil {
		return workflow.FromError(err)
	}
	for _, l := range []browser.Locator{getStartedAgain, noThanks, closeAside} {
		if err := ignoreMissing(j.page.Click(ctx, l.Within(j.config.Settle))); err != nil {
			return workflow.FromError(err)
		}
	}

	text, err := j.page.BodyText(ctx)
	if err != nil {
		return workflow.FromError(err)
	}

	switch {
	case strings.Contains(text, console.TextSuspended):
		j.log().WithField("marker", console.TextSuspended).Info("Listing suspended")
		return workflow.Terminate(workflow.SignalFailure, nil)
	case strings.Contains(text, console.TextVerifiedReview):
		j.log().WithField("marker", console.TextVerifiedReview).Info("Listing under review")
		return workflow.Terminate(workflow.SignalPending, nil)
	}

	data := map[string]string{}
	for key, l := range map[string]browser.Locator{"google_maps": mapsLink, "google_search": searchLink} {
		href, err := j.page.Attribute(ctx, l.Within(j.config.Settle), "href")
		if err != nil && !errors.Is(err, browser.ErrElementNotFound) {
			return workflow.FromError(err)
		}
		data[key] = href
	}

	j.log().WithFields(logrus.Fields{
		"google_maps":   data["google_maps"],
		"google_search": data["google_search"],
	}).Info("Listing verified")
	return workflow.Succeed(data)
}
