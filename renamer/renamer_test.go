package renamer

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing-automation/browser"
	"listing-automation/captcha"
	"listing-automation/console"
	"listing-automation/console/consoletest"
	"listing-automation/records"
	"listing-automation/workflow"
)

const (
	locationsURL = "https://business.example.com/locations"
	rowsName     = "locations rows"
)

type noSolver struct{}

func (noSolver) Balance(context.Context) (float64, error) { return 0, captcha.ErrAccessDenied }
func (noSolver) Decode(context.Context, string) (*captcha.Task, error) {
	return nil, captcha.ErrAccessDenied
}
func (noSolver) Report(context.Context, int64) error { return nil }

type scriptedCodes struct {
	codes []string
	err   error
	calls int
	phone string
}

func (c *scriptedCodes) VerificationCode(_ context.Context, _ int64, phone string) (string, error) {
	c.calls++
	c.phone = phone
	if c.err != nil {
		return "", c.err
	}
	if len(c.codes) == 0 {
		return "", nil
	}
	code := c.codes[0]
	c.codes = c.codes[1:]
	return code, nil
}

func newTestRenamer(codes CodeSource) *Renamer {
	logger, _ := test.NewNullLogger()
	c := console.NewConsole(console.Config{
		LoginURL:     "https://accounts.example.com/login",
		LocationsURL: locationsURL,
		AccountURL:   "https://myaccount.google",
	}, captcha.NewResolver(noSolver{}, 1, logger), logger)

	r := NewRenamer(Config{
		CodeRetries:      3,
		CodePollInterval: time.Millisecond,
	}, c, codes, logger)
	r.rng = rand.New(rand.NewSource(7))
	return r
}

// newPage is a page on which login succeeds and every other control exists.
func newPage() *consoletest.Page {
	page := consoletest.NewPage()
	page.Permissive = true
	page.Hide("captcha image").Hide("recovery email option").Hide("device address")
	page.OnEnter = func(p *consoletest.Page) {
		if p.Fills["password"] != "" {
			p.Hide("password")
			p.CurrentURL = "https://myaccount.google.com/"
		}
	}
	return page
}

func withRow(page *consoletest.Page, status string) *consoletest.Page {
	page.Tables[rowsName] = [][]string{
		{"", "0001", "Other Co\n1 First St, Austin, TX 78701, USA", "Verification required", "Verify now"},
		{"", "0412", "Acme Plumbing\n12 Main St, Austin, TX 78701, USA", status, "Verify now"},
	}
	return page
}

var business = map[string]string{
	"id":                 "7",
	"name":               "Acme Plumbing",
	"email":              "owner@example.com",
	"password":           "hunter2",
	"final_city":         "Austin",
	"final_state":        "TX",
	"final_address":      "12 Main St",
	"final_zip_code":     "78701",
	"final_phone_number": "5125550100",
}

type mapEntity map[string]string

func (e mapEntity) Key() string                                            { return "business:" + e["id"] }
func (e mapEntity) Field(name string) string                               { return e[name] }
func (e mapEntity) ReportSuccess(context.Context, map[string]string) error { return nil }
func (e mapEntity) ReportFail(context.Context) error                       { return nil }
func (e mapEntity) ReportPending(context.Context) error                    { return nil }

func newRun(fields map[string]string) *workflow.Run {
	logger, _ := test.NewNullLogger()
	return workflow.NewRun(Name, mapEntity(fields), logger)
}

func sequence(t *testing.T, r *Renamer, page *consoletest.Page, fields map[string]string) workflow.Result {
	t.Helper()
	logger, _ := test.NewNullLogger()
	run := newRun(fields)
	return workflow.NewSequencer(logger).Run(context.Background(), run, r.Steps(run, page))
}

func TestStepOrder(t *testing.T) {
	r := newTestRenamer(&scriptedCodes{})
	steps := r.Steps(newRun(business), newPage())

	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		"login", "open_verification", "go_to_edit",
		"final_name", "final_category", "service_area", "hours", "special_hours",
		"website", "attributes", "description", "opening_date",
		"code_fill", "address", "phone", "close_verification", "code_send", "final_data",
	}, names)
}

func TestRowStatusEndsRun(t *testing.T) {
	tests := []struct {
		status string
		want   workflow.Signal
	}{
		{console.StatusPublished, workflow.SignalEntityIsSuccess},
		{console.StatusSuspended, workflow.SignalEntityInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			page := withRow(newPage(), tt.status)

			res := sequence(t, newTestRenamer(&scriptedCodes{}), page, business)
			assert.Equal(t, tt.want, res.Signal)
			assert.Equal(t, "open_verification", res.Step)
			assert.Len(t, page.Windows().Handles(""), 1)
			assert.NotContains(t, page.Log, "spawn row 2 action")
		})
	}
}

func TestBusinessMissingFromTable(t *testing.T) {
	res := sequence(t, newTestRenamer(&scriptedCodes{}), newPage(), business)
	assert.Equal(t, workflow.SignalEmptyList, res.Signal)

	page := withRow(newPage(), console.StatusVerificationRequired)
	other := map[string]string{}
	for k, v := range business {
		other[k] = v
	}
	other["name"] = "Zeta Roofing"

	res = sequence(t, newTestRenamer(&scriptedCodes{}), page, other)
	assert.Equal(t, workflow.SignalNotFound, res.Signal)
}

func TestVerificationWithoutPhoneOption(t *testing.T) {
	page := withRow(newPage(), console.StatusVerificationRequired)
	page.Spawns["row 2 action"] = true
	page.Bodies["w1"] = "We'll mail you a postcard"

	res := sequence(t, newTestRenamer(&scriptedCodes{}), page, business)
	assert.Equal(t, workflow.SignalEntityInvalid, res.Signal)
	assert.ErrorIs(t, res.Err, console.ErrPhoneVerificationUnavailable)
}

func TestVerificationWithoutWindowIsUnclassified(t *testing.T) {
	page := withRow(newPage(), console.StatusVerificationRequired)

	res := sequence(t, newTestRenamer(&scriptedCodes{}), page, business)
	assert.Equal(t, workflow.SignalUnclassified, res.Signal)
	assert.Equal(t, "open_verification", res.Step)
}

func TestRequiredAddressFields(t *testing.T) {
	page := withRow(newPage(), console.StatusVerificationRequired)
	page.Spawns["row 2 action"] = true
	page.Bodies["w1"] = console.TextEnterCode

	fields := map[string]string{}
	for k, v := range business {
		fields[k] = v
	}
	delete(fields, "final_city")

	res := sequence(t, newTestRenamer(&scriptedCodes{}), page, fields)
	assert.Equal(t, workflow.SignalEntityInvalid, res.Signal)
	assert.Equal(t, "service_area", res.Step)
	assert.ErrorIs(t, res.Err, workflow.ErrMissingField)
}

func TestFullRun(t *testing.T) {
	page := withRow(newPage(), console.StatusVerificationRequired)
	page.Spawns["row 2 action"] = true
	page.Bodies["w1"] = console.TextEnterCode
	page.Show("verification phone", "(512) 555-0199")
	page.Set("phone input", &consoletest.Element{Value: "5125550000"})
	page.Set("maps link", &consoletest.Element{Attrs: map[string]string{"href": "https://maps.google.com/?cid=1"}})

	codes := &scriptedCodes{codes: []string{"", "482913"}}
	fields := map[string]string{"final_name": "Acme Plumbing & Heating"}
	for k, v := range business {
		fields[k] = v
	}

	res := sequence(t, newTestRenamer(codes), page, fields)
	require.Equal(t, workflow.SignalSuccess, res.Signal, "step %s: %v", res.Step, res.Err)
	assert.Equal(t, "final_data", res.Step)
	assert.Equal(t, map[string]string{
		"google_maps":   "https://maps.google.com/?cid=1",
		"google_search": "",
	}, res.Data)

	assert.Equal(t, "5125550199", codes.phone)
	assert.Equal(t, "482913", page.Fills["code input"])
	assert.Equal(t, "Acme Plumbing & Heating", page.Fills["name input"])
	assert.Equal(t, "12 Main St", page.Fills["address input"])
	assert.Equal(t, "5125550100", page.Fills["phone input"])
	assert.Equal(t, "5125550000", page.Fills["secondary phone input"])
	assert.Equal(t, "Austin, TX", page.Fills["service area input"])
	assert.NotContains(t, page.Fills, "website input")

	// the verification window is gone and focus is back on the editor
	assert.Len(t, page.Windows().Handles(""), 1)
	assert.Equal(t, "w0", page.Windows().Active().ID)
	assert.Contains(t, page.Log, `click state options "Texas"`)
}

// verificationJob returns a job whose page already has the verification
// window open, as it is when code_fill runs.
func verificationJob(t *testing.T, codes CodeSource) (*job, *consoletest.Page) {
	t.Helper()
	page := newPage()
	page.Spawns["verify now"] = true
	page.Bodies["w1"] = console.TextEnterCode
	page.Show("verification phone", "+1 512-555-0199")

	h, err := page.SpawnFrom(context.Background(), browser.RoleVerification, browser.XPath("verify now", "//a"))
	require.NoError(t, err)
	require.NotNil(t, h)

	return &job{Renamer: newTestRenamer(codes), run: newRun(business), page: page}, page
}

func TestCodeFill(t *testing.T) {
	t.Run("code arrives", func(t *testing.T) {
		codes := &scriptedCodes{codes: []string{"", "", "120934"}}
		j, page := verificationJob(t, codes)

		require.NoError(t, j.codeFill(context.Background(), j.run))
		assert.Equal(t, 3, codes.calls)
		assert.Equal(t, "15125550199", codes.phone)
		assert.Equal(t, "120934", page.Fills["code input"])
		assert.Equal(t, "w1", page.Windows().Active().ID)
		assert.Contains(t, page.Log, "click send code")
	})

	t.Run("no code", func(t *testing.T) {
		codes := &scriptedCodes{}
		j, page := verificationJob(t, codes)

		err := j.codeFill(context.Background(), j.run)
		assert.Equal(t, workflow.SignalMaxRetries, workflow.SignalOf(err))
		assert.Equal(t, 3, codes.calls)
		assert.NotContains(t, page.Fills, "code input")
	})

	t.Run("lookup errors are retried", func(t *testing.T) {
		codes := &scriptedCodes{err: errGateway}
		j, _ := verificationJob(t, codes)

		err := j.codeFill(context.Background(), j.run)
		assert.ErrorIs(t, err, workflow.ErrRetriesExhausted)
		assert.Equal(t, 3, codes.calls)
	})

	t.Run("phone unreachable", func(t *testing.T) {
		j, page := verificationJob(t, &scriptedCodes{codes: []string{"120934"}})
		page.Bodies["w1"] = console.TextCouldntConnect + ". Try again later."

		err := j.codeFill(context.Background(), j.run)
		assert.Equal(t, workflow.SignalInvalidValidationMethod, workflow.SignalOf(err))
		assert.NotContains(t, page.Fills, "code input")
	})

	t.Run("cancelled", func(t *testing.T) {
		j, _ := verificationJob(t, &scriptedCodes{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := j.codeFill(ctx, j.run)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFinalData(t *testing.T) {
	tests := []struct {
		name string
		body string
		want workflow.Signal
	}{
		{"suspended", "Notice: " + console.TextSuspended, workflow.SignalFailure},
		{"under review", console.TextVerifiedReview + " for quality.", workflow.SignalPending},
		{"live", "Your listing is live", workflow.SignalSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newPage().SetBody(tt.body)
			j := &job{Renamer: newTestRenamer(&scriptedCodes{}), run: newRun(business), page: page}

			res := j.finalData(context.Background(), j.run)
			assert.Equal(t, tt.want, res.Signal)
		})
	}
}

func TestOpeningDateRange(t *testing.T) {
	r := newTestRenamer(&scriptedCodes{})
	start := time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2018, 12, 31, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		d := r.openingDate()
		assert.False(t, d.Before(start), d)
		assert.False(t, d.After(end), d)
	}
}

func TestValidate(t *testing.T) {
	r := newTestRenamer(&scriptedCodes{})
	assert.NoError(t, r.Validate(mapEntity(business)))

	err := r.Validate(mapEntity{"id": "7", "name": "Acme"})
	assert.ErrorIs(t, err, workflow.ErrMissingField)
	assert.ErrorContains(t, err, "email")

	assert.Error(t, r.Validate(mapEntity{"id": "x", "name": "a", "email": "b", "password": "c"}))
}

func TestPipelineReportsToRecords(t *testing.T) {
	ctx := context.Background()
	logger, _ := test.NewNullLogger()

	db, err := records.NewDatabase(filepath.Join(t.TempDir(), "listings.db"), logger)
	require.NoError(t, err)
	defer db.Close()

	b := &records.Business{Name: "Acme Plumbing", Email: "owner@example.com", Password: "hunter2"}
	require.NoError(t, db.CreateBusiness(ctx, b))

	page := withRow(newPage(), console.StatusPublished)
	open := func(context.Context, *workflow.Run) (console.Session, error) { return page, nil }

	report := workflow.NewPipeline[console.Session](newTestRenamer(db), open, logger).Process(ctx, b)
	assert.Equal(t, workflow.OutcomeSuccess, report.Outcome)
	assert.True(t, report.Reported)
	assert.Equal(t, 1, page.Closed)

	stored, err := db.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, records.StatusSuccess, stored.Status)
}

var errGateway = errors.New("sms gateway unavailable")
