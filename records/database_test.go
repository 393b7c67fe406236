package records

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"listing-automation/workflow"
)

var (
	_ workflow.Entity = (*Business)(nil)
	_ workflow.Entity = (*Credential)(nil)
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	logger, _ := test.NewNullLogger()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "listings.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCredentialsByStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	require.NoError(t, db.SaveCredential(ctx, &Credential{Email: "a@example.com", Password: "one"}))
	require.NoError(t, db.SaveCredential(ctx, &Credential{Email: "b@example.com", Password: "two", RecoveryEmail: "r@example.com"}))

	creds, err := db.Credentials(ctx, StatusNew)
	require.NoError(t, err)
	require.Len(t, creds, 2)
	assert.Equal(t, "a@example.com", creds[0].Field("email"))
	assert.Equal(t, "r@example.com", creds[1].Field("recovery_email"))

	require.NoError(t, creds[0].ReportFail(ctx))
	assert.Equal(t, StatusFail, creds[0].Status)

	creds, err = db.Credentials(ctx, StatusNew)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "b@example.com", creds[0].Email)
}

func TestSaveCredentialUpdatesPassword(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	first := &Credential{Email: "a@example.com", Password: "one"}
	require.NoError(t, db.SaveCredential(ctx, first))
	second := &Credential{Email: "a@example.com", Password: "two"}
	require.NoError(t, db.SaveCredential(ctx, second))

	assert.Equal(t, first.ID, second.ID)
	creds, err := db.Credentials(ctx, StatusNew)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "two", creds[0].Password)
}

func TestBusinessReportSuccess(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	b := &Business{Name: "Acme Plumbing", FinalName: "Acme Plumbing & Heating", FinalState: "TX"}
	require.NoError(t, db.CreateBusiness(ctx, b))
	require.NotZero(t, b.ID)
	assert.Equal(t, StatusNew, b.Status)

	data := map[string]string{
		"google_maps":   "https://maps.google.com/?cid=1",
		"google_search": "https://www.google.com/search?q=acme",
	}
	require.NoError(t, b.ReportSuccess(ctx, data))

	stored, err := db.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.Equal(t, data["google_maps"], stored.GoogleMaps)
	assert.Equal(t, "Acme Plumbing & Heating", stored.Field("final_name"))

	trail, err := db.Outcomes(ctx, b.Key())
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, StatusSuccess, trail[0].Status)
	assert.Equal(t, data, trail[0].Payload)
}

func TestBusinessReportKeepsLinks(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	b := &Business{Name: "Acme", GoogleMaps: "https://maps.google.com/?cid=1"}
	require.NoError(t, db.CreateBusiness(ctx, b))
	require.NoError(t, b.ReportPending(ctx))

	stored, err := db.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, "https://maps.google.com/?cid=1", stored.GoogleMaps)
}

func TestReportUnstoredEntity(t *testing.T) {
	assert.Error(t, (&Business{Name: "loose"}).ReportFail(context.Background()))
	assert.Error(t, (&Credential{Email: "loose"}).ReportFail(context.Background()))
}

func TestCreateBusinessUpsertsByListingID(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	first := &Business{ListingID: "0412", Name: "Acme", Phone: "5550100"}
	require.NoError(t, db.CreateBusiness(ctx, first))
	second := &Business{ListingID: "0412", Name: "Acme", Phone: "5550199"}
	require.NoError(t, db.CreateBusiness(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	// records without a listing id never collide
	require.NoError(t, db.CreateBusiness(ctx, &Business{Name: "A"}))
	require.NoError(t, db.CreateBusiness(ctx, &Business{Name: "B"}))

	all, err := db.Businesses(ctx, StatusNew)
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "5550199", all[0].Phone)
}

func TestGetBusinessMissing(t *testing.T) {
	b, err := newTestDatabase(t).GetBusiness(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestVerificationCodeConsumedOnce(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	b := &Business{Name: "Acme"}
	require.NoError(t, db.CreateBusiness(ctx, b))

	code, err := db.VerificationCode(ctx, b.ID, "5550100")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, db.SaveCode(ctx, b.ID, "", "12345"))

	code, err = db.VerificationCode(ctx, b.ID, "5550100")
	require.NoError(t, err)
	assert.Equal(t, "12345", code)

	code, err = db.VerificationCode(ctx, b.ID, "5550100")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestVerificationCodeByPhone(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	require.NoError(t, db.SaveCode(ctx, 0, "5550100", "11111"))
	require.NoError(t, db.SaveCode(ctx, 0, "5550199", "22222"))

	code, err := db.VerificationCode(ctx, 7, "5550199")
	require.NoError(t, err)
	assert.Equal(t, "22222", code)

	// an empty phone never matches codes saved without one
	code, err = db.VerificationCode(ctx, 7, "")
	require.NoError(t, err)
	assert.Empty(t, code)
}

func TestGetDailyStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	day := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return day }

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, db.CreateBusiness(ctx, &Business{Name: name}))
	}
	all, err := db.Businesses(ctx, StatusNew)
	require.NoError(t, err)

	require.NoError(t, all[0].ReportSuccess(ctx, nil))
	require.NoError(t, all[1].ReportFail(ctx))

	db.now = func() time.Time { return day.AddDate(0, 0, 1) }
	require.NoError(t, all[2].ReportSuccess(ctx, nil))

	stats, err := db.GetDailyStats(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusSuccess: 1, StatusFail: 1, StatusPending: 0}, stats)

	counts, err := db.StatusCounts(ctx, "businesses")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{StatusSuccess: 2, StatusFail: 1}, counts)

	_, err = db.StatusCounts(ctx, "outcomes; DROP TABLE businesses")
	assert.Error(t, err)
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	creds := "Email, Password, Recovery_Email\n" +
		"a@example.com,one,ra@example.com\n" +
		",missing,\n" +
		"b@example.com,two,\n"
	n, err := db.ImportCSV(ctx, KindCredentials, strings.NewReader(creds))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	businesses := "name,final_name,final_city,final_state,unused\n" +
		"Acme,Acme Plumbing,Austin,TX,x\n"
	n, err = db.ImportCSV(ctx, KindBusinesses, strings.NewReader(businesses))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := db.Businesses(ctx, StatusNew)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Austin", all[0].FinalCity)
	assert.Equal(t, "Acme Plumbing", all[0].Field("final_name"))
}

func TestImportCSVErrors(t *testing.T) {
	ctx := context.Background()
	db := newTestDatabase(t)

	_, err := db.ImportCSV(ctx, "profiles", strings.NewReader("name\nx\n"))
	assert.ErrorContains(t, err, "unknown import kind")

	_, err = db.ImportCSV(ctx, KindCredentials, strings.NewReader("email\na@example.com\n"))
	assert.ErrorContains(t, err, `missing required column "password"`)

	_, err = db.ImportCSV(ctx, KindBusinesses, strings.NewReader(""))
	assert.ErrorContains(t, err, "read header")
}
