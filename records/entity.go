package records

import (
	"context"
	"fmt"
	"strings"
)

// Credential is a console account. The uploader bot processes one per run.
type Credential struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	Password      string `json:"password"`
	RecoveryEmail string `json:"recovery_email"`
	Status        string `json:"status"`

	db *Database
}

// Key identifies the credential in logs and the outcome trail.
func (c *Credential) Key() string {
	return "credential:" + c.Email
}

// Field returns a credential field by name.
func (c *Credential) Field(name string) string {
	switch name {
	case "email":
		return c.Email
	case "password":
		return c.Password
	case "recovery_email":
		return c.RecoveryEmail
	case "status":
		return c.Status
	}
	return ""
}

func (c *Credential) ReportSuccess(ctx context.Context, data map[string]string) error {
	return c.report(ctx, StatusSuccess, data)
}

func (c *Credential) ReportFail(ctx context.Context) error {
	return c.report(ctx, StatusFail, nil)
}

func (c *Credential) ReportPending(ctx context.Context) error {
	return c.report(ctx, StatusPending, nil)
}

func (c *Credential) report(ctx context.Context, status string, data map[string]string) error {
	if c.db == nil {
		return fmt.Errorf("credential %s is not stored", c.Email)
	}
	err := c.db.setStatus(ctx,
		`UPDATE credentials SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		[]interface{}{status, c.ID}, c.Key(), status, data)
	if err != nil {
		return err
	}
	c.Status = status
	return nil
}

// businessFields are the text columns of a business, in table order.
var businessFields = []string{
	"name",
	"email",
	"password",
	"recovery_email",
	"phone",
	"final_name",
	"final_category",
	"final_address",
	"final_city",
	"final_state",
	"final_zip_code",
	"final_country",
	"final_phone_number",
	"final_website",
	"final_description",
	"google_maps",
	"google_search",
}

// Business is a listing to rename and verify. Businesses discovered by the
// uploader carry the credential that owns them.
type Business struct {
	ID               int64  `json:"id"`
	ListingID        string `json:"listing_id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Password         string `json:"password"`
	RecoveryEmail    string `json:"recovery_email"`
	Phone            string `json:"phone"`
	FinalName        string `json:"final_name"`
	FinalCategory    string `json:"final_category"`
	FinalAddress     string `json:"final_address"`
	FinalCity        string `json:"final_city"`
	FinalState       string `json:"final_state"`
	FinalZipCode     string `json:"final_zip_code"`
	FinalCountry     string `json:"final_country"`
	FinalPhoneNumber string `json:"final_phone_number"`
	FinalWebsite     string `json:"final_website"`
	FinalDescription string `json:"final_description"`
	GoogleMaps       string `json:"google_maps"`
	GoogleSearch     string `json:"google_search"`
	Status           string `json:"status"`

	db *Database
}

func (b *Business) values() map[string]*string {
	return map[string]*string{
		"name":               &b.Name,
		"email":              &b.Email,
		"password":           &b.Password,
		"recovery_email":     &b.RecoveryEmail,
		"phone":              &b.Phone,
		"final_name":         &b.FinalName,
		"final_category":     &b.FinalCategory,
		"final_address":      &b.FinalAddress,
		"final_city":         &b.FinalCity,
		"final_state":        &b.FinalState,
		"final_zip_code":     &b.FinalZipCode,
		"final_country":      &b.FinalCountry,
		"final_phone_number": &b.FinalPhoneNumber,
		"final_website":      &b.FinalWebsite,
		"final_description":  &b.FinalDescription,
		"google_maps":        &b.GoogleMaps,
		"google_search":      &b.GoogleSearch,
	}
}

func selectColumns() string {
	return "id, COALESCE(listing_id, ''), " + strings.Join(businessFields, ", ") + ", status"
}

func (b *Business) scanDest() []interface{} {
	values := b.values()
	dest := []interface{}{&b.ID, &b.ListingID}
	for _, field := range businessFields {
		dest = append(dest, values[field])
	}
	return append(dest, &b.Status)
}

// Key identifies the business in logs and the outcome trail.
func (b *Business) Key() string {
	return fmt.Sprintf("business:%d", b.ID)
}

// Field returns a business field by column name.
func (b *Business) Field(name string) string {
	switch name {
	case "id":
		if b.ID == 0 {
			return ""
		}
		return fmt.Sprint(b.ID)
	case "listing_id":
		return b.ListingID
	case "status":
		return b.Status
	}
	if v, ok := b.values()[name]; ok {
		return *v
	}
	return ""
}

// ReportSuccess marks the business verified. The google_maps and
// google_search links in data are stored with it.
func (b *Business) ReportSuccess(ctx context.Context, data map[string]string) error {
	if err := b.report(ctx, StatusSuccess, data); err != nil {
		return err
	}
	if v := data["google_maps"]; v != "" {
		b.GoogleMaps = v
	}
	if v := data["google_search"]; v != "" {
		b.GoogleSearch = v
	}
	return nil
}

func (b *Business) ReportFail(ctx context.Context) error {
	return b.report(ctx, StatusFail, nil)
}

func (b *Business) ReportPending(ctx context.Context) error {
	return b.report(ctx, StatusPending, nil)
}

func (b *Business) report(ctx context.Context, status string, data map[string]string) error {
	if b.db == nil {
		return fmt.Errorf("business %q is not stored", b.Name)
	}
	err := b.db.setStatus(ctx,
		`UPDATE businesses SET status = ?,
			google_maps = COALESCE(NULLIF(?, ''), google_maps),
			google_search = COALESCE(NULLIF(?, ''), google_search),
			updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		[]interface{}{status, data["google_maps"], data["google_search"], b.ID},
		b.Key(), status, data)
	if err != nil {
		return err
	}
	b.Status = status
	return nil
}
