package records

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Import kinds accepted by ImportCSV.
const (
	KindCredentials = "credentials"
	KindBusinesses  = "businesses"
)

// ImportCSV seeds credentials or businesses from a CSV with a header row.
// Columns are matched by name, case-insensitively; unknown columns are ignored.
// It returns the number of records stored.
func (d *Database) ImportCSV(ctx context.Context, kind string, r io.Reader) (int, error) {
	var required []string
	switch kind {
	case KindCredentials:
		required = []string{"email", "password"}
	case KindBusinesses:
		required = []string{"name"}
	default:
		return 0, fmt.Errorf("unknown import kind %q", kind)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return 0, fmt.Errorf("missing required column %q", col)
		}
	}

	imported := 0
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		missing := false
		for _, col := range required {
			if get(col) == "" {
				missing = true
			}
		}
		if missing {
			d.logger.WithField("line", line).Warn("Skipping CSV row without required columns")
			continue
		}

		switch kind {
		case KindCredentials:
			err = d.SaveCredential(ctx, &Credential{
				Email:         get("email"),
				Password:      get("password"),
				RecoveryEmail: get("recovery_email"),
			})
		case KindBusinesses:
			b := &Business{ListingID: get("listing_id")}
			for field, v := range b.values() {
				*v = get(field)
			}
			err = d.CreateBusiness(ctx, b)
		}
		if err != nil {
			return imported, fmt.Errorf("line %d: %w", line, err)
		}
		imported++
	}

	d.logger.WithFields(logrus.Fields{
		"kind":     kind,
		"imported": imported,
	}).Info("CSV import finished")
	return imported, nil
}
