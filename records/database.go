package records

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Record statuses. Only StatusNew records are handed to a bot.
const (
	StatusNew     = "new"
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusPending = "pending"
)

// Database represents the SQLite record store
type Database struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; the code command may run next to a bot
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := database.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	return database, nil
}

// initTables creates the necessary tables
func (d *Database) initTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL,
			recovery_email TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'new',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS businesses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			listing_id TEXT UNIQUE,
			name TEXT NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			recovery_email TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			final_name TEXT NOT NULL DEFAULT '',
			final_category TEXT NOT NULL DEFAULT '',
			final_address TEXT NOT NULL DEFAULT '',
			final_city TEXT NOT NULL DEFAULT '',
			final_state TEXT NOT NULL DEFAULT '',
			final_zip_code TEXT NOT NULL DEFAULT '',
			final_country TEXT NOT NULL DEFAULT '',
			final_phone_number TEXT NOT NULL DEFAULT '',
			final_website TEXT NOT NULL DEFAULT '',
			final_description TEXT NOT NULL DEFAULT '',
			google_maps TEXT NOT NULL DEFAULT '',
			google_search TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'new',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_key TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS verification_codes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			business_id INTEGER,
			phone TEXT NOT NULL DEFAULT '',
			code TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			used_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_status ON credentials(status)`,
		`CREATE INDEX IF NOT EXISTS idx_businesses_status ON businesses(status)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_created_at ON outcomes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_codes_business ON verification_codes(business_id, used_at)`,
		`CREATE INDEX IF NOT EXISTS idx_codes_phone ON verification_codes(phone, used_at)`,
	}

	for _, query := range queries {
		if _, err := d.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s, error: %w", query, err)
		}
	}

	d.logger.Debug("Database tables initialized successfully")
	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Credentials returns the credentials with the given status, oldest first.
func (d *Database) Credentials(ctx context.Context, status string) ([]*Credential, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, email, password, recovery_email, status FROM credentials WHERE status = ? ORDER BY id`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}
	defer rows.Close()

	var credentials []*Credential
	for rows.Next() {
		c := &Credential{db: d}
		if err := rows.Scan(&c.ID, &c.Email, &c.Password, &c.RecoveryEmail, &c.Status); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		credentials = append(credentials, c)
	}
	return credentials, rows.Err()
}

// SaveCredential inserts a credential or replaces the password of an existing one.
func (d *Database) SaveCredential(ctx context.Context, c *Credential) error {
	err := d.db.QueryRowContext(ctx,
		`INSERT INTO credentials (email, password, recovery_email) VALUES (?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET password = excluded.password,
			recovery_email = excluded.recovery_email, updated_at = CURRENT_TIMESTAMP
		 RETURNING id, status`,
		c.Email, c.Password, c.RecoveryEmail).Scan(&c.ID, &c.Status)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	c.db = d

	d.logger.WithField("email", c.Email).Debug("Credential saved")
	return nil
}

// Businesses returns the businesses with the given status, oldest first.
func (d *Database) Businesses(ctx context.Context, status string) ([]*Business, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM businesses WHERE status = ? ORDER BY id`, selectColumns()),
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to get businesses: %w", err)
	}
	defer rows.Close()

	var businesses []*Business
	for rows.Next() {
		b := &Business{db: d}
		if err := rows.Scan(b.scanDest()...); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

// GetBusiness retrieves a business by id. A missing business is nil, nil.
func (d *Database) GetBusiness(ctx context.Context, id int64) (*Business, error) {
	b := &Business{db: d}
	err := d.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM businesses WHERE id = ?`, selectColumns()), id).
		Scan(b.scanDest()...)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get business: %w", err)
	}
	return b, nil
}

// CreateBusiness stores a business. A business with a known listing id is
// updated in place so a listing discovered twice stays one record.
func (d *Database) CreateBusiness(ctx context.Context, b *Business) error {
	values := b.values()
	args := make([]interface{}, 0, len(businessFields)+1)
	args = append(args, nullIfEmpty(b.ListingID))
	for _, field := range businessFields {
		args = append(args, *values[field])
	}

	updates := make([]string, len(businessFields))
	for i, field := range businessFields {
		updates[i] = fmt.Sprintf("%s = excluded.%s", field, field)
	}

	query := fmt.Sprintf(
		`INSERT INTO businesses (listing_id, %s) VALUES (?%s)
		 ON CONFLICT(listing_id) DO UPDATE SET %s, updated_at = CURRENT_TIMESTAMP
		 RETURNING id, status`,
		strings.Join(businessFields, ", "),
		strings.Repeat(", ?", len(businessFields)),
		strings.Join(updates, ", "))

	if err := d.db.QueryRowContext(ctx, query, args...).Scan(&b.ID, &b.Status); err != nil {
		return fmt.Errorf("failed to create business: %w", err)
	}
	b.db = d

	d.logger.WithFields(logrus.Fields{
		"business_id": b.ID,
		"name":        b.Name,
	}).Debug("Business saved")
	return nil
}

// SaveCode stores a verification code delivered for a business or a phone.
func (d *Database) SaveCode(ctx context.Context, businessID int64, phone, code string) error {
	var business interface{}
	if businessID > 0 {
		business = businessID
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO verification_codes (business_id, phone, code, created_at) VALUES (?, ?, ?, ?)`,
		business, phone, code, d.now())
	if err != nil {
		return fmt.Errorf("failed to save verification code: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"business_id": businessID,
		"phone":       phone,
	}).Info("Verification code saved")
	return nil
}

// VerificationCode consumes the newest unused code for the business or its
// phone. It returns "" when none has arrived yet.
func (d *Database) VerificationCode(ctx context.Context, businessID int64, phone string) (string, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		id   int64
		code string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, code FROM verification_codes
		 WHERE used_at IS NULL AND (business_id = ? OR (phone != '' AND phone = ?))
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		businessID, phone).Scan(&id, &code)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get verification code: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE verification_codes SET used_at = ? WHERE id = ?`, d.now(), id); err != nil {
		return "", fmt.Errorf("failed to consume verification code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit verification code: %w", err)
	}
	return code, nil
}

// setStatus updates a record status and appends an outcome row in one transaction.
func (d *Database) setStatus(ctx context.Context, update string, args []interface{}, key, status string, payload map[string]string) error {
	if payload == nil {
		payload = map[string]string{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", key, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update %s: record not found", key)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes (entity_key, status, payload, created_at) VALUES (?, ?, ?, ?)`,
		key, status, string(data), d.now()); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"entity": key,
		"status": status,
	}).Debug("Outcome recorded")
	return nil
}

// OutcomeRecord is one row of the outcome audit trail.
type OutcomeRecord struct {
	EntityKey string            `json:"entity_key"`
	Status    string            `json:"status"`
	Payload   map[string]string `json:"payload"`
	CreatedAt time.Time         `json:"created_at"`
}

// Outcomes returns the audit trail of an entity, oldest first.
func (d *Database) Outcomes(ctx context.Context, key string) ([]OutcomeRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT entity_key, status, payload, created_at FROM outcomes WHERE entity_key = ? ORDER BY id`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get outcomes: %w", err)
	}
	defer rows.Close()

	var records []OutcomeRecord
	for rows.Next() {
		var (
			record  OutcomeRecord
			payload string
		)
		if err := rows.Scan(&record.EntityKey, &record.Status, &payload, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		if err := json.UnmarshalFromString(payload, &record.Payload); err != nil {
			return nil, fmt.Errorf("failed to decode outcome payload: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetDailyStats counts the outcomes recorded on the given day, by status.
func (d *Database) GetDailyStats(ctx context.Context, date time.Time) (map[string]int, error) {
	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	end := start.AddDate(0, 0, 1)

	rows, err := d.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM outcomes WHERE created_at >= ? AND created_at < ? GROUP BY status`,
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{
		StatusSuccess: 0,
		StatusFail:    0,
		StatusPending: 0,
	}
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily stats: %w", err)
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// StatusCounts counts the records of a table ("credentials" or "businesses") by status.
func (d *Database) StatusCounts(ctx context.Context, table string) (map[string]int, error) {
	if table != "credentials" && table != "businesses" {
		return nil, fmt.Errorf("unknown table %q", table)
	}

	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", table, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan %s counts: %w", table, err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
