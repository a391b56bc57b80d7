// Package entstore persists per-store entitlement records in SQLite. All
// writes are partial-field merges guarded by event recency, never full-row
// replacement by arrival order.
package entstore

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitrinehq/vitrine-billing/internal/entitlement"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no record matches the lookup key.
	ErrNotFound = errors.New("entitlement record not found")
	// ErrStaleEvent is returned when a write carries an event timestamp older
	// than the one already recorded for the store.
	ErrStaleEvent = errors.New("event is older than recorded state")
)

// Store provides access to the entitlement records database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the entitlement database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create entitlement store dir: %w", err)
	}

	dbPath := filepath.Join(dir, "entitlements.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open entitlement db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entitlements (
		store_id               TEXT PRIMARY KEY,
		tier                   TEXT NOT NULL DEFAULT 'free',
		tier_expires_at        INTEGER,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		stripe_price_id        TEXT NOT NULL DEFAULT '',
		status                 TEXT NOT NULL DEFAULT '',
		current_period_start   INTEGER NOT NULL DEFAULT 0,
		current_period_end     INTEGER NOT NULL DEFAULT 0,
		cancel_at_period_end   INTEGER NOT NULL DEFAULT 0,
		trial_end              INTEGER,
		last_event_at          INTEGER NOT NULL DEFAULT 0,
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entitlements_stripe_customer_id ON entitlements(stripe_customer_id);
	CREATE INDEX IF NOT EXISTS idx_entitlements_tier ON entitlements(tier);

	CREATE TABLE IF NOT EXISTS processed_events (
		event_id   TEXT PRIMARY KEY,
		state      TEXT NOT NULL DEFAULT 'in_flight',
		started_at INTEGER NOT NULL,
		handled_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_processed_events_started_at ON processed_events(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init entitlement schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const recordColumns = `store_id, tier, tier_expires_at,
	stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
	current_period_start, current_period_end, cancel_at_period_end, trial_end,
	last_event_at, created_at, updated_at`

// Get retrieves the entitlement record for a store.
func (s *Store) Get(storeID string) (*Record, error) {
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM entitlements WHERE store_id = ?`, storeID)
	return scanRecord(row)
}

// GetByStripeCustomerID retrieves the record whose subscription is linked to
// the given Stripe customer. Used by the payment-failure reverse lookup.
func (s *Store) GetByStripeCustomerID(customerID string) (*Record, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(`SELECT `+recordColumns+` FROM entitlements WHERE stripe_customer_id = ?`, customerID)
	return scanRecord(row)
}

// List returns all entitlement records, optionally filtered by tier.
func (s *Store) List(tier entitlement.Tier) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM entitlements ORDER BY store_id`
	args := []any{}
	if tier != "" {
		query = `SELECT ` + recordColumns + ` FROM entitlements WHERE tier = ? ORDER BY store_id`
		args = append(args, string(tier))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByTier returns the number of records per tier.
func (s *Store) CountByTier() (map[entitlement.Tier]int, error) {
	rows, err := s.db.Query(`SELECT tier, COUNT(*) FROM entitlements GROUP BY tier`)
	if err != nil {
		return nil, fmt.Errorf("count entitlements: %w", err)
	}
	defer rows.Close()

	counts := make(map[entitlement.Tier]int)
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		counts[entitlement.Tier(tier)] = n
	}
	return counts, rows.Err()
}

// ApplyBillingUpdate merges a reconciler projection into the store record,
// creating the record if it does not exist. The write is skipped with
// ErrStaleEvent when the record already holds a newer event; re-applying the
// same event is allowed and produces an identical record.
func (s *Store) ApplyBillingUpdate(storeID string, upd BillingUpdate) error {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return fmt.Errorf("store id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin billing update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	last, exists, err := lastEventAt(tx, storeID)
	if err != nil {
		return err
	}
	if exists && last > upd.EventAt.Unix() {
		return ErrStaleEvent
	}

	now := s.now().UTC().Unix()
	sub := upd.Subscription
	if exists {
		_, err = tx.Exec(`UPDATE entitlements SET
			tier = ?, tier_expires_at = ?,
			stripe_customer_id = ?, stripe_subscription_id = ?, stripe_price_id = ?,
			status = ?, current_period_start = ?, current_period_end = ?,
			cancel_at_period_end = ?, trial_end = ?,
			last_event_at = ?, updated_at = ?
			WHERE store_id = ?`,
			string(upd.Tier), nullableTimeUnix(upd.TierExpiresAt),
			sub.StripeCustomerID, sub.StripeSubscriptionID, sub.StripePriceID,
			string(sub.Status), sub.CurrentPeriodStart.Unix(), sub.CurrentPeriodEnd.Unix(),
			boolToInt(sub.CancelAtPeriodEnd), nullableTimeUnix(sub.TrialEnd),
			upd.EventAt.Unix(), now, storeID,
		)
	} else {
		_, err = tx.Exec(`INSERT INTO entitlements (
			store_id, tier, tier_expires_at,
			stripe_customer_id, stripe_subscription_id, stripe_price_id, status,
			current_period_start, current_period_end, cancel_at_period_end, trial_end,
			last_event_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			storeID, string(upd.Tier), nullableTimeUnix(upd.TierExpiresAt),
			sub.StripeCustomerID, sub.StripeSubscriptionID, sub.StripePriceID, string(sub.Status),
			sub.CurrentPeriodStart.Unix(), sub.CurrentPeriodEnd.Unix(),
			boolToInt(sub.CancelAtPeriodEnd), nullableTimeUnix(sub.TrialEnd),
			upd.EventAt.Unix(), now, now,
		)
	}
	if err != nil {
		return fmt.Errorf("write entitlement for %s: %w", storeID, err)
	}
	return tx.Commit()
}

// ApplyDowngrade forces tier = free and overwrites the subscription status,
// leaving every other subscription field untouched. Missing records are
// created in the downgraded state. Subject to the same recency guard as
// ApplyBillingUpdate.
func (s *Store) ApplyDowngrade(storeID string, d Downgrade) error {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return fmt.Errorf("store id is required")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin downgrade: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	last, exists, err := lastEventAt(tx, storeID)
	if err != nil {
		return err
	}
	if exists && last > d.EventAt.Unix() {
		return ErrStaleEvent
	}

	now := s.now().UTC().Unix()
	if exists {
		if d.CancelAtPeriodEnd != nil {
			_, err = tx.Exec(`UPDATE entitlements SET
				tier = ?, status = ?, cancel_at_period_end = ?, last_event_at = ?, updated_at = ?
				WHERE store_id = ?`,
				string(entitlement.TierFree), string(d.Status), boolToInt(*d.CancelAtPeriodEnd),
				d.EventAt.Unix(), now, storeID,
			)
		} else {
			_, err = tx.Exec(`UPDATE entitlements SET
				tier = ?, status = ?, last_event_at = ?, updated_at = ?
				WHERE store_id = ?`,
				string(entitlement.TierFree), string(d.Status), d.EventAt.Unix(), now, storeID,
			)
		}
	} else {
		cancel := false
		if d.CancelAtPeriodEnd != nil {
			cancel = *d.CancelAtPeriodEnd
		}
		_, err = tx.Exec(`INSERT INTO entitlements (
			store_id, tier, status, cancel_at_period_end, last_event_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			storeID, string(entitlement.TierFree), string(d.Status), boolToInt(cancel),
			d.EventAt.Unix(), now, now,
		)
	}
	if err != nil {
		return fmt.Errorf("downgrade entitlement for %s: %w", storeID, err)
	}
	return tx.Commit()
}

func lastEventAt(tx *sql.Tx, storeID string) (last int64, exists bool, err error) {
	err = tx.QueryRow(`SELECT last_event_at FROM entitlements WHERE store_id = ?`, storeID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read last event time for %s: %w", storeID, err)
	}
	return last, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                    Record
		sub                    Subscription
		tier, status           string
		tierExpires, trialEnd  sql.NullInt64
		periodStart, periodEnd int64
		cancelAtPeriodEnd      int
		lastEvent, created     int64
		updated                int64
	)
	err := row.Scan(
		&rec.StoreID, &tier, &tierExpires,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.StripePriceID, &status,
		&periodStart, &periodEnd, &cancelAtPeriodEnd, &trialEnd,
		&lastEvent, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entitlement record: %w", err)
	}

	rec.Tier = entitlement.Tier(tier)
	rec.TierExpiresAt = unixToTimePtr(tierExpires)
	rec.LastEventAt = time.Unix(lastEvent, 0).UTC()
	rec.CreatedAt = time.Unix(created, 0).UTC()
	rec.UpdatedAt = time.Unix(updated, 0).UTC()

	if status != "" {
		sub.Status = entitlement.SubscriptionStatus(status)
		sub.CurrentPeriodStart = time.Unix(periodStart, 0).UTC()
		sub.CurrentPeriodEnd = time.Unix(periodEnd, 0).UTC()
		sub.CancelAtPeriodEnd = cancelAtPeriodEnd != 0
		sub.TrialEnd = unixToTimePtr(trialEnd)
		rec.Subscription = &sub
	}
	return &rec, nil
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
