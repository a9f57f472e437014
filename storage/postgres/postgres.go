// Package postgres provides PostgreSQL implementations of the entitlement
// store interfaces using pgx. Profile updates are version-guarded UPDATEs, so
// concurrent reconciliations for the same profile surface as conflicts
// instead of lost writes; notification dedup rides on a unique index.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stefanmihai/entitlesync/pkg/entitlement"
)

const schema = `
CREATE TABLE IF NOT EXISTS profiles (
	id           TEXT PRIMARY KEY,
	customer_id  TEXT NOT NULL UNIQUE,
	premium      BOOLEAN NOT NULL DEFAULT FALSE,
	subscription JSONB NOT NULL DEFAULT '{}',
	version      BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS notifications (
	id         BIGSERIAL PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}',
	dedup_key  TEXT UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_notifications_user
	ON notifications (user_id, created_at DESC);
`

// Storage implements entitlement.ProfileStore and
// entitlement.NotificationStore using PostgreSQL.
type Storage struct {
	pool *pgxpool.Pool
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Storage{pool: pool}, nil
}

// NewWithPool wraps an existing pool (useful for tests and shared pools)
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// EnsureSchema creates the profiles and notifications tables if missing
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Storage) Close() {
	s.pool.Close()
}

type recurringJSON struct {
	SubscriptionID     string `json:"subscriptionId"`
	SubscriptionStatus string `json:"subscriptionStatus"`
}

type lifetimeJSON struct {
	PaymentIntentID     string `json:"paymentIntentId"`
	PaymentIntentStatus string `json:"paymentIntentStatus"`
}

type recordJSON struct {
	Recurring *recurringJSON `json:"recurring,omitempty"`
	Lifetime  *lifetimeJSON  `json:"lifetime,omitempty"`
}

// FindByCustomerID implements entitlement.ProfileStore
func (s *Storage) FindByCustomerID(ctx context.Context, customerID string) (*entitlement.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, customer_id, premium, subscription, version
		 FROM profiles WHERE customer_id = $1`, customerID)

	var profile entitlement.Profile
	var raw []byte
	err := row.Scan(&profile.ID, &profile.CustomerID, &profile.Premium, &raw, &profile.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entitlement.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}

	record, err := decodeRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode subscription for profile %s: %w", profile.ID, err)
	}
	profile.Subscription = record
	return &profile, nil
}

// UpdatePremiumAndSubscription implements entitlement.ProfileStore. The
// UPDATE is conditional on the version the caller read; zero rows affected
// with an existing profile means a concurrent writer won.
func (s *Storage) UpdatePremiumAndSubscription(ctx context.Context, profileID string, version int64, premium bool, record entitlement.SubscriptionRecord) error {
	raw, err := encodeRecord(record)
	if err != nil {
		return fmt.Errorf("failed to encode subscription: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE profiles
		 SET premium = $1, subscription = $2, version = version + 1
		 WHERE id = $3 AND version = $4`,
		premium, raw, profileID, version)
	if err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, profileID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check profile existence: %w", err)
	}
	if !exists {
		return entitlement.ErrProfileNotFound
	}
	return entitlement.ErrStoreConflict
}

// Create implements entitlement.NotificationStore
func (s *Storage) Create(ctx context.Context, n *entitlement.Notification) (string, error) {
	if n == nil || n.UserID == "" || n.Type == "" {
		return "", fmt.Errorf("invalid notification")
	}

	data, err := json.Marshal(n.Data)
	if err != nil {
		return "", fmt.Errorf("failed to encode notification data: %w", err)
	}

	var dedupKey *string
	if n.DedupKey != "" {
		dedupKey = &n.DedupKey
	}

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, type, data, dedup_key)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (dedup_key) DO NOTHING
		 RETURNING id`,
		n.UserID, n.Type, data, dedupKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", entitlement.ErrDuplicateNotification
	}
	if err != nil {
		return "", fmt.Errorf("failed to create notification: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func encodeRecord(record entitlement.SubscriptionRecord) ([]byte, error) {
	var doc recordJSON
	if record.Recurring != nil {
		doc.Recurring = &recurringJSON{
			SubscriptionID:     record.Recurring.SubscriptionID,
			SubscriptionStatus: record.Recurring.Status,
		}
	}
	if record.Lifetime != nil {
		doc.Lifetime = &lifetimeJSON{
			PaymentIntentID:     record.Lifetime.PaymentIntentID,
			PaymentIntentStatus: record.Lifetime.Status,
		}
	}
	return json.Marshal(doc)
}

func decodeRecord(raw []byte) (entitlement.SubscriptionRecord, error) {
	var record entitlement.SubscriptionRecord
	if len(raw) == 0 {
		return record, nil
	}
	var doc recordJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return record, err
	}
	if doc.Recurring != nil {
		record.Recurring = &entitlement.RecurringState{
			SubscriptionID: doc.Recurring.SubscriptionID,
			Status:         doc.Recurring.SubscriptionStatus,
		}
	}
	if doc.Lifetime != nil {
		record.Lifetime = &entitlement.LifetimeState{
			PaymentIntentID: doc.Lifetime.PaymentIntentID,
			Status:          doc.Lifetime.PaymentIntentStatus,
		}
	}
	return record, nil
}
