package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/universal-ai/gateway/internal/models"
)

// migrations run in order; each is safe to repeat
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS api_keys (
	key         TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	credits     BIGINT NOT NULL CHECK (credits >= 0),
	usage_count BIGINT NOT NULL DEFAULT 0,
	created_at  TIMESTAMPTZ NOT NULL,
	last_used   TIMESTAMPTZ
)`,
	`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS daily_limit BIGINT NOT NULL DEFAULT 0`,
	`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS expires_at TIMESTAMPTZ`,
	`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS reset_day TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE api_keys ADD COLUMN IF NOT EXISTS reset_base BIGINT NOT NULL DEFAULT 0`,
}

const selectKeys = `SELECT key, name, credits, usage_count, daily_limit, created_at, last_used,
	expires_at, reset_day, reset_base FROM api_keys ORDER BY created_at, key`

const upsertKey = `INSERT INTO api_keys (key, name, credits, usage_count, daily_limit, created_at,
	last_used, expires_at, reset_day, reset_base)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (key) DO UPDATE SET name = EXCLUDED.name, credits = EXCLUDED.credits,
	usage_count = EXCLUDED.usage_count, daily_limit = EXCLUDED.daily_limit,
	last_used = EXCLUDED.last_used, expires_at = EXCLUDED.expires_at,
	reset_day = EXCLUDED.reset_day, reset_base = EXCLUDED.reset_base`

// PostgresSnapshot persists the key table in PostgreSQL
type PostgresSnapshot struct {
	db *sql.DB
}

// OpenPostgres opens a pgx backed database handle and verifies it
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// NewPostgresSnapshot wraps an open database handle
func NewPostgresSnapshot(db *sql.DB) *PostgresSnapshot {
	return &PostgresSnapshot{db: db}
}

// Migrate creates or upgrades the api_keys table
func (p *PostgresSnapshot) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Load reads all keys ordered by creation
func (p *PostgresSnapshot) Load(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := p.db.QueryContext(ctx, selectKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to query api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var (
			k                   models.APIKey
			lastUsed, expiresAt sql.NullTime
			resetDay            string
			resetBase           int64
		)
		if err := rows.Scan(&k.Key, &k.Name, &k.Credits, &k.UsageCount, &k.DailyLimit, &k.CreatedAt,
			&lastUsed, &expiresAt, &resetDay, &resetBase); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		k.LastUsed = timePtr(lastUsed)
		k.ExpiresAt = timePtr(expiresAt)
		if resetDay != "" {
			k.DailyReset = &models.DailyReset{Day: resetDay, Base: resetBase}
		}
		keys = append(keys, &k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// Save upserts every key in a single transaction
func (p *PostgresSnapshot) Save(ctx context.Context, keys []*models.APIKey) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, k := range keys {
		var resetDay string
		var resetBase int64
		if k.DailyReset != nil {
			resetDay, resetBase = k.DailyReset.Day, k.DailyReset.Base
		}
		if _, err := tx.ExecContext(ctx, upsertKey,
			k.Key, k.Name, k.Credits, k.UsageCount, k.DailyLimit, k.CreatedAt,
			nullTime(k.LastUsed), nullTime(k.ExpiresAt), resetDay, resetBase); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to upsert key %s: %w", models.MaskKey(k.Key), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// Close closes the database handle
func (p *PostgresSnapshot) Close() error {
	return p.db.Close()
}
