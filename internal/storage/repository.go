package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS deliveries (
        id           BIGSERIAL PRIMARY KEY,
        alert_id     UUID NOT NULL UNIQUE,
        symbol       TEXT NOT NULL,
        blockchain   TEXT NOT NULL,
        amount       NUMERIC,
        value_usd    NUMERIC,
        from_owner   TEXT NOT NULL,
        to_owner     TEXT NOT NULL,
        feed_ts      TEXT NOT NULL DEFAULT '',
        summary      TEXT NOT NULL,
        social_count INTEGER NOT NULL DEFAULT 0,
        analysis     TEXT NOT NULL,
        inference_ms BIGINT NOT NULL DEFAULT 0,
        total_ms     BIGINT NOT NULL DEFAULT 0,
        delivered    BOOLEAN NOT NULL,
        error        TEXT,
        created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS deliveries_created_at_idx ON deliveries (created_at);`,
}

const (
	insertDeliverySQL = `INSERT INTO deliveries (
        alert_id,
        symbol,
        blockchain,
        amount,
        value_usd,
        from_owner,
        to_owner,
        feed_ts,
        summary,
        social_count,
        analysis,
        inference_ms,
        total_ms,
        delivered,
        error
    ) VALUES (
        $1::uuid,$2,$3,$4::numeric,$5::numeric,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
    )
    ON CONFLICT (alert_id) DO NOTHING;`

	selectDeliveryColumns = `SELECT
        id,
        alert_id::text,
        symbol,
        blockchain,
        amount::text,
        value_usd::text,
        from_owner,
        to_owner,
        feed_ts,
        summary,
        social_count,
        analysis,
        inference_ms,
        total_ms,
        delivered,
        error,
        created_at
    FROM deliveries`

	listDeliveriesBetweenSQL = selectDeliveryColumns + `
    WHERE created_at >= $1
      AND created_at < $2
    ORDER BY created_at;`

	listRecentDeliveriesSQL = selectDeliveryColumns + `
    ORDER BY created_at DESC
    LIMIT $1;`

	countDeliveriesSQL = `SELECT COUNT(*) FROM deliveries;`

	deleteDeliveriesBeforeSQL = `DELETE FROM deliveries WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// DeliveryStore records processed alerts.
type DeliveryStore interface {
	InsertDelivery(ctx context.Context, rec DeliveryRecord) error
}

// DeliveryReader backs the show and export commands.
type DeliveryReader interface {
	ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error)
	ListDeliveriesBetween(ctx context.Context, from, to time.Time) ([]DeliveryRecord, error)
	CountDeliveries(ctx context.Context) (int64, error)
}

// DeliveryPruner removes expired audit rows.
type DeliveryPruner interface {
	DeleteDeliveriesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store is the pgx-backed delivery audit log.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the deliveries table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaStatements {
		if _, execErr := pool.Exec(ctx, stmt); execErr != nil {
			return fmt.Errorf("ensure schema: %w", execErr)
		}
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort; the lock is dropped with the session anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertDelivery persists one audit row. Re-inserting an alert id is a no-op.
func (s *Store) InsertDelivery(ctx context.Context, rec DeliveryRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var errMsg any
	if rec.Error != nil {
		errMsg = *rec.Error
	}

	_, execErr := pool.Exec(ctx, insertDeliverySQL,
		rec.AlertID.String(),
		rec.Symbol,
		rec.Blockchain,
		nullableDecimal(rec.Amount),
		nullableDecimal(rec.ValueUSD),
		rec.FromOwner,
		rec.ToOwner,
		rec.FeedTimestamp,
		rec.Summary,
		rec.SocialCount,
		rec.Analysis,
		rec.Inference.Milliseconds(),
		rec.Total.Milliseconds(),
		rec.Delivered,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("insert delivery: %w", execErr)
	}
	return nil
}

// ListDeliveriesBetween lists deliveries created within [from, to).
func (s *Store) ListDeliveriesBetween(ctx context.Context, from, to time.Time) ([]DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDeliveriesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list deliveries between: %w", queryErr)
	}
	return collectDeliveries(rows, 0)
}

// ListRecentDeliveries lists the newest deliveries first.
func (s *Store) ListRecentDeliveries(ctx context.Context, limit int) ([]DeliveryRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentDeliveriesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent deliveries: %w", queryErr)
	}
	return collectDeliveries(rows, limit)
}

// CountDeliveries counts stored deliveries.
func (s *Store) CountDeliveries(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countDeliveriesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count deliveries: %w", scanErr)
	}
	return count, nil
}

// DeleteDeliveriesBefore deletes rows older than the cutoff and reports how many.
func (s *Store) DeleteDeliveriesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteDeliveriesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete deliveries before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectDeliveries(rows pgx.Rows, capacity int) ([]DeliveryRecord, error) {
	defer rows.Close()

	if capacity < 0 {
		capacity = 0
	}
	records := make([]DeliveryRecord, 0, capacity)
	for rows.Next() {
		rec, scanErr := scanDelivery(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanDelivery(rows pgx.Rows) (DeliveryRecord, error) {
	var (
		rec         DeliveryRecord
		alertID     string
		amount      sql.NullString
		valueUSD    sql.NullString
		inferenceMS int64
		totalMS     int64
		errMsg      sql.NullString
	)

	if err := rows.Scan(
		&rec.ID,
		&alertID,
		&rec.Symbol,
		&rec.Blockchain,
		&amount,
		&valueUSD,
		&rec.FromOwner,
		&rec.ToOwner,
		&rec.FeedTimestamp,
		&rec.Summary,
		&rec.SocialCount,
		&rec.Analysis,
		&inferenceMS,
		&totalMS,
		&rec.Delivered,
		&errMsg,
		&rec.CreatedAt,
	); err != nil {
		return DeliveryRecord{}, err
	}

	id, err := uuid.Parse(alertID)
	if err != nil {
		return DeliveryRecord{}, fmt.Errorf("parse alert id: %w", err)
	}
	rec.AlertID = id

	if rec.Amount, err = parseNullDecimal(amount); err != nil {
		return DeliveryRecord{}, fmt.Errorf("parse amount: %w", err)
	}
	if rec.ValueUSD, err = parseNullDecimal(valueUSD); err != nil {
		return DeliveryRecord{}, fmt.Errorf("parse value usd: %w", err)
	}

	rec.Inference = time.Duration(inferenceMS) * time.Millisecond
	rec.Total = time.Duration(totalMS) * time.Millisecond
	if errMsg.Valid {
		msg := errMsg.String
		rec.Error = &msg
	}
	return rec, nil
}

func nullableDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func parseNullDecimal(s sql.NullString) (decimal.NullDecimal, error) {
	if !s.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
