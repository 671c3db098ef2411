package storage

import (
	"context"
	"fmt"
	"time"

	"admission/internal/models"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	reason     TEXT,
	actor      TEXT,
	until      TIMESTAMPTZ,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject);
`

// PostgresStorage implements the Storage interface using a pgx connection pool.
type PostgresStorage struct {
	pool      *pgxpool.Pool
	maxEvents int
}

// NewPostgresStorage creates a new PostgreSQL storage instance.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(min(config.MaxIdleConns, int(poolConfig.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &PostgresStorage{
		pool:      pool,
		maxEvents: config.MaxEvents,
	}, nil
}

// RecordEvent inserts event and prunes rows beyond the retention cap.
func (ps *PostgresStorage) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = ps.pool.Exec(ctx,
		`INSERT INTO audit_events (id, kind, subject, reason, actor, until, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		event.ID, event.Kind, event.Subject,
		stringToPgText(event.Reason), stringToPgText(event.Actor),
		timeToPgTimestamptz(event.Until), metadata, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if ps.maxEvents > 0 {
		_, err = ps.pool.Exec(ctx,
			`DELETE FROM audit_events WHERE seq <= (
				SELECT seq FROM audit_events ORDER BY seq DESC OFFSET $1 LIMIT 1
			)`, ps.maxEvents)
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
	}

	return nil
}

// ListEvents returns events matching filter, newest first.
func (ps *PostgresStorage) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	where, args := eventWhere(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	args = append(args, filter.EffectiveLimit())

	rows, err := ps.pool.Query(ctx,
		`SELECT id, kind, subject, reason, actor, until, metadata, created_at
		 FROM audit_events`+where+fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT $%d`, len(args)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var (
			e             models.AuditEvent
			reason, actor pgtype.Text
			until         pgtype.Timestamptz
			metadata      []byte
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &reason, &actor, &until, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Reason = pgTextToString(reason)
		e.Actor = pgTextToString(actor)
		if until.Valid {
			e.Until = until.Time.UTC()
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if e.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, fmt.Errorf("failed to convert event %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

// Ping verifies the database connection is alive.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func pgTextToString(t pgtype.Text) string {
	if t.Valid {
		return t.String
	}
	return ""
}

func stringToPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func timeToPgTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}
