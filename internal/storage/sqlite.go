package storage

import (
	"context"
	"database/sql"
	"fmt"

	"admission/internal/models"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL DEFAULT '',
	until_ns   INTEGER NOT NULL DEFAULT 0,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_ns INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON audit_events (created_ns);
CREATE INDEX IF NOT EXISTS idx_audit_events_subject ON audit_events (subject);
`

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database using the pure-Go modernc driver.
type SQLiteStorage struct {
	db        *sql.DB
	maxEvents int
}

// NewSQLiteStorage creates a new SQLite storage instance and ensures the schema exists
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStorage{
		db:        db,
		maxEvents: config.MaxEvents,
	}, nil
}

// RecordEvent inserts event and prunes rows beyond the retention cap
func (ss *SQLiteStorage) RecordEvent(ctx context.Context, event *models.AuditEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}

	metadata, err := marshalMetadata(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, kind, subject, reason, actor, until_ns, metadata, created_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Kind, event.Subject, event.Reason, event.Actor,
		timeToUnixNano(event.Until), string(metadata), timeToUnixNano(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	if ss.maxEvents > 0 {
		_, err = ss.db.ExecContext(ctx,
			`DELETE FROM audit_events WHERE rowid NOT IN (
				SELECT rowid FROM audit_events ORDER BY created_ns DESC, rowid DESC LIMIT ?
			)`, ss.maxEvents)
		if err != nil {
			return fmt.Errorf("failed to prune events: %w", err)
		}
	}

	return nil
}

// ListEvents returns events matching filter, newest first
func (ss *SQLiteStorage) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error) {
	where, args := eventWhere(filter, func(int) string { return "?" })
	args = append(args, filter.EffectiveLimit())

	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, kind, subject, reason, actor, until_ns, metadata, created_ns
		 FROM audit_events`+where+` ORDER BY created_ns DESC, rowid DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var (
			e                  models.AuditEvent
			untilNs, createdNs int64
			metadata           string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Reason, &e.Actor, &untilNs, &metadata, &createdNs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Until = unixNanoToTime(untilNs)
		e.CreatedAt = unixNanoToTime(createdNs)
		if e.Metadata, err = unmarshalMetadata([]byte(metadata)); err != nil {
			return nil, fmt.Errorf("failed to convert event %s: %w", e.ID, err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, nil
}

func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the storage connection
func (ss *SQLiteStorage) Close() error {
	return ss.db.Close()
}
