package storage

import (
	"context"
	"time"

	"admission/internal/models"
)

// Storage defines the interface for audit event persistence and retrieval.
// It provides a clean abstraction that can be implemented by different backends
// such as JSON files, databases, or Redis.
type Storage interface {
	// RecordEvent appends an audit event
	RecordEvent(ctx context.Context, event *models.AuditEvent) error

	// ListEvents returns events matching filter, newest first
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.AuditEvent, error)

	// Ping verifies the backend is reachable
	Ping(ctx context.Context) error

	// Close closes the storage connection and cleans up resources
	Close() error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (json, memory, sqlite, ...)
	Type string `json:"type" yaml:"type"`

	// Path is used for file-based storage backends
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	// Pool sizing for the postgres backend; zero keeps the driver default
	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`

	// MaxEvents caps retained events; zero keeps everything
	MaxEvents int `json:"max_events,omitempty" yaml:"max_events,omitempty"`

	// Redis settings for the redis backend
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"-" yaml:"-"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	RedisKey      string `json:"redis_key,omitempty" yaml:"redis_key,omitempty"`
}
