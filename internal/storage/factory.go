package storage

import (
	"fmt"

	"admission/internal/models"
)

// Factory provides a centralized way to create storage instances based on configuration.
// This allows for easy extensibility and provider swapping without code changes.
type Factory struct{}

// NewFactory creates a new storage factory
func NewFactory() *Factory {
	return &Factory{}
}

// Create instantiates a storage provider based on the provided configuration.
// Supported providers:
//   - json: JSON file-based storage
//   - memory: In-memory storage (default)
//   - postgres: PostgreSQL database storage
//   - sqlite: SQLite database storage
//   - redis: Redis list shared between instances
func (f *Factory) Create(config models.StorageConfig) (Storage, error) {
	storageConfig := Config{
		Type:             config.Type,
		Path:             config.Path,
		ConnectionString: config.Database.DSN,
		MaxOpenConns:     config.Database.MaxOpenConns,
		MaxIdleConns:     config.Database.MaxIdleConns,
		ConnMaxLifetime:  config.Database.ConnMaxLifetime,
		MaxEvents:        config.MaxEvents,
		RedisAddr:        config.Redis.Addr,
		RedisPassword:    config.Redis.Password,
		RedisDB:          config.Redis.DB,
		RedisKey:         config.Redis.Key,
	}

	var (
		store Storage
		err   error
	)
	switch config.Type {
	case models.StorageTypeJSON:
		store, err = asStorage(NewJSONStorage(storageConfig))
	case models.StorageTypeMemory:
		store, err = asStorage(NewMemoryStorage(storageConfig))
	case models.StorageTypePostgres:
		store, err = asStorage(NewPostgresStorage(storageConfig))
	case models.StorageTypeSQLite:
		store, err = asStorage(NewSQLiteStorage(storageConfig))
	case models.StorageTypeRedis:
		store, err = asStorage(NewRedisStorage(storageConfig))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s storage: %w", config.Type, err)
	}
	return store, nil
}

// asStorage keeps a failed constructor's typed nil pointer out of the
// Storage interface.
func asStorage[S Storage](s S, err error) (Storage, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSupportedProviders returns a list of all supported storage provider types
func (f *Factory) GetSupportedProviders() []string {
	return []string{
		models.StorageTypeJSON,
		models.StorageTypeMemory,
		models.StorageTypePostgres,
		models.StorageTypeSQLite,
		models.StorageTypeRedis,
	}
}

// ValidateConfig validates that a storage configuration is valid for its type
func (f *Factory) ValidateConfig(config models.StorageConfig) error {
	return config.Validate()
}
