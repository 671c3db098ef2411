package storage

import (
	"path/filepath"
	"testing"

	"admission/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory(t *testing.T) {
	factory := NewFactory()

	t.Run("GetSupportedProviders", func(t *testing.T) {
		assert.Equal(t, []string{"json", "memory", "postgres", "sqlite", "redis"}, factory.GetSupportedProviders())
	})

	t.Run("ValidateConfig", func(t *testing.T) {
		tests := []struct {
			name      string
			config    models.StorageConfig
			expectErr bool
		}{
			{"valid json config", models.StorageConfig{Type: "json", Path: "/tmp/test.json"}, false},
			{"json without path", models.StorageConfig{Type: "json"}, true},
			{"valid memory config", models.StorageConfig{Type: "memory"}, false},
			{"sqlite without dsn", models.StorageConfig{Type: "sqlite"}, true},
			{"redis without addr", models.StorageConfig{Type: "redis"}, true},
			{"unsupported type", models.StorageConfig{Type: "mongodb"}, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := factory.ValidateConfig(tt.config)
				if tt.expectErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			})
		}
	})

	t.Run("CreateMemory", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "memory", MaxEvents: 10})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &MemoryStorage{}, s)
	})

	t.Run("CreateJSON", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "json", Path: filepath.Join(t.TempDir(), "events.json")})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &JSONStorage{}, s)
	})

	t.Run("CreateSQLite", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{
			Type:     "sqlite",
			Database: models.DatabaseConfig{DSN: filepath.Join(t.TempDir(), "events.db")},
		})
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &SQLiteStorage{}, s)
	})

	t.Run("CreateFailureReturnsNilInterface", func(t *testing.T) {
		s, err := factory.Create(models.StorageConfig{Type: "postgres"})
		assert.Error(t, err)
		assert.Nil(t, s)
	})

	t.Run("CreateUnsupported", func(t *testing.T) {
		_, err := factory.Create(models.StorageConfig{Type: "mongodb"})
		assert.Error(t, err)
	})
}
