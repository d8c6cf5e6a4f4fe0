package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"APP_ENV", "API_ADDR", "STORAGE_DRIVER", "DATABASE_URL",
		"SQLITE_PATH", "KAFKA_BROKERS", "KAFKA_TOPIC", "OPERATION_TIMEOUT",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "transaction_completed", cfg.KafkaTopic)
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://ledger:secret@db:5432/ledger")
	t.Setenv("KAFKA_BROKERS", "broker-1:9092, broker-2:9092")
	t.Setenv("OPERATION_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.OperationTimeout)
}

func TestTimeoutAcceptsBareSeconds(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("APP_ENV", "development")
	t.Setenv("OPERATION_TIMEOUT", "15")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.OperationTimeout)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "postgres requires url",
			cfg:     Config{StorageDriver: "postgres", OperationTimeout: time.Second},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "memory forbidden in production",
			cfg:     Config{Environment: "production", StorageDriver: "memory", OperationTimeout: time.Second},
			wantErr: "not allowed in production",
		},
		{
			name:    "unknown driver",
			cfg:     Config{StorageDriver: "oracle", OperationTimeout: time.Second},
			wantErr: "STORAGE_DRIVER must be one of",
		},
		{
			name:    "timeout must be positive",
			cfg:     Config{StorageDriver: "memory", OperationTimeout: 0},
			wantErr: "OPERATION_TIMEOUT",
		},
		{
			name: "valid sqlite",
			cfg:  Config{StorageDriver: "sqlite", SQLitePath: "ledger.db", OperationTimeout: time.Second},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
