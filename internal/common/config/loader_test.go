package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// ==========================
// Defaults
// ==========================

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: engine-test
workers:
  execute-contract:
    enabled: true
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "engine-test", cfg.App.Name)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, QueueMemory, cfg.Scheduler.Driver)
	assert.Equal(t, 4, cfg.Scheduler.Workers)
	assert.Equal(t, 100, cfg.Scheduler.MaxAttempts)
	assert.Equal(t, 1000.0, cfg.Risk.HighAmount)
	assert.Equal(t, 0.3, cfg.Risk.PatternDefault)
	assert.Equal(t, 24*time.Hour, GetDuration(cfg.Risk.FrequencyWindow))
	assert.Equal(t, "info", cfg.Logging.Level)

	wc := GetWorkerConfig(cfg, "execute-contract")
	assert.True(t, wc.Enabled)
	assert.Equal(t, 5, wc.MaxJobsActive)
	assert.Equal(t, 30000, wc.Timeout)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("TEST_PG_HOST", "db.internal")
	path := writeConfig(t, `
storage:
  driver: postgres
database:
  postgres:
    host: ${TEST_PG_HOST}
    database: settlement
    user: engine
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Postgres.Host)
	assert.Contains(t, cfg.Database.Postgres.GetDSN(), "host=db.internal port=5432")
}

// ==========================
// Validation
// ==========================

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "postgres without host",
			body:    "storage:\n  driver: postgres\n",
			wantErr: "database.postgres.host is required",
		},
		{
			name:    "redis queue without address",
			body:    "scheduler:\n  driver: redis\n",
			wantErr: "database.redis.address is required",
		},
		{
			name:    "unknown storage driver",
			body:    "storage:\n  driver: mongo\n",
			wantErr: "storage.driver",
		},
		{
			name:    "audit without elasticsearch",
			body:    "audit:\n  enabled: true\n",
			wantErr: "elasticsearch.addresses",
		},
		{
			name:    "descending thresholds",
			body:    "risk:\n  high_amount: 50\n",
			wantErr: "ascending",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsWorkerEnabled(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{"loan-repayment": {Enabled: false}}}
	assert.False(t, IsWorkerEnabled(cfg, "loan-repayment"))
	assert.True(t, IsWorkerEnabled(cfg, "execute-contract"))
}
