package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amirphl/snowflake-id/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, utils.BackendPostgresSequence, cfg.Snowflake.Backend)
	assert.True(t, cfg.Snowflake.Epoch.Equal(utils.DefaultEpoch))
	assert.Equal(t, "_id_seq", cfg.Snowflake.CounterSuffix)
	assert.Equal(t, utils.DefaultProvisionConcurrency, cfg.Snowflake.ProvisionConcurrency)
	assert.True(t, cfg.Snowflake.ProvisionOnStart)
	assert.False(t, cfg.Snowflake.LazyProvision)
	assert.Zero(t, cfg.Snowflake.ProvisionInterval)
	assert.Empty(t, cfg.Snowflake.Entities)
	assert.True(t, cfg.UsesDatabase())
	assert.False(t, cfg.UsesRedis())
	assert.Equal(t, "host=localhost port=5432 user=postgres password= dbname=postgres sslmode=disable", cfg.Database.DSN())
}

func TestLoadConfigSnowflakeSection(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", testSecret)
	t.Setenv("SNOWFLAKE_BACKEND", "redis")
	t.Setenv("SNOWFLAKE_EPOCH", "2015-06-01")
	t.Setenv("SNOWFLAKE_ENTITIES", "orders, users,orders,,posts")
	t.Setenv("SNOWFLAKE_LAZY_PROVISION", "true")
	t.Setenv("SNOWFLAKE_PROVISION_INTERVAL", "5m")
	t.Setenv("DB_HOST", "")
	t.Setenv("DB_NAME", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, utils.BackendRedis, cfg.Snowflake.Backend)
	assert.True(t, cfg.Snowflake.Epoch.Equal(time.Date(2015, 6, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []string{"orders", "users", "posts"}, cfg.Snowflake.Entities)
	assert.True(t, cfg.Snowflake.LazyProvision)
	assert.Equal(t, 5*time.Minute, cfg.Snowflake.ProvisionInterval)
	assert.False(t, cfg.UsesDatabase())
	assert.True(t, cfg.UsesRedis())
}

func TestGetEnvTime(t *testing.T) {
	fallback := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		value   string
		want    time.Time
		wantErr bool
	}{
		{value: "", want: fallback},
		{value: "2021-03-04T05:06:07Z", want: time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)},
		{value: "2021-03-04T08:36:07+03:30", want: time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)},
		{value: "2019-12-31", want: time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC)},
		{value: "1288834974657", want: time.UnixMilli(1288834974657).UTC()},
		{value: "not a time", wantErr: true},
		{value: "2015-01-01 00:00:00", wantErr: true},
		{value: "2015-01-01T00:00:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TEST_EPOCH", tt.value)
			got, err := getEnvTime("TEST_EPOCH", fallback)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "TEST_EPOCH")
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want))
		})
	}
}

func TestLoadConfigRejectsUnparsableEpoch(t *testing.T) {
	for _, value := range []string{"2015-01-01 00:00:00", "2015-01-01T00:00:00", "yesterday"} {
		t.Run(value, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", testSecret)
			t.Setenv("SNOWFLAKE_EPOCH", value)

			cfg, err := LoadConfig()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "SNOWFLAKE_EPOCH")
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "UnknownBackend",
			env:     map[string]string{"SNOWFLAKE_BACKEND": "mysql"},
			wantErr: "SNOWFLAKE_BACKEND",
		},
		{
			name:    "FutureEpoch",
			env:     map[string]string{"SNOWFLAKE_EPOCH": "2999-01-01"},
			wantErr: "SNOWFLAKE_EPOCH",
		},
		{
			name:    "ExhaustedEpoch",
			env:     map[string]string{"SNOWFLAKE_EPOCH": "1950-01-01"},
			wantErr: "too old",
		},
		{
			name:    "InvalidEntity",
			env:     map[string]string{"SNOWFLAKE_ENTITIES": "orders,bad-name"},
			wantErr: "bad-name",
		},
		{
			name:    "InvalidSuffix",
			env:     map[string]string{"SNOWFLAKE_COUNTER_SUFFIX": "-seq"},
			wantErr: "SNOWFLAKE_COUNTER_SUFFIX",
		},
		{
			name:    "ZeroConcurrency",
			env:     map[string]string{"SNOWFLAKE_PROVISION_CONCURRENCY": "0"},
			wantErr: "SNOWFLAKE_PROVISION_CONCURRENCY",
		},
		{
			name:    "ShortSecret",
			env:     map[string]string{"JWT_SECRET_KEY": "short"},
			wantErr: "JWT_SECRET_KEY",
		},
		{
			name:    "ProductionWithoutPassword",
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "DB_PASSWORD",
		},
		{
			name:    "BadLogOutput",
			env:     map[string]string{"LOG_OUTPUT": "syslog"},
			wantErr: "LOG_OUTPUT",
		},
		{
			name: "AdminAPIDisabledNeedsNoSecret",
			env:  map[string]string{"JWT_SECRET_KEY": "", "SERVER_ENABLE_ADMIN_API": "false"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET_KEY", testSecret)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nSNOWFLAKE_TEST_A=alpha\nSNOWFLAKE_TEST_B=\"quoted value\"\nSNOWFLAKE_TEST_C=from-file\nnot a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SNOWFLAKE_TEST_A", "")
	t.Setenv("SNOWFLAKE_TEST_B", "")
	t.Setenv("SNOWFLAKE_TEST_C", "from-env")

	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "alpha", os.Getenv("SNOWFLAKE_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("SNOWFLAKE_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("SNOWFLAKE_TEST_C"))

	assert.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
