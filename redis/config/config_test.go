package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"REDIS_URL", "REDIS_HOST", "REDIS_PORT", "REDIS_DB", "REDIS_PASSWORD",
		"REDIS_WORKERS", "REDIS_TASK_TIMEOUT", "REDIS_RETENTION_DAYS",
	} {
		t.Setenv(k, "")
	}
}

func TestNewRedisConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := NewRedisConfig()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Zero(t, cfg.DB)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 3*time.Hour, cfg.TaskTimeout)
	assert.Equal(t, 7*24*time.Hour, cfg.RetentionPeriod)
	assert.Equal(t, DefaultQueuePriorities, cfg.QueuePriorities)
}

func TestNewRedisConfigFromURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_URL", "redis://:secret@cache.internal:6380/2")

	cfg, err := NewRedisConfig()
	require.NoError(t, err)

	assert.Equal(t, "cache.internal:6380", cfg.GetRedisAddr())
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 2, cfg.DB)

	opt := cfg.AsynqOpt()
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, 2, opt.DB)
}

func TestNewRedisConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port not a number", map[string]string{"REDIS_PORT": "abc"}},
		{"port out of range", map[string]string{"REDIS_PORT": "70000"}},
		{"db out of range", map[string]string{"REDIS_DB": "16"}},
		{"too many workers", map[string]string{"REDIS_WORKERS": "1000"}},
		{"bad timeout", map[string]string{"REDIS_TASK_TIMEOUT": "soon"}},
		{"bad retention", map[string]string{"REDIS_RETENTION_DAYS": "0"}},
		{"bad url db", map[string]string{"REDIS_URL": "redis://localhost:6379/x"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)

			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := NewRedisConfig()
			assert.Error(t, err)
		})
	}
}

func TestGetRedisAddrIPv6(t *testing.T) {
	cfg := RedisConfig{Host: "::1", Port: 6379}
	assert.Equal(t, "[::1]:6379", cfg.GetRedisAddr())
}
