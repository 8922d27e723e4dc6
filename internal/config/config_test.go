package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexKimmel/rtlmtr/internal/ratelimit"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Policy{Capacity: 100, RefillPeriod: time.Minute}, cfg.Limits.Policy())
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.Equal(t, 64, cfg.Store.Shards)
	assert.False(t, cfg.Store.Sweep.Enabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"CAPACITY":      "10",
		"REFILL_PERIOD": "10",
		"PORT":          "8081",
		"LOG_LEVEL":     "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, ratelimit.Policy{Capacity: 10, RefillPeriod: 10 * time.Second}, cfg.Limits.Policy())
	assert.Equal(t, ":8081", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestFromEnv_RefillPeriodForms(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want time.Duration
	}{
		{"seconds", map[string]string{"REFILL_PERIOD": "30"}, 30 * time.Second},
		{"duration string", map[string]string{"REFILL_PERIOD": "1500ms"}, 1500 * time.Millisecond},
		{"legacy name", map[string]string{"REFILL_PERIOD_SECONDS": "5"}, 5 * time.Second},
		{"new name wins", map[string]string{"REFILL_PERIOD_SECONDS": "5", "REFILL_PERIOD": "7"}, 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(env(tt.vars))
			require.NoError(t, err)
			assert.Equal(t, tt.want, time.Duration(cfg.Limits.RefillPeriod))
		})
	}
}

func TestFromEnv_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		vars  map[string]string
		field string
	}{
		{"non-numeric capacity", map[string]string{"CAPACITY": "abc"}, "CAPACITY"},
		{"empty capacity", map[string]string{"CAPACITY": ""}, "CAPACITY"},
		{"zero capacity", map[string]string{"CAPACITY": "0"}, "capacity"},
		{"negative capacity", map[string]string{"CAPACITY": "-5"}, "capacity"},
		{"zero refill period", map[string]string{"REFILL_PERIOD": "0"}, "refill_period"},
		{"negative refill period", map[string]string{"REFILL_PERIOD": "-10"}, "refill_period"},
		{"non-numeric refill period", map[string]string{"REFILL_PERIOD": "soon"}, "REFILL_PERIOD"},
		{"huge refill period", map[string]string{"REFILL_PERIOD": "99999999999999"}, "REFILL_PERIOD"},
		{"bad port", map[string]string{"PORT": "http"}, "PORT"},
		{"port out of range", map[string]string{"PORT": "70000"}, "PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := FromEnv(env(tt.vars))
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.ErrorIs(t, err, ErrInvalid)

			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestFromEnv_ValidationKeepsCause(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"REFILL_PERIOD": "0"}))
	assert.ErrorIs(t, err, ratelimit.ErrRefillPeriod)
}

func TestFromEnv_File(t *testing.T) {
	path := writeFile(t, `
server:
  addr: ":9000"
limits:
  capacity: 25
  refill_period: 2m
store:
  shards: 1
  sweep:
    enabled: true
    idle_periods: 2
    interval_ms: 500
observability:
  log_level: warn
`)

	cfg, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, ratelimit.Policy{Capacity: 25, RefillPeriod: 2 * time.Minute}, cfg.Limits.Policy())
	assert.Equal(t, 1, cfg.Store.Shards)
	assert.True(t, cfg.Store.Sweep.Enabled)
	assert.Equal(t, 4*time.Minute, cfg.SweepIdle())
	assert.Equal(t, 500*time.Millisecond, cfg.SweepInterval())
	assert.Equal(t, "warn", cfg.Observability.LogLevel)
	assert.Equal(t, "/_/metrics", cfg.Observability.PrometheusPath, "unset keys keep defaults")

	cfg, err = FromEnv(env(map[string]string{"CONFIG_FILE": path, "CAPACITY": "3", "PORT": "3001"}))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Limits.Capacity, "env wins over file")
	assert.Equal(t, ":3001", cfg.Server.Addr)
}

func TestFromEnv_FileErrors(t *testing.T) {
	t.Run("explicit file missing", func(t *testing.T) {
		_, err := FromEnv(env(map[string]string{"CONFIG_FILE": filepath.Join(t.TempDir(), "nope.yaml")}))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "limits:\n  refill_period: whenever\n")
		_, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		assert.Error(t, err)
	})
	t.Run("explicit zero capacity", func(t *testing.T) {
		path := writeFile(t, "limits:\n  capacity: 0\n")
		_, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		assert.ErrorIs(t, err, ratelimit.ErrCapacity)
	})
	t.Run("zero shards", func(t *testing.T) {
		path := writeFile(t, "store:\n  shards: 0\n")
		_, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		assert.ErrorIs(t, err, ErrInvalid)
	})
	t.Run("sweep idle time overflows", func(t *testing.T) {
		path := writeFile(t, "limits:\n  refill_period: 1000000h\nstore:\n  sweep:\n    enabled: true\n    idle_periods: 3\n")
		cfg, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		assert.Nil(t, cfg)
		assert.ErrorIs(t, err, ErrInvalid)

		var cerr *Error
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "store.sweep.idle_periods", cerr.Field)
	})
	t.Run("long idle time that fits", func(t *testing.T) {
		path := writeFile(t, "limits:\n  refill_period: 1000000h\nstore:\n  sweep:\n    enabled: true\n    idle_periods: 2\n")
		cfg, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		require.NoError(t, err)
		assert.Equal(t, 2000000*time.Hour, cfg.SweepIdle())
	})
	t.Run("sweep without idle periods", func(t *testing.T) {
		path := writeFile(t, "store:\n  sweep:\n    enabled: true\n    idle_periods: 0\n")
		_, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestFromEnv_PrometheusPath(t *testing.T) {
	tests := []struct {
		path string
		ok   bool
	}{
		{"/_/metrics", true},
		{"/_/prom/metrics", true},
		{`""`, true},
		{"/metrics", false},
		{"/_/", false},
		{"metrics", false},
		{"/_/health", false},
		{"/_/version", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path := writeFile(t, "observability:\n  prometheus_path: "+tt.path+"\n")
			_, err := FromEnv(env(map[string]string{"CONFIG_FILE": path}))
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var cerr *Error
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, "observability.prometheus_path", cerr.Field)
		})
	}
}

func TestServerTimeouts(t *testing.T) {
	var s Server
	assert.Equal(t, 5*time.Second, s.ReadTimeout())
	assert.Equal(t, 10*time.Second, s.WriteTimeout())
	assert.Equal(t, 60*time.Second, s.IdleTimeout())

	s = Server{ReadTimeoutMS: 100, WriteTimeoutMS: 200, IdleTimeoutMS: 300}
	assert.Equal(t, 100*time.Millisecond, s.ReadTimeout())
	assert.Equal(t, 200*time.Millisecond, s.WriteTimeout())
	assert.Equal(t, 300*time.Millisecond, s.IdleTimeout())
}
