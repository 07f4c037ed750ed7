package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Browser.MaxSessions)
	assert.Equal(t, "callback", cfg.Runner.Strategy)
	assert.Equal(t, 10*time.Second, cfg.Runner.DefaultTestTimeout)
	assert.Equal(t, 1.0, cfg.Runner.TimeoutMultiplier)
	assert.Equal(t, 5*time.Second, cfg.Runner.ExtraTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Runner.PollInterval)
	assert.True(t, cfg.Auth.Enabled)
	assert.Nil(t, cfg.Auth.APIKeys)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HARVEST_PORT", "9090")
	t.Setenv("HARVEST_HEADLESS", "false")
	t.Setenv("HARVEST_STRATEGY", "direct")
	t.Setenv("HARVEST_TIMEOUT_MULTIPLIER", "2.5")
	t.Setenv("HARVEST_EXTRA_TIMEOUT", "1s")
	t.Setenv("HARVEST_API_KEYS", " a, b ,,c ")
	t.Setenv("HARVEST_RATE_BURST", "not-a-number")

	cfg := Load()

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "direct", cfg.Runner.Strategy)
	assert.Equal(t, 2.5, cfg.Runner.TimeoutMultiplier)
	assert.Equal(t, time.Second, cfg.Runner.ExtraTimeout)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Auth.APIKeys)
	assert.Equal(t, 10, cfg.RateLimit.Burst, "malformed values fall back to the default")
}

func TestRunnerConfig_Deadline(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RunnerConfig
		timeout time.Duration
		want    time.Duration
	}{
		{
			name:    "scaled plus extra",
			cfg:     RunnerConfig{TimeoutMultiplier: 2, ExtraTimeout: 5 * time.Second},
			timeout: 10 * time.Second,
			want:    25 * time.Second,
		},
		{
			name:    "default test timeout",
			cfg:     RunnerConfig{DefaultTestTimeout: 3 * time.Second, TimeoutMultiplier: 1},
			timeout: 0,
			want:    3 * time.Second,
		},
		{
			name:    "non-positive multiplier means one",
			cfg:     RunnerConfig{TimeoutMultiplier: 0, ExtraTimeout: time.Second},
			timeout: time.Second,
			want:    2 * time.Second,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Deadline(tt.timeout))
		})
	}
}
