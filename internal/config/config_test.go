package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/art-gallery/api-go/internal/compositor"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ART_CONFIG", "")
	t.Setenv("ART_PERIOD_MODE", "")
	t.Setenv("ART_MAX_ATTEMPTS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", cfg.Addr)
	assert.Equal(t, string(compositor.PeriodSince), cfg.PeriodMode)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Backoff)
	assert.Equal(t, "INR", cfg.Currency)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "art.yaml")
	body := "period_mode: age\nmax_attempts: 5\nbackoff: 250ms\nredis_addr: localhost:6379\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	t.Setenv("ART_CONFIG", path)
	t.Setenv("ART_MAX_ATTEMPTS", "2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, string(compositor.PeriodAge), cfg.PeriodMode)
	assert.Equal(t, 2, cfg.MaxAttempts, "env overrides file")
	assert.Equal(t, 250*time.Millisecond, cfg.Backoff)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoad_InvalidPeriodMode(t *testing.T) {
	t.Setenv("ART_CONFIG", "")
	t.Setenv("ART_PERIOD_MODE", "decade")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "period mode")
}

func TestLoad_BadNumber(t *testing.T) {
	t.Setenv("ART_CONFIG", "")
	t.Setenv("ART_MAX_ATTEMPTS", "three")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ART_MAX_ATTEMPTS")
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV(" a, ,b ,"))
}

func TestLoad_RelayAllowPrivate(t *testing.T) {
	t.Setenv("ART_CONFIG", "")
	t.Setenv("ART_RELAY_ALLOW_PRIVATE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RelayAllowPrivate)

	t.Setenv("ART_RELAY_ALLOW_PRIVATE", "maybe")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ART_RELAY_ALLOW_PRIVATE")
}

func TestValidate_PeriodModesMatchCompositor(t *testing.T) {
	for _, mode := range []string{"since", "age", "decade", "Since"} {
		cfg := Defaults()
		cfg.PeriodMode = mode
		_, parseErr := compositor.ParsePeriodMode(mode)
		assert.Equal(t, parseErr == nil, cfg.Validate() == nil, mode)
	}
}
