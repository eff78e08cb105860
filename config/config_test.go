package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	w, err := ParseWindow("09:00-21:00")
	require.NoError(t, err)
	assert.Equal(t, 540, w.StartMin)
	assert.Equal(t, 1260, w.EndMin)

	_, err = ParseWindow("21:00-09:00")
	assert.Error(t, err, "end before start must be rejected")

	_, err = ParseWindow("09:00")
	assert.Error(t, err)

	_, err = ParseWindow("25:00-26:00")
	assert.Error(t, err)
}

func TestDefaults(t *testing.T) {
	cfg, err := LoadFromFile("")
	require.NoError(t, err)

	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5, cfg.Scheduler.DailyQuota)
	assert.Equal(t, []string{"09:00-21:00"}, cfg.Scheduler.Windows)
	assert.False(t, cfg.Safety.SafeMode)
	assert.Equal(t, 10, cfg.RateLimit.Scopes["ai"].MaxRequests)
	assert.Equal(t, 900_000, cfg.RateLimit.Scopes["login"].WindowMs)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governor.toml")
	content := `
[scheduler]
daily_quota = 12
windows = ["06:30-08:00", "18:00-22:00"]

[safety]
safe_mode = true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Scheduler.DailyQuota)
	assert.True(t, cfg.Safety.SafeMode)

	windows, err := cfg.Scheduler.ParsedWindows()
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, 390, windows[0].StartMin)
	assert.Equal(t, 1320, windows[1].EndMin)
}

func TestLoadFromFileRejectsBadWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "governor.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scheduler]\nwindows = [\"21:00-09:00\"]\n"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestSafetySource(t *testing.T) {
	source := NewSafetySource(Safety{})
	assert.False(t, source.Current().SafeMode)

	source.Set(Safety{SafeMode: true, FeatureFreeze: true})
	snap := source.Current()
	assert.True(t, snap.SafeMode)
	assert.True(t, snap.FeatureFreeze)
}
