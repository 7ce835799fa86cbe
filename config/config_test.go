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
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.OSC.Port)
	assert.Equal(t, "shaders", cfg.Shaders.Dir)
	assert.Equal(t, 5*time.Second, cfg.Shaders.ReloadInterval)
	assert.False(t, cfg.NATS.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"osc": {"port": 9100},
		"shaders": {"dir": "/opt/shaders", "reload_interval": "10s"},
		"nats": {"enabled": true, "url": "nats://bus:4222", "reconnect_wait": "500ms"},
		"status": {"enabled": true, "port": 8090, "interval": "100ms"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.OSC.Port)
	assert.Equal(t, "/opt/shaders", cfg.Shaders.Dir)
	assert.Equal(t, 10*time.Second, cfg.Shaders.ReloadInterval)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "nats://bus:4222", cfg.NATS.URL)
	assert.Equal(t, 500*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, 100*time.Millisecond, cfg.Status.Interval)

	// Untouched sections keep their defaults.
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.InDelta(t, 0.5, cfg.Audio.OnsetThreshold, 1e-9)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{"osc": {`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `{"shaders": {"reload_interval": "soon"}}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VJUNIVERSE_OSC_PORT", "9200")
	t.Setenv("VJUNIVERSE_SHADER_DIR", "/srv/shaders")
	t.Setenv("VJUNIVERSE_NATS_URL", "nats://env:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9200, cfg.OSC.Port)
	assert.Equal(t, "/srv/shaders", cfg.Shaders.Dir)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.True(t, cfg.NATS.Enabled, "setting a NATS URL enables the bus")
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := writeConfig(t, `{"osc": {"port": 9100}}`)
	t.Setenv("VJUNIVERSE_OSC_PORT", "9300")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.OSC.Port)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"osc port zero", func(c *Config) { c.OSC.Port = 0 }},
		{"osc port too high", func(c *Config) { c.OSC.Port = 70000 }},
		{"empty shader dir", func(c *Config) { c.Shaders.Dir = "" }},
		{"onset threshold out of range", func(c *Config) { c.Audio.OnsetThreshold = 1.5 }},
		{"song style negative", func(c *Config) { c.Audio.SongStyle = -0.1 }},
		{"tick rate zero", func(c *Config) { c.Audio.TickRate = 0 }},
		{"nats enabled without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"port collision", func(c *Config) { c.Status.Port = c.Metrics.Port }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveToFileRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.OSC.Port = 9111
	path := filepath.Join(t.TempDir(), "out.json")

	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9111, loaded.OSC.Port)
}
