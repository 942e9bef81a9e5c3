package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
	"token": "bot-token",
	"updateChannel": "1234",
	"trustedUsers": ["111", "222"],
	"printUpdateFreq": 300,
	"printers": [
		{"id": "mk3", "name": "Prusa", "url": "http://10.0.0.5", "auth": "pi:session"},
		{"id": "ender", "url": "https://ender.local/octoprint"}
	],
	"log": {"level": "debug", "dev": true}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "OctoPrintControl.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(newViper(writeConfig(t, sampleConfig)))
	require.NoError(t, err)

	assert.Equal(t, "bot-token", cfg.Token)
	assert.Equal(t, "1234", cfg.UpdateChannel)
	assert.Equal(t, []string{"111", "222"}, cfg.TrustedUsers)
	assert.Equal(t, 5*time.Minute, cfg.updateInterval())
	require.Len(t, cfg.Printers, 2)
	assert.Equal(t, PrinterConfig{ID: "mk3", Name: "Prusa", URL: "http://10.0.0.5", Auth: "pi:session"}, cfg.Printers[0])
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Dev)
	assert.Equal(t, 10, cfg.Log.MaxSize, "default applies")
}

func TestLoadConfig_Defaults(t *testing.T) {
	body := `{"token":"t","updateChannel":"c","printers":[{"id":"p","url":"http://p"}]}`
	cfg, err := loadConfig(newViper(writeConfig(t, body)))
	require.NoError(t, err)

	assert.Equal(t, defaultPrintUpdateFreq, cfg.PrintUpdateFreq)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.TrustedUsers)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("OPC_TOKEN", "from-env")
	t.Setenv("OPC_LOG_LEVEL", "warn")

	cfg, err := loadConfig(newViper(writeConfig(t, sampleConfig)))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Token)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(newViper(filepath.Join(t.TempDir(), "nope.json")))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Token:         "t",
		UpdateChannel: "c",
		Printers:      []PrinterConfig{{ID: "a", URL: "http://a"}},
	}
	require.NoError(t, valid.validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no token", func(c *Config) { c.Token = "" }},
		{"no update channel", func(c *Config) { c.UpdateChannel = "" }},
		{"no printers", func(c *Config) { c.Printers = nil }},
		{"printer without url", func(c *Config) { c.Printers = []PrinterConfig{{ID: "a"}} }},
		{"duplicate id", func(c *Config) {
			c.Printers = []PrinterConfig{{ID: "a", URL: "http://a"}, {ID: "a", URL: "http://b"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.Printers = append([]PrinterConfig(nil), valid.Printers...)
			tt.mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestSettings(t *testing.T) {
	s := newSettings(Config{TrustedUsers: []string{"111"}, PrintUpdateFreq: 30})
	assert.True(t, s.Trusted("111"))
	assert.False(t, s.Trusted("222"))
	assert.Equal(t, 30*time.Second, s.UpdateEvery())

	s.apply(Config{TrustedUsers: []string{"222"}})
	assert.False(t, s.Trusted("111"))
	assert.True(t, s.Trusted("222"))
	assert.Equal(t, defaultPrintUpdateFreq*time.Second, s.UpdateEvery(), "non-positive frequency falls back")
}
