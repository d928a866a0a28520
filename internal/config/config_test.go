package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(5_000_000_000), cfg.Service.ReservedSpace)
	assert.Equal(t, int64(1_000_000_000), cfg.Service.DefaultMinSize)
	assert.Equal(t, 5000, cfg.Web.Port)
	assert.Equal(t, BackendLocal, cfg.Client.Backend)
	assert.Equal(t, time.Second, cfg.Popup.ResumeCloseDelay)
	assert.Equal(t, 2*time.Second, cfg.Popup.ErrorCloseDelay)
	assert.Equal(t, "com.storage_checker", cfg.Native.Name)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
service:
  reserved_space: 1024
  gb_unit: binary
web:
  port: 6000
client:
  backend: http
  base_url: http://localhost:6000
popup:
  resume_close_delay: 250ms
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(1024), cfg.Service.ReservedSpace)
	assert.Equal(t, UnitBinary, cfg.Service.GBUnit)
	assert.Equal(t, 6000, cfg.Web.Port)
	assert.Equal(t, BackendHTTP, cfg.Client.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Popup.ResumeCloseDelay)
	// untouched keys keep their defaults
	assert.Equal(t, int64(1_000_000_000), cfg.Service.DefaultMinSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client:\n  backend: carrier-pigeon\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative reserve", func(c *Config) { c.Service.ReservedSpace = -1 }},
		{"zero default size", func(c *Config) { c.Service.DefaultMinSize = 0 }},
		{"bad unit", func(c *Config) { c.Service.GBUnit = "nibble" }},
		{"bad port", func(c *Config) { c.Web.Port = 70000 }},
		{"http without url", func(c *Config) {
			c.Client.Backend = BackendHTTP
			c.Client.BaseURL = ""
		}},
		{"empty host name", func(c *Config) { c.Native.Name = "" }},
		{"empty store", func(c *Config) { c.Store.Path = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGBDivisor(t *testing.T) {
	assert.Equal(t, 1e9, Service{GBUnit: UnitDecimal}.GBDivisor())
	assert.Equal(t, float64(1<<30), Service{GBUnit: UnitBinary}.GBDivisor())
}
