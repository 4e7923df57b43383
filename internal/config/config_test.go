// File: internal/config/config_test.go
package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "metafill", cfg.Logger.ServiceName)
	assert.Equal(t, "green", cfg.Logger.Colors.Info)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.Timeout)

	assert.Equal(t, "arabsstock:", cfg.Injector.Namespace)
	assert.Equal(t, 500*time.Millisecond, cfg.Injector.Watcher.PollInterval)
	assert.Equal(t, time.Second, cfg.Injector.Watcher.SettleDelay)
	assert.Contains(t, cfg.Injector.Vocabulary.MarkerClasses, "upload-form")

	assert.Equal(t, "http://localhost:5000/api", cfg.Inference.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Inference.HealthTimeout)

	assert.True(t, cfg.Background.AutoFillEnabled)
	assert.True(t, cfg.Background.NotificationsEnabled)
	assert.False(t, cfg.Background.ArabicPriority)
	assert.Equal(t, 30*time.Second, cfg.Background.HealthInterval)

	assert.Equal(t, []string{"/warehouse", "/upload", "/edit"}, cfg.Content.UploadPathPatterns)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"relative base url", func(c *Config) { c.Inference.BaseURL = "/api" }, "inference.base_url"},
		{"non http base url", func(c *Config) { c.Inference.BaseURL = "ftp://host/api" }, "inference.base_url"},
		{"zero health timeout", func(c *Config) { c.Inference.HealthTimeout = 0 }, "inference.health_timeout"},
		{"negative rate limit", func(c *Config) { c.Inference.RateLimit = -1 }, "inference.rate_limit"},
		{"zero health interval", func(c *Config) { c.Background.HealthInterval = 0 }, "background.health_interval"},
		{"zero poll interval", func(c *Config) { c.Injector.Watcher.PollInterval = 0 }, "injector.watcher.poll_interval"},
		{"slow poll interval", func(c *Config) { c.Injector.Watcher.PollInterval = 2 * time.Second }, "injector.watcher.poll_interval"},
		{"negative settle delay", func(c *Config) { c.Injector.Watcher.SettleDelay = -time.Second }, "injector.watcher.settle_delay"},
		{"namespace without colon", func(c *Config) { c.Injector.Namespace = "arabsstock" }, "injector.namespace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("YAML overrides defaults", func(t *testing.T) {
		yamlBytes := []byte(`
inference:
  base_url: "http://inference.internal:8080/api"
  rate_limit: 2.5
injector:
  watcher:
    settle_delay: 250ms
background:
  arabic_priority: true
content:
  upload_path_patterns: ["/contribute"]
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "http://inference.internal:8080/api", cfg.Inference.BaseURL)
		assert.Equal(t, 2.5, cfg.Inference.RateLimit)
		assert.Equal(t, 250*time.Millisecond, cfg.Injector.Watcher.SettleDelay)
		assert.True(t, cfg.Background.ArabicPriority)
		assert.Equal(t, []string{"/contribute"}, cfg.Content.UploadPathPatterns)
		// Untouched keys keep their defaults.
		assert.Equal(t, "info", cfg.Logger.Level)
		assert.True(t, cfg.Background.AutoFillEnabled)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("inference.base_url", "not a url")

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestNewViper(t *testing.T) {
	t.Run("explicit file and environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "metafill.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: debug\ninference:\n  base_url: http://file:5000/api\n"), 0o600))
		t.Setenv("METAFILL_INFERENCE_BASE_URL", "http://env:5000/api")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logger.Level)
		// The environment wins over the file.
		assert.Equal(t, "http://env:5000/api", cfg.Inference.BaseURL)
	})

	t.Run("missing default file is not an error", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("HOME", t.TempDir())
		v, err := NewViper("")
		require.NoError(t, err)
		assert.Equal(t, "info", v.GetString("logger.level"))
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logger: [unclosed"), 0o600))
		_, err := NewViper(path)
		assert.Error(t, err)
	})
}
