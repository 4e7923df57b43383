// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/metafill/internal/background"
	"github.com/xkilldash9x/metafill/internal/content"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
)

// EnvPrefix namespaces environment overrides, e.g. METAFILL_INFERENCE_BASE_URL.
const EnvPrefix = "METAFILL"

// Config holds the entire application configuration. Each section is owned
// by the package that consumes it.
type Config struct {
	Logger     LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser    BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Injector   injector.Config   `mapstructure:"injector" yaml:"injector"`
	Inference  inference.Config  `mapstructure:"inference" yaml:"inference"`
	Background background.Config `mapstructure:"background" yaml:"background"`
	Content    content.Config    `mapstructure:"content" yaml:"content"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls live page rendering for `scan --url`.
type BrowserConfig struct {
	Headless     bool              `mapstructure:"headless" yaml:"headless"`
	ExecPath     string            `mapstructure:"exec_path" yaml:"exec_path"`
	WaitSelector string            `mapstructure:"wait_selector" yaml:"wait_selector"`
	Timeout      time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	Headers      map[string]string `mapstructure:"headers" yaml:"headers"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key. The
// values come from each section's own DefaultConfig.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "metafill")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.wait_selector", "body")
	v.SetDefault("browser.timeout", "45s")

	// -- Injector --
	inj := injector.DefaultConfig()
	v.SetDefault("injector.namespace", inj.Namespace)
	v.SetDefault("injector.vocabulary.upload_tokens", inj.Vocabulary.UploadTokens)
	v.SetDefault("injector.vocabulary.marker_classes", inj.Vocabulary.MarkerClasses)
	v.SetDefault("injector.vocabulary.path_keywords", inj.Vocabulary.PathKeywords)
	v.SetDefault("injector.watcher.poll_interval", inj.Watcher.PollInterval)
	v.SetDefault("injector.watcher.settle_delay", inj.Watcher.SettleDelay)
	v.SetDefault("injector.watcher.attribute_filter", inj.Watcher.AttributeFilter)

	// -- Inference --
	inf := inference.DefaultConfig()
	v.SetDefault("inference.base_url", inf.BaseURL)
	v.SetDefault("inference.timeout", inf.Timeout)
	v.SetDefault("inference.health_timeout", inf.HealthTimeout)
	v.SetDefault("inference.rate_limit", inf.RateLimit)
	v.SetDefault("inference.burst", inf.Burst)

	// -- Background --
	bg := background.DefaultConfig()
	v.SetDefault("background.auto_fill_enabled", bg.AutoFillEnabled)
	v.SetDefault("background.notifications_enabled", bg.NotificationsEnabled)
	v.SetDefault("background.arabic_priority", bg.ArabicPriority)
	v.SetDefault("background.health_interval", bg.HealthInterval)

	// -- Content --
	ct := content.DefaultConfig()
	v.SetDefault("content.upload_path_patterns", ct.UploadPathPatterns)
	v.SetDefault("content.keyword_separator", ct.KeywordSeparator)
}

// NewViper returns a viper instance with defaults, environment binding and the
// config file search path: an explicit file, else config.yaml in the working
// directory or ~/.metafill. A missing file is not an error.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		expanded, err := homedir.Expand(configFile)
		if err != nil {
			return nil, fmt.Errorf("invalid config path %q: %w", configFile, err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".metafill"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return v, nil
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Load is NewViper followed by NewConfigFromViper.
func Load(configFile string) (*Config, error) {
	v, err := NewViper(configFile)
	if err != nil {
		return nil, err
	}
	return NewConfigFromViper(v)
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Inference.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("inference.base_url must be an absolute http(s) URL, got %q", c.Inference.BaseURL)
	}
	if c.Inference.HealthTimeout <= 0 {
		return fmt.Errorf("inference.health_timeout must be a positive duration")
	}
	if c.Inference.RateLimit < 0 {
		return fmt.Errorf("inference.rate_limit must not be negative")
	}
	if c.Background.HealthInterval <= 0 {
		return fmt.Errorf("background.health_interval must be a positive duration")
	}
	if c.Injector.Watcher.PollInterval <= 0 || c.Injector.Watcher.PollInterval > time.Second {
		return fmt.Errorf("injector.watcher.poll_interval must be between 0 and 1s, got %s", c.Injector.Watcher.PollInterval)
	}
	if c.Injector.Watcher.SettleDelay < 0 {
		return fmt.Errorf("injector.watcher.settle_delay must not be negative")
	}
	if !strings.HasSuffix(c.Injector.Namespace, ":") {
		return fmt.Errorf("injector.namespace must end with ':', got %q", c.Injector.Namespace)
	}
	return nil
}
