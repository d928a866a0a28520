package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Service    Service    `mapstructure:"service"`
	Web        Web        `mapstructure:"web"`
	Client     Client     `mapstructure:"client"`
	Native     Native     `mapstructure:"native"`
	Store      Store      `mapstructure:"store"`
	Bridge     Bridge     `mapstructure:"bridge"`
	Popup      Popup      `mapstructure:"popup"`
	Monitoring Monitoring `mapstructure:"monitoring"`
	Logging    Logging    `mapstructure:"logging"`
}

// Service holds the disk admission rules
type Service struct {
	ReservedSpace  int64  `mapstructure:"reserved_space"`
	DefaultMinSize int64  `mapstructure:"default_min_size"`
	GBUnit         string `mapstructure:"gb_unit"` // decimal or binary
}

// Web holds web server settings
type Web struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Client selects how the popup reaches the disk info service
type Client struct {
	Backend        string        `mapstructure:"backend"` // local, http or native
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	NativeHostPath string        `mapstructure:"native_host_path"`
}

// Native holds native messaging host registration settings
type Native struct {
	Name           string   `mapstructure:"name"`
	Description    string   `mapstructure:"description"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ManifestDirs   []string `mapstructure:"manifest_dirs"`
}

// Store holds persistent storage settings
type Store struct {
	Path string `mapstructure:"path"`
}

// Bridge holds extension bridge settings
type Bridge struct {
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// Popup holds confirmation popup timings
type Popup struct {
	ResumeCloseDelay time.Duration `mapstructure:"resume_close_delay"`
	ErrorCloseDelay  time.Duration `mapstructure:"error_close_delay"`
	ErrorDisplay     time.Duration `mapstructure:"error_display"`
}

// Monitoring holds monitoring settings
type Monitoring struct {
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// Logging holds logging settings
type Logging struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

const (
	BackendLocal  = "local"
	BackendHTTP   = "http"
	BackendNative = "native"

	UnitDecimal = "decimal"
	UnitBinary  = "binary"
)

// Load reads configuration from file or uses defaults
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.dlguard")
		v.AddConfigPath("/etc/dlguard")
	}

	v.SetEnvPrefix("DLGUARD")
	v.AutomaticEnv()

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults always decode
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Admission rules
	v.SetDefault("service.reserved_space", int64(5_000_000_000))   // 5 GB
	v.SetDefault("service.default_min_size", int64(1_000_000_000)) // 1 GB
	v.SetDefault("service.gb_unit", UnitDecimal)

	v.SetDefault("web.host", "127.0.0.1")
	v.SetDefault("web.port", 5000)

	v.SetDefault("client.backend", BackendLocal)
	v.SetDefault("client.base_url", "http://127.0.0.1:5000")
	v.SetDefault("client.timeout", "10s")
	v.SetDefault("client.max_retries", 1)
	v.SetDefault("client.native_host_path", "")

	v.SetDefault("native.name", "com.storage_checker")
	v.SetDefault("native.description", "Disk space checker for paused downloads")
	v.SetDefault("native.allowed_origins", []string{})
	v.SetDefault("native.manifest_dirs", []string{})

	v.SetDefault("store.path", filepath.Join(stateDir(), "state.db"))

	v.SetDefault("bridge.call_timeout", "5s")

	v.SetDefault("popup.resume_close_delay", "1s")
	v.SetDefault("popup.error_close_delay", "2s")
	v.SetDefault("popup.error_display", "5s")

	v.SetDefault("monitoring.update_interval", "2s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 30)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Service.ReservedSpace < 0 {
		return fmt.Errorf("reserved_space must not be negative")
	}

	if c.Service.DefaultMinSize <= 0 {
		return fmt.Errorf("default_min_size must be positive")
	}

	switch c.Service.GBUnit {
	case UnitDecimal, UnitBinary:
	default:
		return fmt.Errorf("invalid gb_unit: %q", c.Service.GBUnit)
	}

	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Web.Port)
	}

	switch c.Client.Backend {
	case BackendLocal, BackendHTTP, BackendNative:
	default:
		return fmt.Errorf("invalid client backend: %q", c.Client.Backend)
	}

	if c.Client.Backend == BackendHTTP && c.Client.BaseURL == "" {
		return fmt.Errorf("client.base_url is required for the http backend")
	}

	if c.Native.Name == "" {
		return fmt.Errorf("native.name must not be empty")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	return nil
}

// GBDivisor returns the number of bytes in one reported gigabyte
func (s Service) GBDivisor() float64 {
	if s.GBUnit == UnitBinary {
		return 1024 * 1024 * 1024
	}
	return 1_000_000_000
}

func stateDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".dlguard"
	}
	return filepath.Join(homeDir, ".dlguard")
}
