// Package config provides configuration management for flamegiraffe.
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FLAMEGIRAFFE_SERVER_ADDR.
const EnvPrefix = "FLAMEGIRAFFE"

// Config holds all configuration for the application.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Layout  LayoutConfig  `mapstructure:"layout"`
	Parser  ParserConfig  `mapstructure:"parser"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	CacheSize    int           `mapstructure:"cache_size"` // profiles kept in memory
	Pprof        bool          `mapstructure:"pprof"`      // mount net/http/pprof under /debug
}

// LayoutConfig holds the rendering defaults used when a request leaves them out.
type LayoutConfig struct {
	Width       float64 `mapstructure:"width"`
	RowHeight   float64 `mapstructure:"row_height"`
	MinWidth    float64 `mapstructure:"min_width"`
	Orientation string  `mapstructure:"orientation"` // flame or icicle
}

// ParserConfig holds folded-stack parsing configuration.
type ParserConfig struct {
	Strict       bool `mapstructure:"strict"`
	MaxLineBytes int  `mapstructure:"max_line_bytes"`
	Workers      int  `mapstructure:"workers"` // inputs parsed at once; 0 = by CPU count
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the specified file path. An empty path
// searches the standard locations; a missing file falls back to defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("flamegiraffe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/flamegiraffe")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

// LoadFromReader loads configuration from an in-memory document (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return decode(v)
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(err) // defaults are static and always valid
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	// Allow environment variables to override config
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key is registered so
// AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.max_body_bytes", 64<<20)
	v.SetDefault("server.cache_size", 32)
	v.SetDefault("server.pprof", false)

	// Layout defaults
	v.SetDefault("layout.width", 1200.0)
	v.SetDefault("layout.row_height", 16.0)
	v.SetDefault("layout.min_width", 1.0)
	v.SetDefault("layout.orientation", "flame")

	// Parser defaults
	v.SetDefault("parser.strict", false)
	v.SetDefault("parser.max_line_bytes", 16<<20)
	v.SetDefault("parser.workers", 0)

	// Storage defaults
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./storage")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "")
	v.SetDefault("storage.scheme", "https")

	// Log defaults
	v.SetDefault("log.level", "info")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.CacheSize < 1 {
		return fmt.Errorf("server cache size must be at least 1")
	}
	if c.Server.MaxBodyBytes < 1 {
		return fmt.Errorf("server max body bytes must be positive")
	}

	if c.Layout.Width <= 0 || math.IsNaN(c.Layout.Width) || math.IsInf(c.Layout.Width, 0) {
		return fmt.Errorf("layout width must be positive and finite")
	}
	if c.Layout.RowHeight <= 0 || math.IsNaN(c.Layout.RowHeight) || math.IsInf(c.Layout.RowHeight, 0) {
		return fmt.Errorf("layout row height must be positive and finite")
	}
	if c.Layout.MinWidth < 0 || math.IsNaN(c.Layout.MinWidth) || math.IsInf(c.Layout.MinWidth, 0) {
		return fmt.Errorf("layout min width must be finite and not negative")
	}
	switch strings.ToLower(c.Layout.Orientation) {
	case "flame", "icicle":
	default:
		return fmt.Errorf("unsupported layout orientation: %s", c.Layout.Orientation)
	}

	if c.Parser.MaxLineBytes < 1 {
		return fmt.Errorf("parser max line bytes must be positive")
	}
	if c.Parser.Workers < 0 {
		return fmt.Errorf("parser workers must not be negative")
	}

	// Storage config validation is delegated to storage package

	return nil
}
