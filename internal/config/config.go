// Package config loads ScanCan settings from defaults, an optional YAML file
// and SCANCAN_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Connection modes for clamd.
const (
	ConnNet    = "net"
	ConnSocket = "socket"
)

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Clamd  ClamdConfig  `mapstructure:"clamd" yaml:"clamd"`
	Scan   ScanConfig   `mapstructure:"scan" yaml:"scan"`
	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache"`
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Paths  PathsConfig  `mapstructure:"paths" yaml:"paths"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ClamdConfig says where clamd listens.
type ClamdConfig struct {
	// Conn is "net" (TCP) or "socket" (unix socket).
	Conn   string `mapstructure:"conn" yaml:"conn"`
	Socket string `mapstructure:"socket" yaml:"socket"`
	Host   string `mapstructure:"host" yaml:"host"`
	Port   int    `mapstructure:"port" yaml:"port"`
}

// Address returns the clamd address in the form the connector dials.
func (c ClamdConfig) Address() string {
	if c.Conn == ConnSocket {
		return "unix://" + c.Socket
	}
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ScanConfig bounds scan payloads.
type ScanConfig struct {
	UploadSizeLimit  int64         `mapstructure:"upload_size_limit" yaml:"upload_size_limit"`
	FetchConcurrency int           `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
}

// CacheConfig configures the optional Redis verdict cache.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr     string        `mapstructure:"addr" yaml:"addr"`
	Password string        `mapstructure:"password" yaml:"password,omitempty"`
	DB       int           `mapstructure:"db" yaml:"db"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Prefix   string        `mapstructure:"prefix" yaml:"prefix"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// PathsConfig locates files served by the API.
type PathsConfig struct {
	License   string `mapstructure:"license" yaml:"license"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// Load reads configuration. An empty path searches ./scancan.yaml and
// /etc/scancan/scancan.yaml; a missing file is not an error in that case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("scancan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/scancan/")
	}

	// SCANCAN_CLAMD_HOST overrides clamd.host and so on.
	v.SetEnvPrefix("SCANCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// CLAMD_CONN predates the prefixed variables.
	if err := v.BindEnv("clamd.conn", "SCANCAN_CLAMD_CONN", "CLAMD_CONN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "60s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("clamd.conn", ConnNet)
	v.SetDefault("clamd.socket", "/tmp/clamd.socket")
	v.SetDefault("clamd.host", "127.0.0.1")
	v.SetDefault("clamd.port", 3310)

	v.SetDefault("scan.upload_size_limit", 104857600)
	v.SetDefault("scan.fetch_concurrency", 5)
	v.SetDefault("scan.fetch_timeout", "30s")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "127.0.0.1:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("cache.prefix", "scancan:verdict:")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("paths.license", "LICENSE")
	v.SetDefault("paths.static_dir", "static")
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Clamd.Conn {
	case ConnNet:
		if c.Clamd.Host == "" || c.Clamd.Port <= 0 || c.Clamd.Port > 65535 {
			return fmt.Errorf("clamd: invalid host/port %q:%d", c.Clamd.Host, c.Clamd.Port)
		}
	case ConnSocket:
		if c.Clamd.Socket == "" {
			return errors.New("clamd: socket path is required when conn is socket")
		}
	default:
		return fmt.Errorf("clamd: conn must be %q or %q, got %q", ConnNet, ConnSocket, c.Clamd.Conn)
	}
	if c.Scan.UploadSizeLimit <= 0 {
		return fmt.Errorf("scan: upload_size_limit must be positive, got %d", c.Scan.UploadSizeLimit)
	}
	if c.Scan.FetchConcurrency <= 0 {
		return fmt.Errorf("scan: fetch_concurrency must be positive, got %d", c.Scan.FetchConcurrency)
	}
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return errors.New("cache: addr is required when the cache is enabled")
	}
	return nil
}
