// Package config loads readshelf settings from an optional YAML file with
// environment overrides. Endpoints and keys are never compiled in.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file.
const (
	EnvDatabasePath = "SQLITE_DB_PATH"
	EnvRemoteURL    = "READSHELF_REMOTE_URL"
	EnvAPIKey       = "READSHELF_API_KEY"
	EnvCacheDir     = "READSHELF_CACHE_DIR"
	EnvListenAddr   = "READSHELF_LISTEN_ADDR"
	EnvLogLevel     = "READSHELF_LOG_LEVEL"
	EnvMaxAgeDays   = "READSHELF_CACHE_MAX_AGE_DAYS"
)

type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Cache        CacheConfig        `yaml:"cache"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Server       ServerConfig       `yaml:"server"`
	Feed         FeedConfig         `yaml:"feed"`
	Log          LogConfig          `yaml:"log"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	Dir           string        `yaml:"dir"`
	MaxAgeDays    int           `yaml:"maxAgeDays"`
	EvictInterval time.Duration `yaml:"evictInterval"`
	// FailureTTL is how long a failed download is answered as a miss without
	// retrying. Zero disables the memo.
	FailureTTL    time.Duration `yaml:"failureTTL"`
	MaxImageBytes int64         `yaml:"maxImageBytes"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
}

type RemoteConfig struct {
	URL          string        `yaml:"url"`
	APIKey       string        `yaml:"apiKey"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"pollInterval"`
}

type ConnectivityConfig struct {
	PingInterval time.Duration `yaml:"pingInterval"`
	PingTimeout  time.Duration `yaml:"pingTimeout"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listenAddr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type FeedConfig struct {
	MirrorLimit int `yaml:"mirrorLimit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./readshelf.db"},
		Cache: CacheConfig{
			Dir:           "./cache/images",
			MaxAgeDays:    30,
			EvictInterval: 6 * time.Hour,
			FailureTTL:    30 * time.Second,
			MaxImageBytes: 20 << 20,
			FetchTimeout:  30 * time.Second,
		},
		Remote: RemoteConfig{
			Timeout:      15 * time.Second,
			PollInterval: 10 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			PingInterval: 15 * time.Second,
			PingTimeout:  3 * time.Second,
		},
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Feed: FeedConfig{MirrorLimit: 50},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and applies the environment. An empty
// path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	overrides := map[string]*string{
		EnvDatabasePath: &c.Database.Path,
		EnvRemoteURL:    &c.Remote.URL,
		EnvAPIKey:       &c.Remote.APIKey,
		EnvCacheDir:     &c.Cache.Dir,
		EnvListenAddr:   &c.Server.ListenAddr,
		EnvLogLevel:     &c.Log.Level,
	}
	for key, field := range overrides {
		if v := getenv(key); v != "" {
			*field = v
		}
	}

	if v := getenv(EnvMaxAgeDays); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxAgeDays, err)
		}
		c.Cache.MaxAgeDays = days
	}
	return nil
}

// Validate checks the settings every command relies on. The remote URL is
// checked by the commands that talk to the remote store.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Cache.Dir == "" {
		errs = append(errs, errors.New("cache.dir is required"))
	}
	if c.Cache.MaxAgeDays < 0 {
		errs = append(errs, fmt.Errorf("cache.maxAgeDays must be >= 0, got %d", c.Cache.MaxAgeDays))
	}
	if c.Cache.EvictInterval <= 0 {
		errs = append(errs, errors.New("cache.evictInterval must be positive"))
	}
	if c.Connectivity.PingInterval <= 0 || c.Connectivity.PingTimeout <= 0 {
		errs = append(errs, errors.New("connectivity ping interval and timeout must be positive"))
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// LogLevel returns the parsed log level, defaulting to info.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil || c.Log.Level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
