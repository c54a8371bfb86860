package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whitebrick/fileslide-streamer/internal/progress"
)

// Config defines configuration for the fileslide streamer.
type Config struct {
	Listen      string         `yaml:"listen"`
	HomeURL     string         `yaml:"home_url"`
	UpstreamAPI string         `yaml:"upstream_api"`
	LogLevel    string         `yaml:"log_level"`
	Redis       RedisConfig    `yaml:"redis"`
	Checksum    ChecksumConfig `yaml:"checksum"`
	HTTP        HTTPConfig     `yaml:"http"`
	Retry       RetryConfig    `yaml:"retry"`
	Blob        BlobConfig     `yaml:"blob"`
}

// RedisConfig locates the checksum cache.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to every key. Empty keys entries by the bare URI.
	Prefix   string `yaml:"prefix"`
}

// ChecksumConfig controls checksum computation and the claim/wait protocol.
type ChecksumConfig struct {
	ChunkSize    int64         `yaml:"chunk_size"`
	Timeout      time.Duration `yaml:"timeout"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
	EntryTTL     time.Duration `yaml:"entry_ttl"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollAttempts int           `yaml:"poll_attempts"`
	Workers      int           `yaml:"workers"`
}

// HTTPConfig configures the origin HTTP client.
type HTTPConfig struct {
	Timeout             time.Duration `yaml:"timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxRedirects        int           `yaml:"max_redirects"`
}

// RetryConfig defines retry behavior.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// BlobConfig enables object-store URIs (s3://, gs://, file://, mem://).
type BlobConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:   ":9292",
		HomeURL:  "https://fileslide.io",
		LogLevel: "info",
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Checksum: ChecksumConfig{
			ChunkSize:    512 * 1024 * 1024, // 512MiB
			Timeout:      10 * time.Minute,
			ClaimTTL:     15 * time.Minute,
			EntryTTL:     7 * 24 * time.Hour,
			PollInterval: time.Second,
			PollAttempts: 900,
			Workers:      8,
		},
		HTTP: HTTPConfig{
			Timeout:             10 * time.Second,
			MaxIdleConnsPerHost: 100,
			MaxRedirects:        2,
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Listen      string `yaml:"listen"`
	HomeURL     string `yaml:"home_url"`
	UpstreamAPI string `yaml:"upstream_api"`
	LogLevel    string `yaml:"log_level"`
	Redis       struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Checksum struct {
		ChunkSize    string `yaml:"chunk_size"`
		Timeout      string `yaml:"timeout"`
		ClaimTTL     string `yaml:"claim_ttl"`
		EntryTTL     string `yaml:"entry_ttl"`
		PollInterval string `yaml:"poll_interval"`
		PollAttempts int    `yaml:"poll_attempts"`
		Workers      int    `yaml:"workers"`
	} `yaml:"checksum"`
	HTTP struct {
		Timeout             string `yaml:"timeout"`
		MaxIdleConnsPerHost int    `yaml:"max_idle_conns_per_host"`
		MaxRedirects        *int   `yaml:"max_redirects"`
	} `yaml:"http"`
	Retry struct {
		Attempts   *int   `yaml:"attempts"`
		Backoff    string `yaml:"backoff"`
		MaxBackoff string `yaml:"max_backoff"`
	} `yaml:"retry"`
	Blob struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"blob"`
}

// LoadFromFile loads configuration from a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	setString(&cfg.Listen, yc.Listen)
	setString(&cfg.HomeURL, yc.HomeURL)
	setString(&cfg.UpstreamAPI, yc.UpstreamAPI)
	setString(&cfg.LogLevel, yc.LogLevel)

	setString(&cfg.Redis.Address, yc.Redis.Address)
	setString(&cfg.Redis.Password, yc.Redis.Password)
	setString(&cfg.Redis.Prefix, yc.Redis.Prefix)
	if yc.Redis.DB != 0 {
		cfg.Redis.DB = yc.Redis.DB
	}

	if yc.Checksum.ChunkSize != "" {
		size, err := progress.ParseBytes(yc.Checksum.ChunkSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse checksum.chunk_size: %w", err)
		}
		cfg.Checksum.ChunkSize = size
	}
	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"checksum.timeout", yc.Checksum.Timeout, &cfg.Checksum.Timeout},
		{"checksum.claim_ttl", yc.Checksum.ClaimTTL, &cfg.Checksum.ClaimTTL},
		{"checksum.entry_ttl", yc.Checksum.EntryTTL, &cfg.Checksum.EntryTTL},
		{"checksum.poll_interval", yc.Checksum.PollInterval, &cfg.Checksum.PollInterval},
		{"http.timeout", yc.HTTP.Timeout, &cfg.HTTP.Timeout},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = v
	}
	if yc.Checksum.PollAttempts != 0 {
		cfg.Checksum.PollAttempts = yc.Checksum.PollAttempts
	}
	if yc.Checksum.Workers != 0 {
		cfg.Checksum.Workers = yc.Checksum.Workers
	}

	if yc.HTTP.MaxIdleConnsPerHost != 0 {
		cfg.HTTP.MaxIdleConnsPerHost = yc.HTTP.MaxIdleConnsPerHost
	}
	// Zero redirects and zero retries are meaningful, so they are pointers.
	if yc.HTTP.MaxRedirects != nil {
		cfg.HTTP.MaxRedirects = *yc.HTTP.MaxRedirects
	}
	if yc.Retry.Attempts != nil {
		cfg.Retry.Attempts = *yc.Retry.Attempts
	}
	cfg.Blob.Enabled = yc.Blob.Enabled

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FILESLIDE_ prefix.
func (c *Config) LoadFromEnv() error {
	env := func(name string) string { return os.Getenv("FILESLIDE_" + name) }

	for name, dst := range map[string]*string{
		"LISTEN":         &c.Listen,
		"HOME_URL":       &c.HomeURL,
		"UPSTREAM_API":   &c.UpstreamAPI,
		"LOG_LEVEL":      &c.LogLevel,
		"REDIS_ADDRESS":  &c.Redis.Address,
		"REDIS_PASSWORD": &c.Redis.Password,
		"REDIS_PREFIX":   &c.Redis.Prefix,
	} {
		setString(dst, env(name))
	}

	for name, dst := range map[string]*int{
		"REDIS_DB":                     &c.Redis.DB,
		"CHECKSUM_POLL_ATTEMPTS":       &c.Checksum.PollAttempts,
		"CHECKSUM_WORKERS":             &c.Checksum.Workers,
		"HTTP_MAX_IDLE_CONNS_PER_HOST": &c.HTTP.MaxIdleConnsPerHost,
		"HTTP_MAX_REDIRECTS":           &c.HTTP.MaxRedirects,
		"RETRY_ATTEMPTS":               &c.Retry.Attempts,
	} {
		if v := env(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse FILESLIDE_%s: %w", name, err)
			}
			*dst = n
		}
	}

	for name, dst := range map[string]*time.Duration{
		"CHECKSUM_TIMEOUT":       &c.Checksum.Timeout,
		"CHECKSUM_CLAIM_TTL":     &c.Checksum.ClaimTTL,
		"CHECKSUM_ENTRY_TTL":     &c.Checksum.EntryTTL,
		"CHECKSUM_POLL_INTERVAL": &c.Checksum.PollInterval,
		"HTTP_TIMEOUT":           &c.HTTP.Timeout,
		"RETRY_BACKOFF":          &c.Retry.Backoff,
		"RETRY_MAX_BACKOFF":      &c.Retry.MaxBackoff,
	} {
		if v := env(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parse FILESLIDE_%s: %w", name, err)
			}
			*dst = d
		}
	}

	if v := env("CHECKSUM_CHUNK_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse FILESLIDE_CHECKSUM_CHUNK_SIZE: %w", err)
		}
		c.Checksum.ChunkSize = size
	}
	if v := env("BLOB_ENABLED"); v != "" {
		c.Blob.Enabled = v == "true" || v == "1"
	}

	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Redis.Address == "" {
		return errors.New("config: redis.address is required")
	}
	if c.Checksum.ChunkSize <= 0 {
		return errors.New("config: checksum.chunk_size must be positive")
	}
	if c.Checksum.Workers <= 0 {
		return errors.New("config: checksum.workers must be positive")
	}
	if c.Checksum.Timeout <= 0 || c.Checksum.PollInterval <= 0 || c.Checksum.PollAttempts <= 0 {
		return errors.New("config: checksum timeout and polling must be positive")
	}
	if c.Checksum.ClaimTTL < c.Checksum.Timeout {
		return errors.New("config: checksum.claim_ttl must not be shorter than checksum.timeout")
	}
	if c.Checksum.EntryTTL <= 0 {
		return errors.New("config: checksum.entry_ttl must be positive")
	}
	if c.HTTP.MaxRedirects < 0 || c.Retry.Attempts < 0 {
		return errors.New("config: http.max_redirects and retry.attempts must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	setString(&c.Listen, override.Listen)
	setString(&c.HomeURL, override.HomeURL)
	setString(&c.UpstreamAPI, override.UpstreamAPI)
	setString(&c.LogLevel, override.LogLevel)
	setString(&c.Redis.Address, override.Redis.Address)
	setString(&c.Redis.Password, override.Redis.Password)
	setString(&c.Redis.Prefix, override.Redis.Prefix)
	if override.Redis.DB != 0 {
		c.Redis.DB = override.Redis.DB
	}
	if override.Checksum.ChunkSize != 0 {
		c.Checksum.ChunkSize = override.Checksum.ChunkSize
	}
	if override.Checksum.Timeout != 0 {
		c.Checksum.Timeout = override.Checksum.Timeout
	}
	if override.Checksum.Workers != 0 {
		c.Checksum.Workers = override.Checksum.Workers
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Blob.Enabled {
		c.Blob.Enabled = true
	}
	return c
}
