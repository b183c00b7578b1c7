// Package config loads client configuration from a TOML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "PROJCONV_"

// Config holds all projconv client configuration.
type Config struct {
	// Server
	ServerURL      string   `toml:"server_url"`
	AuthToken      string   `toml:"token"`
	RequestTimeout Duration `toml:"request_timeout"`

	// Languages used when the command line does not name them
	SourceLang string `toml:"source_lang"`
	TargetLang string `toml:"target_lang"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Metrics endpoint (empty disables it)
	MetricsAddr string `toml:"metrics_addr"`

	// Result storage ("local" or "s3")
	StorageBackend string `toml:"storage_backend"`
	DownloadDir    string `toml:"download_dir"`

	S3 S3 `toml:"s3"`
}

// S3 holds the S3/MinIO result sink settings.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
}

// Duration is a time.Duration written as "90s" or "10m" in the config file.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ServerURL:      "http://127.0.0.1:5000",
		RequestTimeout: Duration(10 * time.Minute),
		LogLevel:       "info",
		LogFormat:      "console",
		StorageBackend: "local",
		DownloadDir:    ".",
		S3: S3{
			Endpoint:  "http://localhost:9000",
			Bucket:    "projconv",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Region:    "us-east-1",
		},
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error, a missing .env is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ServerURL = envOr("SERVER_URL", c.ServerURL)
	c.AuthToken = envOr("TOKEN", c.AuthToken)
	c.RequestTimeout = Duration(envDuration("REQUEST_TIMEOUT", time.Duration(c.RequestTimeout)))
	c.SourceLang = envOr("SOURCE_LANG", c.SourceLang)
	c.TargetLang = envOr("TARGET_LANG", c.TargetLang)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.StorageBackend = envOr("STORAGE_BACKEND", c.StorageBackend)
	c.DownloadDir = envOr("DOWNLOAD_DIR", c.DownloadDir)
	c.S3.Endpoint = envOr("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Bucket = envOr("S3_BUCKET", c.S3.Bucket)
	c.S3.Prefix = envOr("S3_PREFIX", c.S3.Prefix)
	c.S3.AccessKey = envOr("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = envOr("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Region = envOr("S3_REGION", c.S3.Region)
}

// Validate checks the settings that have no usable fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server_url is required")
	}
	switch c.StorageBackend {
	case "local":
	case "s3":
		if c.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want local or s3)", c.StorageBackend)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout must not be negative")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
