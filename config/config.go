package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// AccessTokenEnv overrides geyser.access_token when set.
const AccessTokenEnv = "GEYSER_ACCESS_TOKEN"

const (
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 4 * time.Second
	DefaultListen           = ":50051"
)

// Storage backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendS3       = "s3"
	BackendGit      = "git"
	BackendRedis    = "redis"
	BackendPebble   = "pebble"
)

// Config is the top-level accountstream.yml configuration
type Config struct {
	Geyser  Geyser  `yaml:"geyser"`
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Log     Log     `yaml:"log"`
}

// Geyser is the upstream feed endpoint used by clients
type Geyser struct {
	URL              string        `yaml:"url"`
	AccessToken      string        `yaml:"access_token,omitempty"`
	Insecure         bool          `yaml:"insecure,omitempty"`
	KeepaliveTime    time.Duration `yaml:"keepalive_time,omitempty"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout,omitempty"`
}

type Server struct {
	Listen string `yaml:"listen"`
}

// Storage selects the backend the server reads account state from. Only the
// block matching Backend is used.
type Storage struct {
	Backend      string        `yaml:"backend"`
	SyncInterval time.Duration `yaml:"sync_interval,omitempty"` // 0 uses the backend default

	SQLite   *SQLite   `yaml:"sqlite,omitempty"`
	Postgres *Postgres `yaml:"postgres,omitempty"`
	S3       *S3       `yaml:"s3,omitempty"`
	Git      *Git      `yaml:"git,omitempty"`
	Redis    *Redis    `yaml:"redis,omitempty"`
	Pebble   *Pebble   `yaml:"pebble,omitempty"`
}

type SQLite struct {
	Path  string `yaml:"path"` // ":memory:" for a throwaway database
	Table string `yaml:"table,omitempty"`
}

// Postgres needs a database/sql driver registered under Driver by the binary.
type Postgres struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table,omitempty"`
}

type S3 struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix,omitempty"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type Git struct {
	Path  string `yaml:"path"`
	Name  string `yaml:"name,omitempty"`
	Email string `yaml:"email,omitempty"`
	Push  bool   `yaml:"push,omitempty"`
}

type Redis struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix,omitempty"`
}

type Pebble struct {
	Dir string `yaml:"dir"`
}

type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "text" or "json"
}

// Default returns a configuration serving an in-memory sqlite database.
func Default() *Config {
	c := &Config{
		Storage: Storage{
			Backend: BackendSQLite,
			SQLite:  &SQLite{Path: ":memory:"},
		},
	}
	_ = c.Validate()
	return c
}

// Validate checks the configuration and fills in defaults.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	c.Geyser.applyDefaults()
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	return nil
}

func (g *Geyser) applyDefaults() {
	if g.KeepaliveTime == 0 {
		g.KeepaliveTime = DefaultKeepaliveTime
	}
	if g.KeepaliveTimeout == 0 {
		g.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
}

// Validate checks the endpoint settings needed to dial the feed.
func (g *Geyser) Validate() error {
	g.applyDefaults()
	if g.URL == "" {
		return errors.New("url is required")
	}
	if g.KeepaliveTime < 0 || g.KeepaliveTimeout < 0 {
		return errors.New("keepalive durations must not be negative")
	}
	return nil
}

func (l *Log) Validate() error {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return err
	}
	if l.Format != "text" && l.Format != "json" {
		return fmt.Errorf("unknown format %q, expected text or json", l.Format)
	}
	return nil
}

func (s *Storage) Validate() error {
	if s.SyncInterval < 0 {
		return errors.New("sync_interval must not be negative")
	}

	missing := func() error {
		return fmt.Errorf("backend %q requires a %s block", s.Backend, s.Backend)
	}
	switch s.Backend {
	case BackendSQLite:
		if s.SQLite == nil {
			return missing()
		}
		if s.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
		if s.SQLite.Table == "" {
			s.SQLite.Table = "accounts"
		}
	case BackendPostgres:
		if s.Postgres == nil {
			return missing()
		}
		if s.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if s.Postgres.Driver == "" {
			s.Postgres.Driver = "postgres"
		}
		if s.Postgres.Table == "" {
			s.Postgres.Table = "accounts"
		}
	case BackendS3:
		if s.S3 == nil {
			return missing()
		}
		if s.S3.Bucket == "" {
			return errors.New("s3.bucket is required")
		}
	case BackendGit:
		if s.Git == nil {
			return missing()
		}
		if s.Git.Path == "" {
			return errors.New("git.path is required")
		}
	case BackendRedis:
		if s.Redis == nil {
			return missing()
		}
		if s.Redis.URL == "" {
			return errors.New("redis.url is required")
		}
	case BackendPebble:
		if s.Pebble == nil {
			return missing()
		}
		if s.Pebble.Dir == "" {
			return errors.New("pebble.dir is required")
		}
	case "":
		return errors.New("backend is required")
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	return nil
}

// Load reads and validates the configuration at path. The access token can
// be supplied through the environment instead of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if token := os.Getenv(AccessTokenEnv); token != "" {
		config.Geyser.AccessToken = token
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
