// Package config loads service settings from defaults, an optional YAML file
// and ACCESSGATE_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"accessgate.org/internal/obs"
	"accessgate.org/internal/validation"
)

const (
	// EnvPrefix marks variables read into the config. Nested keys use "__",
	// so ACCESSGATE_AUTH__ACCESS_TTL sets auth.access_ttl.
	EnvPrefix = "ACCESSGATE_"
	// ConfigPathEnvVar names an optional YAML file.
	ConfigPathEnvVar = EnvPrefix + "CONFIG"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Auth       AuthConfig       `koanf:"auth"`
	Revocation RevocationConfig `koanf:"revocation"`
	Cookies    CookieConfig     `koanf:"cookies"`
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Log        obs.LogConfig    `koanf:"log"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

type DatabaseConfig struct {
	DSN             string        `koanf:"dsn" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type AuthConfig struct {
	Secret        string        `koanf:"secret" validate:"required,min=32"`
	Algorithm     string        `koanf:"algorithm" validate:"oneof=HS256 HS384 HS512"`
	AccessTTL     time.Duration `koanf:"access_ttl" validate:"gt=0"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl" validate:"gt=0"`
	VerifyWorkers int           `koanf:"verify_workers" validate:"gte=0"`
}

type RevocationConfig struct {
	Backend       string        `koanf:"backend" validate:"oneof=memory redis badger"`
	Capacity      int           `koanf:"capacity" validate:"gte=0"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
	Prefix        string        `koanf:"prefix"`
	RedisAddr     string        `koanf:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db" validate:"gte=0"`
	BadgerDir     string        `koanf:"badger_dir"`
}

type CookieConfig struct {
	Secure   bool   `koanf:"secure"`
	SameSite string `koanf:"same_site" validate:"oneof=lax strict none"`
	Domain   string `koanf:"domain"`
	Path     string `koanf:"path"`
}

type RateLimitConfig struct {
	RequestsPerMinute int     `koanf:"requests_per_minute" validate:"gte=0"`
	LoginPerMinute    float64 `koanf:"login_per_minute" validate:"gte=0"`
	LoginBurst        int     `koanf:"login_burst" validate:"gte=0"`
}

// Default returns the settings used before any file or environment override.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Algorithm:  "HS256",
			AccessTTL:  30 * time.Minute,
			RefreshTTL: 24 * time.Hour,
		},
		Revocation: RevocationConfig{
			Backend:       "memory",
			Capacity:      100_000,
			SweepInterval: time.Minute,
			Prefix:        "revoked:",
		},
		Cookies: CookieConfig{
			Secure:   true,
			SameSite: "lax",
			Path:     "/",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
			LoginPerMinute:    10,
			LoginBurst:        5,
		},
		Log: obs.LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the file named by ACCESSGATE_CONFIG, if set, then the environment.
func Load() (*Config, error) {
	return LoadFile(os.Getenv(ConfigPathEnvVar))
}

// LoadFile is Load with an explicit YAML path; an empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(&defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ACCESSGATE_AUTH__ACCESS_TTL to auth.access_ttl. The config
// path variable itself is skipped.
func envKey(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "CONFIG" {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// Validate checks struct rules and the cross-field constraints.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Auth.RefreshTTL < c.Auth.AccessTTL {
		return errors.New("config: auth.refresh_ttl must not be shorter than auth.access_ttl")
	}
	if c.Cookies.SameSite == "none" && !c.Cookies.Secure {
		return errors.New("config: cookies.same_site=none requires cookies.secure")
	}
	return nil
}
