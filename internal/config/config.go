// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

// Package config loads storeauth configuration from defaults, an optional
// YAML file, the environment and command-line flags, in that order of
// increasing precedence.
package config

import (
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/storefront/storeauth/internal/auth"
	"github.com/storefront/storeauth/internal/store"
)

// EnvPrefix namespaces storeauth environment variables. Nested keys use a
// double underscore: STOREAUTH_AUTH__TOKEN_TTL sets auth.token_ttl.
const EnvPrefix = "STOREAUTH_"

// envAliases are well-known variable names accepted without the prefix form.
var envAliases = map[string]string{
	"DATABASE_URL":             "database.url",
	"STOREAUTH_SIGNING_SECRET": "auth.signing_secret",
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"log-format":   "log.format",
	"log-level":    "log.level",
	"interval":     "sweep.interval",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
}

// Config is the full storeauth configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Auth     AuthConfig     `koanf:"auth"`
	Password PasswordConfig `koanf:"password"`
	Log      LogConfig      `koanf:"log"`
	Sweep    SweepConfig    `koanf:"sweep"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// DatabaseConfig locates the PostgreSQL database.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
}

// AuthConfig holds the token signing material and lifetimes.
type AuthConfig struct {
	SigningSecret string        `koanf:"signing_secret"`
	Issuer        string        `koanf:"issuer"`
	TokenTTL      time.Duration `koanf:"token_ttl"`
	ResetTTL      time.Duration `koanf:"reset_ttl"`
}

// PasswordConfig mirrors auth.PasswordPolicy.
type PasswordConfig struct {
	MinLength     int  `koanf:"min_length"`
	MaxLength     int  `koanf:"max_length"`
	RequireUpper  bool `koanf:"require_upper"`
	RequireLower  bool `koanf:"require_lower"`
	RequireDigit  bool `koanf:"require_digit"`
	RequireSymbol bool `koanf:"require_symbol"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// SweepConfig tunes the expiry sweeper.
type SweepConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// MetricsConfig sets where the observability server listens. Empty disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// defaults returns the values applied before any source is read.
func defaults() map[string]any {
	return map[string]any{
		"database.connect_timeout":  10 * time.Second,
		"database.connect_attempts": uint64(5),
		"auth.issuer":               "storeauth",
		"auth.token_ttl":            auth.DefaultTokenTTL,
		"auth.reset_ttl":            auth.DefaultResetTTL,
		"password.min_length":       auth.MinPasswordLength,
		"password.max_length":       auth.MaxPasswordLength,
		"log.format":                "json",
		"log.level":                 "info",
		"sweep.interval":            auth.DefaultSweepInterval,
	}
}

// Load builds a Config. An empty path falls back to DefaultPath when that
// file exists; flags may be nil. Only flags the user actually set override
// earlier sources.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	path = resolvePath(path)

	for key, val := range defaults() {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("key", key).Wrap(err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, oops.Code("CONFIG_FILE_NOT_FOUND").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("operation", "unmarshal").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps an environment variable onto a configuration key, or "" to
// ignore it.
func envKey(name string) string {
	if key, ok := envAliases[name]; ok {
		return key
	}
	if !strings.HasPrefix(name, EnvPrefix) {
		return ""
	}
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, EnvPrefix)), "__", ".")
}

// Validate checks the settings every command needs. The signing secret is
// checked by ValidateAuth since migrations do not need it.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.Database),
		validation.Field(&c.Password),
		validation.Field(&c.Log),
		validation.Field(&c.Sweep),
	)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// ValidateAuth checks the token settings.
func (c *Config) ValidateAuth() error {
	if err := c.Auth.Validate(); err != nil {
		return oops.Code("CONFIG_INVALID").With("section", "auth").Wrap(err)
	}
	return nil
}

// Validate implements validation.Validatable.
func (d DatabaseConfig) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.URL, validation.Required),
		validation.Field(&d.ConnectTimeout, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&d.ConnectAttempts, validation.Required),
	)
}

// Validate implements validation.Validatable.
func (a AuthConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.SigningSecret, validation.Required, validation.Length(auth.MinSigningKeyLength, 0)),
		validation.Field(&a.TokenTTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&a.ResetTTL, validation.Required, validation.Min(time.Duration(1))),
	)
}

// Validate implements validation.Validatable.
func (p PasswordConfig) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.MinLength, validation.Min(auth.MinPasswordLength)),
		validation.Field(&p.MaxLength, validation.Min(p.MinLength)),
	)
}

// Validate implements validation.Validatable.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.In("json", "text")),
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "warning", "error")),
	)
}

// Validate implements validation.Validatable.
func (s SweepConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Interval, validation.Required, validation.Min(time.Second)),
	)
}

// PasswordPolicy converts the password section into an auth.PasswordPolicy.
func (c *Config) PasswordPolicy() auth.PasswordPolicy {
	return auth.PasswordPolicy{
		MinLength:     c.Password.MinLength,
		MaxLength:     c.Password.MaxLength,
		RequireUpper:  c.Password.RequireUpper,
		RequireLower:  c.Password.RequireLower,
		RequireDigit:  c.Password.RequireDigit,
		RequireSymbol: c.Password.RequireSymbol,
	}
}

// PoolConfig converts the database section into a store.PoolConfig.
func (c *Config) PoolConfig() store.PoolConfig {
	return store.PoolConfig{
		URL:            c.Database.URL,
		ConnectTimeout: c.Database.ConnectTimeout,
		MaxAttempts:    c.Database.ConnectAttempts,
	}
}
