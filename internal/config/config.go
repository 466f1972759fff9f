// Package config is the ambient configuration layer for the zaxmail
// client library, per spec §6/§7.3. It layers, lowest precedence
// first: built-in defaults, an optional zaxmail.toml file, the
// process environment (optionally loaded from a .env file via
// godotenv, the way the teacher's deleted server package loaded its
// own), and finally functional Options passed by the caller.
// internal/zaxcli resolves this once at startup (see root.go's
// initConfig) and feeds the result into every Mailbox it opens.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vault12/zaxmail/internal/relay"
)

// Config is the fully resolved set of ambient tunables a Mailbox is
// built from.
type Config struct {
	StorageRoot string
	Relay       relay.Config
}

// fileConfig is the shape of an optional zaxmail.toml.
type fileConfig struct {
	StorageRoot    string  `toml:"storage_root"`
	TokenLen       int     `toml:"relay_token_len"`
	TokenTimeout   int     `toml:"relay_token_timeout"`
	SessionTimeout int     `toml:"relay_session_timeout"`
	AjaxTimeout    int     `toml:"relay_ajax_timeout"`
	GuardBand      float64 `toml:"relay_guard_band"`
}

// Option overrides a resolved Config value after every other layer
// has applied, the way mailbox.Option does for Mailbox construction.
type Option func(*Config)

// WithStorageRoot overrides the resolved storage root directory.
func WithStorageRoot(path string) Option {
	return func(c *Config) { c.StorageRoot = path }
}

// WithRelayConfig overrides the resolved relay.Config wholesale.
func WithRelayConfig(rc relay.Config) Option {
	return func(c *Config) { c.Relay = rc }
}

func defaultStorageRoot() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".zaxmail"
	}
	return dir + "/zaxmail"
}

// Load resolves a Config from (lowest to highest precedence): the
// built-in defaults, tomlPath if it exists, the environment (after
// attempting to load envFile, a .env-style file; a missing envFile is
// not an error, matching internal/server's godotenv.Load() call),
// then opts.
func Load(tomlPath, envFile string, opts ...Option) (Config, error) {
	cfg := Config{
		StorageRoot: defaultStorageRoot(),
		Relay:       relay.DefaultConfig(),
	}

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			var fc fileConfig
			if _, err := toml.DecodeFile(tomlPath, &fc); err != nil {
				return Config{}, err
			}
			applyFileConfig(&cfg, fc)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			slog.Info("config: no .env file found, using defaults/env vars", "path", envFile)
		}
	}
	applyEnv(&cfg)

	for _, o := range opts {
		o(&cfg)
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.StorageRoot != "" {
		cfg.StorageRoot = fc.StorageRoot
	}
	if fc.TokenLen > 0 {
		cfg.Relay.TokenLen = fc.TokenLen
	}
	if fc.TokenTimeout > 0 {
		cfg.Relay.TokenTimeout = time.Duration(fc.TokenTimeout) * time.Second
	}
	if fc.SessionTimeout > 0 {
		cfg.Relay.SessionTimeout = time.Duration(fc.SessionTimeout) * time.Second
	}
	if fc.AjaxTimeout > 0 {
		cfg.Relay.AjaxTimeout = time.Duration(fc.AjaxTimeout) * time.Second
	}
	if fc.GuardBand > 0 {
		cfg.Relay.GuardBand = fc.GuardBand
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ZAXMAIL_STORAGE_ROOT"); v != "" {
		cfg.StorageRoot = v
	}
	if v, ok := envInt("ZAXMAIL_RELAY_TOKEN_LEN"); ok {
		cfg.Relay.TokenLen = v
	}
	if v, ok := envSeconds("ZAXMAIL_RELAY_TOKEN_TIMEOUT"); ok {
		cfg.Relay.TokenTimeout = v
	}
	if v, ok := envSeconds("ZAXMAIL_RELAY_SESSION_TIMEOUT"); ok {
		cfg.Relay.SessionTimeout = v
	}
	if v, ok := envSeconds("ZAXMAIL_RELAY_AJAX_TIMEOUT"); ok {
		cfg.Relay.AjaxTimeout = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: ignoring malformed integer env var", "key", key, "value", v)
		return 0, false
	}
	return n, true
}

func envSeconds(key string) (time.Duration, bool) {
	n, ok := envInt(key)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
