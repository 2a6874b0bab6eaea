// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package config loads agent and backend settings from a YAML file,
// FIELDSYNC_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FIELDSYNC_API_BASE_URL.
const EnvPrefix = "FIELDSYNC"

type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=1s"`
}

type AuthConfig struct {
	UserID string `mapstructure:"user_id"`
	// Token is a static bearer token. When empty and JWTSecret is set the
	// agent mints its own tokens.
	Token     string        `mapstructure:"token"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gte=1m"`
}

type StoreConfig struct {
	Path        string        `mapstructure:"path" validate:"required"`
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

type SyncConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval" validate:"gte=1s"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"gte=1s"`
	LogStages     bool          `mapstructure:"log_stages"`
}

type DraftsConfig struct {
	RetentionDays   int           `mapstructure:"retention_days" validate:"gte=1"`
	CleanupSchedule string        `mapstructure:"cleanup_schedule" validate:"required"`
	AutosaveDelay   time.Duration `mapstructure:"autosave_delay"`
}

type StatsConfig struct {
	FormsPerVisit    int `mapstructure:"forms_per_visit" validate:"gte=1"`
	ModulesPerFamily int `mapstructure:"modules_per_family" validate:"gte=1"`
}

type LogConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=text json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	DatabaseURL string `mapstructure:"database_url"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}

// Config is the complete settings tree.
type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Store  StoreConfig  `mapstructure:"store"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Drafts DraftsConfig `mapstructure:"drafts"`
	Stats  StatsConfig  `mapstructure:"stats"`
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
}

// Default returns settings that work against a local backend.
func Default() Config {
	return Config{
		API:  APIConfig{BaseURL: "http://localhost:8080", Timeout: 30 * time.Second},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
		Store: StoreConfig{
			Path:        "fieldsync.db",
			BusyTimeout: 5 * time.Second,
		},
		Sync: SyncConfig{
			Enabled:       true,
			Interval:      30 * time.Second,
			Timeout:       2 * time.Minute,
			ProbeInterval: 15 * time.Second,
		},
		Drafts: DraftsConfig{RetentionDays: 30, CleanupSchedule: "15 2 * * *", AutosaveDelay: time.Second},
		Stats:  StatsConfig{FormsPerVisit: 4, ModulesPerFamily: 16},
		Log:    LogConfig{Level: "info", Format: "text", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 14},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// LoadOptions names the sources to read.
type LoadOptions struct {
	File    string // optional YAML file
	EnvFile string // optional dotenv file; missing files are ignored
	// Bind lets the caller attach flags, e.g. v.BindPFlags(cmd.Flags()).
	Bind func(v *viper.Viper) error
}

// Load reads and validates the configuration. The returned viper instance
// can be passed to Watch.
func Load(opts LoadOptions) (*Config, *viper.Viper, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			slog.Debug("No env file loaded", "file", opts.EnvFile, "error", err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", opts.File, err)
		}
	}
	if opts.Bind != nil {
		if err := opts.Bind(v); err != nil {
			return nil, nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Watch calls fn with the reloaded configuration whenever the config file is
// written. Reloads that fail validation are logged and ignored.
func Watch(v *viper.Viper, logger *slog.Logger, fn func(*Config)) {
	if logger == nil {
		logger = slog.Default()
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("Ignoring config reload", "file", e.Name, "error", err)
			return
		}
		logger.Info("Config reloaded", "file", e.Name)
		fn(cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("auth.user_id", d.Auth.UserID)
	v.SetDefault("auth.token", d.Auth.Token)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.busy_timeout", d.Store.BusyTimeout)
	v.SetDefault("sync.enabled", d.Sync.Enabled)
	v.SetDefault("sync.interval", d.Sync.Interval)
	v.SetDefault("sync.timeout", d.Sync.Timeout)
	v.SetDefault("sync.probe_interval", d.Sync.ProbeInterval)
	v.SetDefault("sync.log_stages", d.Sync.LogStages)
	v.SetDefault("drafts.retention_days", d.Drafts.RetentionDays)
	v.SetDefault("drafts.cleanup_schedule", d.Drafts.CleanupSchedule)
	v.SetDefault("drafts.autosave_delay", d.Drafts.AutosaveDelay)
	v.SetDefault("stats.forms_per_visit", d.Stats.FormsPerVisit)
	v.SetDefault("stats.modules_per_family", d.Stats.ModulesPerFamily)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.database_url", d.Server.DatabaseURL)
	v.SetDefault("server.jwt_secret", d.Server.JWTSecret)
}
