// Package config loads the room runtime's configuration the way the
// teacher's pkg/config package does: viper layering a default YAML file with
// environment-specific overrides and environment-variable overrides, merged
// into a typed struct. Recognized keys mirror spec §6.5.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the unified runtime configuration for a room-runtime process.
type Config struct {
	GameLoop struct {
		TickIntervalMS  int `mapstructure:"tick_interval_ms" json:"tick_interval_ms"`
		MaxRoomsPerTick int `mapstructure:"max_rooms_per_tick" json:"max_rooms_per_tick"`
		LeaderLockTTLS  int `mapstructure:"leader_lock_ttl_seconds" json:"leader_lock_ttl_seconds"`
	} `mapstructure:"game_loop" json:"game_loop"`

	Session struct {
		ReconnectionGracePeriodSeconds int `mapstructure:"reconnection_grace_period_seconds" json:"reconnection_grace_period_seconds"`
		HeartbeatTTLSeconds            int `mapstructure:"heartbeat_ttl_seconds" json:"heartbeat_ttl_seconds"`
		CleanupIntervalSeconds         int `mapstructure:"cleanup_interval_seconds" json:"cleanup_interval_seconds"`
	} `mapstructure:"session" json:"session"`

	Economy struct {
		InitialCoins              int64 `mapstructure:"initial_coins" json:"initial_coins"`
		IdempotencyKeyRetentionDays int `mapstructure:"idempotency_key_retention_days" json:"idempotency_key_retention_days"`
		RakeBasisPoints             int `mapstructure:"rake_basis_points" json:"rake_basis_points"`
	} `mapstructure:"economy" json:"economy"`

	RateLimit struct {
		PermitLimit   int `mapstructure:"permit_limit" json:"permit_limit"`
		WindowMinutes int `mapstructure:"window_minutes" json:"window_minutes"`
	} `mapstructure:"rate_limit" json:"rate_limit"`

	CORS struct {
		AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	} `mapstructure:"cors" json:"cors"`

	Database struct {
		DSN                   string `mapstructure:"dsn" json:"dsn"`
		MaxPoolSize           int    `mapstructure:"max_pool_size" json:"max_pool_size"`
		MinPoolSize           int    `mapstructure:"min_pool_size" json:"min_pool_size"`
		ConnectionIdleLifetimeSeconds int `mapstructure:"connection_idle_lifetime_seconds" json:"connection_idle_lifetime_seconds"`
		CommandTimeoutSeconds int    `mapstructure:"command_timeout_seconds" json:"command_timeout_seconds"`
	} `mapstructure:"database" json:"database"`

	Redis struct {
		Addr     string `mapstructure:"addr" json:"addr"`
		Password string `mapstructure:"password" json:"password"`
		DB       int    `mapstructure:"db" json:"db"`
	} `mapstructure:"redis" json:"redis"`

	Security struct {
		MinimumAPIKeyLength int `mapstructure:"minimum_api_key_length" json:"minimum_api_key_length"`
	} `mapstructure:"security" json:"security"`

	AdminSeed struct {
		Email        string `mapstructure:"email" json:"email"`
		Password     string `mapstructure:"password" json:"password"`
		InitialCoins int64  `mapstructure:"initial_coins" json:"initial_coins"`
	} `mapstructure:"admin_seed" json:"admin_seed"`

	HTTPAddr string `mapstructure:"http_addr" json:"http_addr"`
}

// AppConfig holds the configuration loaded by Load.
var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("game_loop.tick_interval_ms", 5000)
	v.SetDefault("game_loop.max_rooms_per_tick", 50)
	v.SetDefault("game_loop.leader_lock_ttl_seconds", 15)
	v.SetDefault("session.reconnection_grace_period_seconds", 15)
	v.SetDefault("session.heartbeat_ttl_seconds", 120)
	v.SetDefault("session.cleanup_interval_seconds", 1)
	v.SetDefault("economy.initial_coins", 100)
	v.SetDefault("economy.idempotency_key_retention_days", 30)
	v.SetDefault("economy.rake_basis_points", 300)
	v.SetDefault("rate_limit.permit_limit", 100)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("database.max_pool_size", 20)
	v.SetDefault("database.min_pool_size", 2)
	v.SetDefault("database.connection_idle_lifetime_seconds", 300)
	v.SetDefault("database.command_timeout_seconds", 5)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("security.minimum_api_key_length", 32)
	v.SetDefault("http_addr", ":8080")
}

// Load reads config/default.yaml, merges config/<env>.yaml if present, then
// merges environment-variable overrides prefixed ROOMSERVICE_ (nested keys
// joined with underscores), and stores the result in AppConfig.
func Load(env string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("default")
	v.SetConfigType("yaml")
	v.AddConfigPath("config")
	v.AddConfigPath(".")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName(env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merge %s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("ROOMSERVICE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	AppConfig = cfg
	return &AppConfig, nil
}

// TickInterval returns the configured game-loop tick as a time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.GameLoop.TickIntervalMS) * time.Millisecond
}

// LeaderLockTTL returns the leader lock TTL as a time.Duration.
func (c *Config) LeaderLockTTL() time.Duration {
	return time.Duration(c.GameLoop.LeaderLockTTLS) * time.Second
}

// ReconnectionGracePeriod returns the disconnect grace period as a
// time.Duration.
func (c *Config) ReconnectionGracePeriod() time.Duration {
	return time.Duration(c.Session.ReconnectionGracePeriodSeconds) * time.Second
}

// RateLimitWindow returns the rate-limit sliding window as a time.Duration.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMinutes) * time.Minute
}
