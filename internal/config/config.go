// Package config loads server configuration from a YAML file plus
// environment overrides, the same two-step shape as the teacher's
// internal/config/loader.go (read file, unmarshal, fill zero-value
// defaults) with env vars layered on top for the values spec.md §6 says
// belong to the environment rather than a checked-in file: secrets and
// per-deployment connection strings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set spec.md §6's "Environment configuration" list
// enumerates, grouped the way the teacher groups its YAML config: one
// struct per concern, yaml tags throughout.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	Candles   CandleConfig    `yaml:"candles"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Server    ServerConfig    `yaml:"server"`
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type BroadcastConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// AuthConfig carries the bearer-token signing keys spec.md §6 describes:
// a current key and an optional previous one, accepted together during a
// rotation window.
type AuthConfig struct {
	SigningSecret         string `yaml:"signing_secret"`
	PreviousSigningSecret string `yaml:"previous_signing_secret"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type CandleConfig struct {
	DataRoot string   `yaml:"data_root"`
	Symbols  []string `yaml:"symbols"`
}

// RateLimitConfig carries the three buckets spec.md §6 names: general
// traffic, trade submission, and match creation.
type RateLimitConfig struct {
	GeneralPerSecond int `yaml:"general_per_second"`
	TradePerSecond   int `yaml:"trade_per_second"`
	CreatePerSecond  int `yaml:"create_per_second"`
}

type SchedulerConfig struct {
	PoolSize      int           `yaml:"pool_size"`
	TickPeriod    time.Duration `yaml:"tick_period"`
	LeaseTTL      time.Duration `yaml:"lease_ttl"`
	DisconnectTTL time.Duration `yaml:"disconnect_grace"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	InstanceID string `yaml:"instance_id"`
}

// Load reads path as YAML, fills defaults for anything left zero-valued,
// and then lets environment variables override secrets and per-deployment
// connection details — the values spec.md §6 scopes to "Environment
// configuration" rather than the checked-in file.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.Auth.SigningSecret == "" {
		return nil, fmt.Errorf("auth.signing_secret (or CANDLEDUEL_SIGNING_SECRET) is required")
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.InstanceID == "" {
		hostname, _ := os.Hostname()
		cfg.Server.InstanceID = hostname
	}
	if cfg.Broadcast.Port == 0 {
		cfg.Broadcast.Port = 6379
	}
	if cfg.RateLimit.GeneralPerSecond == 0 {
		cfg.RateLimit.GeneralPerSecond = 20
	}
	if cfg.RateLimit.TradePerSecond == 0 {
		cfg.RateLimit.TradePerSecond = 5
	}
	if cfg.RateLimit.CreatePerSecond == 0 {
		cfg.RateLimit.CreatePerSecond = 1
	}
	if cfg.Scheduler.PoolSize == 0 {
		cfg.Scheduler.PoolSize = 64
	}
	if cfg.Scheduler.TickPeriod == 0 {
		cfg.Scheduler.TickPeriod = 5 * time.Second
	}
	if cfg.Scheduler.LeaseTTL == 0 {
		cfg.Scheduler.LeaseTTL = 60 * time.Second
	}
	if cfg.Scheduler.DisconnectTTL == 0 {
		cfg.Scheduler.DisconnectTTL = 15 * time.Second
	}
}

// applyEnvOverrides pairs each environment variable spec.md §6 implies with
// the Config field it belongs to, one strField/intField call per variable,
// so adding one is a one-line change.
func applyEnvOverrides(cfg *Config) {
	strField(&cfg.Database.URL, "CANDLEDUEL_DB_URL")
	strField(&cfg.Database.Username, "CANDLEDUEL_DB_USERNAME")
	strField(&cfg.Database.Password, "CANDLEDUEL_DB_PASSWORD")
	strField(&cfg.Broadcast.Host, "CANDLEDUEL_BROADCAST_HOST")
	intField(&cfg.Broadcast.Port, "CANDLEDUEL_BROADCAST_PORT")
	strField(&cfg.Broadcast.Password, "CANDLEDUEL_BROADCAST_PASSWORD")
	strField(&cfg.Auth.SigningSecret, "CANDLEDUEL_SIGNING_SECRET")
	strField(&cfg.Auth.PreviousSigningSecret, "CANDLEDUEL_PREVIOUS_SIGNING_SECRET")
	strField(&cfg.Candles.DataRoot, "CANDLEDUEL_CANDLE_DATA_ROOT")
	strField(&cfg.Server.ListenAddr, "CANDLEDUEL_LISTEN_ADDR")
	strField(&cfg.Server.InstanceID, "CANDLEDUEL_INSTANCE_ID")
}

func strField(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func intField(dst *int, env string) {
	v := os.Getenv(env)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}
