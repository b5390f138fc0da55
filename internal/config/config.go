// Package config loads application configuration from an optional YAML file
// with environment variable overrides for deployment settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the coinfolio API.
type Config struct {
	Server  Server  `yaml:"server"`
	Storage Storage `yaml:"storage"`
	Oracle  Oracle  `yaml:"oracle"`
	Engine  Engine  `yaml:"engine"`
	Auth    Auth    `yaml:"auth"`
}

// Server holds network listener configuration.
type Server struct {
	Port string `yaml:"port"`
}

// Storage holds the path for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// Oracle configures the external price quote API and the background
// refresher that snapshots its prices into the quote table.
type Oracle struct {
	BaseURL                string `yaml:"base_url"`
	TimeoutSeconds         int    `yaml:"timeout_seconds"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
}

// Engine configures the order matching scheduler.
type Engine struct {
	CycleIntervalSeconds int     `yaml:"cycle_interval_seconds"`
	StaleClaimSeconds    int     `yaml:"stale_claim_seconds"`
	StartingBalance      float64 `yaml:"starting_balance"`
}

// Auth holds JWT signing configuration.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// Default returns the configuration used when no file or overrides are
// present.
func Default() *Config {
	return &Config{
		Server:  Server{Port: "8080"},
		Storage: Storage{SQLitePath: "coinfolio.db"},
		Oracle: Oracle{
			BaseURL:                "https://api.coingecko.com/api/v3",
			TimeoutSeconds:         10,
			RefreshIntervalSeconds: 60,
		},
		Engine: Engine{
			CycleIntervalSeconds: 30,
			StaleClaimSeconds:    300,
			StartingBalance:      500000,
		},
		Auth: Auth{JWTSecret: "coinfolio-secret-key"},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides. An unreadable
// or malformed file is an error; a missing one is not.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("COINFOLIO_DB"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("COINFOLIO_ORACLE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("COINFOLIO_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("COINFOLIO_CYCLE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Engine.CycleIntervalSeconds = n
		}
	}
}

func (c *Config) validate() error {
	if c.Engine.CycleIntervalSeconds <= 0 {
		return fmt.Errorf("cycle_interval_seconds must be positive, got %d", c.Engine.CycleIntervalSeconds)
	}
	if c.Engine.StaleClaimSeconds <= 0 {
		return fmt.Errorf("stale_claim_seconds must be positive, got %d", c.Engine.StaleClaimSeconds)
	}
	if c.Engine.StartingBalance < 0 {
		return fmt.Errorf("starting_balance must not be negative, got %f", c.Engine.StartingBalance)
	}
	if c.Oracle.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.Oracle.TimeoutSeconds)
	}
	return nil
}

// CycleInterval returns the scheduler tick interval.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Engine.CycleIntervalSeconds) * time.Second
}

// StaleClaimWindow returns how long a claimed order may sit without
// progress before it is released back to pending.
func (c *Config) StaleClaimWindow() time.Duration {
	return time.Duration(c.Engine.StaleClaimSeconds) * time.Second
}

// RefreshInterval returns the price refresher tick interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Oracle.RefreshIntervalSeconds) * time.Second
}

// OracleTimeout returns the per-request timeout for the quote API.
func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutSeconds) * time.Second
}
