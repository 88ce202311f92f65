// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type StoreConfig struct {
	Type   string       `yaml:"type"`
	Redis  RedisConfig  `yaml:"redis"`
	Badger BadgerConfig `yaml:"badger"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BadgerConfig struct {
	Dir string `yaml:"dir"`
}

type ProtocolConfig struct {
	// FeeMode is "none" or "separate"; with "separate" the flat Fee is
	// debited from the owner on top of the locked amount.
	FeeMode string `yaml:"fee_mode"`
	Fee     uint64 `yaml:"fee"`
	// SubmissionTimeout bounds how long a caller waits on an async
	// submission before it is surfaced as pending/unknown.
	SubmissionTimeout time.Duration `yaml:"submission_timeout"`
	QueueSize         int           `yaml:"queue_size"`
}

type LedgerConfig struct {
	// Accounts seeds initial spendable balances at startup.
	Accounts map[string]uint64 `yaml:"accounts"`
}

type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled"`
	RequestsPerMin  int  `yaml:"requests_per_min"`
	MutationsPerMin int  `yaml:"mutations_per_min"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Store: StoreConfig{
			Type: "memory",
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				Password: "",
				DB:       0,
			},
			Badger: BadgerConfig{
				Dir: "data/envelopes",
			},
		},
		Protocol: ProtocolConfig{
			FeeMode:           "none",
			Fee:               0,
			SubmissionTimeout: 30 * time.Second,
			QueueSize:         256,
		},
		Ledger: LedgerConfig{
			Accounts: map[string]uint64{},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			RequestsPerMin:  100,
			MutationsPerMin: 20,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, err
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File not found is OK, use defaults
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

func (c *Config) loadFromEnv() {
	// Server
	if v := os.Getenv("HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Store.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
	if v := os.Getenv("BADGER_DIR"); v != "" {
		c.Store.Badger.Dir = v
	}

	if v := os.Getenv("FEE_MODE"); v != "" {
		c.Protocol.FeeMode = v
	}
	if v := os.Getenv("FEE"); v != "" {
		if fee, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Protocol.Fee = fee
		}
	}
	if v := os.Getenv("SUBMISSION_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Protocol.SubmissionTimeout = d
		}
	}
	if v := os.Getenv("QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Protocol.QueueSize = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		c.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.RequestsPerMin = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_MUTATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.MutationsPerMin = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Store.Type {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("invalid store type: %s (must be 'memory', 'redis' or 'badger')", c.Store.Type)
	}

	if c.Store.Type == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when store type is 'redis'")
	}

	if c.Store.Type == "badger" && c.Store.Badger.Dir == "" {
		return fmt.Errorf("badger dir is required when store type is 'badger'")
	}

	switch c.Protocol.FeeMode {
	case "none", "separate":
	default:
		return fmt.Errorf("invalid fee mode: %s (must be 'none' or 'separate')", c.Protocol.FeeMode)
	}

	if c.Protocol.FeeMode == "separate" && c.Protocol.Fee == 0 {
		return fmt.Errorf("fee must be positive when fee mode is 'separate'")
	}

	if c.Protocol.SubmissionTimeout <= 0 {
		return fmt.Errorf("submission_timeout must be positive")
	}

	if c.Protocol.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}

	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
