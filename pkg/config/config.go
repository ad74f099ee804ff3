// Package config loads daemon settings from an optional YAML file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/phenomenon0/oddyssey-agent/pkg/eth"
)

// Config holds all daemon configuration.
type Config struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	Paper    bool   `yaml:"paper"`

	HTTP     HTTPConfig     `yaml:"http"`
	Chain    ChainConfig    `yaml:"chain"`
	Backend  BackendConfig  `yaml:"backend"`
	Polling  PollingConfig  `yaml:"polling"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Database DatabaseConfig `yaml:"database"`
	Telegram TelegramConfig `yaml:"telegram"`

	// Timezone is the IANA zone used for "start of today".
	Timezone   string `yaml:"timezone"`
	PrizeRanks int    `yaml:"prize_ranks"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	ChainID         uint64        `yaml:"chain_id"`
	Network         string        `yaml:"network"`
	ContractAddress string        `yaml:"contract_address"`
	PrivateKey      string        `yaml:"-"`
	ReceiptTimeout  time.Duration `yaml:"receipt_timeout"`
}

type BackendConfig struct {
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"`
}

type PollingConfig struct {
	Matches     time.Duration `yaml:"matches"`
	Evaluations time.Duration `yaml:"evaluations"`
	Stats       time.Duration `yaml:"stats"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"-"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type DatabaseConfig struct {
	DSN         string        `yaml:"-"`
	MaxConns    int           `yaml:"max_conns"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
}

type TelegramConfig struct {
	BotToken string `yaml:"-"`
	ChatID   int64  `yaml:"chat_id"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Env:      "local",
		LogLevel: "info",
		HTTP:     HTTPConfig{Addr: ":8080"},
		Chain: ChainConfig{
			RPCURL:         eth.DefaultRPCURL,
			ChainID:        eth.DefaultChainID,
			Network:        eth.DefaultNetwork,
			ReceiptTimeout: 2 * time.Minute,
		},
		Backend: BackendConfig{RateLimit: 5},
		Polling: PollingConfig{
			Matches:     30 * time.Second,
			Evaluations: 30 * time.Second,
			Stats:       60 * time.Second,
		},
		Redis:      RedisConfig{TTL: 30 * time.Second},
		Kafka:      KafkaConfig{Topic: "oddyssey.slips"},
		Database:   DatabaseConfig{MaxConns: 10, MaxIdleTime: 5 * time.Minute},
		Timezone:   "UTC",
		PrizeRanks: 5,
	}
}

// Load reads path (when non-empty), applies ODDYSSEY_* environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Env = getEnv("ODDYSSEY_ENV", c.Env)
	c.LogLevel = getEnv("ODDYSSEY_LOG_LEVEL", c.LogLevel)
	c.Paper = getEnvBool("ODDYSSEY_PAPER", c.Paper)
	c.HTTP.Addr = getEnv("ODDYSSEY_HTTP_ADDR", c.HTTP.Addr)

	c.Chain.RPCURL = getEnv("ODDYSSEY_RPC_URL", c.Chain.RPCURL)
	c.Chain.ChainID = uint64(getEnvInt("ODDYSSEY_CHAIN_ID", int(c.Chain.ChainID)))
	c.Chain.ContractAddress = getEnv("ODDYSSEY_CONTRACT_ADDRESS", c.Chain.ContractAddress)
	c.Chain.ReceiptTimeout = getEnvDuration("ODDYSSEY_RECEIPT_TIMEOUT", c.Chain.ReceiptTimeout)

	c.Backend.BaseURL = getEnv("ODDYSSEY_BACKEND_URL", c.Backend.BaseURL)

	c.Polling.Matches = getEnvDuration("ODDYSSEY_POLL_MATCHES", c.Polling.Matches)
	c.Polling.Evaluations = getEnvDuration("ODDYSSEY_POLL_EVALUATIONS", c.Polling.Evaluations)
	c.Polling.Stats = getEnvDuration("ODDYSSEY_POLL_STATS", c.Polling.Stats)

	c.Redis.Addr = getEnv("ODDYSSEY_REDIS_ADDR", c.Redis.Addr)
	c.Kafka.Brokers = getEnv("ODDYSSEY_KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("ODDYSSEY_KAFKA_TOPIC", c.Kafka.Topic)
	c.Telegram.ChatID = int64(getEnvInt("ODDYSSEY_TELEGRAM_CHAT_ID", int(c.Telegram.ChatID)))

	c.Timezone = getEnv("ODDYSSEY_TIMEZONE", c.Timezone)
	c.PrizeRanks = getEnvInt("ODDYSSEY_PRIZE_RANKS", c.PrizeRanks)

	secrets := []struct {
		key string
		dst *string
	}{
		{"ODDYSSEY_PRIVATE_KEY", &c.Chain.PrivateKey},
		{"ODDYSSEY_REDIS_PASSWORD", &c.Redis.Password},
		{"ODDYSSEY_DATABASE_DSN", &c.Database.DSN},
		{"ODDYSSEY_TELEGRAM_BOT_TOKEN", &c.Telegram.BotToken},
	}
	for _, s := range secrets {
		v, err := getSecret(s.key)
		if err != nil {
			return err
		}
		if v != "" {
			*s.dst = v
		}
	}
	return nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain.chain_id is required")
	}
	if !c.Paper {
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("ODDYSSEY_RPC_URL is required outside paper mode")
		}
		if !strings.HasPrefix(c.Chain.ContractAddress, "0x") || len(c.Chain.ContractAddress) != 42 {
			return fmt.Errorf("ODDYSSEY_CONTRACT_ADDRESS must be a 0x-prefixed address")
		}
	}
	if c.PrizeRanks < 1 {
		return fmt.Errorf("prize_ranks must be at least 1")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.Polling.Matches <= 0 || c.Polling.Evaluations <= 0 || c.Polling.Stats <= 0 {
		return fmt.Errorf("polling intervals must be positive")
	}
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when a bot token is set")
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getSecret reads key, or the file named by key_FILE when that is set.
func getSecret(key string) (string, error) {
	if path := os.Getenv(key + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read secret file %s: %w", path, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return os.Getenv(key), nil
}
