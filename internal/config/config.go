package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration, loaded once in main and passed down explicitly.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	WorkerID        int64         `mapstructure:"worker_id"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

const (
	StorageDriverMySQL  = "mysql"
	StorageDriverMemory = "memory"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig is optional: an empty Host disables the outbox sender lock.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

const (
	KafkaClientSarama  = "sarama"
	KafkaClientKafkaGo = "kafka-go"
)

type KafkaConfig struct {
	Client  string           `mapstructure:"client"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	BalanceChanged string `mapstructure:"balance_changed"`
}

type BusinessConfig struct {
	// InitialBalance is credited to every newly registered account, in minor units.
	InitialBalance int64 `mapstructure:"initial_balance"`
	// AllowNegativeAdjustment lets administrative adjustments drive a balance below zero.
	AllowNegativeAdjustment bool          `mapstructure:"allow_negative_adjustment"`
	MaxMutationRetries      int           `mapstructure:"max_mutation_retries"`
	RetryBaseDelay          time.Duration `mapstructure:"retry_base_delay"`
	OutboxMaxRetryCount     int           `mapstructure:"outbox_max_retry_count"`
	OutboxInterval          time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize         int           `mapstructure:"outbox_batch_size"`
	// OutboxRetention is how long SENT outbox rows are kept before purging.
	OutboxRetention       time.Duration `mapstructure:"outbox_retention"`
	OutboxCleanupInterval time.Duration `mapstructure:"outbox_cleanup_interval"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("storage.driver", StorageDriverMySQL)

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "coinbank")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.client", KafkaClientSarama)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.balance_changed", "balance_changed")

	v.SetDefault("business.initial_balance", 0)
	v.SetDefault("business.allow_negative_adjustment", false)
	v.SetDefault("business.max_mutation_retries", 3)
	v.SetDefault("business.retry_base_delay", 10*time.Millisecond)
	v.SetDefault("business.outbox_max_retry_count", 5)
	v.SetDefault("business.outbox_interval", 500*time.Millisecond)
	v.SetDefault("business.outbox_batch_size", 100)
	v.SetDefault("business.outbox_retention", 24*time.Hour)
	v.SetDefault("business.outbox_cleanup_interval", time.Minute)
}

// LoadConfig reads the YAML file at configPath (optional if missing) and applies
// COINBANK_* environment overrides, e.g. COINBANK_MYSQL_PASSWORD.
func LoadConfig(configPath string) (*Config, error) {
	// .env is a local convenience only
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COINBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	switch c.Storage.Driver {
	case StorageDriverMySQL, StorageDriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver: %q", c.Storage.Driver)
	}
	switch c.Kafka.Client {
	case KafkaClientSarama, KafkaClientKafkaGo:
	default:
		return fmt.Errorf("invalid kafka.client: %q", c.Kafka.Client)
	}
	if c.Business.InitialBalance < 0 {
		return fmt.Errorf("business.initial_balance must not be negative: %d", c.Business.InitialBalance)
	}
	if c.Business.MaxMutationRetries < 0 {
		return fmt.Errorf("business.max_mutation_retries must not be negative: %d", c.Business.MaxMutationRetries)
	}
	return nil
}

// RedisEnabled reports whether a Redis server is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

// KafkaEnabled reports whether outbox messages can be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
