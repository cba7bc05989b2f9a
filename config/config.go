package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Backend kinds accepted in store.backend
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendPebble = "pebble"
)

// Event transports accepted in kafka.client
const (
	ClientKafkaGo = "kafka-go"
	ClientSarama  = "sarama"
)

// Config represents the application configuration
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Store struct {
		Backend string `yaml:"backend"`
		DataDir string `yaml:"data_dir"`
		Redis   struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix"`
		} `yaml:"redis"`
	} `yaml:"store"`

	Kafka struct {
		Enabled bool     `yaml:"enabled"`
		Client  string   `yaml:"client"`
		Brokers []string `yaml:"brokers"`
		Topic   string   `yaml:"topic"`
		GroupID string   `yaml:"group_id"`
	} `yaml:"kafka"`

	Otel struct {
		Enabled        bool   `yaml:"enabled"`
		Endpoint       string `yaml:"endpoint"`
		ServiceName    string `yaml:"service_name"`
		ServiceVersion string `yaml:"service_version"`
	} `yaml:"otel"`

	Book struct {
		Name     string `yaml:"name"`
		TickSize string `yaml:"tick_size"`
	} `yaml:"book"`

	// Args holds the positional arguments left after flag parsing
	Args []string `yaml:"-"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Log.Format = "pretty"
	cfg.Store.Backend = BackendMemory
	cfg.Store.DataDir = "data"
	cfg.Store.Redis.Addr = "localhost:6379"
	cfg.Kafka.Client = ClientKafkaGo
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Kafka.Topic = "orderindex-events"
	cfg.Kafka.GroupID = "indexctl"
	cfg.Otel.Endpoint = "localhost:4317"
	cfg.Otel.ServiceName = "order-index"
	cfg.Book.Name = "default"
	cfg.Book.TickSize = "0.01"
	return cfg
}

// LoadConfig loads the configuration from the process arguments
func LoadConfig() (*Config, error) {
	return Load(os.Args[0], os.Args[1:])
}

// Load builds a configuration in three layers: defaults and an optional
// YAML file, then command line flags, then ORDERINDEX_* environment variables.
func Load(name string, args []string) (*Config, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to config file (YAML)")
	logLevel := fs.String("log_level", "", "Log level: debug, info, warn, error")
	logFormat := fs.String("log_format", "", "Log format: json, pretty")
	backend := fs.String("backend", "", "Store backend: memory, redis, pebble")
	dataDir := fs.String("data_dir", "", "Directory of pebble books")
	redisAddr := fs.String("redis_addr", "", "Redis address")
	bookName := fs.String("book", "", "Book name")
	tickSize := fs.String("tick_size", "", "Tick size of decimal prices")
	kafkaEnabled := fs.Bool("kafka", false, "Publish index events to Kafka")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	if *configFile != "" {
		yamlFile, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	setIfNotEmpty(&cfg.Log.Level, *logLevel)
	setIfNotEmpty(&cfg.Log.Format, *logFormat)
	setIfNotEmpty(&cfg.Store.Backend, *backend)
	setIfNotEmpty(&cfg.Store.DataDir, *dataDir)
	setIfNotEmpty(&cfg.Store.Redis.Addr, *redisAddr)
	setIfNotEmpty(&cfg.Book.Name, *bookName)
	setIfNotEmpty(&cfg.Book.TickSize, *tickSize)
	if *kafkaEnabled {
		cfg.Kafka.Enabled = true
	}

	applyEnv(cfg)
	cfg.Args = fs.Args()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyEnv overrides cfg with ORDERINDEX_* environment variables
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix("ORDERINDEX")
	v.AutomaticEnv()

	v.SetDefault("LOG_LEVEL", cfg.Log.Level)
	v.SetDefault("LOG_FORMAT", cfg.Log.Format)
	v.SetDefault("STORE_BACKEND", cfg.Store.Backend)
	v.SetDefault("STORE_DATA_DIR", cfg.Store.DataDir)
	v.SetDefault("REDIS_ADDR", cfg.Store.Redis.Addr)
	v.SetDefault("REDIS_PASSWORD", cfg.Store.Redis.Password)
	v.SetDefault("REDIS_DB", cfg.Store.Redis.DB)
	v.SetDefault("REDIS_PREFIX", cfg.Store.Redis.Prefix)
	v.SetDefault("KAFKA_ENABLED", cfg.Kafka.Enabled)
	v.SetDefault("KAFKA_CLIENT", cfg.Kafka.Client)
	v.SetDefault("KAFKA_BROKERS", strings.Join(cfg.Kafka.Brokers, ","))
	v.SetDefault("KAFKA_TOPIC", cfg.Kafka.Topic)
	v.SetDefault("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	v.SetDefault("OTEL_ENABLED", cfg.Otel.Enabled)
	v.SetDefault("OTEL_ENDPOINT", cfg.Otel.Endpoint)
	v.SetDefault("BOOK_NAME", cfg.Book.Name)
	v.SetDefault("BOOK_TICK_SIZE", cfg.Book.TickSize)

	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.Format = v.GetString("LOG_FORMAT")
	cfg.Store.Backend = v.GetString("STORE_BACKEND")
	cfg.Store.DataDir = v.GetString("STORE_DATA_DIR")
	cfg.Store.Redis.Addr = v.GetString("REDIS_ADDR")
	cfg.Store.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Store.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Store.Redis.Prefix = v.GetString("REDIS_PREFIX")
	cfg.Kafka.Enabled = v.GetBool("KAFKA_ENABLED")
	cfg.Kafka.Client = v.GetString("KAFKA_CLIENT")
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.Topic = v.GetString("KAFKA_TOPIC")
	cfg.Kafka.GroupID = v.GetString("KAFKA_GROUP_ID")
	cfg.Otel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.Otel.Endpoint = v.GetString("OTEL_ENDPOINT")
	cfg.Book.Name = v.GetString("BOOK_NAME")
	cfg.Book.TickSize = v.GetString("BOOK_TICK_SIZE")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate rejects configurations that cannot work
func (c *Config) Validate() error {
	var errs []error

	switch c.Log.Format {
	case "json", "pretty":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or pretty, got %q", c.Log.Format))
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr must not be empty"))
		}
	case BackendPebble:
		if c.Store.DataDir == "" {
			errs = append(errs, errors.New("store.data_dir must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}

	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers must not be empty"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic must not be empty"))
		}
		if c.Kafka.Client != ClientKafkaGo && c.Kafka.Client != ClientSarama {
			errs = append(errs, fmt.Errorf("unknown kafka.client %q", c.Kafka.Client))
		}
	}

	if c.Otel.Enabled && c.Otel.Endpoint == "" {
		errs = append(errs, errors.New("otel.endpoint must not be empty"))
	}

	if c.Book.Name == "" {
		errs = append(errs, errors.New("book.name must not be empty"))
	}
	if c.Book.TickSize == "" {
		errs = append(errs, errors.New("book.tick_size must not be empty"))
	}

	return errors.Join(errs...)
}
