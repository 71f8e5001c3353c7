package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"marketfeed/internal/model/enum"
)

// Config mirrors the YAML config layout.
type Config struct {
	Feed      FeedConfig      `yaml:"feed"`
	Auth      AuthConfig      `yaml:"auth"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Eviction  EvictionConfig  `yaml:"eviction"`
	Server    ServerConfig    `yaml:"server"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Profiling ProfilingConfig `yaml:"profiling"`
}

// FeedConfig describes the upstream broker and the initial subscriptions.
type FeedConfig struct {
	URL              string   `yaml:"url"`
	Symbols          []string `yaml:"subscribed_symbols"`
	DataKinds        []string `yaml:"data_kinds"`
	CandleTimeframes []string `yaml:"candle_timeframes"`
}

// AuthConfig describes the credential provider boundary.
type AuthConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	ConsumerID     string        `yaml:"consumer_id"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	Lookahead      time.Duration `yaml:"lookahead"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// ReconnectConfig bounds the transport retry loop.
type ReconnectConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BackoffMin time.Duration `yaml:"backoff_min"`
	BackoffMax time.Duration `yaml:"backoff_max"`
	Factor     float64       `yaml:"factor"`
	Jitter     float64       `yaml:"jitter"`
}

// EvictionConfig controls the stale-state sweep.
type EvictionConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Staleness time.Duration `yaml:"staleness"`
}

// ServerConfig hosts the downstream websocket push endpoint.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// KafkaConfig enables the optional event sink when a broker is set.
type KafkaConfig struct {
	BrokerURL string `yaml:"broker_url"`
	Topic     string `yaml:"topic"`
}

// RedisConfig enables the optional snapshot mirror when an address is set.
type RedisConfig struct {
	Addr string        `yaml:"addr"`
	TTL  time.Duration `yaml:"ttl"`
}

// ProfilingConfig enables continuous profiling when a server is set.
type ProfilingConfig struct {
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Load reads and validates the YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("feed.url is empty")
	}
	if c.Auth.Endpoint == "" {
		return fmt.Errorf("auth.endpoint is empty")
	}
	if c.Auth.ConsumerID == "" || c.Auth.ConsumerSecret == "" {
		return fmt.Errorf("auth consumer id/secret is empty")
	}
	for _, kind := range c.Feed.DataKinds {
		if _, ok := enum.ParseDataKind(kind); !ok {
			return fmt.Errorf("unknown data kind: %s", kind)
		}
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must be >= 0")
	}
	if c.Kafka.BrokerURL != "" && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is empty")
	}
	return nil
}

// DataKinds resolves the configured kind tokens. validate has already
// rejected unknown tokens.
func (c *Config) DataKinds() []enum.DataKind {
	kinds := make([]enum.DataKind, 0, len(c.Feed.DataKinds))
	for _, token := range c.Feed.DataKinds {
		if kind, ok := enum.ParseDataKind(token); ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}
