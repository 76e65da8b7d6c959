package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Polling   PollingConfig   `mapstructure:"polling"`
	Batching  BatchingConfig  `mapstructure:"batching"`
	Storage   StorageConfig   `mapstructure:"storage"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Health    HealthConfig    `mapstructure:"health"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Fleet     FleetConfig     `mapstructure:"fleet"`
	Profiles  ProfilesConfig  `mapstructure:"device_profiles"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type PollingConfig struct {
	DefaultPollInterval time.Duration `mapstructure:"default_poll_interval"`
	DefaultTimeout      time.Duration `mapstructure:"default_timeout"`
	DefaultMaxRetries   int           `mapstructure:"default_max_retries"`
	Cooldown            time.Duration `mapstructure:"cooldown"`
	BackoffBase         time.Duration `mapstructure:"backoff_base"`
}

type BatchingConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	SinkRetries   int           `mapstructure:"sink_retries"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

type StorageConfig struct {
	Backend   string          `mapstructure:"backend"`
	Influx    InfluxConfig    `mapstructure:"influxdb"`
	Timescale TimescaleConfig `mapstructure:"timescaledb"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
}

type InfluxConfig struct {
	URL         string `mapstructure:"url"`
	TokenEnv    string `mapstructure:"token_env"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

type TimescaleConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BrokerURL   string `mapstructure:"broker_url"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	PasswordEnv string `mapstructure:"password_env"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

type HealthConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type WebSocketConfig struct {
	DefaultUpdateInterval time.Duration `mapstructure:"default_update_interval"`
}

type FleetConfig struct {
	File string `mapstructure:"file"`
}

type ProfilesConfig struct {
	SearchPaths []string `mapstructure:"search_paths"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")

	// Defaults setzen
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.shutdown_timeout", "30s")

	viper.SetDefault("polling.default_poll_interval", "2s")
	viper.SetDefault("polling.default_timeout", "5s")
	viper.SetDefault("polling.default_max_retries", 3)
	viper.SetDefault("polling.cooldown", "5s")
	viper.SetDefault("polling.backoff_base", "250ms")

	viper.SetDefault("batching.batch_size", 100)
	viper.SetDefault("batching.flush_interval", "5s")
	viper.SetDefault("batching.sink_retries", 3)
	viper.SetDefault("batching.retry_backoff", "1s")

	viper.SetDefault("storage.backend", "influxdb")
	viper.SetDefault("storage.influxdb.url", "http://localhost:8086")
	viper.SetDefault("storage.influxdb.token_env", "OCC_INFLUX_TOKEN")
	viper.SetDefault("storage.influxdb.org", "factory")
	viper.SetDefault("storage.influxdb.bucket", "counters")
	viper.SetDefault("storage.influxdb.measurement", "counter_data")
	viper.SetDefault("storage.timescaledb.host", "localhost")
	viper.SetDefault("storage.timescaledb.port", 5432)
	viper.SetDefault("storage.timescaledb.database", "counters")
	viper.SetDefault("storage.timescaledb.max_connections", 10)
	viper.SetDefault("storage.kafka.topic", "counter-readings")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.client_id", "opencountercore")
	viper.SetDefault("mqtt.password_env", "OCC_MQTT_PASSWORD")
	viper.SetDefault("mqtt.topic_prefix", "counters")
	viper.SetDefault("mqtt.qos", 1)

	viper.SetDefault("health.snapshot_interval", "30s")
	viper.SetDefault("websocket.default_update_interval", "30s")

	viper.SetDefault("fleet.file", "configs/devices.yaml")
	viper.SetDefault("device_profiles.search_paths", []string{"configs/profiles"})

	// Environment Variables automatisch binden (Viper Feature)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("OCC") // Environment Variables mit Prefix OCC_

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate prüft die Invarianten, die sonst erst zur Laufzeit knallen.
func (c *Config) Validate() error {
	if c.Batching.BatchSize < 1 {
		return fmt.Errorf("batching.batch_size must be at least 1, got %d", c.Batching.BatchSize)
	}
	if c.Batching.FlushInterval <= 0 {
		return fmt.Errorf("batching.flush_interval must be positive, got %s", c.Batching.FlushInterval)
	}
	if c.Batching.SinkRetries < 1 {
		return fmt.Errorf("batching.sink_retries must be at least 1, got %d", c.Batching.SinkRetries)
	}
	if c.Polling.Cooldown <= 0 {
		return fmt.Errorf("polling.cooldown must be positive, got %s", c.Polling.Cooldown)
	}
	if c.Polling.BackoffBase <= 0 {
		return fmt.Errorf("polling.backoff_base must be positive, got %s", c.Polling.BackoffBase)
	}
	if c.Health.SnapshotInterval < time.Second {
		return fmt.Errorf("health.snapshot_interval below 1s, got %s", c.Health.SnapshotInterval)
	}

	switch c.Storage.Backend {
	case "influxdb", "timescaledb", "kafka":
	default:
		return fmt.Errorf("storage.backend must be influxdb, timescaledb or kafka, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "kafka" && len(c.Storage.Kafka.Brokers) == 0 {
		return fmt.Errorf("storage.kafka.brokers must not be empty for the kafka backend")
	}

	return nil
}

func (c *TimescaleConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// Token liest das Influx API Token aus der Environment Variable.
func (c *InfluxConfig) Token() string {
	envVar := c.TokenEnv
	if envVar == "" {
		envVar = "OCC_INFLUX_TOKEN" // Fallback
	}
	return os.Getenv(envVar)
}

// Password liest das Broker-Passwort aus der Environment Variable.
func (c *MQTTConfig) Password() string {
	envVar := c.PasswordEnv
	if envVar == "" {
		envVar = "OCC_MQTT_PASSWORD" // Fallback
	}
	return os.Getenv(envVar)
}
