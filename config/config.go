package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	WeekStartDay string           `yaml:"week_start_day"`
	Database     DatabaseConfig   `yaml:"database"`
	Web          WebConfig        `yaml:"web"`
	Directions   DirectionsConfig `yaml:"directions"`
	Snapshot     SnapshotConfig   `yaml:"snapshot"`
	Relay        RelayConfig      `yaml:"relay"`
	Driver       DriverConfig     `yaml:"driver"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // "sqlite" or "postgres"
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig defines the SQLite database file.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig defines the Postgres connection.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// WebConfig defines the HTTP server settings.
type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	SessionSecret  string   `yaml:"session_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DirectionsConfig defines the external routing provider.
type DirectionsConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// SnapshotConfig defines the Redis tracking snapshot store.
type SnapshotConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// RelayConfig defines the optional broker mirror of the change feed.
type RelayConfig struct {
	Enabled bool        `yaml:"enabled"`
	Backend string      `yaml:"backend"` // "mqtt" or "kafka"
	Topic   string      `yaml:"topic"`
	MQTT    MQTTConfig  `yaml:"mqtt"`
	Kafka   KafkaConfig `yaml:"kafka"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// DriverConfig defines driver agent settings.
type DriverConfig struct {
	ServerURL         string        `yaml:"server_url"`
	CachePath         string        `yaml:"cache_path"`
	SendInterval      time.Duration `yaml:"send_interval"`
	PauseAfter        time.Duration `yaml:"pause_after"`
	MoveThresholdM    float64       `yaml:"move_threshold_m"`
	SpeedThresholdKmh float64       `yaml:"speed_threshold_kmh"`
	QueueLimit        int           `yaml:"queue_limit"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		WeekStartDay: "Saturday",
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "lastmile.db"},
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Directions: DirectionsConfig{
			BaseURL: "https://maps.googleapis.com/maps/api/directions/json",
			Timeout: 15 * time.Second,
		},
		Snapshot: SnapshotConfig{
			RedisAddr: "localhost:6379",
			TTL:       time.Hour,
		},
		Relay: RelayConfig{
			Enabled: false,
			Backend: "mqtt",
			Topic:   "lastmile/feed",
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
		},
		Driver: DriverConfig{
			ServerURL:         "http://localhost:8090",
			CachePath:         "driveragent.db",
			SendInterval:      10 * time.Second,
			PauseAfter:        5 * time.Minute,
			MoveThresholdM:    12,
			SpeedThresholdKmh: 1,
			QueueLimit:        500,
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
// Environment variables override secrets so they stay out of config files.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DIRECTIONS_API_KEY"); v != "" {
		c.Directions.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Snapshot.RedisAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Driver = "postgres"
		c.Database.Postgres.URL = v
	}
	if v := os.Getenv("SESSION_SECRET"); v != "" {
		c.Web.SessionSecret = v
	}
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
