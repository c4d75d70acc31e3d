package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Database  DBConfig
	RabbitMQ  MQConfig
	MQTT      MQTTConfig
	WebSocket WSConfig
	Services  ServicesConfig
	JWT       JWTConfig
	Tracking  TrackingConfig
}

type DBConfig struct {
	Host     string `yaml:"host" validate:"required_if=Driver postgres"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	// Driver selects the location store: postgres or memory.
	Driver   string `yaml:"driver" validate:"oneof=postgres memory"`
	MaxConns int32  `yaml:"max_conns" validate:"gte=1"`
	MinConns int32  `yaml:"min_conns" validate:"gte=0,ltefield=MaxConns"`
}

type MQConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" validate:"required_if=Enabled true"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker" validate:"required_if=Enabled true"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic must contain a single "+" wildcard in the session position.
	Topic string `yaml:"topic" validate:"required_if=Enabled true"`
	QoS   byte   `yaml:"qos" validate:"lte=2"`
}

type WSConfig struct {
	QueueSize       int           `yaml:"queue_size" validate:"gte=1,lte=1024"`
	BroadcastBuffer int           `yaml:"broadcast_buffer" validate:"gte=1"`
	PingInterval    time.Duration `yaml:"ping_interval" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" validate:"gtfield=PingInterval"`
	WriteWait       time.Duration `yaml:"write_wait" validate:"gt=0"`
	AuthTimeout     time.Duration `yaml:"auth_timeout" validate:"gt=0"`
	// EndedSessionTTL bounds how long an ended session keeps rejecting viewers.
	EndedSessionTTL time.Duration `yaml:"ended_session_ttl" validate:"gt=0"`
}

type ServicesConfig struct {
	TrackingServicePort int `yaml:"tracking_service" validate:"gt=0,lte=65535"`
}

type JWTConfig struct {
	// Enabled=false trusts upstream authentication and skips token checks.
	Enabled       bool   `yaml:"enabled"`
	Secret        string `yaml:"secret" validate:"required_if=Enabled true"`
	ExpiryMinutes int    `yaml:"expiry_minutes" validate:"gte=1"`
}

type TrackingConfig struct {
	HistoryDefaultLimit int           `yaml:"history_default_limit" validate:"gte=1,ltefield=HistoryMaxLimit"`
	HistoryMaxLimit     int           `yaml:"history_max_limit" validate:"gte=1"`
	MaxClockSkew        time.Duration `yaml:"max_clock_skew" validate:"gte=0"`
}

// Defaults returns a configuration that runs locally with no config files.
func Defaults() Config {
	return Config{
		Database: DBConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "walktrack_user",
			Password: "walktrack_pass",
			Database: "walktrack_db",
			SSLMode:  "disable",
			Driver:   "postgres",
			MaxConns: 20,
			MinConns: 2,
		},
		RabbitMQ: MQConfig{
			Host:     "localhost",
			Port:     5672,
			User:     "guest",
			Password: "guest",
			VHost:    "/",
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "tracking-service",
			Topic:    "walks/+/location",
			QoS:      1,
		},
		WebSocket: WSConfig{
			QueueSize:       16,
			BroadcastBuffer: 256,
			PingInterval:    30 * time.Second,
			PongWait:        60 * time.Second,
			WriteWait:       10 * time.Second,
			AuthTimeout:     5 * time.Second,
			EndedSessionTTL: time.Hour,
		},
		Services: ServicesConfig{TrackingServicePort: 3002},
		JWT: JWTConfig{
			Enabled:       true,
			Secret:        "dev_secret",
			ExpiryMinutes: 60,
		},
		Tracking: TrackingConfig{
			HistoryDefaultLimit: 500,
			HistoryMaxLimit:     5000,
			MaxClockSkew:        2 * time.Minute,
		},
	}
}

// Load reads CONFIG_DIR (default ./config), then lets ENV override, then validates.
// Missing files are not an error; malformed ones are.
func Load() (Config, error) {
	return LoadDir(getEnv("CONFIG_DIR", "./config"))
}

func LoadDir(configDir string) (Config, error) {
	cfg := Defaults()

	files := []struct {
		name string
		dst  any
	}{
		{"db.yaml", &cfg.Database},
		{"mq.yaml", &cfg.RabbitMQ},
		{"mqtt.yaml", &cfg.MQTT},
		{"ws.yaml", &cfg.WebSocket},
		{"service.yaml", &cfg.Services},
		{"jwt.yaml", &cfg.JWT},
		{"tracking.yaml", &cfg.Tracking},
	}
	for _, f := range files {
		if err := readYAML(filepath.Join(configDir, f.name), f.dst); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readYAML(path string, dst any) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.Driver = getEnv("STORAGE_DRIVER", cfg.Database.Driver)

	cfg.RabbitMQ.Enabled = getEnvBool("RABBITMQ_ENABLED", cfg.RabbitMQ.Enabled)
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", cfg.RabbitMQ.Host)
	cfg.RabbitMQ.Port = getEnvInt("RABBITMQ_PORT", cfg.RabbitMQ.Port)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", cfg.RabbitMQ.User)
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", cfg.RabbitMQ.Password)
	cfg.RabbitMQ.VHost = getEnv("RABBITMQ_VHOST", cfg.RabbitMQ.VHost)

	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", cfg.MQTT.Enabled)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)

	cfg.Services.TrackingServicePort = getEnvInt("TRACKING_SERVICE_PORT", cfg.Services.TrackingServicePort)

	cfg.JWT.Enabled = getEnvBool("JWT_ENABLED", cfg.JWT.Enabled)
	cfg.JWT.Secret = getEnv("JWT_SECRET", cfg.JWT.Secret)
	cfg.JWT.ExpiryMinutes = getEnvInt("JWT_EXPIRY_MINUTES", cfg.JWT.ExpiryMinutes)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// AMQPURL returns the RabbitMQ connection URL.
func (c MQConfig) AMQPURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%d%s",
		c.User, c.Password, c.Host, c.Port, c.VHost,
	)
}
