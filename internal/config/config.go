// Package config loads the service configuration from YAML with environment
// overrides, and owns the runtime-mutable settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Inventory InventoryConfig `yaml:"inventory"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Auth      AuthConfig      `yaml:"auth"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Warranty  WarrantyConfig  `yaml:"warranty"`
	Ticket    TicketConfig    `yaml:"ticket"`

	// Settings are the defaults for values operators can change at runtime.
	Settings     Settings `yaml:"settings"`
	SettingsPath string   `yaml:"settings_path"`
}

type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	HealthInterval  time.Duration `yaml:"health_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type InventoryConfig struct {
	// Backend is "file" or "redis".
	Backend      string `yaml:"backend"`
	SnapshotPath string `yaml:"snapshot_path"`
	Namespace    string `yaml:"namespace"`
}

type MySQLConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	PoolSize int    `yaml:"pool_size"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	SignalTopic string   `yaml:"signal_topic"`
	NoticeTopic string   `yaml:"notice_topic"`
	GroupID     string   `yaml:"group_id"`
}

type AuthConfig struct {
	// JWTSecret signs operator tokens. Empty disables authentication.
	JWTSecret string `yaml:"jwt_secret"`
	AdminRole string `yaml:"admin_role"`
	// GatewayRole is the only role allowed to push chat signals over HTTP.
	GatewayRole string `yaml:"gateway_role"`
}

type TracingConfig struct {
	JaegerEndpoint string `yaml:"jaeger_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

type WarrantyConfig struct {
	LockEmoji       string `yaml:"lock_emoji"`
	ProofFilter     string `yaml:"proof_filter"`
	ReferenceLength int    `yaml:"reference_length"`
	DisplayTimezone string `yaml:"display_timezone"`
}

type TicketConfig struct {
	Window      time.Duration `yaml:"window"`
	DeleteEmoji string        `yaml:"delete_emoji"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":50051",
			ShutdownTimeout: 5 * time.Second,
			HealthInterval:  10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		Inventory: InventoryConfig{
			Backend:      "file",
			SnapshotPath: "stocks_data.json",
			Namespace:    "inventory",
		},
		MySQL: MySQLConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{PoolSize: 20},
		Kafka: KafkaConfig{
			SignalTopic: "chat.signals",
			NoticeTopic: "chat.notices",
			GroupID:     "vouch-desk",
		},
		Auth:    AuthConfig{AdminRole: "admin", GatewayRole: "gateway"},
		Tracing: TracingConfig{ServiceName: "vouch-desk"},
		Warranty: WarrantyConfig{
			LockEmoji:       "🔒",
			ReferenceLength: 10,
			DisplayTimezone: "Asia/Manila",
		},
		Ticket: TicketConfig{
			Window:      24 * time.Hour,
			DeleteEmoji: "🗑️",
		},
		Settings: Settings{
			ProofWindow: 24 * time.Hour,
		},
		SettingsPath: "settings.yaml",
	}
}

// Load reads path (if non-empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Inventory.Backend {
	case "file":
		if c.Inventory.SnapshotPath == "" {
			return errors.New("config: inventory.snapshot_path is required for the file backend")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown inventory backend %q", c.Inventory.Backend)
	}
	if c.Ticket.Window <= 0 {
		return errors.New("config: ticket.window must be positive")
	}
	if c.Auth.GatewayRole == "" || c.Auth.GatewayRole == c.Auth.AdminRole {
		return errors.New("config: auth.gateway_role must be set and differ from auth.admin_role")
	}
	if c.Warranty.LockEmoji == "" || c.Ticket.DeleteEmoji == "" {
		return errors.New("config: lock and delete emoji are required")
	}
	return c.Settings.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.Server.HTTPAddr = getEnv("HTTP_ADDR", cfg.Server.HTTPAddr)
	cfg.Server.GRPCAddr = getEnv("GRPC_ADDR", cfg.Server.GRPCAddr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Inventory.Backend = getEnv("INVENTORY_BACKEND", cfg.Inventory.Backend)
	cfg.Inventory.SnapshotPath = getEnv("SNAPSHOT_PATH", cfg.Inventory.SnapshotPath)
	cfg.MySQL.DSN = getEnv("MYSQL_DSN", cfg.MySQL.DSN)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Tracing.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", cfg.Tracing.JaegerEndpoint)
	cfg.SettingsPath = getEnv("SETTINGS_PATH", cfg.SettingsPath)

	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}

	// Names kept from the bot's legacy .env file.
	cfg.Settings.InboundChannel = getEnv("VOUCH_CHANNEL", cfg.Settings.InboundChannel)
	cfg.Settings.SupervisorRole = getEnv("MODERATOR", cfg.Settings.SupervisorRole)
	cfg.Settings.TicketCategory = getEnv("CATEGORY", cfg.Settings.TicketCategory)
	if due := getEnv("DUE", ""); due != "" {
		seconds, err := strconv.Atoi(due)
		if err != nil {
			return fmt.Errorf("config: DUE must be a number of seconds: %w", err)
		}
		cfg.Settings.ProofWindow = time.Duration(seconds) * time.Second
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
