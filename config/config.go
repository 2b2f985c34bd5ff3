package config

import (
	"fmt"
	"time"

	"github.com/feastlane/dispatch-system/internal/domain/types"
	"github.com/feastlane/dispatch-system/pkg/configparser"
)

// Config contains all configuration variables of the application
type (
	Config struct {
		Mode types.ServiceMode

		Database  DatabaseConfig
		Redis     RedisConfig
		RabbitMQ  RabbitMQConfig
		Server    ServerConfig
		Dispatch  DispatchConfig
		Tracking  TrackingConfig
		Logging   LoggingConfig
	}

	DatabaseConfig struct {
		Host     string `env:"DATABASE_HOST" default:"localhost"`
		Port     string `env:"DATABASE_PORT" default:"5432"`
		User     string `env:"DATABASE_USER" default:"dispatch_user"`
		Password string `env:"DATABASE_PASSWORD" default:"dispatch_pass"`
		Database string `env:"DATABASE_DATABASE" default:"dispatch_db"`

		MaxConns        int32         `env:"DATABASE_MAXCONNS" default:"20"`
		MinConns        int32         `env:"DATABASE_MINCONNS" default:"2"`
		MaxConnLifetime time.Duration `env:"DATABASE_MAXCONNLIFETIME" default:"30m"`
		MaxConnIdleTime time.Duration `env:"DATABASE_MAXCONNIDLETIME" default:"5m"`
	}

	RedisConfig struct {
		Host     string `env:"REDIS_HOST" default:"localhost"`
		Port     string `env:"REDIS_PORT" default:"6379"`
		Password string `env:"REDIS_PASSWORD" default:""`
		DB       int    `env:"REDIS_DB" default:"0"`
	}

	RabbitMQConfig struct {
		Host     string `env:"RABBITMQ_HOST" default:"localhost"`
		Port     string `env:"RABBITMQ_PORT" default:"5672"`
		User     string `env:"RABBITMQ_USER" default:"guest"`
		Password string `env:"RABBITMQ_PASSWORD" default:"guest"`
	}

	ServerConfig struct {
		Port string `env:"SERVER_PORT" default:"3000"`
	}

	DispatchConfig struct {
		Workers          int           `env:"DISPATCH_WORKERS" default:"8"`
		QueueSize        int           `env:"DISPATCH_QUEUE_SIZE" default:"256"`
		AssignTimeout    time.Duration `env:"DISPATCH_ASSIGN_TIMEOUT" default:"30s"`
		WaitingOrderTTL  time.Duration `env:"DISPATCH_WAITING_ORDER_TTL" default:"1h"`
		SearchRadiusKm   float64       `env:"DISPATCH_SEARCH_RADIUS_KM" default:"5"`
		ReoptimizeEvery  time.Duration `env:"DISPATCH_REOPTIMIZE_EVERY" default:"5m"`
		ZoneStatsEvery   time.Duration `env:"DISPATCH_ZONE_STATS_EVERY" default:"2m"`
	}

	TrackingConfig struct {
		FlushEvery       time.Duration `env:"TRACKING_FLUSH_EVERY" default:"5s"`
		GeofenceRadiusM  float64       `env:"TRACKING_GEOFENCE_RADIUS_M" default:"100"`
		HistoryLimit     int64         `env:"TRACKING_HISTORY_LIMIT" default:"1000"`
		HistoryTTL       time.Duration `env:"TRACKING_HISTORY_TTL" default:"24h"`
	}

	LoggingConfig struct {
		Level string `env:"LOGGING_LEVEL" default:"DEBUG"`
	}
)

func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

func (c RabbitMQConfig) GetDSN() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/",
		c.User,
		c.Password,
		c.Host,
		c.Port,
	)
}

func (c RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c RedisConfig) GetPassword() string { return c.Password }

func (c RedisConfig) GetDB() int { return c.DB }

func NewConfig(filepath string) (*Config, error) {
	cfg := &Config{}

	// Loading environment variables and parsing into the config struct.
	if err := configparser.LoadAndParseYaml(filepath, cfg); err != nil {
		return nil, fmt.Errorf("failed to load and parse config: %w", err)
	}

	cfg.Mode = types.DispatchService

	return cfg, nil
}
