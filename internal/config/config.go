package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	// Identifies this instance in server:{id}:heartbeat. Generated when empty.
	ServerID string `env:"SERVER_ID" envDefault:""`

	PresenceTTL time.Duration `env:"PRESENCE_TTL" envDefault:"60s"  validate:"min=1s"`
	LockTTL     time.Duration `env:"LOCK_TTL"     envDefault:"30s"  validate:"min=1s"`
	LockTTLMax  time.Duration `env:"LOCK_TTL_MAX" envDefault:"5m"   validate:"min=1s"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"10s" validate:"min=1s"`

	ConnectAttempts    int           `env:"CONNECT_ATTEMPTS"     envDefault:"10"    validate:"min=1"`
	ConnectBackoffStep time.Duration `env:"CONNECT_BACKOFF_STEP" envDefault:"200ms" validate:"min=1ms"`
	ConnectBackoffCap  time.Duration `env:"CONNECT_BACKOFF_CAP"  envDefault:"2s"    validate:"min=1ms"`

	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8086" validate:"min=1000,max=65535"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
