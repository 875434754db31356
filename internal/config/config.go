package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"RELAY_PORT" envDefault:"8090" validate:"min=1,max=65535"`

	// Bind retry on address-in-use at startup.
	BindRetries   int `env:"RELAY_BIND_RETRIES"     envDefault:"5"   validate:"min=0,max=50"`
	BindRetryMsec int `env:"RELAY_BIND_RETRY_MSEC"  envDefault:"500" validate:"min=1"`

	MaxMessageSize int64   `env:"RELAY_MAX_MESSAGE_SIZE" envDefault:"1048576" validate:"min=1024"`
	RateLimitPerIP float64 `env:"RELAY_RATE_LIMIT_PER_IP" envDefault:"100"    validate:"min=1"`
}

func (c *Config) BindRetryDelay() time.Duration {
	return time.Duration(c.BindRetryMsec) * time.Millisecond
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
