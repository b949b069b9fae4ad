package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration, parsed from the environment.
// Required secrets are fatal when missing; defaults cover everything else.
type Config struct {
	Port   string `env:"PORT" envDefault:"8080"`
	AppEnv string `env:"APP_ENV" envDefault:"production"`

	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	JWTSecret            string `env:"JWT_SECRET,required"`
	RefreshEncryptionKey string `env:"REFRESH_ENCRYPTION_KEY,required"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`

	RateLimitIdentifierMax    int           `env:"RATE_LIMIT_IDENTIFIER_MAX" envDefault:"5"`
	RateLimitIdentifierWindow time.Duration `env:"RATE_LIMIT_IDENTIFIER_WINDOW" envDefault:"1h"`
	RateLimitIPMax            int           `env:"RATE_LIMIT_IP_MAX" envDefault:"4"`
	RateLimitIPWindow         time.Duration `env:"RATE_LIMIT_IP_WINDOW" envDefault:"1m"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	SMSAPIKey  string `env:"SMS_API_KEY"`
	SMSSender  string `env:"SMS_SENDER"`
	SMSBaseURL string `env:"SMS_BASE_URL" envDefault:"https://api.mobizon.kz"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the server runs in a development configuration.
// Dev mode echoes OTP codes in the start response; it must never be enabled
// in production.
func (c *Config) IsDev() bool {
	return c.AppEnv == "dev"
}
