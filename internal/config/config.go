package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Skotchmaster/shop_auth/internal/tokens"
)

type JWT struct {
	SecretKey          string `env:"SECRET_KEY"`
	Issuer             string `env:"ISSUER"               envDefault:"shop-auth"`
	Audience           string `env:"AUDIENCE"             envDefault:"shop-api"`
	AccessTokenMinutes int    `env:"ACCESS_TOKEN_MINUTES" envDefault:"15"`
	RefreshTokenDays   int    `env:"REFRESH_TOKEN_DAYS"   envDefault:"7"`
}

func (j JWT) AccessTTL() time.Duration { return time.Duration(j.AccessTokenMinutes) * time.Minute }
func (j JWT) RefreshTTL() time.Duration { return time.Duration(j.RefreshTokenDays) * 24 * time.Hour }

type Config struct {
	ServiceName string `env:"SERVICE_NAME"   envDefault:"auth"`
	HTTPAddr    string `env:"AUTH_HTTP_ADDR" envDefault:":8081"`
	LogLevel    string `env:"LOG_LEVEL"      envDefault:"info"`

	DBDriver    string `env:"DB_DRIVER"    envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWT JWT `envPrefix:"JWT_"`

	ReuseDetection bool `env:"AUTH_REUSE_DETECTION" envDefault:"true"`

	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"KAFKA_TOPIC"   envDefault:"user_events"`

	ESURL      string `env:"ES_URL"`
	ESUser     string `env:"ES_USER"`
	ESPassword string `env:"ES_PASSWORD"`
	ESIndex    string `env:"ES_INDEX"    envDefault:"auth_events"`

	CleanupInterval time.Duration `env:"TOKEN_CLEANUP_INTERVAL" envDefault:"1h"`
	TokenRetention  time.Duration `env:"TOKEN_RETENTION"        envDefault:"720h"`
}

// Load reads an optional .env file, then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		slog.Info("notice: .env file not found, using system environment variables", "error", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver))
	}
	if len(c.JWT.SecretKey) < tokens.MinSecretBytes {
		errs = append(errs, fmt.Errorf("JWT_SECRET_KEY must be at least %d bytes", tokens.MinSecretBytes))
	}
	if c.JWT.AccessTokenMinutes <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TOKEN_MINUTES must be positive"))
	}
	if c.JWT.RefreshTokenDays <= 0 {
		errs = append(errs, errors.New("JWT_REFRESH_TOKEN_DAYS must be positive"))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, errors.New("TOKEN_CLEANUP_INTERVAL must be positive"))
	}
	if c.TokenRetention < 0 {
		errs = append(errs, errors.New("TOKEN_RETENTION must not be negative"))
	}
	return errors.Join(errs...)
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
