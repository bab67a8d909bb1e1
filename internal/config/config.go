package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`

	MaxPlayers        int           `env:"MAX_PLAYERS" envDefault:"4"`
	CountdownDuration time.Duration `env:"COUNTDOWN" envDefault:"3s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"5m"`
	FinishedTTL       time.Duration `env:"FINISHED_TTL" envDefault:"5m"`

	CORSOrigins []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`

	// NATSURL empty disables result publishing.
	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"race.results"`
}

// Load reads the environment, after loading files (default .env) when they exist.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading env file: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if cfg.MaxPlayers < 2 {
		return nil, fmt.Errorf("MAX_PLAYERS must be at least 2, got %d", cfg.MaxPlayers)
	}
	return &cfg, nil
}
