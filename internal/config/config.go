package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`

	TotalRounds      int     `env:"TOTAL_ROUNDS" envDefault:"5"`
	RoundTimeLimit   int     `env:"ROUND_TIME_LIMIT" envDefault:"60"` // seconds
	SearchRadiusKm   float64 `env:"SEARCH_RADIUS_KM" envDefault:"5"`
	DefaultLatitude  float64 `env:"DEFAULT_LATITUDE" envDefault:"43.4726"`
	DefaultLongitude float64 `env:"DEFAULT_LONGITUDE" envDefault:"-80.5400"`

	RoomSweepInterval time.Duration `env:"ROOM_SWEEP_INTERVAL" envDefault:"5m"`
}

func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}
