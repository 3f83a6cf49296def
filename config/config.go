package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the process knobs. Environment first, command line flags
// override (see cmd).
type Config struct {
	APIListenAddr string        `env:"API_LISTEN_ADDR" env-default:":8080"`
	WSListenAddr  string        `env:"WS_LISTEN_ADDR" env-default:":8888"`
	LogLevel      string        `env:"LOG_LEVEL" env-default:"debug"`
	PingInterval  time.Duration `env:"PING_INTERVAL" env-default:"10s"`
	PongWait      time.Duration `env:"PONG_WAIT" env-default:"60s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
