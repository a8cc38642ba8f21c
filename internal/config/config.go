// Package config holds the server's startup configuration. Values come
// from environment defaults layered under command-line flags; there is no
// runtime reconfiguration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ServerConfig struct {
	Port      int           // TCP port for game clients
	TickEvery time.Duration // interval between die rolls
	GameLen   time.Duration // total game length
	AdminAddr string        // admin HTTP listen address, empty disables
	GameName  string        // name of the game created at startup
}

const (
	DefaultPort      = 8089
	DefaultTickEvery = 3 * time.Second
	DefaultGameLen   = 15 * time.Minute
	DefaultGameName  = "default-game"
)

// LoadServerFromEnv builds the config from environment variables, falling
// back to the defaults. Flags may override the result afterwards.
func LoadServerFromEnv() ServerConfig {
	return ServerConfig{
		Port:      envIntDefault("STOCKTICKER_PORT", DefaultPort),
		TickEvery: envDurationDefault("STOCKTICKER_TICK_EVERY", DefaultTickEvery),
		GameLen:   envDurationDefault("STOCKTICKER_GAME_LEN", DefaultGameLen),
		AdminAddr: envDefault("STOCKTICKER_ADMIN_ADDR", ""),
		GameName:  envDefault("STOCKTICKER_GAME_NAME", DefaultGameName),
	}
}

// Validate rejects configurations the server cannot run with.
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.TickEvery < time.Second {
		return fmt.Errorf("tick interval %s below one second", c.TickEvery)
	}
	if c.GameLen <= 0 {
		return fmt.Errorf("game length %s must be positive", c.GameLen)
	}
	if c.GameName == "" {
		return fmt.Errorf("game name must not be empty")
	}
	return nil
}

// ListenAddr is the TCP address for the game listener.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
