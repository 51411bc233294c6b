// Package config loads lanchess settings from LANCHESS_* environment
// variables. Command-line flags override what is loaded here.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"lanchess/internal/discovery"
)

// Config holds every tunable of a lanchess process.
type Config struct {
	DiscoveryPort     int           `env:"LANCHESS_DISCOVERY_PORT" envDefault:"5000"`
	BroadcastAddr     string        `env:"LANCHESS_BROADCAST_ADDR" envDefault:"255.255.255.255"`
	AdvertiseInterval time.Duration `env:"LANCHESS_ADVERTISE_INTERVAL" envDefault:"1s"`
	ScanTimeout       time.Duration `env:"LANCHESS_SCAN_TIMEOUT" envDefault:"3s"`

	SessionPort    int           `env:"LANCHESS_SESSION_PORT" envDefault:"5001"`
	ConnectTimeout time.Duration `env:"LANCHESS_CONNECT_TIMEOUT" envDefault:"5s"`

	Sound     bool   `env:"LANCHESS_SOUND" envDefault:"false"`
	SoundFile string `env:"LANCHESS_SOUND_FILE"`

	// LogFile receives logs while the terminal UI runs. Empty discards them.
	LogFile string `env:"LANCHESS_LOG_FILE"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if err := validPort("discovery port", c.DiscoveryPort); err != nil {
		return err
	}
	if err := validPort("session port", c.SessionPort); err != nil {
		return err
	}
	if net.ParseIP(c.BroadcastAddr).To4() == nil {
		return fmt.Errorf("config: broadcast address %q is not an IPv4 address", c.BroadcastAddr)
	}
	for name, d := range map[string]time.Duration{
		"advertise interval": c.AdvertiseInterval,
		"scan timeout":       c.ScanTimeout,
		"connect timeout":    c.ConnectTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// Discovery returns the discovery settings.
func (c Config) Discovery() discovery.Config {
	return discovery.Config{
		Port:          c.DiscoveryPort,
		BroadcastAddr: c.BroadcastAddr,
		Interval:      c.AdvertiseInterval,
		Timeout:       c.ScanTimeout,
	}
}

// SessionAddr is the address a host listens on.
func (c Config) SessionAddr() string {
	return net.JoinHostPort("", strconv.Itoa(c.SessionPort))
}

func validPort(name string, p int) error {
	if p < 1 || p > 65535 {
		return fmt.Errorf("config: %s %d out of range", name, p)
	}
	return nil
}
