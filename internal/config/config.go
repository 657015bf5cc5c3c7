// Package config loads node and coordinator settings from an optional YAML
// file and SIMNODE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/dreamware/simnode/internal/protocol"
)

// EnvPrefix prefixes every environment variable, e.g. SIMNODE_EVENT_PORT.
const EnvPrefix = "SIMNODE"

const (
	DefaultRegisterTimeout = 10 * time.Second
	DefaultSimDT           = 0.05
	DefaultStaleAfter      = 30 * time.Second
)

// Config holds every runtime setting. Keys are the mapstructure tags, both
// in YAML and, upper cased, in the environment.
type Config struct {
	Host            string        `mapstructure:"host"`
	EventPort       int           `mapstructure:"event_port"`
	StreamPort      int           `mapstructure:"stream_port"`
	RegisterTimeout time.Duration `mapstructure:"register_timeout"`
	SimDT           float64       `mapstructure:"simdt"`
	LogLevel        string        `mapstructure:"log_level"`
	LogDevelopment  bool          `mapstructure:"log_development"`
	FallbackRoute   string        `mapstructure:"fallback_route"`
	StaleAfter      time.Duration `mapstructure:"stale_after"`
}

var defaults = map[string]any{
	"host":             "localhost",
	"event_port":       10000,
	"stream_port":      10001,
	"register_timeout": DefaultRegisterTimeout,
	"simdt":            DefaultSimDT,
	"log_level":        "info",
	"log_development":  false,
	"fallback_route":   "*",
	"stale_after":      DefaultStaleAfter,
}

// Default returns the built-in settings.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		// defaults always decode
		panic(err)
	}
	return c
}

// Load reads path (skipped when empty), overlays the environment and
// applies defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &c, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is empty"))
	}
	for name, port := range map[string]int{"event_port": c.EventPort, "stream_port": c.StreamPort} {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s %d out of range", name, port))
		}
	}
	if c.EventPort == c.StreamPort {
		errs = append(errs, fmt.Errorf("event_port and stream_port are both %d", c.EventPort))
	}
	if c.SimDT <= 0 {
		errs = append(errs, fmt.Errorf("simdt %g must be positive", c.SimDT))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("stale_after %s is negative", c.StaleAfter))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// EventEndpoint is the coordinator's event socket address.
func (c *Config) EventEndpoint() string { return endpoint(c.Host, c.EventPort) }

// StreamEndpoint is the coordinator's stream socket address.
func (c *Config) StreamEndpoint() string { return endpoint(c.Host, c.StreamPort) }

func endpoint(host string, port int) string {
	return "tcp://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Fallback parses FallbackRoute: comma separated hops, "" for none.
func (c *Config) Fallback() protocol.Route {
	route := protocol.Route{}
	for _, hop := range strings.Split(c.FallbackRoute, ",") {
		if hop = strings.TrimSpace(hop); hop != "" {
			route = append(route, []byte(hop))
		}
	}
	return route
}
