package config

import (
	"strings"

	"github.com/urfave/cli/v2"
)

// Flag names shared by the binaries. Each flag falls back to the
// SIMNODE_* variable of the same name, e.g. --event-port to
// SIMNODE_EVENT_PORT.
const (
	FlagConfig          = "config"
	FlagLogLevel        = "log-level"
	FlagLogDevelopment  = "log-dev"
	FlagHost            = "host"
	FlagEventPort       = "event-port"
	FlagStreamPort      = "stream-port"
	FlagRegisterTimeout = "register-timeout"
	FlagSimDT           = "simdt"
	FlagFallbackRoute   = "fallback-route"
	FlagStaleAfter      = "stale-after"
)

func envVars(name string) []string {
	return []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: FlagConfig, Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: envVars(FlagConfig)},
		&cli.StringFlag{Name: FlagLogLevel, Usage: "Verbosity of log, valid values are: debug, info, warn, error", Value: "info", EnvVars: envVars(FlagLogLevel)},
		&cli.BoolFlag{Name: FlagLogDevelopment, Usage: "Human readable console logs", EnvVars: envVars(FlagLogDevelopment)},
		&cli.StringFlag{Name: FlagHost, Usage: "Coordinator host", Value: "localhost", EnvVars: envVars(FlagHost)},
		&cli.IntFlag{Name: FlagEventPort, Usage: "Coordinator event (ROUTER) port", Value: 10000, EnvVars: envVars(FlagEventPort)},
		&cli.IntFlag{Name: FlagStreamPort, Usage: "Coordinator stream (SUB) port", Value: 10001, EnvVars: envVars(FlagStreamPort)},
	}
}

// NodeFlags are the flags of the worker node binary.
func NodeFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.DurationFlag{Name: FlagRegisterTimeout, Usage: "How long to wait for the REGISTER reply, negative waits forever", Value: DefaultRegisterTimeout, EnvVars: envVars(FlagRegisterTimeout)},
		&cli.Float64Flag{Name: FlagSimDT, Usage: "Simulation timestep in seconds", Value: DefaultSimDT, EnvVars: envVars(FlagSimDT)},
		&cli.StringFlag{Name: FlagFallbackRoute, Usage: "Comma separated route for events without a sender, empty for none", Value: "*", EnvVars: envVars(FlagFallbackRoute)},
	)
}

// CoordinatorFlags are the flags of the coordinator binary.
func CoordinatorFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.DurationFlag{Name: FlagStaleAfter, Usage: "Evict nodes silent for this long, 0 disables", Value: DefaultStaleAfter, EnvVars: envVars(FlagStaleAfter)},
	)
}

// FromCLI loads the file named by --config and overlays every flag the user
// set, then validates the result.
func FromCLI(c *cli.Context) (*Config, error) {
	cfg, err := Load(c.String(FlagConfig))
	if err != nil {
		return nil, err
	}
	if c.IsSet(FlagLogLevel) {
		cfg.LogLevel = c.String(FlagLogLevel)
	}
	if c.IsSet(FlagLogDevelopment) {
		cfg.LogDevelopment = c.Bool(FlagLogDevelopment)
	}
	if c.IsSet(FlagHost) {
		cfg.Host = c.String(FlagHost)
	}
	if c.IsSet(FlagEventPort) {
		cfg.EventPort = c.Int(FlagEventPort)
	}
	if c.IsSet(FlagStreamPort) {
		cfg.StreamPort = c.Int(FlagStreamPort)
	}
	if c.IsSet(FlagRegisterTimeout) {
		cfg.RegisterTimeout = c.Duration(FlagRegisterTimeout)
	}
	if c.IsSet(FlagSimDT) {
		cfg.SimDT = c.Float64(FlagSimDT)
	}
	if c.IsSet(FlagFallbackRoute) {
		cfg.FallbackRoute = c.String(FlagFallbackRoute)
	}
	if c.IsSet(FlagStaleAfter) {
		cfg.StaleAfter = c.Duration(FlagStaleAfter)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
