// Package main implements the simnode worker, a simulation process that
// registers with a coordinator over ZeroMQ, executes stack commands routed to
// it and publishes its state as telemetry streams.
//
// The worker is one participant in a coordinator-centred network:
//   - A DEALER socket carries routed events to and from the coordinator
//   - A PUB socket publishes SIMINFO and other stream messages
//   - The run loop alternates one event poll, one simulation step and one
//     timer dispatch until QUIT or an interrupt
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│                 node                     │
//	├──────────────────────────────────────────┤
//	│  node.Node       - run loop, channels    │
//	│  sim.Simulation  - Handler, clock, state │
//	│  stack.Stack     - queued commands       │
//	│  timer.Registry  - periodic telemetry    │
//	└──────────────────────────────────────────┘
//
// Configuration (flag, environment, YAML key):
//   - --config, SIMNODE_CONFIG: optional YAML file
//   - --host, SIMNODE_HOST, host: coordinator host (default: localhost)
//   - --event-port, SIMNODE_EVENT_PORT, event_port (default: 10000)
//   - --stream-port, SIMNODE_STREAM_PORT, stream_port (default: 10001)
//   - --register-timeout, SIMNODE_REGISTER_TIMEOUT, register_timeout (default: 10s)
//   - --simdt, SIMNODE_SIMDT, simdt (default: 0.05)
//   - --fallback-route, SIMNODE_FALLBACK_ROUTE, fallback_route (default: "*")
//   - --log-level, SIMNODE_LOG_LEVEL, log_level (default: info)
//
// Example usage:
//
//	# Start a coordinator, then a worker against it
//	./coordinator --event-port 10000 --stream-port 10001 &
//	./node --host localhost --log-level debug
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/config"
	"github.com/dreamware/simnode/internal/logging"
	"github.com/dreamware/simnode/internal/node"
	"github.com/dreamware/simnode/internal/sim"
	"github.com/dreamware/simnode/internal/transport"
)

// logFatal is a variable to allow intercepting fatal setup errors in tests
// without terminating the test process.
var logFatal = func(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Fatal(msg, fields...)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp(transport.ZMQ{}).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

// newApp builds the command line application. factory opens the sockets;
// tests pass a transport.Memory hub.
func newApp(factory transport.Factory) *cli.App {
	return &cli.App{
		Name:  "node",
		Usage: "run a simulation worker node",
		Flags: config.NodeFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := config.FromCLI(c)
			if err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			return run(c.Context, cfg, log, factory)
		},
	}
}

// run wires the simulation into a node and blocks until the node stops.
//
// Startup failures (dial, register timeout) are returned. A node that cannot
// be created at all, which only happens when no identity can be generated,
// is fatal.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger, factory transport.Factory) error {
	n, simulation, err := setup(cfg, log, factory)
	if err != nil {
		logFatal(log, "node setup failed", zap.Error(err))
		return err
	}
	log.Info("connecting",
		zap.String("node", n.ID().Hex()),
		zap.String("events", cfg.EventEndpoint()),
		zap.String("streams", cfg.StreamEndpoint()))

	if err := n.Start(ctx); err != nil {
		return err
	}
	log.Info("node stopped",
		zap.String("node", n.ID().Hex()),
		zap.Stringer("sim_state", simulation.State()),
		zap.Uint64("iterations", n.Iterations()))
	return nil
}

func setup(cfg *config.Config, log *zap.Logger, factory transport.Factory) (*node.Node, *sim.Simulation, error) {
	simulation := sim.New(sim.WithLogger(log), sim.WithSimDT(cfg.SimDT))
	n, err := node.New(
		node.Config{
			EventEndpoint:   cfg.EventEndpoint(),
			StreamEndpoint:  cfg.StreamEndpoint(),
			RegisterTimeout: cfg.RegisterTimeout,
		},
		simulation,
		node.WithTimers(simulation.Timers()),
		node.WithSenderRoute(simulation.Stack()),
		node.WithFallbackRoute(cfg.Fallback()),
		node.WithLogger(log),
		node.WithTransport(factory),
	)
	if err != nil {
		return nil, nil, err
	}
	simulation.Attach(n)
	return n, simulation, nil
}
