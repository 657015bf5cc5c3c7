// Package main implements a development coordinator for simnode workers. It
// accepts registrations on a ROUTER socket, relays events between registered
// nodes, subscribes to every worker stream and evicts workers that fall
// silent.
//
// It is a stand-in for the real simulation server: ADDNODES requests are
// logged, not acted on.
//
// Configuration (flag, environment, YAML key):
//   - --config, SIMNODE_CONFIG: optional YAML file
//   - --host, SIMNODE_HOST, host: bind host, "*" for all interfaces (default: localhost)
//   - --event-port, SIMNODE_EVENT_PORT, event_port (default: 10000)
//   - --stream-port, SIMNODE_STREAM_PORT, stream_port (default: 10001)
//   - --stale-after, SIMNODE_STALE_AFTER, stale_after: eviction age, 0 disables (default: 30s)
//   - --log-level, SIMNODE_LOG_LEVEL, log_level (default: info)
//
// On SIGINT or SIGTERM every registered worker is sent QUIT before the
// sockets close.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/config"
	"github.com/dreamware/simnode/internal/coordinator"
	"github.com/dreamware/simnode/internal/identity"
	"github.com/dreamware/simnode/internal/logging"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/transport"
)

// monitorInterval bounds how often the registry is scanned for silent nodes.
const monitorInterval = time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp(transport.ZMQ{}).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "coordinator:", err)
		os.Exit(1)
	}
}

func newApp(factory transport.Factory) *cli.App {
	return &cli.App{
		Name:  "coordinator",
		Usage: "accept simnode workers and relay their events",
		Flags: config.CoordinatorFlags(),
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

// run serves until ctx is cancelled or a socket fails.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger, factory transport.Factory) error {
	registry := coordinator.NewRegistry(nil)
	srv := coordinator.New(factory, coordinator.WithLogger(log), coordinator.WithRegistry(registry))
	srv.OnEvent(func(ev coordinator.Event) { logEvent(log, ev) })
	srv.OnStream(func(m coordinator.StreamMessage) {
		log.Debug("stream", zap.String("topic", m.Topic), zap.String("node", m.Source.Hex()), zap.Stringer("payload", m.Payload))
	})
	if err := srv.Listen(ctx, cfg.EventEndpoint(), cfg.StreamEndpoint()); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(context.WithoutCancel(gctx))
	})
	g.Go(func() error {
		<-gctx.Done()
		if n := registry.Len(); n > 0 {
			log.Info("stopping workers", zap.Int("nodes", n))
			if err := srv.Broadcast(protocol.Quit, codec.Nil()); err != nil {
				log.Warn("broadcast QUIT", zap.Error(err))
			}
		}
		return srv.Close()
	})
	if cfg.StaleAfter > 0 {
		monitor := coordinator.NewHealthMonitor(registry, min(monitorInterval, cfg.StaleAfter), cfg.StaleAfter, log)
		monitor.SetOnStale(func(id identity.NodeID) {
			log.Info("worker lost", zap.String("node", id.Hex()), zap.Int("remaining", registry.Len()))
		})
		g.Go(func() error {
			monitor.Start(gctx)
			return nil
		})
	}

	err := g.Wait()
	log.Info("coordinator stopped")
	return err
}

func logEvent(log *zap.Logger, ev coordinator.Event) {
	node := zap.String("node", ev.Source.Hex())
	switch ev.Name {
	case protocol.Register:
		// the server logs the registration itself
	case protocol.Quit:
		log.Info("worker quit", node)
	case protocol.AddNodes:
		count, ok := ev.Payload.AsInt()
		if !ok {
			count = 1
		}
		log.Info("ADDNODES requested", node, zap.Int64("count", count))
	default:
		log.Info("event", node, zap.String("event", string(ev.Name)), zap.Stringer("payload", ev.Payload))
	}
}
