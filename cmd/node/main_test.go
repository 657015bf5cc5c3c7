package main

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/config"
	"github.com/dreamware/simnode/internal/coordinator"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/sim"
	"github.com/dreamware/simnode/internal/transport"
)

// recorder collects what a coordinator receives.
type recorder struct {
	mu      sync.Mutex
	events  []coordinator.Event
	streams []coordinator.StreamMessage
}

func (r *recorder) event(name protocol.Name) (coordinator.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Name == name {
			return ev, true
		}
	}
	return coordinator.Event{}, false
}

func (r *recorder) stream(topic string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.streams {
		if m.Topic == topic {
			return true
		}
	}
	return false
}

func startCoordinator(t *testing.T, hub *transport.Memory, cfg *config.Config) (*coordinator.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := coordinator.New(hub, coordinator.WithLogger(zaptest.NewLogger(t)))
	srv.OnEvent(func(ev coordinator.Event) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.events = append(rec.events, ev)
	})
	srv.OnStream(func(m coordinator.StreamMessage) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.streams = append(rec.streams, m)
	})
	require.NoError(t, srv.Listen(context.Background(), cfg.EventEndpoint(), cfg.StreamEndpoint()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, srv.Serve(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, rec
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.RegisterTimeout = 2 * time.Second
	return cfg
}

func runAsync(t *testing.T, ctx context.Context, cfg *config.Config, hub *transport.Memory) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, zaptest.NewLogger(t), hub) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("node did not stop")
		return nil
	}
}

// TestRunAgainstCoordinator verifies the full worker: registration, a routed
// stack command answered to its sender, SIMINFO telemetry and a coordinator
// initiated shutdown.
func TestRunAgainstCoordinator(t *testing.T) {
	hub := transport.NewMemory()
	cfg := testConfig()
	srv, rec := startCoordinator(t, hub, cfg)

	done := runAsync(t, context.Background(), cfg, hub)
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	id := srv.Nodes()[0].ID

	require.NoError(t, srv.Send(id, protocol.Broadcast(), sim.StackCmd, codec.String("ECHO hello")))
	require.Eventually(t, func() bool {
		ev, ok := rec.event(sim.Echo)
		if !ok {
			return false
		}
		text, _ := ev.Payload.AsString()
		return text == "hello"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool { return rec.stream(sim.InfoTopic) }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, srv.Send(id, nil, protocol.Quit, codec.Nil()))
	assert.NoError(t, waitDone(t, done))
	_, quitEchoed := rec.event(protocol.Quit)
	assert.False(t, quitEchoed, "a node told to quit does not answer QUIT")
}

// TestInterruptSendsQuit verifies that cancelling the context stops the
// worker and unregisters it from the coordinator.
func TestInterruptSendsQuit(t *testing.T) {
	hub := transport.NewMemory()
	cfg := testConfig()
	srv, _ := startCoordinator(t, hub, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := runAsync(t, ctx, cfg, hub)
	require.Eventually(t, func() bool { return srv.Registry().Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.Eventually(t, func() bool { return srv.Registry().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

// TestRunWithoutCoordinator verifies that a dial failure is returned rather
// than treated as fatal.
func TestRunWithoutCoordinator(t *testing.T) {
	oldLogFatal := logFatal
	defer func() { logFatal = oldLogFatal }()
	logFatal = func(_ *zap.Logger, msg string, _ ...zap.Field) {
		t.Errorf("unexpected fatal: %s", msg)
	}

	err := waitDone(t, runAsync(t, context.Background(), testConfig(), transport.NewMemory()))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrRefused)
}

// TestAppRejectsInvalidConfig verifies that flag validation happens before
// any socket is opened.
func TestAppRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"zero timestep", []string{"--simdt", "0"}, "simdt"},
		{"bad port", []string{"--event-port", "0"}, "event_port"},
		{"bad log level", []string{"--log-level", "loud"}, "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newApp(transport.NewMemory())
			app.Writer, app.ErrWriter = io.Discard, io.Discard
			err := app.Run(append([]string{"node"}, tt.args...))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
