package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/simnode/internal/identity"
)

// TestHealthMonitorCheck verifies that silent nodes are evicted and reported.
func TestHealthMonitorCheck(t *testing.T) {
	clock := &manualClock{t: time.Unix(0, 0)}
	r := NewRegistry(clock.now)
	r.Register(nodeA)
	r.Register(nodeB)

	monitor := NewHealthMonitor(r, time.Second, 10*time.Second, nil)
	var reported []identity.NodeID
	monitor.SetOnStale(func(id identity.NodeID) { reported = append(reported, id) })

	// Nothing is stale yet
	assert.Empty(t, monitor.Check())

	clock.t = time.Unix(9, 0)
	r.Touch(nodeB)
	clock.t = time.Unix(11, 0)

	evicted := monitor.Check()
	assert.Equal(t, []identity.NodeID{nodeA}, evicted)
	assert.Equal(t, []identity.NodeID{nodeA}, reported)
	assert.False(t, r.Has(nodeA))
	assert.True(t, r.Has(nodeB))
}

// TestHealthMonitorStartStop verifies the background scan and shutdown.
func TestHealthMonitorStartStop(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(nodeA)

	monitor := NewHealthMonitor(r, 10*time.Millisecond, time.Nanosecond, nil)
	var mu sync.Mutex
	var reported []identity.NodeID
	monitor.SetOnStale(func(id identity.NodeID) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, id)
	})

	done := make(chan struct{})
	go func() {
		monitor.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	monitor.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []identity.NodeID{nodeA}, reported)
}

// TestHealthMonitorContextCancel verifies Start returns when its context ends.
func TestHealthMonitorContextCancel(t *testing.T) {
	monitor := NewHealthMonitor(NewRegistry(nil), time.Hour, time.Hour, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		monitor.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
