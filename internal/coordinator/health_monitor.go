package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/identity"
)

// HealthMonitor evicts nodes that stopped talking. Worker nodes publish
// telemetry continuously, so silence longer than maxAge means the process is
// gone without having sent QUIT.
// Thread-safe: Start runs on its own goroutine; Stop may be called from any.
type HealthMonitor struct {
	registry *Registry
	log      *zap.Logger
	onStale  func(id identity.NodeID) // called after a node is evicted
	ctx      context.Context
	cancel   context.CancelFunc
	interval time.Duration // how often the registry is scanned
	maxAge   time.Duration // silence after which a node is evicted
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor over registry.
//
// Parameters:
//   - registry: nodes to watch
//   - interval: how often to scan (recommended: 1s)
//   - maxAge: silence after which a node is evicted (recommended: 10s)
//
// Example:
//
//	monitor := NewHealthMonitor(srv.Registry(), time.Second, 10*time.Second, log)
//	go monitor.Start(ctx)
//	defer monitor.Stop()
func NewHealthMonitor(registry *Registry, interval, maxAge time.Duration, log *zap.Logger) *HealthMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthMonitor{
		registry: registry,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		interval: interval,
		maxAge:   maxAge,
	}
}

// SetOnStale sets the callback invoked with the id of every evicted node.
// It must be set before Start.
func (h *HealthMonitor) SetOnStale(callback func(id identity.NodeID)) {
	h.onStale = callback
}

// Start scans the registry every interval until ctx is cancelled or Stop is
// called. It blocks.
func (h *HealthMonitor) Start(ctx context.Context) {
	h.wg.Add(1)
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.log.Debug("health monitor started", zap.Duration("interval", h.interval), zap.Duration("max_age", h.maxAge))
	for {
		select {
		case <-ticker.C:
			h.Check()
		case <-ctx.Done():
			return
		case <-h.ctx.Done():
			return
		}
	}
}

// Check runs one scan and returns the evicted nodes.
func (h *HealthMonitor) Check() []identity.NodeID {
	var evicted []identity.NodeID
	for _, n := range h.registry.Stale(h.maxAge) {
		if !h.registry.Unregister(n.ID) {
			continue
		}
		h.log.Warn("node evicted", zap.String("node", n.ID.Hex()), zap.Time("last_seen", n.LastSeen))
		evicted = append(evicted, n.ID)
		if h.onStale != nil {
			h.onStale(n.ID)
		}
	}
	return evicted
}

// Stop cancels Start and waits for it to return.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}
