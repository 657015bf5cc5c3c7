package coordinator

import (
	"bytes"
	"sync"
	"time"

	"golang.org/x/exp/slices"

	"github.com/dreamware/simnode/internal/identity"
)

// NodeInfo is the coordinator's record of one registered worker.
type NodeInfo struct {
	ID         identity.NodeID // identity the node registered with
	Registered time.Time       // first REGISTER of the current session
	LastSeen   time.Time       // last event or stream message from the node
	Messages   uint64          // events and stream messages received
}

// Registry tracks registered worker nodes in registration order.
// Thread-safe: All methods are safe for concurrent access.
type Registry struct {
	mu    sync.RWMutex
	nodes []NodeInfo
	now   func() time.Time
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now}
}

func (r *Registry) index(id []byte) int {
	return slices.IndexFunc(r.nodes, func(n NodeInfo) bool { return bytes.Equal(n.ID, id) })
}

// Register records id. A node registering again keeps its position and gets
// fresh timestamps.
//
// Returns:
//   - true if the node was not known before
func (r *Registry) Register(id identity.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	info := NodeInfo{ID: slices.Clone(id), Registered: now, LastSeen: now}
	if idx := r.index(id); idx >= 0 {
		r.nodes[idx] = info
		return false
	}
	r.nodes = append(r.nodes, info)
	return true
}

// Unregister removes id and reports whether it was registered.
func (r *Registry) Unregister(id identity.NodeID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.index(id)
	if idx < 0 {
		return false
	}
	r.nodes = slices.Delete(r.nodes, idx, idx+1)
	return true
}

// Touch marks a message from id. Unknown ids are ignored.
func (r *Registry) Touch(id []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idx := r.index(id); idx >= 0 {
		r.nodes[idx].LastSeen = r.now()
		r.nodes[idx].Messages++
	}
}

// Has reports whether id is registered.
func (r *Registry) Has(id []byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index(id) >= 0
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id identity.NodeID) (NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.index(id)
	if idx < 0 {
		return NodeInfo{}, false
	}
	return r.nodes[idx], true
}

// Nodes returns a snapshot of all records in registration order.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.nodes)
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Stale returns the nodes not heard from for longer than maxAge.
func (r *Registry) Stale(maxAge time.Duration) []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cutoff := r.now().Add(-maxAge)
	var out []NodeInfo
	for _, n := range r.nodes {
		if n.LastSeen.Before(cutoff) {
			out = append(out, n)
		}
	}
	return out
}
