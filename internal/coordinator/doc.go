// Package coordinator implements a small coordinator peer for simulation
// worker nodes: registration, event relaying between nodes and stream
// collection.
//
// # Overview
//
// Production deployments run a full simulation server that owns session
// bookkeeping. This package provides the part of it that worker nodes
// actually depend on, so nodes can be run and tested without that server.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                  │
//	├──────────────────────────────────────────────┤
//	│  ROUTER  (events)                            │
//	│    REGISTER → reply [host id], Registry add  │
//	│    QUIT     → Registry remove                │
//	│    [dst,..] → relay to registered dst        │
//	│    other    → OnEvent handlers               │
//	│  SUB     (streams)                           │
//	│    [topic ++ node id, payload] → OnStream    │
//	├──────────────────────────────────────────────┤
//	│  Registry       registration order, LastSeen │
//	│  HealthMonitor  evicts silent nodes          │
//	└──────────────────────────────────────────────┘
//
// # Relaying
//
// A node addresses another node by putting its id first in the route. The
// router prefixes the sender's identity on receipt, so the coordinator sees
// [src, dst, hops..., name, payload]. It forwards [hops..., src, name,
// payload] to dst. The destination reverses the address frames it received
// and obtains a route that leads back to src through the coordinator, which
// is what makes replies work without either node knowing the topology.
//
// # Concurrency
//
// Serve runs the event and stream receive loops in an errgroup. Handlers
// registered with OnEvent and OnStream run on those loops and should return
// quickly. Registry is guarded by a RWMutex and may be read at any time.
package coordinator
