package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/channel"
	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/identity"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/transport"
)

// ErrAlreadyStarted is returned when Start is called a second time.
var ErrAlreadyStarted = errors.New("node: already started")

// Handler is the simulation logic driven by the run loop. Both methods run on
// the loop goroutine and must not block.
type Handler interface {
	// OnEvent receives every inbound event except QUIT. route is already
	// reversed: passing it to SendEvent answers the sender.
	OnEvent(name protocol.Name, payload codec.Value, route protocol.Route)
	// Step advances the simulation by one iteration.
	Step()
}

// TimerDispatcher fires due timers once per iteration.
type TimerDispatcher interface {
	Dispatch()
}

// Config holds the coordinator endpoints of a node.
type Config struct {
	// EventEndpoint is the coordinator's routed event socket,
	// e.g. "tcp://localhost:10000".
	EventEndpoint string
	// StreamEndpoint is the coordinator's stream subscriber socket.
	StreamEndpoint string
	// RegisterTimeout bounds the REGISTER handshake. Zero uses
	// channel.DefaultRegisterTimeout; a negative value waits forever.
	RegisterTimeout time.Duration
}

// Option configures a Node.
type Option func(*Node)

// WithTimers sets the dispatcher called once per iteration.
func WithTimers(t TimerDispatcher) Option {
	return func(n *Node) { n.timers = t }
}

// WithSenderRoute sets the resolver that addresses sends without a target
// back to the issuer of the current command.
func WithSenderRoute(r channel.RouteResolver) Option {
	return func(n *Node) { n.resolver = r }
}

// WithFallbackRoute replaces the broadcast route used when a send has no
// target and no sender is known. An empty route sends without address
// frames, leaving the choice of peer to the transport.
func WithFallbackRoute(r protocol.Route) Option {
	return func(n *Node) {
		fallback := r.Clone()
		if fallback == nil {
			fallback = protocol.Route{}
		}
		n.fallback = &fallback
	}
}

// WithLogger sets the logger. The node id is attached to every entry.
func WithLogger(log *zap.Logger) Option {
	return func(n *Node) { n.log = log }
}

// WithTransport replaces the ZeroMQ socket factory.
func WithTransport(f transport.Factory) Option {
	return func(n *Node) { n.factory = f }
}

type noTimers struct{}

func (noTimers) Dispatch() {}

// Node is one worker process's network participation: identity, coordinator
// links and the run loop.
//
// Thread safety:
//   - Start runs the loop on the calling goroutine
//   - Quit, SendEvent, SendStream, AddNodes and the accessors are safe to
//     call from any goroutine
type Node struct {
	cfg      Config
	id       identity.NodeID
	handler  Handler
	timers   TimerDispatcher
	resolver channel.RouteResolver
	fallback *protocol.Route
	factory  transport.Factory
	log      *zap.Logger

	events  *channel.EventChannel
	streams *channel.StreamChannel

	// quitMu orders a QUIT sent by Quit before the channels close in stop.
	quitMu sync.Mutex

	started      atomic.Bool
	running      atomic.Bool
	state        atomic.Int32
	quitSent     atomic.Bool
	quitReceived atomic.Bool
	iterations   atomic.Uint64
}

// New creates a node with a fresh identity.
//
// Parameters:
//   - cfg: coordinator endpoints and register timeout
//   - handler: simulation logic (must not be nil)
//   - opts: timers, sender route, fallback route, logger, transport
//
// Returns:
//   - a node in state Starting, not yet connected
//   - an error when no identity could be generated; callers should treat it
//     as fatal
func New(cfg Config, handler Handler, opts ...Option) (*Node, error) {
	if handler == nil {
		return nil, errors.New("node: nil handler")
	}
	id, err := identity.New()
	if err != nil {
		return nil, fmt.Errorf("node: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		id:      id,
		handler: handler,
		timers:  noTimers{},
		factory: transport.ZMQ{},
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = zap.NewNop()
	}
	n.log = n.log.With(zap.String("node", id.Hex()))

	chOpts := []channel.Option{channel.WithRegisterTimeout(registerTimeout(cfg.RegisterTimeout))}
	if n.resolver != nil {
		chOpts = append(chOpts, channel.WithSenderRoute(n.resolver))
	}
	if n.fallback != nil {
		chOpts = append(chOpts, channel.WithFallbackRoute(*n.fallback))
	}
	n.events = channel.NewEventChannel(n.factory, n.log, chOpts...)
	n.streams = channel.NewStreamChannel(n.factory, n.log)

	n.running.Store(true)
	n.state.Store(int32(Starting))
	return n, nil
}

func registerTimeout(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return channel.DefaultRegisterTimeout
	case d < 0:
		return 0
	}
	return d
}

// Start connects, registers and runs the loop until the node stops. It
// returns nil after a normal shutdown, whether initiated locally, by the
// coordinator or by cancelling ctx.
//
// Startup failures (dial, register timeout, protocol violation in the reply)
// release whatever was opened, leave the node Stopped and are returned.
func (n *Node) Start(ctx context.Context) error {
	if !n.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if err := n.open(ctx); err != nil {
		n.close()
		n.state.Store(int32(Stopped))
		return err
	}

	for n.Iterate(ctx) {
	}

	n.stop()
	return nil
}

// open performs the Starting phase. Sockets outlive ctx so that QUIT can
// still be sent after an interrupt.
func (n *Node) open(ctx context.Context) error {
	sockCtx := context.WithoutCancel(ctx)
	if err := n.events.Open(sockCtx, n.id, n.cfg.EventEndpoint); err != nil {
		return fmt.Errorf("node: open events: %w", err)
	}
	if err := n.streams.Open(sockCtx, n.id, n.cfg.StreamEndpoint); err != nil {
		return fmt.Errorf("node: open streams: %w", err)
	}
	host, err := n.events.Register(ctx)
	if err != nil {
		return fmt.Errorf("node: register: %w", err)
	}
	n.state.Store(int32(Running))
	n.log.Info("node started", zap.String("id", n.id.Hex()), zap.String("host", host.Hex()))
	return nil
}

// Iterate runs one loop iteration and reports whether it did. It returns
// false without doing anything once the running flag is down, or after
// turning a cancelled ctx into a local quit.
//
// Each iteration polls at most one event, then calls Step and Dispatch
// exactly once, even when the polled event was QUIT.
func (n *Node) Iterate(ctx context.Context) bool {
	if !n.running.Load() || State(n.state.Load()) != Running {
		return false
	}
	if ctx.Err() != nil {
		n.log.Info("quitting", zap.String("reason", "interrupted"))
		n.Quit()
		return false
	}

	ev, ok, err := n.events.Poll()
	switch {
	case err != nil:
		n.logPollError(err)
	case !ok:
	case ev.Name == protocol.Quit:
		n.log.Info("quitting", zap.String("reason", "received QUIT from coordinator"))
		n.quitReceived.Store(true)
		n.running.Store(false)
	default:
		n.handler.OnEvent(ev.Name, ev.Payload, ev.Route)
	}

	n.handler.Step()
	n.timers.Dispatch()
	n.iterations.Add(1)
	return true
}

func (n *Node) logPollError(err error) {
	var ce *transport.ChannelError
	switch {
	case errors.As(err, &ce):
		n.log.Error("event channel failure", zap.Error(err))
	case errors.Is(err, codec.ErrSerialization):
		n.log.Warn("dropped undecodable event", zap.Error(err))
	case errors.Is(err, protocol.ErrViolation):
		n.log.Warn("dropped malformed event", zap.Error(err))
	default:
		n.log.Warn("poll", zap.Error(err))
	}
}

// stop performs the Stopping phase.
func (n *Node) stop() {
	n.state.Store(int32(Stopping))
	n.running.Store(false)

	n.quitMu.Lock()
	if !n.quitReceived.Load() && n.quitSent.CompareAndSwap(false, true) {
		n.sendQuit()
	}
	n.close()
	n.state.Store(int32(Stopped))
	n.quitMu.Unlock()
	n.log.Info("node stopped", zap.Uint64("iterations", n.iterations.Load()))
}

func (n *Node) close() {
	if err := n.events.Close(); err != nil {
		n.log.Warn("close event channel", zap.Error(err))
	}
	if err := n.streams.Close(); err != nil {
		n.log.Warn("close stream channel", zap.Error(err))
	}
}

// Quit stops the loop after the current iteration and tells the coordinator.
//
// Behavior:
//   - the running flag drops immediately
//   - QUIT is sent at most once per session, and never after the
//     coordinator sent QUIT
//   - before the node is Running nothing is sent; the Stopping phase takes
//     care of it
//
// Thread safety:
//   - safe to call from any goroutine, any number of times
func (n *Node) Quit() {
	n.running.Store(false)
	if n.quitReceived.Load() || State(n.state.Load()) != Running {
		return
	}
	n.quitMu.Lock()
	defer n.quitMu.Unlock()
	// stop may have taken over while we waited
	if State(n.state.Load()) != Running {
		return
	}
	if n.quitSent.CompareAndSwap(false, true) {
		n.sendQuit()
	}
}

func (n *Node) sendQuit() {
	if err := n.events.Send(nil, protocol.Quit, codec.Nil()); err != nil {
		n.log.Warn("send QUIT", zap.Error(err))
	}
}

// AddNodes asks the coordinator to start count more worker nodes.
func (n *Node) AddNodes(count int) error {
	return n.SendEvent(nil, protocol.AddNodes, codec.Int(int64(count)))
}

// SendEvent sends a routed event. A nil target goes to the sender of the
// command currently executing, or to the fallback route.
func (n *Node) SendEvent(target protocol.Route, name protocol.Name, payload codec.Value) error {
	return n.events.Send(target, name, payload)
}

// SendStream publishes payload on topic.
func (n *Node) SendStream(topic string, payload codec.Value) error {
	return n.streams.Publish(topic, payload)
}

// ID returns the node identity.
func (n *Node) ID() identity.NodeID { return n.id }

// HostID returns the coordinator identity, empty until registered.
func (n *Node) HostID() identity.HostID { return n.events.HostID() }

// State returns the lifecycle phase.
func (n *Node) State() State { return State(n.state.Load()) }

// Running reports the running flag.
func (n *Node) Running() bool { return n.running.Load() }

// Iterations returns the number of completed loop iterations.
func (n *Node) Iterations() uint64 { return n.iterations.Load() }
