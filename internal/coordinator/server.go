package coordinator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/identity"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/transport"
)

// DefaultHostID is the identity a Server answers REGISTER with unless
// WithHostID is given.
var DefaultHostID = []byte{0x01, 0x02, 0x03, 0x04}

// Event is a routed event addressed to the coordinator itself.
type Event struct {
	Source  identity.NodeID
	Route   protocol.Route // address frames after the source, as received
	Name    protocol.Name
	Payload codec.Value
}

// StreamMessage is one published telemetry message.
type StreamMessage struct {
	Topic   string
	Source  identity.NodeID
	Payload codec.Value
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithHostID sets the identity sent in REGISTER replies.
func WithHostID(id []byte) Option {
	return func(s *Server) { s.hostID = append([]byte(nil), id...) }
}

// WithRegistry shares a registry, e.g. with a HealthMonitor.
func WithRegistry(r *Registry) Option {
	return func(s *Server) { s.registry = r }
}

// Server is a minimal coordinator: it accepts registrations, relays events
// between registered nodes and collects their streams.
//
// Routing rule for an event from src with frames [dst, hops..., name, payload]:
//   - dst names another registered node: relay to dst as
//     [hops..., src, name, payload], so dst sees a route it can reverse
//   - otherwise (wildcard, unknown or no address): deliver to OnEvent
//
// Thread safety:
//   - Serve runs two receive loops; handlers run on those loops
//   - Send, Broadcast and the accessors are safe for concurrent use
type Server struct {
	factory  transport.Factory
	log      *zap.Logger
	hostID   []byte
	registry *Registry

	mu     sync.Mutex // serializes router sends
	router transport.Socket
	sub    transport.Socket
	closed atomic.Bool
	done   chan struct{}

	hmu      sync.RWMutex
	onEvent  []func(Event)
	onStream []func(StreamMessage)
}

// New creates a server that opens its sockets through factory.
func New(factory transport.Factory, opts ...Option) *Server {
	s := &Server{
		factory: factory,
		log:     zap.NewNop(),
		hostID:  DefaultHostID,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.registry == nil {
		s.registry = NewRegistry(nil)
	}
	return s
}

// OnEvent adds a handler for events addressed to the coordinator, including
// REGISTER and QUIT.
func (s *Server) OnEvent(fn func(Event)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.onEvent = append(s.onEvent, fn)
}

// OnStream adds a handler for stream messages.
func (s *Server) OnStream(fn func(StreamMessage)) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.onStream = append(s.onStream, fn)
}

// Listen binds the event router and the stream subscriber.
func (s *Server) Listen(ctx context.Context, eventEndpoint, streamEndpoint string) error {
	router := s.factory.Router(ctx, s.hostID)
	if err := router.Listen(eventEndpoint); err != nil {
		router.Close()
		return transport.Wrap("listen", eventEndpoint, err)
	}
	sub := s.factory.Subscriber(ctx)
	if err := sub.Listen(streamEndpoint); err != nil {
		router.Close()
		sub.Close()
		return transport.Wrap("listen", streamEndpoint, err)
	}
	s.router, s.sub = router, sub
	s.log.Info("coordinator listening", zap.String("events", eventEndpoint), zap.String("streams", streamEndpoint))
	return nil
}

// Serve runs the receive loops until ctx is cancelled, Close is called or a
// socket fails. It returns nil on a requested shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if s.router == nil {
		return errors.New("coordinator: Serve before Listen")
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(s.router, "recv events", s.handleEvent) })
	g.Go(func() error { return s.loop(s.sub, "recv streams", s.handleStream) })
	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		return s.Close()
	})
	return g.Wait()
}

func (s *Server) loop(sock transport.Socket, op string, handle func([][]byte)) error {
	for {
		frames, err := sock.Recv()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.Close()
			return transport.Wrap(op, "", err)
		}
		handle(frames)
	}
}

// Close releases both sockets. It is idempotent.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	if s.sub != nil {
		errs = append(errs, s.sub.Close())
	}
	return errors.Join(errs...)
}

// Registry returns the node registry.
func (s *Server) Registry() *Registry { return s.registry }

// Nodes returns the registered nodes in registration order.
func (s *Server) Nodes() []NodeInfo { return s.registry.Nodes() }

// HostID returns the identity sent in REGISTER replies.
func (s *Server) HostID() identity.HostID { return identity.HostID(s.hostID) }

func (s *Server) handleEvent(frames [][]byte) {
	if len(frames) < 3 {
		s.log.Warn("dropped malformed event", zap.Int("frames", len(frames)))
		return
	}
	src := identity.NodeID(frames[0])
	route, name, raw, err := protocol.Split(frames[1:])
	if err != nil {
		s.log.Warn("dropped malformed event", zap.String("node", src.Hex()), zap.Error(err))
		return
	}
	s.registry.Touch(src)

	if name == protocol.Register {
		s.register(src)
	} else if s.relay(src, route, name, raw) {
		return
	}

	payload := codec.Nil()
	if name != protocol.Quit {
		if payload, err = codec.Decode(raw); err != nil {
			s.log.Warn("dropped undecodable event", zap.String("node", src.Hex()), zap.String("event", string(name)), zap.Error(err))
			return
		}
	} else if s.registry.Unregister(src) {
		s.log.Info("node quit", zap.String("node", src.Hex()))
	}

	ev := Event{Source: identity.NodeID(bytes.Clone(src)), Route: route, Name: name, Payload: payload}
	s.hmu.RLock()
	handlers := s.onEvent
	s.hmu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

func (s *Server) register(src identity.NodeID) {
	fresh := s.registry.Register(src)
	if err := s.sendFrames([][]byte{src, s.hostID}); err != nil {
		s.log.Error("register reply", zap.String("node", src.Hex()), zap.Error(err))
		return
	}
	s.log.Info("node registered", zap.String("node", src.Hex()), zap.Bool("new", fresh))
}

// relay forwards an event whose first address frame names another
// registered node and reports whether it did.
func (s *Server) relay(src identity.NodeID, route protocol.Route, name protocol.Name, raw []byte) bool {
	if route.Empty() {
		return false
	}
	dst := route[0]
	if bytes.Equal(dst, protocol.Wildcard) || bytes.Equal(dst, src) || !s.registry.Has(dst) {
		return false
	}
	out := make([][]byte, 0, len(route)+3)
	out = append(out, dst)
	out = append(out, route[1:]...)
	out = append(out, src, []byte(name), raw)
	if err := s.sendFrames(out); err != nil {
		s.log.Warn("relay failed", zap.String("from", src.Hex()), zap.String("to", identity.Hex(dst)), zap.Error(err))
	}
	return true
}

func (s *Server) handleStream(frames [][]byte) {
	if len(frames) != 2 {
		s.log.Warn("dropped malformed stream message", zap.Int("frames", len(frames)))
		return
	}
	topic, src, ok := protocol.SplitStreamTopic(frames[0])
	if !ok {
		s.log.Warn("dropped stream message with short topic", zap.ByteString("topic", frames[0]))
		return
	}
	s.registry.Touch(src)
	payload, err := codec.Decode(frames[1])
	if err != nil {
		s.log.Warn("dropped undecodable stream message", zap.String("topic", topic), zap.Error(err))
		return
	}

	msg := StreamMessage{Topic: topic, Source: src, Payload: payload}
	s.hmu.RLock()
	handlers := s.onStream
	s.hmu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

// Send delivers an event to node. route is inserted between the node address
// and the name; nil sends the event as coming from the coordinator itself.
func (s *Server) Send(node identity.NodeID, route protocol.Route, name protocol.Name, payload codec.Value) error {
	data, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	frames := append([][]byte{node}, protocol.Frames(route, name, data)...)
	return s.sendFrames(frames)
}

// Broadcast sends an event to every registered node and returns the errors
// joined.
func (s *Server) Broadcast(name protocol.Name, payload codec.Value) error {
	var errs []error
	for _, n := range s.registry.Nodes() {
		errs = append(errs, s.Send(n.ID, nil, name, payload))
	}
	return errors.Join(errs...)
}

func (s *Server) sendFrames(frames [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.router == nil || s.closed.Load() {
		return transport.Wrap("send", "", transport.ErrClosed)
	}
	if err := s.router.Send(frames); err != nil {
		return transport.Wrap("send", "", err)
	}
	return nil
}
