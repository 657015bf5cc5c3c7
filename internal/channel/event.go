package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/identity"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/transport"
)

// DefaultRegisterTimeout bounds the REGISTER handshake unless overridden with
// WithRegisterTimeout.
const DefaultRegisterTimeout = 10 * time.Second

// inboxSize is the number of received messages buffered between the reader
// goroutine and Poll.
const inboxSize = 1024

// Bounds of the wait between failed receives.
const (
	recvBackoffMin = 10 * time.Millisecond
	recvBackoffMax = time.Second
)

// RouteResolver supplies the route back to whoever issued the command that is
// currently executing. It reports false when there is no such sender.
type RouteResolver interface {
	Sender() (protocol.Route, bool)
}

// Option configures an EventChannel.
type Option func(*EventChannel)

// WithRegisterTimeout bounds Register. Zero disables the timeout; the
// context passed to Register still applies.
func WithRegisterTimeout(d time.Duration) Option {
	return func(c *EventChannel) { c.registerTimeout = d }
}

// WithSenderRoute sets the resolver consulted when Send is called without a
// target.
func WithSenderRoute(r RouteResolver) Option {
	return func(c *EventChannel) { c.resolver = r }
}

// WithFallbackRoute sets the route used when Send has no target and the
// resolver has no sender. An empty route sends with no address frames.
func WithFallbackRoute(r protocol.Route) Option {
	return func(c *EventChannel) { c.fallback = r.Clone() }
}

type inbound struct {
	frames [][]byte
	err    error
}

// EventChannel is the routed request/reply link to the coordinator.
type EventChannel struct {
	factory         transport.Factory
	log             *zap.Logger
	registerTimeout time.Duration
	resolver        RouteResolver
	fallback        protocol.Route

	mu       sync.Mutex // serializes sends and guards the fields below
	sock     transport.Socket
	endpoint string
	localID  identity.NodeID
	hostID   identity.HostID
	closed   bool

	regMu      sync.Mutex
	registered bool

	inbox chan inbound
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewEventChannel returns an unopened channel. A nil logger discards output.
func NewEventChannel(factory transport.Factory, log *zap.Logger, opts ...Option) *EventChannel {
	if log == nil {
		log = zap.NewNop()
	}
	c := &EventChannel{
		factory:         factory,
		log:             log,
		registerTimeout: DefaultRegisterTimeout,
		fallback:        protocol.Broadcast(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open creates the dealer socket carrying localID as its identity, connects
// it to endpoint and starts the background reader.
func (c *EventChannel) Open(ctx context.Context, localID identity.NodeID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock != nil {
		return ErrAlreadyOpen
	}

	sock := c.factory.Dealer(ctx, localID.Bytes())
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return transport.Wrap("dial", endpoint, err)
	}

	c.sock = sock
	c.endpoint = endpoint
	c.localID = localID
	c.inbox = make(chan inbound, inboxSize)
	c.done = make(chan struct{})
	c.log = c.log.With(zap.String("endpoint", endpoint))

	c.wg.Add(1)
	go c.read(sock)
	return nil
}

// read forwards every received message and every receive error to the
// inbox until the channel is closed. Consecutive errors are spaced by a
// doubling backoff so a socket that keeps failing does not spin; the first
// successful receive resets it. A socket closed underneath the channel ends
// the reader after that error is forwarded.
func (c *EventChannel) read(sock transport.Socket) {
	defer c.wg.Done()
	backoff := time.Duration(0)
	for {
		frames, err := sock.Recv()
		select {
		case <-c.done:
			return
		default:
		}
		select {
		case c.inbox <- inbound{frames: frames, err: err}:
		case <-c.done:
			return
		}
		if err == nil {
			backoff = 0
			continue
		}
		if errors.Is(err, transport.ErrClosed) {
			return
		}
		backoff = min(max(2*backoff, recvBackoffMin), recvBackoffMax)
		c.log.Debug("receive failed, retrying", zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-c.done:
			return
		}
	}
}

// Register performs the handshake: it sends REGISTER and blocks until the
// coordinator answers. The first frame of the reply is the HostID.
func (c *EventChannel) Register(ctx context.Context) (identity.HostID, error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if c.registered {
		return nil, ErrAlreadyRegistered
	}
	if !c.isOpen() {
		return nil, ErrNotOpen
	}

	if err := c.Send(nil, protocol.Register, codec.Nil()); err != nil {
		return nil, err
	}

	if c.registerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.registerTimeout)
		defer cancel()
	}

	var msg inbound
	select {
	case msg = <-c.inbox:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrRegisterTimeout
		}
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotOpen
	}
	if msg.err != nil {
		return nil, transport.Wrap("recv", c.endpoint, msg.err)
	}
	if len(msg.frames) == 0 || len(msg.frames[0]) == 0 {
		return nil, &protocol.Violation{Frames: len(msg.frames), Reason: "register reply carries no host id"}
	}

	host := identity.HostID(append([]byte(nil), msg.frames[0]...))
	c.mu.Lock()
	c.hostID = host
	c.mu.Unlock()
	c.registered = true
	c.log.Debug("registered", zap.String("host", host.Hex()))
	return host, nil
}

// Poll returns the next pending event without blocking. It reports false
// when nothing is pending.
//
// The returned route is the reverse of the path the message travelled, so
// passing it to Send answers the sender. QUIT payloads are not decoded. A
// message that fails to parse or decode is dropped and its error returned.
func (c *EventChannel) Poll() (protocol.Event, bool, error) {
	if c.inbox == nil {
		return protocol.Event{}, false, nil
	}
	var msg inbound
	select {
	case msg = <-c.inbox:
	default:
		return protocol.Event{}, false, nil
	}
	if msg.err != nil {
		return protocol.Event{}, false, transport.Wrap("recv", c.endpoint, msg.err)
	}

	route, name, raw, err := protocol.Split(msg.frames)
	if err != nil {
		return protocol.Event{}, false, err
	}
	ev := protocol.Event{Route: route.Reverse(), Name: name, Payload: codec.Nil()}
	if name == protocol.Quit {
		return ev, true, nil
	}
	if ev.Payload, err = codec.Decode(raw); err != nil {
		return protocol.Event{}, false, err
	}
	return ev, true, nil
}

// Send encodes payload and transmits target ++ [name, payload]. An empty
// target is resolved, once per call, to the current sender route, then to the
// fallback route.
func (c *EventChannel) Send(target protocol.Route, name protocol.Name, payload codec.Value) error {
	data, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	if target.Empty() {
		target = c.resolve()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil || c.closed {
		return transport.Wrap("send", c.endpoint, ErrNotOpen)
	}
	if err := c.sock.Send(protocol.Frames(target, name, data)); err != nil {
		return transport.Wrap("send", c.endpoint, err)
	}
	return nil
}

func (c *EventChannel) resolve() protocol.Route {
	if c.resolver != nil {
		if r, ok := c.resolver.Sender(); ok && !r.Empty() {
			return r
		}
	}
	return c.fallback
}

// HostID is the coordinator identity, empty before Register succeeds.
func (c *EventChannel) HostID() identity.HostID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostID
}

// LocalID is the identity the channel was opened with.
func (c *EventChannel) LocalID() identity.NodeID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localID
}

func (c *EventChannel) isOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock != nil && !c.closed
}

// Close stops the reader and releases the socket. It is safe to call more
// than once, and on a channel that was never opened.
func (c *EventChannel) Close() error {
	c.mu.Lock()
	if c.sock == nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	err := c.sock.Close()
	c.mu.Unlock()

	c.wg.Wait()
	return err
}
