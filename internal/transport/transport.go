// Package transport abstracts the message sockets underneath the event and
// stream channels.
//
// Two implementations are provided:
//   - ZMQ: ZeroMQ sockets from github.com/go-zeromq/zmq4 (DEALER/ROUTER for
//     routed events, PUB/SUB for streams). This is what nodes use in
//     production.
//   - Memory: an in-process hub with the same routing semantics, used by tests
//     and by single-process setups.
//
// Sockets are not safe for unsynchronized concurrent Send calls; the channel
// layer serializes sends with a mutex. A single goroutine may Recv while
// another sends.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// Socket is one multipart message socket.
type Socket interface {
	// Dial connects to a listening peer.
	Dial(endpoint string) error
	// Listen binds the socket to an endpoint.
	Listen(endpoint string) error
	// Send transmits one multipart message.
	Send(frames [][]byte) error
	// Recv blocks until a multipart message arrives or the socket closes.
	Recv() ([][]byte, error)
	// Close releases the socket. Pending and future Recv calls fail.
	Close() error
}

// Factory creates sockets of the four kinds the system uses.
type Factory interface {
	// Dealer returns a socket that carries id as its identity, so a router
	// can address replies to it.
	Dealer(ctx context.Context, id []byte) Socket
	// Router returns a socket that prefixes inbound messages with the peer
	// identity and routes outbound messages by their first frame.
	Router(ctx context.Context, id []byte) Socket
	// Publisher returns a fire-and-forget broadcast socket.
	Publisher(ctx context.Context) Socket
	// Subscriber returns a socket subscribed to every topic.
	Subscriber(ctx context.Context) Socket
}

var (
	// ErrClosed is returned by operations on a closed socket.
	ErrClosed = errors.New("transport: socket closed")
	// ErrNotConnected is returned when sending before a successful Dial.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrUnroutable is returned when a router has no peer for the target
	// identity.
	ErrUnroutable = errors.New("transport: no route to peer")
	// ErrRefused is returned when nothing listens on the dialed endpoint.
	ErrRefused = errors.New("transport: connection refused")
)

// ChannelError is a transport level failure (connection refused, peer gone,
// socket closed mid-session). The run loop logs it and keeps operating;
// reconnection policy belongs to a higher layer.
type ChannelError struct {
	Op       string // dial, listen, send, recv
	Endpoint string
	Err      error
}

func (e *ChannelError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Wrap turns err into a *ChannelError. A nil err stays nil and an existing
// ChannelError is returned unchanged.
func Wrap(op, endpoint string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChannelError
	if errors.As(err, &ce) {
		return err
	}
	return &ChannelError{Op: op, Endpoint: endpoint, Err: err}
}
