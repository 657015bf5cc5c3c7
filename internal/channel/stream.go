package channel

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/identity"
	"github.com/dreamware/simnode/internal/protocol"
	"github.com/dreamware/simnode/internal/transport"
)

// StreamChannel publishes telemetry. Delivery is best effort: a subscriber
// that is slow or absent simply misses messages.
type StreamChannel struct {
	factory transport.Factory
	log     *zap.Logger

	mu       sync.Mutex
	sock     transport.Socket
	endpoint string
	localID  identity.NodeID
	closed   bool
}

// NewStreamChannel returns an unopened stream channel.
func NewStreamChannel(factory transport.Factory, log *zap.Logger) *StreamChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &StreamChannel{factory: factory, log: log}
}

// Open connects a publisher socket to endpoint. localID is appended to every
// topic.
func (s *StreamChannel) Open(ctx context.Context, localID identity.NodeID, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock != nil {
		return ErrAlreadyOpen
	}
	sock := s.factory.Publisher(ctx)
	if err := sock.Dial(endpoint); err != nil {
		sock.Close()
		return transport.Wrap("dial", endpoint, err)
	}
	s.sock = sock
	s.endpoint = endpoint
	s.localID = localID
	return nil
}

// Publish sends [topic ++ localID, encoded payload]. Nothing is sent when
// the payload fails to encode.
func (s *StreamChannel) Publish(topic string, payload codec.Value) error {
	data, err := codec.Encode(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil || s.closed {
		return transport.Wrap("send", s.endpoint, ErrNotOpen)
	}
	frames := [][]byte{protocol.StreamTopic(topic, s.localID), data}
	if err := s.sock.Send(frames); err != nil {
		return transport.Wrap("send", s.endpoint, err)
	}
	return nil
}

// Close releases the socket. Safe to call more than once.
func (s *StreamChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock == nil || s.closed {
		return nil
	}
	s.closed = true
	s.log.Debug("stream channel closed", zap.String("endpoint", s.endpoint))
	return s.sock.Close()
}
