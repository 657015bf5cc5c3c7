package transport

import (
	"context"
	"time"

	"github.com/go-zeromq/zmq4"
)

// ZMQ creates ZeroMQ sockets.
type ZMQ struct {
	// DialRetry is the wait between connection attempts. Zero uses 250ms.
	DialRetry time.Duration
	// DialAttempts bounds connection attempts. Zero uses 10.
	DialAttempts int
}

func (z ZMQ) opts(id []byte) []zmq4.Option {
	retry := z.DialRetry
	if retry <= 0 {
		retry = 250 * time.Millisecond
	}
	attempts := z.DialAttempts
	if attempts <= 0 {
		attempts = 10
	}
	opts := []zmq4.Option{
		zmq4.WithDialerRetry(retry),
		zmq4.WithDialerMaxRetries(attempts),
		// redial a dropped peer on the next send instead of staying deaf
		zmq4.WithAutomaticReconnect(true),
	}
	if len(id) > 0 {
		opts = append(opts, zmq4.WithID(zmq4.SocketIdentity(id)))
	}
	return opts
}

func (z ZMQ) Dealer(ctx context.Context, id []byte) Socket {
	return &zmqSocket{sck: zmq4.NewDealer(ctx, z.opts(id)...)}
}

func (z ZMQ) Router(ctx context.Context, id []byte) Socket {
	return &zmqSocket{sck: zmq4.NewRouter(ctx, z.opts(id)...)}
}

func (z ZMQ) Publisher(ctx context.Context) Socket {
	return &zmqSocket{sck: zmq4.NewPub(ctx, z.opts(nil)...)}
}

func (z ZMQ) Subscriber(ctx context.Context) Socket {
	return &zmqSocket{sck: zmq4.NewSub(ctx, z.opts(nil)...), subscribeAll: true}
}

type zmqSocket struct {
	sck          zmq4.Socket
	subscribeAll bool
}

func (s *zmqSocket) Dial(endpoint string) error {
	if err := s.subscribe(); err != nil {
		return err
	}
	return s.sck.Dial(endpoint)
}

func (s *zmqSocket) Listen(endpoint string) error {
	if err := s.subscribe(); err != nil {
		return err
	}
	return s.sck.Listen(endpoint)
}

func (s *zmqSocket) subscribe() error {
	if !s.subscribeAll {
		return nil
	}
	return s.sck.SetOption(zmq4.OptionSubscribe, "")
}

func (s *zmqSocket) Send(frames [][]byte) error {
	return s.sck.SendMulti(zmq4.NewMsgFrom(frames...))
}

func (s *zmqSocket) Recv() ([][]byte, error) {
	msg, err := s.sck.Recv()
	if err != nil {
		return nil, err
	}
	return msg.Frames, nil
}

func (s *zmqSocket) Close() error { return s.sck.Close() }
