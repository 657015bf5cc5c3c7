package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

type memKind int

const (
	memDealer memKind = iota
	memRouter
	memPub
	memSub
)

func (k memKind) String() string {
	return [...]string{"dealer", "router", "pub", "sub"}[k]
}

// defaultInbox is the queue depth of every in-memory socket.
const defaultInbox = 1024

// Memory is an in-process message hub. Routers and subscribers Listen on an
// endpoint name; dealers and publishers Dial it. Routing follows ZeroMQ:
//   - a router sees [dealerID, frames...] and routes on the first frame
//   - dealer sends block while the router queue is full
//   - publisher sends never block; slow subscribers drop messages
//
// Frames are copied on delivery, so senders may reuse their buffers.
type Memory struct {
	mu        sync.Mutex
	listeners map[string]*memSocket
	anon      atomic.Uint64
}

// NewMemory returns an empty hub.
func NewMemory() *Memory {
	return &Memory{listeners: make(map[string]*memSocket)}
}

func (m *Memory) Dealer(_ context.Context, id []byte) Socket { return m.socket(memDealer, id) }
func (m *Memory) Router(_ context.Context, id []byte) Socket { return m.socket(memRouter, id) }
func (m *Memory) Publisher(_ context.Context) Socket         { return m.socket(memPub, nil) }
func (m *Memory) Subscriber(_ context.Context) Socket        { return m.socket(memSub, nil) }

func (m *Memory) socket(kind memKind, id []byte) *memSocket {
	if len(id) == 0 {
		// zmq hands out anonymous identities the same way
		id = []byte(fmt.Sprintf("anon-%d", m.anon.Add(1)))
	}
	return &memSocket{
		hub:   m,
		kind:  kind,
		id:    slices.Clone(id),
		inbox: make(chan [][]byte, defaultInbox),
		done:  make(chan struct{}),
		peers: make(map[string]*memSocket),
	}
}

func (m *Memory) listen(ep string, s *memSocket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.listeners[ep]; taken {
		return fmt.Errorf("transport: %s: address already in use", ep)
	}
	m.listeners[ep] = s
	return nil
}

func (m *Memory) lookup(ep string) *memSocket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listeners[ep]
}

func (m *Memory) unlisten(ep string, s *memSocket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners[ep] == s {
		delete(m.listeners, ep)
	}
}

type memSocket struct {
	hub   *Memory
	kind  memKind
	id    []byte
	inbox chan [][]byte
	done  chan struct{}
	once  sync.Once

	mu       sync.Mutex
	endpoint string                // set by Listen
	remotes  []*memSocket          // dialed listeners
	peers    map[string]*memSocket // router: dealers by identity
}

func (s *memSocket) Listen(ep string) error {
	if s.kind != memRouter && s.kind != memSub {
		return fmt.Errorf("transport: %s sockets cannot listen in memory mode", s.kind)
	}
	if s.closed() {
		return ErrClosed
	}
	if err := s.hub.listen(ep, s); err != nil {
		return err
	}
	s.mu.Lock()
	s.endpoint = ep
	s.mu.Unlock()
	return nil
}

func (s *memSocket) Dial(ep string) error {
	if s.closed() {
		return ErrClosed
	}
	l := s.hub.lookup(ep)
	if l == nil || l.closed() {
		return ErrRefused
	}
	switch {
	case s.kind == memDealer && l.kind == memRouter:
		l.mu.Lock()
		l.peers[string(s.id)] = s
		l.mu.Unlock()
	case s.kind == memPub && l.kind == memSub:
	default:
		return fmt.Errorf("transport: %s cannot dial %s", s.kind, l.kind)
	}
	s.mu.Lock()
	s.remotes = append(s.remotes, l)
	s.mu.Unlock()
	return nil
}

func (s *memSocket) Send(frames [][]byte) error {
	if s.closed() {
		return ErrClosed
	}
	switch s.kind {
	case memDealer:
		r := s.remote()
		if r == nil {
			return ErrNotConnected
		}
		return s.deliver(r, append([][]byte{s.id}, frames...))
	case memRouter:
		if len(frames) == 0 {
			return fmt.Errorf("transport: router message needs an identity frame")
		}
		s.mu.Lock()
		peer := s.peers[string(frames[0])]
		s.mu.Unlock()
		if peer == nil || peer.closed() {
			return ErrUnroutable
		}
		return s.deliver(peer, frames[1:])
	case memPub:
		s.mu.Lock()
		subs := append([]*memSocket(nil), s.remotes...)
		s.mu.Unlock()
		msg := copyFrames(frames)
		for _, sub := range subs {
			select {
			case sub.inbox <- msg:
			default:
			}
		}
		return nil
	}
	return fmt.Errorf("transport: %s sockets cannot send", s.kind)
}

// remote picks the dealer's live peer. Dealers fan out round robin in zmq;
// the node only ever dials one coordinator, so the first live one is used.
func (s *memSocket) remote() *memSocket {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.remotes {
		if !r.closed() {
			return r
		}
	}
	return nil
}

func (s *memSocket) deliver(to *memSocket, frames [][]byte) error {
	select {
	case to.inbox <- copyFrames(frames):
		return nil
	case <-to.done:
		return ErrUnroutable
	case <-s.done:
		return ErrClosed
	}
}

func (s *memSocket) Recv() ([][]byte, error) {
	select {
	case <-s.done:
		return nil, ErrClosed
	default:
	}
	select {
	case msg := <-s.inbox:
		return msg, nil
	case <-s.done:
		return nil, ErrClosed
	}
}

func (s *memSocket) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		ep := s.endpoint
		s.mu.Unlock()
		if ep != "" {
			s.hub.unlisten(ep, s)
		}
	})
	return nil
}

func (s *memSocket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func copyFrames(frames [][]byte) [][]byte {
	out := make([][]byte, len(frames))
	for i, f := range frames {
		out[i] = slices.Clone(f)
		if out[i] == nil {
			out[i] = []byte{}
		}
	}
	return out
}
