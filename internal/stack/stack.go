// Package stack queues text commands and runs them from the node loop.
//
// Commands arrive as single lines ("DT 0.1", "OP") together with the route of
// whoever sent them. While a command executes, Sender returns that route, so
// replies sent with an empty target go back to the issuer. Stack satisfies
// channel.RouteResolver.
package stack

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dreamware/simnode/internal/protocol"
)

// ErrUnknownCommand is reported for lines whose first word has no handler.
var ErrUnknownCommand = errors.New("unknown command")

// Command is one queued line with the route of its sender. A nil Sender
// means the command originated locally.
type Command struct {
	Line   string
	Sender protocol.Route
}

// Func executes one command. args excludes the command word itself. A non
// empty result is echoed to the sender.
type Func func(args []string) (string, error)

// ReplyFunc delivers an echo text to the current sender.
type ReplyFunc func(text string)

// Stack is a FIFO of pending commands plus the table of known commands.
type Stack struct {
	mu    sync.Mutex
	queue []Command
	cmds  map[string]Func
	reply ReplyFunc

	running bool
	current protocol.Route
}

// New returns an empty stack. reply may be nil, in which case echoes are
// discarded.
func New(reply ReplyFunc) *Stack {
	return &Stack{cmds: make(map[string]Func), reply: reply}
}

// SetReply replaces the echo callback.
func (s *Stack) SetReply(reply ReplyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = reply
}

// Register binds a command word, case insensitively. Registering a name
// again replaces the previous handler.
func (s *Stack) Register(name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds[strings.ToUpper(name)] = fn
}

// Commands lists the registered command words.
func (s *Stack) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.cmds))
	for name := range s.cmds {
		out = append(out, name)
	}
	return out
}

// Push appends a command. The sender route is copied.
func (s *Stack) Push(line string, sender protocol.Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, Command{Line: line, Sender: sender.Clone()})
}

// Len returns the number of pending commands.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Reset drops all pending commands.
func (s *Stack) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
}

// Sender returns the route of the command currently executing. It reports
// false outside Process or for a locally issued command.
func (s *Stack) Sender() (protocol.Route, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.current.Empty() {
		return nil, false
	}
	return s.current.Clone(), true
}

// Process runs the commands pending at the time of the call, in order.
// Commands pushed while processing wait for the next call. It returns the
// number of commands executed.
func (s *Stack) Process() int {
	s.mu.Lock()
	batch := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, cmd := range batch {
		s.run(cmd)
	}
	return len(batch)
}

func (s *Stack) run(cmd Command) {
	word, args := split(cmd.Line)
	if word == "" {
		return
	}

	s.mu.Lock()
	fn := s.cmds[word]
	reply := s.reply
	s.running = true
	s.current = cmd.Sender
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.current = nil
		s.mu.Unlock()
	}()

	if fn == nil {
		if reply != nil {
			reply(fmt.Errorf("%w: %s", ErrUnknownCommand, word).Error())
		}
		return
	}
	text, err := fn(args)
	switch {
	case reply == nil:
	case err != nil:
		reply(word + ": " + err.Error())
	case text != "":
		reply(text)
	}
}

// split breaks a line on blanks and commas. The command word is upper
// cased.
func split(line string) (string, []string) {
	fields := strings.FieldsFunc(line, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ','
	})
	if len(fields) == 0 {
		return "", nil
	}
	return strings.ToUpper(fields[0]), fields[1:]
}
