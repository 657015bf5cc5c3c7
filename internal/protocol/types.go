package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/simnode/internal/codec"
	"github.com/dreamware/simnode/internal/identity"
)

// Name is the tag of an event.
type Name string

const (
	// Register is the handshake request a node sends on startup.
	Register Name = "REGISTER"
	// Quit signals shutdown in either direction.
	Quit Name = "QUIT"
	// AddNodes asks the coordinator to spin up more worker nodes.
	AddNodes Name = "ADDNODES"
)

// Reserved reports whether n is one of the control names.
func (n Name) Reserved() bool {
	return n == Register || n == Quit || n == AddNodes
}

// Wildcard is the address frame meaning "all connected peers".
var Wildcard = []byte("*")

// Route is the hop path attached to a routed message, innermost-last as
// received.
type Route [][]byte

// Broadcast returns the route made of the wildcard address alone.
func Broadcast() Route { return Route{slices.Clone(Wildcard)} }

// RouteTo builds a single hop route to the given node.
func RouteTo(id identity.NodeID) Route { return Route{slices.Clone([]byte(id))} }

// Clone returns a deep copy of r. A nil route stays nil.
func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	for i, hop := range r {
		out[i] = slices.Clone(hop)
	}
	return out
}

// Reverse returns a reversed deep copy of r. Reversing twice yields a route
// equal to r.
func (r Route) Reverse() Route {
	out := r.Clone()
	slices.Reverse(out)
	return out
}

// Empty reports whether r has no hops.
func (r Route) Empty() bool { return len(r) == 0 }

// Equal reports whether both routes hold the same hops in the same order.
func (r Route) Equal(o Route) bool {
	return slices.EqualFunc(r, o, func(a, b []byte) bool { return bytes.Equal(a, b) })
}

// String renders the route as hex hops, e.g. "[0a0b0c0d *]".
func (r Route) String() string {
	hops := make([]string, len(r))
	for i, hop := range r {
		if bytes.Equal(hop, Wildcard) {
			hops[i] = "*"
			continue
		}
		hops[i] = fmt.Sprintf("%x", hop)
	}
	return "[" + strings.Join(hops, " ") + "]"
}

// Event is one routed message: where it came from (or is going), what it is
// and its decoded payload.
type Event struct {
	Route   Route
	Name    Name
	Payload codec.Value
}

// Frames assembles the wire frames target ++ [name, payload]. The route frames
// are copied.
func Frames(target Route, name Name, payload []byte) [][]byte {
	frames := make([][]byte, 0, len(target)+2)
	for _, hop := range target {
		frames = append(frames, slices.Clone(hop))
	}
	return append(frames, []byte(name), payload)
}

// Split parses inbound frames into the route (as received, not reversed), the
// name and the raw payload. Fewer than two frames or an empty name is a
// protocol violation.
func Split(frames [][]byte) (Route, Name, []byte, error) {
	if len(frames) < 2 {
		return nil, "", nil, &Violation{Frames: len(frames), Reason: "need at least name and payload frames"}
	}
	name := frames[len(frames)-2]
	if len(name) == 0 {
		return nil, "", nil, &Violation{Frames: len(frames), Reason: "empty event name"}
	}
	route := Route(frames[:len(frames)-2]).Clone()
	return route, Name(name), frames[len(frames)-1], nil
}

// StreamTopic returns the wire topic for a stream published by node id.
func StreamTopic(topic string, id identity.NodeID) []byte {
	out := make([]byte, 0, len(topic)+len(id))
	out = append(out, topic...)
	return append(out, id...)
}

// SplitStreamTopic undoes StreamTopic for a node id of identity.Size bytes.
func SplitStreamTopic(frame []byte) (string, identity.NodeID, bool) {
	if len(frame) < identity.Size {
		return "", nil, false
	}
	cut := len(frame) - identity.Size
	return string(frame[:cut]), identity.NodeID(slices.Clone(frame[cut:])), true
}
