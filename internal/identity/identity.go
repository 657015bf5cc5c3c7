// Package identity generates and formats the address tokens that identify a
// worker node on the event channel, and resolves the machine's own network
// address for display.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
)

// KindWorker is the kind byte that prefixes every worker node identifier.
const KindWorker byte = 0x00

// randomLen is the number of random bytes following the kind byte.
const randomLen = 4

// Size is the length in bytes of a NodeID produced by New.
const Size = 1 + randomLen

// loopback is returned by OwnAddress when no other address qualifies.
const loopback = "127.0.0.1"

// randSource is a variable to allow substituting the random source in tests.
var randSource io.Reader = rand.Reader

// NodeID is the opaque identifier of a node: one kind byte followed by four
// random bytes. It doubles as the socket identity on the event channel, so the
// coordinator addresses replies to it.
//
// A NodeID is immutable once created; callers must not modify the underlying
// bytes.
type NodeID []byte

// HostID is the opaque identifier of the coordinator a node registered with.
// It is empty until registration completes.
type HostID []byte

// New generates a fresh worker NodeID from the cryptographic random source.
//
// Behavior:
//   - Never blocks beyond reading 4 bytes from crypto/rand
//   - Collisions within a process are negligible (2^32 space)
//
// Returns:
//   - The new NodeID
//   - An error only if the random source is unavailable; there is no way to
//     make progress without an identity, so callers treat this as fatal
func New() (NodeID, error) {
	id := make(NodeID, Size)
	id[0] = KindWorker
	if _, err := io.ReadFull(randSource, id[1:]); err != nil {
		return nil, fmt.Errorf("identity: random source unavailable: %w", err)
	}
	return id, nil
}

// MustNew is like New but panics if the random source fails.
func MustNew() NodeID {
	id, err := New()
	if err != nil {
		panic(err)
	}
	return id
}

// Kind returns the kind byte of the identifier, or KindWorker for an empty id.
func (id NodeID) Kind() byte {
	if len(id) == 0 {
		return KindWorker
	}
	return id[0]
}

// Hex returns the display form of the identifier. See the package level Hex.
func (id NodeID) Hex() string { return Hex(id) }

// String implements fmt.Stringer using the display form.
func (id NodeID) String() string { return Hex(id) }

// Bytes returns the raw identifier bytes.
func (id NodeID) Bytes() []byte { return []byte(id) }

// Hex returns the display form of the host identifier.
func (id HostID) Hex() string { return Hex(id) }

// String implements fmt.Stringer using the display form.
func (id HostID) String() string { return Hex(id) }

// Empty reports whether the host identifier has been assigned.
func (id HostID) Empty() bool { return len(id) == 0 }

// Hex renders an identifier for logs: the lowercase hex encoding of every
// byte after the kind byte. A zero-length identifier renders as "".
//
// Example:
//
//	Hex([]byte{0x00, 0xde, 0xad, 0xbe, 0xef}) // "deadbeef"
func Hex(id []byte) string {
	if len(id) == 0 {
		return ""
	}
	return hex.EncodeToString(id[1:])
}

// OwnAddress returns the first non-loopback IPv4 address bound to the local
// hostname. It is best effort: any lookup failure degrades to 127.0.0.1.
func OwnAddress() string {
	return ownAddress(os.Hostname, net.LookupHost)
}

func ownAddress(hostname func() (string, error), lookup func(string) ([]string, error)) string {
	name, err := hostname()
	if err != nil {
		return loopback
	}
	addrs, err := lookup(name)
	if err != nil {
		return loopback
	}
	for _, addr := range addrs {
		// only IPv4 addresses are advertised
		if ip := net.ParseIP(addr); ip == nil || ip.To4() == nil {
			continue
		}
		if !strings.HasPrefix(addr, "127") {
			return addr
		}
	}
	return loopback
}
