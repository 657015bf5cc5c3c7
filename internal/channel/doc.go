// Package channel implements the two network links a worker node holds open
// to its coordinator.
//
// EventChannel is the routed, bidirectional link. Outbound messages are
// framed as
//
//	[addr_1, ..., addr_n, name, payload]
//
// where the address frames are the hop path the coordinator follows. Inbound
// messages carry the path they travelled; Poll reverses it so the caller can
// answer the original sender by passing the route straight back to Send.
//
// StreamChannel is the fire-and-forget broadcast link used for telemetry.
// Messages are framed as [topic ++ nodeID, payload] so subscribers can filter
// on a topic prefix and still tell publishers apart.
//
// Both channels encode payloads with package codec. Sends are serialized by
// a per-channel mutex, so a channel may be shared between goroutines, but the
// run loop in package node is the intended single caller.
package channel
