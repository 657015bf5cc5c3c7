// Package protocol defines the routed event framing shared by a simulation
// node and its coordinator.
//
// # Framing
//
// Every event on the event channel is a multipart message:
//
//	[addr_1, ..., addr_n, name, payload]
//
// where addr_1..addr_n is the Route (n >= 0), name is a short tag and payload
// is the codec encoding of the event value. The transport prepends the
// sender's own identity when a message reaches a router, so n only counts the
// hops beyond immediate peering.
//
// # Routes
//
// A route captured from an inbound message is innermost-last. Reversing it
// yields a route back to the original sender through the same intermediaries:
//
//	client C ──▶ coordinator ──▶ node N     N receives [C, name, payload]
//	                                        reply route = Reverse([C]) = [C]
//	node N ──▶ coordinator ──▶ client C     C receives [N, name, payload]
//
// Routes are value data. Every operation returns copies and never aliases the
// frames of the message they came from.
//
// # Reserved names
//
// REGISTER, QUIT and ADDNODES are control names. All other names are
// application defined and forwarded untouched.
//
// Stream messages are not routed: they are two frames, [topic ++ nodeID,
// payload], so subscribers can tell apart nodes publishing the same topic.
package protocol
