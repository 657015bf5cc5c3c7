package channel

import "errors"

var (
	// ErrAlreadyRegistered is returned by a second Register call in the same
	// session.
	ErrAlreadyRegistered = errors.New("channel: already registered")
	// ErrAlreadyOpen is returned by a second Open call.
	ErrAlreadyOpen = errors.New("channel: already open")
	// ErrNotOpen is returned when a channel is used before Open or after
	// Close.
	ErrNotOpen = errors.New("channel: not open")
	// ErrRegisterTimeout is returned when the coordinator does not answer
	// REGISTER within the configured timeout.
	ErrRegisterTimeout = errors.New("channel: register timed out")
)
