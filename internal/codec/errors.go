package codec

import (
	"errors"
	"fmt"
)

// ErrSerialization matches every SerializationError via errors.Is.
var ErrSerialization = errors.New("codec: serialization error")

// SerializationError reports a payload that cannot be encoded (unsupported
// shape) or decoded (corrupt, truncated or unsupported bytes). It is local to
// one message: callers log it, drop the message and carry on.
type SerializationError struct {
	Op  string // "encode" or "decode"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSerialization) hold for any SerializationError.
func (e *SerializationError) Is(target error) bool { return target == ErrSerialization }

func encodeErr(format string, args ...any) error {
	return &SerializationError{Op: "encode", Err: fmt.Errorf(format, args...)}
}

func decodeErr(format string, args ...any) error {
	return &SerializationError{Op: "decode", Err: fmt.Errorf(format, args...)}
}
