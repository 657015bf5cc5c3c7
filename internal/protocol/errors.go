package protocol

import (
	"errors"
	"fmt"
)

// ErrViolation matches every Violation via errors.Is.
var ErrViolation = errors.New("protocol: violation")

// Violation reports a structurally malformed frame sequence. Like a codec
// error it is local to one message: log it and drop the message.
type Violation struct {
	Reason string
	Frames int
}

func (v *Violation) Error() string {
	return fmt.Sprintf("protocol: malformed message (%d frames): %s", v.Frames, v.Reason)
}

func (v *Violation) Is(target error) bool { return target == ErrViolation }
