package chunker

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned by Run once the revealer has been torn down.
var ErrCancelled = errors.New("chunker: revealer cancelled")

// ErrSuperseded is returned by Run when Load switched to other content
// while the schedule for the previous content was still running.
var ErrSuperseded = errors.New("chunker: content replaced")

// DecodeError reports content that could not be partitioned. It is never
// fatal: Partition falls back to a single whole-content segment.
type DecodeError struct {
	Format Format
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("chunker: cannot partition %s content at byte %d: %s", e.Format, e.Offset, e.Reason)
}
