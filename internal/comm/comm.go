package comm

import (
	"context"
	"fmt"
)

// AnySource matches a message from any rank in Receive.
const AnySource = -1

// Tag identifies the kind of an envelope.
type Tag uint8

const (
	TagReport Tag = iota + 1
	TagBarrier
	TagRelease
	TagAbort
)

func (t Tag) String() string {
	switch t {
	case TagReport:
		return "report"
	case TagBarrier:
		return "barrier"
	case TagRelease:
		return "release"
	case TagAbort:
		return "abort"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Envelope is one message between ranks. Body is opaque to the transport.
type Envelope struct {
	From int    `msgpack:"from"`
	To   int    `msgpack:"to"`
	Tag  Tag    `msgpack:"tag"`
	Body []byte `msgpack:"body"`
}

// Communicator is the capability a rank uses to talk to its peers.
type Communicator interface {
	// Rank is this process's 0-based identity.
	Rank() int

	// Size is the fixed number of ranks in the run.
	Size() int

	// Send delivers body to dest. It may return before dest receives it.
	Send(ctx context.Context, dest int, tag Tag, body []byte) error

	// Receive blocks until a message with tag arrives from src (or from any
	// rank when src is AnySource).
	Receive(ctx context.Context, src int, tag Tag) (Envelope, error)

	// Barrier blocks until every rank has called Barrier.
	Barrier(ctx context.Context) error
}

// AbortedError is returned by Receive after rank 0 aborted the run.
type AbortedError struct {
	From   int
	Reason string
}

func (e *AbortedError) Error() string {
	return fmt.Sprintf("comm: run aborted by rank %d: %s", e.From, e.Reason)
}

// Abort tells every other rank that the run failed. Delivery is best-effort.
func Abort(ctx context.Context, c Communicator, reason string) {
	for r := 0; r < c.Size(); r++ {
		if r == c.Rank() {
			continue
		}
		_ = c.Send(ctx, r, TagAbort, []byte(reason))
	}
}

// runBarrier implements Barrier over Send/Receive for any transport.
func runBarrier(ctx context.Context, c Communicator) error {
	if c.Size() == 1 {
		return nil
	}
	if c.Rank() != 0 {
		if err := c.Send(ctx, 0, TagBarrier, nil); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
		if _, err := c.Receive(ctx, 0, TagRelease); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
		return nil
	}
	for r := 1; r < c.Size(); r++ {
		if _, err := c.Receive(ctx, r, TagBarrier); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
	}
	for r := 1; r < c.Size(); r++ {
		if err := c.Send(ctx, r, TagRelease, nil); err != nil {
			return fmt.Errorf("comm: barrier: %w", err)
		}
	}
	return nil
}

func checkDest(c Communicator, dest int) error {
	if dest < 0 || dest >= c.Size() {
		return fmt.Errorf("comm: destination rank %d outside [0,%d)", dest, c.Size())
	}
	return nil
}
