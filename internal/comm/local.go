package comm

import (
	"context"
	"errors"
)

var errRankFailed = errors.New("rank failed")

// LocalWorld connects size in-process ranks through in-memory mailboxes.
type LocalWorld struct {
	boxes []*mailbox
}

// NewLocalWorld creates a world of size ranks.
func NewLocalWorld(size int) *LocalWorld {
	w := &LocalWorld{boxes: make([]*mailbox, size)}
	for i := range w.boxes {
		w.boxes[i] = newMailbox()
	}
	return w
}

// Size returns the number of ranks.
func (w *LocalWorld) Size() int { return len(w.boxes) }

// Comm returns the Communicator for rank.
func (w *LocalWorld) Comm(rank int) Communicator {
	return &localComm{world: w, rank: rank}
}

// Fail marks rank as crashed: every Receive from it that finds no queued
// message returns a *types.CommunicationError.
func (w *LocalWorld) Fail(rank int) {
	for i, b := range w.boxes {
		if i != rank {
			b.fail(rank, errRankFailed)
		}
	}
}

type localComm struct {
	world *LocalWorld
	rank  int
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.world.Size() }

func (c *localComm) Send(ctx context.Context, dest int, tag Tag, body []byte) error {
	if err := checkDest(c, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Copy so the receiver never shares memory with the sender.
	var b []byte
	if body != nil {
		b = append([]byte(nil), body...)
	}
	c.world.boxes[dest].put(Envelope{From: c.rank, To: dest, Tag: tag, Body: b})
	return nil
}

func (c *localComm) Receive(ctx context.Context, src int, tag Tag) (Envelope, error) {
	return c.world.boxes[c.rank].take(ctx, src, tag)
}

func (c *localComm) Barrier(ctx context.Context) error {
	return runBarrier(ctx, c)
}
