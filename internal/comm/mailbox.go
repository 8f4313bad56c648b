package comm

import (
	"context"
	"sync"

	"github.com/meshfield/meshfield/pkg/types"
)

// mailbox is one rank's inbox. Envelopes are kept in arrival order and taken
// by (source, tag) match.
type mailbox struct {
	mu     sync.Mutex
	queue  []Envelope
	wake   chan struct{} // closed and replaced on every state change
	failed map[int]error
	closed error
}

func newMailbox() *mailbox {
	return &mailbox{
		wake:   make(chan struct{}),
		failed: make(map[int]error),
	}
}

// notify wakes all waiters. Caller must hold m.mu.
func (m *mailbox) notify() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *mailbox) put(e Envelope) {
	m.mu.Lock()
	m.queue = append(m.queue, e)
	m.notify()
	m.mu.Unlock()
}

// fail marks rank as gone. Queued envelopes from it can still be taken.
func (m *mailbox) fail(rank int, err error) {
	m.mu.Lock()
	if _, ok := m.failed[rank]; !ok {
		m.failed[rank] = err
	}
	m.notify()
	m.mu.Unlock()
}

// close fails every pending and future take that finds no queued match.
func (m *mailbox) close(err error) {
	m.mu.Lock()
	if m.closed == nil {
		m.closed = err
	}
	m.notify()
	m.mu.Unlock()
}

func (m *mailbox) take(ctx context.Context, src int, tag Tag) (Envelope, error) {
	for {
		m.mu.Lock()
		for _, e := range m.queue {
			if e.Tag == TagAbort {
				m.mu.Unlock()
				return Envelope{}, &AbortedError{From: e.From, Reason: string(e.Body)}
			}
		}
		for i, e := range m.queue {
			if e.Tag == tag && (src == AnySource || e.From == src) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.mu.Unlock()
				return e, nil
			}
		}
		if err := m.failure(src); err != nil {
			m.mu.Unlock()
			return Envelope{}, err
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-wake:
		}
	}
}

// failure returns the error that makes a take from src impossible.
// Caller must hold m.mu.
func (m *mailbox) failure(src int) error {
	if m.closed != nil {
		return m.closed
	}
	if src != AnySource {
		if err, ok := m.failed[src]; ok {
			return types.NewCommunicationError(err, src)
		}
		return nil
	}
	if len(m.failed) == 0 {
		return nil
	}
	ranks := make([]int, 0, len(m.failed))
	var first error
	for r, err := range m.failed {
		ranks = append(ranks, r)
		if first == nil {
			first = err
		}
	}
	return types.NewCommunicationError(first, ranks...)
}
