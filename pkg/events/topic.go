// Package events provides a small typed publish/subscribe topic used to
// decouple change detection from side effects such as escalation alerts.
package events

import "sync"

// Topic is an in-process fan-out channel for values of type T. Subscribers
// receive every value published after they subscribe; a subscriber that is
// not keeping up falls back to a non-blocking drop so publishers never
// stall the detection pipeline.
type Topic[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	closed bool
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// Subscribe registers a new subscriber with the given buffer size and
// returns its receive channel.
func (t *Topic[T]) Subscribe(buffer int) <-chan T {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch
	}
	t.subs = append(t.subs, ch)
	return ch
}

// Publish delivers v to all current subscribers. Full subscriber buffers
// drop the value rather than blocking.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for _, ch := range t.subs {
		close(ch)
	}
	t.subs = nil
}
