// Package channel provides the message channel entity that shared tables
// can reference. Channels carry host values between threads; the values'
// lifetimes remain the sender's and receiver's concern.
package channel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/tablespace/gc"
)

// Channel is a bounded FIFO of messages. Each message is the list of
// values passed to one Push call.
type Channel struct {
	handle gc.Handle
	ch     chan []any
	closed atomic.Bool
	mu     sync.Mutex // protects close against concurrent push
}

// New registers a channel with c. A capacity of zero or less creates a
// channel with room for a single pending message. The caller owns the
// initial hold on the returned channel's handle.
func New(c *gc.Collector, capacity int) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	var ch *Channel
	c.Create(func(h gc.Handle) any {
		ch = &Channel{handle: h, ch: make(chan []any, capacity)}
		return ch
	})
	return ch
}

// Handle returns the channel's collector handle.
func (ch *Channel) Handle() gc.Handle {
	return ch.handle
}

func (ch *Channel) String() string {
	return fmt.Sprintf("tablespace.channel: 0x%08x", uint64(ch.handle))
}

// Push enqueues one message. It returns false if the channel is full or
// closed instead of blocking.
func (ch *Channel) Push(values ...any) bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.Load() {
		return false
	}
	select {
	case ch.ch <- values:
		return true
	default:
		return false
	}
}

// Pop dequeues one message, blocking until one is available, the channel
// is closed and drained, or ctx is done.
func (ch *Channel) Pop(ctx context.Context) ([]any, bool) {
	select {
	case msg, ok := <-ch.ch:
		return msg, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Size returns the number of queued messages.
func (ch *Channel) Size() int {
	return len(ch.ch)
}

// Capacity returns the maximum number of queued messages.
func (ch *Channel) Capacity() int {
	return cap(ch.ch)
}

// Close stops accepting messages. Queued messages can still be popped.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed.CompareAndSwap(false, true) {
		close(ch.ch)
	}
}

// Closed reports whether Close has been called.
func (ch *Channel) Closed() bool {
	return ch.closed.Load()
}

// Release closes the channel when the collector reclaims it.
func (ch *Channel) Release(*gc.Collector) {
	ch.Close()
}
