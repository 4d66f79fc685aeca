package gateway

import (
	"context"
	"sync"
	"time"

	"pushgw/internal/transport"
)

// Mailbox is an unbounded, in-order Client that supports selective receive.
//
// Recv takes messages in arrival order. Wait takes only the response for one
// (manager, stream) pair and leaves every other message queued, so concurrent
// waiters never receive each other's responses.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Message
	notify chan struct{} // closed and replaced on every Deliver
}

func NewMailbox() *Mailbox {
	return &Mailbox{notify: make(chan struct{})}
}

func (mb *Mailbox) Deliver(m Message) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, m)
	close(mb.notify)
	mb.notify = make(chan struct{})
	mb.mu.Unlock()
}

func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue)
}

// TryRecv takes the oldest message without blocking.
func (mb *Mailbox) TryRecv() (Message, bool) {
	return mb.take(func(Message) bool { return true })
}

// Recv blocks until a message is available or ctx is done.
func (mb *Mailbox) Recv(ctx context.Context) (Message, error) {
	return mb.receive(ctx, func(Message) bool { return true })
}

// Wait blocks until the response for streamID from manager arrives or timeout
// elapses. On timeout it returns a MessageTimeout for the stream together with
// ErrWaitTimeout. A timeout <= 0 uses DefaultTimeout.
func (mb *Mailbox) Wait(ctx context.Context, manager string, streamID transport.StreamID, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	m, err := mb.receive(wctx, func(m Message) bool {
		if m.Manager != manager || m.StreamID != streamID {
			return false
		}
		return m.Kind == MessageResponse || m.Kind == MessageResponseFailed
	})
	if err != nil {
		// Parent cancellation is the caller's error; our own deadline is a timeout result.
		if ctx.Err() != nil {
			return Message{}, ctx.Err()
		}
		return Message{Kind: MessageTimeout, Manager: manager, StreamID: streamID, Err: ErrWaitTimeout}, ErrWaitTimeout
	}
	return m, nil
}

func (mb *Mailbox) receive(ctx context.Context, match func(Message) bool) (Message, error) {
	for {
		mb.mu.Lock()
		if m, ok := mb.takeLocked(match); ok {
			mb.mu.Unlock()
			return m, nil
		}
		ch := mb.notify
		mb.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-ch:
		}
	}
}

func (mb *Mailbox) take(match func(Message) bool) (Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.takeLocked(match)
}

func (mb *Mailbox) takeLocked(match func(Message) bool) (Message, bool) {
	for i, m := range mb.queue {
		if !match(m) {
			continue
		}
		copy(mb.queue[i:], mb.queue[i+1:])
		mb.queue[len(mb.queue)-1] = Message{}
		mb.queue = mb.queue[:len(mb.queue)-1]
		return m, true
	}
	return Message{}, false
}
