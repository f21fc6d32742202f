package gpiows

import (
	"fmt"
	"sync"
	"time"
)

// messageBuffer is the bounded, thread-safe store of received messages. All
// mutation funnels through its single lock; the receive path is never blocked
// by a slow consumer because overflow evicts the oldest entries instead of
// applying backpressure.
type messageBuffer struct {
	lock     sync.Mutex
	entries  []InboundMessage
	capacity int

	// nextIndex is the arrival index counter. It survives clear so indices
	// stay strictly increasing for the life of the client.
	nextIndex uint64

	// arrived counts appends since the last clear; waitForCount targets it so
	// evicted entries still count as arrivals.
	arrived uint64

	closed     bool
	notEmptyCh chan struct{}
}

func newMessageBuffer(capacity int) *messageBuffer {
	if capacity <= 0 {
		capacity = defaultBufferCap
	}
	return &messageBuffer{
		capacity:   capacity,
		notEmptyCh: make(chan struct{}),
	}
}

func (buffer *messageBuffer) notifyLocked() {
	close(buffer.notEmptyCh)
	buffer.notEmptyCh = make(chan struct{})
}

// append stores a decoded frame at the tail, assigning the next arrival
// index. When the cap is exceeded the head entries are evicted first.
func (buffer *messageBuffer) append(wire wireMessage, receivedAt time.Time) InboundMessage {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()

	message := InboundMessage{
		Type:          wire.Type,
		Payload:       wire.Payload,
		CorrelationID: wire.CorrelationID,
		ReceivedAt:    receivedAt,
		Index:         buffer.nextIndex,
	}
	buffer.nextIndex++
	buffer.arrived++

	buffer.entries = append(buffer.entries, message)
	if overflow := len(buffer.entries) - buffer.capacity; overflow > 0 {
		buffer.entries = buffer.entries[overflow:]
	}

	buffer.notifyLocked()
	return message
}

func (buffer *messageBuffer) count() int {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()
	return len(buffer.entries)
}

// snapshot returns the retained messages in arrival-index order. The returned
// slice is a copy; callers may hold it as long as they like.
func (buffer *messageBuffer) snapshot() []InboundMessage {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()
	return append([]InboundMessage(nil), buffer.entries...)
}

func (buffer *messageBuffer) snapshotByType(messageType string) []InboundMessage {
	buffer.lock.Lock()
	defer buffer.lock.Unlock()

	var matching []InboundMessage
	for _, message := range buffer.entries {
		if message.Type == messageType {
			matching = append(matching, message)
		}
	}
	return matching
}

// clear drops all retained entries and resets the arrival counter used by
// waitForCount. The arrival index counter is left alone.
func (buffer *messageBuffer) clear() {
	buffer.lock.Lock()
	buffer.entries = nil
	buffer.arrived = 0
	buffer.lock.Unlock()
}

// takeLocked removes and returns the first retained entry matching the
// predicate.
func (buffer *messageBuffer) takeLocked(predicate func(InboundMessage) bool) (InboundMessage, bool) {
	for i, message := range buffer.entries {
		if predicate(message) {
			buffer.entries = append(buffer.entries[:i], buffer.entries[i+1:]...)
			return message, true
		}
	}
	return InboundMessage{}, false
}

// waitFor blocks the calling goroutine until an entry satisfying the
// predicate is present, then removes and returns it. Only the caller is
// suspended; appends continue underneath. On timeout the error names the
// awaited description and the elapsed time.
func (buffer *messageBuffer) waitFor(predicate func(InboundMessage) bool, description string, timeout time.Duration) (InboundMessage, error) {
	started := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		buffer.lock.Lock()
		if message, found := buffer.takeLocked(predicate); found {
			buffer.lock.Unlock()
			return message, nil
		}
		if buffer.closed {
			buffer.lock.Unlock()
			return InboundMessage{}, NewError(WaitTimeoutError, "buffer closed while waiting for "+description)
		}
		waitCh := buffer.notEmptyCh
		buffer.lock.Unlock()

		select {
		case <-waitCh:
		case <-timer.C:
			return InboundMessage{}, NewError(WaitTimeoutError,
				fmt.Sprintf("%s not received within %.1fs", description, time.Since(started).Seconds()))
		}
	}
}

// waitForCount blocks until at least n messages have arrived since the last
// clear, or the timeout elapses.
func (buffer *messageBuffer) waitForCount(n int, timeout time.Duration) error {
	started := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		buffer.lock.Lock()
		arrived := buffer.arrived
		closed := buffer.closed
		waitCh := buffer.notEmptyCh
		buffer.lock.Unlock()

		if arrived >= uint64(n) {
			return nil
		}
		if closed {
			return NewError(WaitTimeoutError, fmt.Sprintf("buffer closed waiting for %d messages", n))
		}

		select {
		case <-waitCh:
		case <-timer.C:
			return NewError(WaitTimeoutError,
				fmt.Sprintf("expected %d messages, got %d within %.1fs", n, arrived, time.Since(started).Seconds()))
		}
	}
}

// close wakes all waiters; used during Cleanup so no caller stays parked on a
// dead client.
func (buffer *messageBuffer) close() {
	buffer.lock.Lock()
	buffer.closed = true
	buffer.notifyLocked()
	buffer.lock.Unlock()
}
