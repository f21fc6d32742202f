package gpiows

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendTestMessage(buffer *messageBuffer, id int) InboundMessage {
	return buffer.append(wireMessage{
		Type:    TypeGpioMessage,
		Payload: map[string]interface{}{"id": id, "status": GpioStatusHigh},
	}, time.Now())
}

func TestBufferAssignsStrictlyIncreasingIndices(t *testing.T) {
	buffer := newMessageBuffer(16)

	for i := 0; i < 5; i++ {
		message := appendTestMessage(buffer, i)
		assert.Equal(t, uint64(i), message.Index)
	}
	require.Equal(t, 5, buffer.count())
}

func TestBufferEvictsOldestFirst(t *testing.T) {
	const capacity = 10
	buffer := newMessageBuffer(capacity)

	for i := 0; i < 25; i++ {
		appendTestMessage(buffer, i)
		require.LessOrEqual(t, buffer.count(), capacity, "cap must never be exceeded")
	}

	retained := buffer.snapshot()
	require.Len(t, retained, capacity)
	for position, message := range retained {
		assert.Equal(t, 15+position, message.Payload["id"], "only the newest ids survive eviction")
	}
	for position := 1; position < len(retained); position++ {
		assert.Greater(t, retained[position].Index, retained[position-1].Index)
	}
}

func TestBufferClearKeepsArrivalIndexCounter(t *testing.T) {
	buffer := newMessageBuffer(16)

	for i := 0; i < 3; i++ {
		appendTestMessage(buffer, i)
	}
	buffer.clear()
	require.Equal(t, 0, buffer.count())

	message := appendTestMessage(buffer, 99)
	assert.Equal(t, uint64(3), message.Index, "clear must not reset the arrival index counter")
}

func TestBufferWaitForTimesOutInWindow(t *testing.T) {
	buffer := newMessageBuffer(16)

	timeout := 500 * time.Millisecond
	started := time.Now()
	_, err := buffer.waitFor(func(InboundMessage) bool { return false }, "message that never comes", timeout)
	elapsed := time.Since(started)

	require.Error(t, err)
	assert.Equal(t, WaitTimeoutError, KindOf(err))
	assert.Contains(t, err.Error(), "message that never comes")
	assert.GreaterOrEqual(t, elapsed, timeout-50*time.Millisecond)
	assert.LessOrEqual(t, elapsed, timeout+1500*time.Millisecond)
}

func TestBufferWaitForConsumesMatch(t *testing.T) {
	buffer := newMessageBuffer(16)

	go func() {
		time.Sleep(50 * time.Millisecond)
		appendTestMessage(buffer, 7)
	}()

	message, err := buffer.waitFor(func(m InboundMessage) bool {
		return m.Payload["id"] == 7
	}, "id 7", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7, message.Payload["id"])
	assert.Equal(t, 0, buffer.count(), "the matched entry is removed from the buffer")
}

func TestBufferWaitForCountCountsEvictedArrivals(t *testing.T) {
	buffer := newMessageBuffer(4)

	for i := 0; i < 10; i++ {
		appendTestMessage(buffer, i)
	}

	// Only 4 entries are retained, but 10 arrived.
	require.Equal(t, 4, buffer.count())
	require.NoError(t, buffer.waitForCount(10, time.Second))

	err := buffer.waitForCount(11, 100*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, WaitTimeoutError, KindOf(err))
}

func TestBufferWaitForCountResetsOnClear(t *testing.T) {
	buffer := newMessageBuffer(16)

	appendTestMessage(buffer, 0)
	appendTestMessage(buffer, 1)
	require.NoError(t, buffer.waitForCount(2, time.Second))

	buffer.clear()
	err := buffer.waitForCount(1, 100*time.Millisecond)
	require.Error(t, err, "arrivals before the clear must not count")

	appendTestMessage(buffer, 2)
	require.NoError(t, buffer.waitForCount(1, time.Second))
}

func TestBufferSnapshotIsConsistentCopy(t *testing.T) {
	buffer := newMessageBuffer(16)

	for i := 0; i < 3; i++ {
		appendTestMessage(buffer, i)
	}
	snapshot := buffer.snapshot()
	appendTestMessage(buffer, 3)

	require.Len(t, snapshot, 3, "snapshot must not observe later appends")
	for i, message := range snapshot {
		assert.Equal(t, i, message.Payload["id"])
	}
}

func TestBufferSustainedStreamStaysBounded(t *testing.T) {
	const capacity = 32
	buffer := newMessageBuffer(capacity)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5000; i++ {
			appendTestMessage(buffer, i)
		}
	}()

	for {
		select {
		case <-done:
			require.LessOrEqual(t, buffer.count(), capacity)
			retained := buffer.snapshot()
			require.Len(t, retained, capacity)
			assert.Equal(t, 5000-capacity, retained[0].Payload["id"], "oldest surviving id after sustained stream")
			return
		default:
			require.LessOrEqual(t, buffer.count(), capacity, "cap must hold under a sustained stream")
		}
	}
}

func TestBufferCloseWakesWaiters(t *testing.T) {
	buffer := newMessageBuffer(16)

	result := make(chan error, 1)
	go func() {
		_, err := buffer.waitFor(func(InboundMessage) bool { return false }, "anything", 30*time.Second)
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	buffer.close()

	select {
	case err := <-result:
		require.Error(t, err)
		assert.Equal(t, WaitTimeoutError, KindOf(err))
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter was not woken by close")
	}
}

func TestBufferSnapshotByType(t *testing.T) {
	buffer := newMessageBuffer(16)

	buffer.append(wireMessage{Type: TypeGpioMessage, Payload: map[string]interface{}{"id": 0}}, time.Now())
	buffer.append(wireMessage{Type: TypeGpioAck, Payload: map[string]interface{}{"id": 1}}, time.Now())
	buffer.append(wireMessage{Type: TypeGpioMessage, Payload: map[string]interface{}{"id": 2}}, time.Now())

	messages := buffer.snapshotByType(TypeGpioMessage)
	require.Len(t, messages, 2)
	assert.Equal(t, 0, messages[0].Payload["id"])
	assert.Equal(t, 2, messages[1].Payload["id"])
}
