package session

import (
	"time"

	"github.com/pseudocoder/console/internal/protocol"
)

// Queue bounds.
const (
	// DefaultQueueCapacity is the maximum number of messages held per key.
	DefaultQueueCapacity = 100

	// DefaultQueueMaxRetries is how many failed redeliveries a message
	// survives. The message is dropped once RetryCount exceeds it.
	DefaultQueueMaxRetries = 3
)

// QueuedMessage is a frame waiting for an open channel.
type QueuedMessage struct {
	Frame      protocol.Frame
	Priority   int
	EnqueuedAt time.Time
	RetryCount int
}

// outboundQueue buffers frames for one key. Items are kept ordered by
// descending priority; equal priorities keep enqueue order.
//
// Delivery is lossy: messages are dropped when capacity is
// exceeded or the retry budget is spent. Callers needing guaranteed
// delivery must correlate on result frames.
//
// Not safe for concurrent use; the owning entry's mutex guards it.
type outboundQueue struct {
	items      []QueuedMessage
	capacity   int
	maxRetries int
}

func newOutboundQueue(capacity, maxRetries int) *outboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if maxRetries < 0 {
		maxRetries = DefaultQueueMaxRetries
	}
	return &outboundQueue{capacity: capacity, maxRetries: maxRetries}
}

// push inserts msg after every item of equal or higher priority. If the
// queue overflows, the oldest message of the lowest priority is evicted
// and returned.
func (q *outboundQueue) push(msg QueuedMessage) (evicted *QueuedMessage) {
	i := len(q.items)
	for i > 0 && q.items[i-1].Priority < msg.Priority {
		i--
	}
	q.items = append(q.items, QueuedMessage{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = msg

	if len(q.items) <= q.capacity {
		return nil
	}

	// The lowest priority run sits at the tail; its first item is the oldest.
	lowest := q.items[len(q.items)-1].Priority
	j := len(q.items) - 1
	for j > 0 && q.items[j-1].Priority == lowest {
		j--
	}
	dropped := q.items[j]
	q.items = append(q.items[:j], q.items[j+1:]...)
	return &dropped
}

// drain offers every item to send in queue order. Items that fail are kept
// with RetryCount incremented, unless that exceeds the retry budget, in
// which case they are returned as dropped.
func (q *outboundQueue) drain(send func(QueuedMessage) error) (sent int, dropped []QueuedMessage) {
	if len(q.items) == 0 {
		return 0, nil
	}

	pending := q.items
	q.items = make([]QueuedMessage, 0, len(pending))
	for _, msg := range pending {
		if err := send(msg); err == nil {
			sent++
			continue
		}
		msg.RetryCount++
		if msg.RetryCount > q.maxRetries {
			dropped = append(dropped, msg)
			continue
		}
		q.items = append(q.items, msg)
	}
	return sent, dropped
}

// clear discards everything and returns how many items were held.
func (q *outboundQueue) clear() int {
	n := len(q.items)
	q.items = nil
	return n
}

func (q *outboundQueue) len() int { return len(q.items) }

// snapshot returns a copy of the queue contents in delivery order.
func (q *outboundQueue) snapshot() []QueuedMessage {
	return append([]QueuedMessage(nil), q.items...)
}
