package session

import (
	"github.com/pseudocoder/console/internal/protocol"
)

// MessageListener receives every routed frame for a key except heartbeats.
type MessageListener interface {
	OnMessage(key Key, frame protocol.Frame)
}

// DropListener is implemented by MessageListeners that want to know about
// frames the outbound queue gave up on, either evicted at capacity or
// dropped after spending their redelivery budget. Dropped file requests
// are also failed and reported through FileOperationListeners.
type DropListener interface {
	OnDropped(key Key, msg QueuedMessage, err error)
}

// StatusListener is told about every connection status change of a key.
type StatusListener interface {
	OnStatus(key Key, status ConnectionStatus)
}

// FileOperationListener is told whenever a file operation record of a key
// is created or changes state.
type FileOperationListener interface {
	OnFileOperation(key Key, op FileOperation)
}

// listenerSet is a deduplicating, insertion-ordered set of listeners.
// Listeners are compared with ==, so implementations should be pointers.
// The set does not own its members; callers add and remove them explicitly.
type listenerSet[T comparable] struct {
	items []T
}

func (s *listenerSet[T]) add(l T) bool {
	if s.contains(l) {
		return false
	}
	s.items = append(s.items, l)
	return true
}

func (s *listenerSet[T]) remove(l T) bool {
	for i, v := range s.items {
		if v == l {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet[T]) contains(l T) bool {
	for _, v := range s.items {
		if v == l {
			return true
		}
	}
	return false
}

// snapshot returns a copy safe to iterate while the set changes.
func (s *listenerSet[T]) snapshot() []T {
	return append([]T(nil), s.items...)
}

func (s *listenerSet[T]) clear() {
	s.items = nil
}

func (s *listenerSet[T]) len() int { return len(s.items) }
