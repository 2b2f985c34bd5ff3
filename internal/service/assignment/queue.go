package assignment

import (
	"sync"
	"time"

	"github.com/feastlane/dispatch-system/pkg/uuid"
)

// waitingQueue holds orders no driver could take. Entries expire after the
// TTL; an external scheduler re-submits via Assign, so the queue only has
// to remember and expire.
type waitingQueue struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uuid.UUID]time.Time // orderID -> queued at
}

func newWaitingQueue(ttl time.Duration) *waitingQueue {
	return &waitingQueue{
		ttl:     ttl,
		entries: make(map[uuid.UUID]time.Time),
	}
}

// push records the order; re-pushing refreshes the deadline.
func (q *waitingQueue) push(orderID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries[orderID] = time.Now()
}

func (q *waitingQueue) remove(orderID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.entries, orderID)
}

// sweep drops expired entries and returns how many remain.
func (q *waitingQueue) sweep(now time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, at := range q.entries {
		if now.Sub(at) > q.ttl {
			delete(q.entries, id)
		}
	}
	return len(q.entries)
}

func (q *waitingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// snapshot lists the waiting order ids, oldest first not guaranteed.
func (q *waitingQueue) snapshot() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]uuid.UUID, 0, len(q.entries))
	for id := range q.entries {
		out = append(out, id)
	}
	return out
}
