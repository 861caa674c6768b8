package notifier

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"market-pulse/models"
)

// DefaultQueueCapacity bounds the notification history
const DefaultQueueCapacity = 100

// Queue holds notifications newest first. When full, the oldest entry is
// dropped. Read flags only change through MarkRead and MarkAllRead.
type Queue struct {
	mu       sync.RWMutex
	capacity int
	items    []*models.NotificationEvent
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity notifications
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{
		capacity: capacity,
		items:    make([]*models.NotificationEvent, 0, capacity),
		now:      time.Now,
	}
}

// Push adds a notification at the head of the queue
func (q *Queue) Push(ev *models.NotificationEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, nil)
	copy(q.items[1:], q.items)
	q.items[0] = ev
	if len(q.items) > q.capacity {
		q.items[len(q.items)-1] = nil
		q.items = q.items[:q.capacity]
	}
}

// List returns copies of the notifications in the given category, newest
// first. An empty category returns everything.
func (q *Queue) List(category models.NotificationCategory) []models.NotificationEvent {
	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.now()
	out := make([]models.NotificationEvent, 0, len(q.items))
	for _, ev := range q.items {
		if category != "" && ev.Category != category {
			continue
		}
		c := *ev
		c.Time = models.RelativeTime(ev.CreatedAt, now)
		out = append(out, c)
	}
	return out
}

// UnreadCount returns the number of unread notifications
func (q *Queue) UnreadCount() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, ev := range q.items {
		if !ev.Read {
			n++
		}
	}
	return n
}

// Len returns the number of queued notifications
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// MarkRead marks one notification as read. It reports whether id was found.
func (q *Queue) MarkRead(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ev := range q.items {
		if ev.ID == id {
			ev.Read = true
			return true
		}
	}
	return false
}

// MarkAllRead marks every notification as read and returns how many changed
func (q *Queue) MarkAllRead() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, ev := range q.items {
		if !ev.Read {
			ev.Read = true
			n++
		}
	}
	return n
}
