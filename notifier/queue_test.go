package notifier

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"market-pulse/models"
)

func TestQueue_PushNewestFirst(t *testing.T) {
	q := NewQueue(10)
	first := models.NewNotificationEvent(models.CategoryAssetAlert, "first", "")
	second := models.NewNotificationEvent(models.CategoryConditionAlert, "second", "")

	q.Push(first)
	q.Push(second)

	got := q.List("")
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Title != "second" || got[1].Title != "first" {
		t.Errorf("expected newest first, got %q then %q", got[0].Title, got[1].Title)
	}
}

func TestQueue_DropsOldestAtCapacity(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Push(models.NewNotificationEvent(models.CategoryAssetAlert, fmt.Sprintf("n%d", i), ""))
	}

	if q.Len() != 3 {
		t.Fatalf("expected length 3, got %d", q.Len())
	}
	got := q.List("")
	want := []string{"n4", "n3", "n2"}
	for i, title := range want {
		if got[i].Title != title {
			t.Errorf("position %d: expected %s, got %s", i, title, got[i].Title)
		}
	}
}

func TestQueue_NonPositiveCapacityUsesDefault(t *testing.T) {
	q := NewQueue(0)
	if q.capacity != DefaultQueueCapacity {
		t.Errorf("expected capacity %d, got %d", DefaultQueueCapacity, q.capacity)
	}
}

func TestQueue_ListByCategory(t *testing.T) {
	q := NewQueue(10)
	q.Push(models.NewNotificationEvent(models.CategoryAssetAlert, "btc", ""))
	q.Push(models.NewNotificationEvent(models.CategoryConditionAlert, "rain", ""))
	q.Push(models.NewNotificationEvent(models.CategoryAssetAlert, "eth", ""))

	tests := []struct {
		name     string
		category models.NotificationCategory
		want     int
	}{
		{"all", "", 3},
		{"asset alerts", models.CategoryAssetAlert, 2},
		{"condition alerts", models.CategoryConditionAlert, 1},
		{"unknown category", "other", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(q.List(tt.category)); got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestQueue_ListReturnsCopiesWithTimeLabel(t *testing.T) {
	q := NewQueue(10)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	ev := models.NewNotificationEvent(models.CategoryAssetAlert, "btc", "")
	ev.CreatedAt = now.Add(-5 * time.Minute)
	q.Push(ev)

	got := q.List("")
	if got[0].Time != "5 minutes ago" {
		t.Errorf("expected '5 minutes ago', got %q", got[0].Time)
	}

	got[0].Read = true
	if q.UnreadCount() != 1 {
		t.Error("mutating a listed copy must not change the queue")
	}
}

func TestQueue_MarkRead(t *testing.T) {
	q := NewQueue(10)
	a := models.NewNotificationEvent(models.CategoryAssetAlert, "a", "")
	b := models.NewNotificationEvent(models.CategoryAssetAlert, "b", "")
	q.Push(a)
	q.Push(b)

	if q.UnreadCount() != 2 {
		t.Fatalf("expected 2 unread, got %d", q.UnreadCount())
	}
	if !q.MarkRead(a.ID) {
		t.Fatal("expected MarkRead to find the notification")
	}
	if q.UnreadCount() != 1 {
		t.Errorf("expected 1 unread, got %d", q.UnreadCount())
	}
	if q.MarkRead(uuid.New()) {
		t.Error("expected MarkRead to report unknown id")
	}

	// marking twice is harmless
	if !q.MarkRead(a.ID) || q.UnreadCount() != 1 {
		t.Error("expected repeated MarkRead to be idempotent")
	}
}

func TestQueue_MarkAllRead(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 3; i++ {
		q.Push(models.NewNotificationEvent(models.CategoryConditionAlert, "x", ""))
	}
	q.MarkRead(q.List("")[0].ID)

	if n := q.MarkAllRead(); n != 2 {
		t.Errorf("expected 2 changed, got %d", n)
	}
	if q.UnreadCount() != 0 {
		t.Errorf("expected 0 unread, got %d", q.UnreadCount())
	}
	if n := q.MarkAllRead(); n != 0 {
		t.Errorf("expected 0 changed on second call, got %d", n)
	}
}
