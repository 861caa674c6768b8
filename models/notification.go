package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationCategory string

const (
	CategoryAssetAlert     NotificationCategory = "asset-alert"
	CategoryConditionAlert NotificationCategory = "condition-alert"
)

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// NotificationEvent is an entry in the notification queue. Only user
// acknowledgment changes Read.
type NotificationEvent struct {
	ID        uuid.UUID            `json:"id"`
	Category  NotificationCategory `json:"category"`
	Title     string               `json:"title"`
	Body      string               `json:"body"`
	CreatedAt time.Time            `json:"created_at"`
	Time      string               `json:"time"`
	Read      bool                 `json:"read"`
	Direction Direction            `json:"direction,omitempty"`
	Magnitude *float64             `json:"magnitude,omitempty"`
}

func NewNotificationEvent(category NotificationCategory, title, body string) *NotificationEvent {
	return &NotificationEvent{
		ID:        uuid.New(),
		Category:  category,
		Title:     title,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

type ToastVariant string

const (
	ToastDefault     ToastVariant = "default"
	ToastDestructive ToastVariant = "destructive"
)

// Toast is a transient, user-visible message
type Toast struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Variant     ToastVariant `json:"variant"`
}
