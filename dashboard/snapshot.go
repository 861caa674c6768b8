// Package dashboard holds the last published state of each dashboard panel.
package dashboard

import (
	"sync"
	"time"
)

// State is a point-in-time view of a panel
type State[T any] struct {
	Data      T         `json:"data"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
	Error     string    `json:"error,omitempty"`
	Loading   bool      `json:"loading"`
}

// Snapshot keeps the last good value of a feed. A failed refresh records the
// error but keeps the previous data so the panel can offer a retry.
type Snapshot[T any] struct {
	name string

	mu        sync.RWMutex
	data      T
	updatedAt time.Time
	err       error
	published bool
}

// NewSnapshot creates an empty snapshot for the named feed
func NewSnapshot[T any](name string) *Snapshot[T] {
	return &Snapshot[T]{name: name}
}

// Name returns the feed name
func (s *Snapshot[T]) Name() string {
	return s.name
}

// Publish stores a fresh value and clears any previous error
func (s *Snapshot[T]) Publish(data T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = data
	s.updatedAt = time.Now()
	s.err = nil
	s.published = true
}

// Fail records a failed refresh, keeping the last good value
func (s *Snapshot[T]) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Load returns the current value and whether one was ever published
func (s *Snapshot[T]) Load() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.published
}

// Err returns the error of the most recent refresh, if it failed
func (s *Snapshot[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// State returns the serializable view of the snapshot
func (s *Snapshot[T]) State() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := State[T]{
		Data:      s.data,
		UpdatedAt: s.updatedAt,
		Loading:   !s.published && s.err == nil,
	}
	if s.err != nil {
		state.Error = s.err.Error()
	}
	return state
}
