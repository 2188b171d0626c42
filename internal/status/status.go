// Package status records the delivery state of each notification by id.
package status

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("status: notification not found")

type State string

const (
	// StatePending is set when the API accepted a notification for publishing.
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateRetrying   State = "RETRYING"
	StateSent       State = "SENT"
	StateFailed     State = "FAILED"
)

type Record struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Recipient string    `json:"recipient,omitempty"`
	State     State     `json:"state"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	Close() error
}

// Memory keeps records in process. Records are never evicted.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemory() *Memory { return &Memory{recs: map[string]Record{}} }

func (m *Memory) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[r.ID] = r
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.recs[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}

func (m *Memory) Close() error { return nil }
