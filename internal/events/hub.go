// Package events fans pipeline activity out to live subscribers such as websocket clients.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rfp-agent/backend/pkg/logger"
)

const (
	TypePassCompleted = "pass_completed"
	TypeProposalSaved = "proposal_saved"
	TypeEmailSent     = "email_sent"
)

type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Hub delivers events to every subscriber. A subscriber whose buffer is full misses the event;
// Publish never blocks on a slow reader.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{subs: make(map[string]chan Event), buffer: buffer}
}

// Subscribe returns the event stream and a cancel func that closes it.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Publish(eventType string, data map[string]any) {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Debug("Dropping event for slow subscriber", zap.String("subscriber", id), zap.String("type", eventType))
		}
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
