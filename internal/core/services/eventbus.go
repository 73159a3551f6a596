package services

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	EventTypeStarted   EventType = "started"
	EventTypeProgress  EventType = "progress"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
	EventTypeTimedOut  EventType = "timed_out"
)

type Event struct {
	JobID     string
	Type      EventType
	Data      string // JSON payload
	Timestamp int64
}

// EventBus fans job events out to per-job and global subscribers. The
// console SSE handlers sit on the other end of these channels.
type EventBus struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[string][]chan Event // key: JobID
	global []chan Event
}

func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		logger: logger,
		subs:   make(map[string][]chan Event),
	}
}

// Subscribe returns a channel that receives events for a specific job.
func (b *EventBus) Subscribe(jobID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100) // buffer to keep publishers non-blocking
	b.subs[jobID] = append(b.subs[jobID], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subscribers := b.subs[jobID]
		for i, sub := range subscribers {
			if sub == ch {
				close(ch)
				b.subs[jobID] = append(subscribers[:i], subscribers[i+1:]...)
				break
			}
		}
		if len(b.subs[jobID]) == 0 {
			delete(b.subs, jobID)
		}
	}

	return ch, unsub
}

// SubscribeGlobal returns a channel that receives every published event
// regardless of job.
func (b *EventBus) SubscribeGlobal() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 100)
	b.global = append(b.global, ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, sub := range b.global {
			if sub == ch {
				close(ch)
				b.global = append(b.global[:i], b.global[i+1:]...)
				break
			}
		}
	}

	return ch, unsub
}

// Publish sends an event to the job's subscribers and to all global
// subscribers. Slow consumers lose events rather than block the poller.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[e.JobID] {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus channel full, dropping event", "job_id", e.JobID)
		}
	}
	for _, ch := range b.global {
		select {
		case ch <- e:
		default:
			b.logger.Warn("event bus global channel full, dropping event", "job_id", e.JobID)
		}
	}
}
