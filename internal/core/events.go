package core

import (
	"sync"
	"time"
)

// ProgressFunc receives the finished and total item counts of a running stage.
type ProgressFunc func(stage string, done, total int)

type EventType string

const (
	EventStageStarted  EventType = "stage_started"
	EventProgress      EventType = "progress"
	EventStageFinished EventType = "stage_finished"
	EventStageFailed   EventType = "stage_failed"
)

// Event reports pipeline progress to subscribers such as the websocket feed.
type Event struct {
	Type    EventType `json:"type"`
	Stage   string    `json:"stage"`
	Session string    `json:"session,omitempty"`
	Done    int       `json:"done,omitempty"`
	Total   int       `json:"total,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// EventBus fans events out to subscribers. Slow subscribers lose events
// rather than stall the pipeline.
type EventBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel of events and a function that cancels the
// subscription and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Progress adapts the bus to a ProgressFunc for one session.
func (b *EventBus) Progress(session string) ProgressFunc {
	return func(stage string, done, total int) {
		b.Publish(Event{Type: EventProgress, Stage: stage, Session: session, Done: done, Total: total})
	}
}
