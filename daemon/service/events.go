package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
)

// EventType represents different event classifications
type EventType int

const (
	EventCommand EventType = iota + 1
	EventStarted
	EventCompleted
	EventFailed
	EventIgnored
	EventSkipped
	EventSessionOpened
	EventSessionClosed
)

func (e EventType) String() string {
	switch e {
	case EventCommand:
		return "COMMAND"
	case EventStarted:
		return "STARTED"
	case EventCompleted:
		return "COMPLETED"
	case EventFailed:
		return "FAILED"
	case EventIgnored:
		return "IGNORED"
	case EventSkipped:
		return "SKIPPED"
	case EventSessionOpened:
		return "SESSION_OPENED"
	case EventSessionClosed:
		return "SESSION_CLOSED"
	default:
		return "UNKNOWN"
	}
}

func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Event is one entry on the activity feed.
type Event struct {
	AttemptID string            `json:"attempt_id,omitempty"`
	Type      EventType         `json:"type"`
	Transport string            `json:"transport"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventSubscription represents an active event subscription
type EventSubscription struct {
	ID              string
	AttemptIDFilter string
	Channel         chan *Event
}

// EventPublisher fans events out to subscribers and keeps the most recent
// ones for the /events endpoint. Safe for concurrent use.
type EventPublisher struct {
	subscriptions map[string]*EventSubscription
	history       deque.Deque[*Event]
	historySize   int
	mu            sync.RWMutex
	bufferSize    int
}

// NewEventPublisher creates a publisher with bufferSize slots per
// subscriber and as many retained events.
func NewEventPublisher(bufferSize int) *EventPublisher {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &EventPublisher{
		subscriptions: make(map[string]*EventSubscription),
		historySize:   bufferSize,
		bufferSize:    bufferSize,
	}
}

// Subscribe creates a new event subscription. An empty filter matches every
// attempt.
func (p *EventPublisher) Subscribe(attemptIDFilter string) *EventSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &EventSubscription{
		ID:              uuid.NewString(),
		AttemptIDFilter: attemptIDFilter,
		Channel:         make(chan *Event, p.bufferSize),
	}
	p.subscriptions[sub.ID] = sub
	return sub
}

// Unsubscribe removes an event subscription
func (p *EventPublisher) Unsubscribe(subscriptionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sub, exists := p.subscriptions[subscriptionID]; exists {
		close(sub.Channel)
		delete(p.subscriptions, subscriptionID)
	}
}

// Publish records the event and broadcasts it to all matching subscribers.
func (p *EventPublisher) Publish(event *Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.history.PushBack(event)
	for p.history.Len() > p.historySize {
		p.history.PopFront()
	}

	for _, sub := range p.subscriptions {
		if sub.AttemptIDFilter != "" && sub.AttemptIDFilter != event.AttemptID {
			continue
		}
		// Slow subscribers lose events rather than block the receive loop.
		select {
		case sub.Channel <- event:
		default:
		}
	}
}

// Recent returns retained events, oldest first.
func (p *EventPublisher) Recent() []*Event {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Event, 0, p.history.Len())
	for i := 0; i < p.history.Len(); i++ {
		out = append(out, p.history.At(i))
	}
	return out
}

// PublishCommand publishes a received command keyword.
func (p *EventPublisher) PublishCommand(transport, command string) {
	p.Publish(&Event{
		Type:      EventCommand,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   command,
	})
}

// PublishStarted publishes the start of an upload attempt.
func (p *EventPublisher) PublishStarted(attemptID, transport, command string) {
	p.Publish(&Event{
		AttemptID: attemptID,
		Type:      EventStarted,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   command,
	})
}

// PublishCompleted publishes a saved upload.
func (p *EventPublisher) PublishCompleted(attemptID, transport, fileName string, size int64, hash string, took time.Duration) {
	p.Publish(&Event{
		AttemptID: attemptID,
		Type:      EventCompleted,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   "file saved",
		Metadata: map[string]string{
			"file_name":        fileName,
			"file_size":        strconv.FormatInt(size, 10),
			"hash":             hash,
			"duration_seconds": strconv.FormatFloat(took.Seconds(), 'f', 3, 64),
		},
	})
}

// PublishFailed publishes an abandoned attempt and the blocks skipped to
// recover from it.
func (p *EventPublisher) PublishFailed(attemptID, transport, errorMessage string, skipped uint32) {
	p.Publish(&Event{
		AttemptID: attemptID,
		Type:      EventFailed,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   errorMessage,
		Metadata: map[string]string{
			"skipped_blocks": strconv.FormatUint(uint64(skipped), 10),
		},
	})
}

// PublishIgnored publishes an unrecognised command keyword.
func (p *EventPublisher) PublishIgnored(transport, command string) {
	p.Publish(&Event{
		Type:      EventIgnored,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   command,
	})
}

// PublishSkipped publishes a keyword block abandoned outside any attempt.
func (p *EventPublisher) PublishSkipped(transport string, cursor uint32, reason string) {
	p.Publish(&Event{
		Type:      EventSkipped,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   reason,
		Metadata: map[string]string{
			"cursor": strconv.FormatUint(uint64(cursor), 10),
		},
	})
}

// PublishSession publishes a stream session opening or closing.
func (p *EventPublisher) PublishSession(transport, remoteAddr string, open bool) {
	t := EventSessionClosed
	if open {
		t = EventSessionOpened
	}
	p.Publish(&Event{
		Type:      t,
		Transport: transport,
		Timestamp: time.Now(),
		Message:   remoteAddr,
	})
}

// GetSubscriptionCount returns the number of active subscriptions
func (p *EventPublisher) GetSubscriptionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Handler serves the retained events as JSON.
func (p *EventPublisher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p.Recent())
	})
}
