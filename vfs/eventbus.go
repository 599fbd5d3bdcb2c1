package vfs

import "sync"

// Event topics. Consumers subscribe by name; an empty topic filter
// receives everything.
const (
	TopicTransferProgress  = "transfer-progress"
	TopicWarmProgress      = "warm-progress"
	TopicTranscodeProgress = "transcode-progress"
)

// ProgressEvent is a status update broadcast to subscribers.
type ProgressEvent struct {
	Topic            string  `json:"topic"`
	ID               string  `json:"id,omitempty"`
	SourceID         string  `json:"sourceId,omitempty"`
	Path             string  `json:"path,omitempty"`
	Status           string  `json:"status"`
	Progress         int     `json:"progress"`
	BytesTransferred int64   `json:"bytesTransferred,omitempty"`
	TotalBytes       int64   `json:"totalBytes,omitempty"`
	SpeedBytesPerSec float64 `json:"speedBytesPerSec,omitempty"`
	EtaSec           *int64  `json:"etaSec,omitempty"`
	Error            string  `json:"error,omitempty"`
}

type subscriber struct {
	ch     chan ProgressEvent
	topics map[string]struct{} // nil = all topics
}

// EventBus broadcasts ProgressEvents to subscribers. Detaching a subscriber
// never affects the lifecycle of the operation emitting events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan ProgressEvent]*subscriber
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan ProgressEvent]*subscriber)}
}

// Subscribe registers a subscriber for the given topics (all if none given)
// and returns its event channel.
func (b *EventBus) Subscribe(topics ...string) chan ProgressEvent {
	s := &subscriber{ch: make(chan ProgressEvent, 32)}
	if len(topics) > 0 {
		s.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			s.topics[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *EventBus) Unsubscribe(ch chan ProgressEvent) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of its topic.
// Slow subscribers are skipped (non-blocking send).
func (b *EventBus) Publish(event ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.topics != nil {
			if _, ok := s.topics[event.Topic]; !ok {
				continue
			}
		}
		select {
		case s.ch <- event:
		default:
			// slow subscriber, drop event
		}
	}
}
