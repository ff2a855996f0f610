package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/ritzau/deps-validator/pkg/logging"
	"github.com/ritzau/deps-validator/pkg/metrics"
)

var log = logging.New("pubsub")

var (
	// ErrClosed is returned after Close
	ErrClosed = errors.New("publisher is closed")
	// ErrUnknownTopic is returned by a strict publisher for unconfigured topics
	ErrUnknownTopic = errors.New("unknown topic")
)

// subscriberBuffer is the per-subscription channel capacity
const subscriberBuffer = 64

// TopicConfig configures buffering behavior for a topic
type TopicConfig struct {
	BufferSize int  // Number of events to buffer (0 = no buffering)
	ReplayAll  bool // If true, replay all buffered events; if false, only replay last event
}

type topicState struct {
	config  TopicConfig
	version int
	buffer  []Event
	subs    map[*sseSubscription]struct{}
}

// SSEPublisher implements Publisher using Server-Sent Events. A subscriber
// that falls behind loses its oldest queued events, never the newest, so a
// slow client still ends up on the latest progress and findings state.
type SSEPublisher struct {
	mu     sync.Mutex
	topics map[string]*topicState
	strict bool // Reject topics that were never configured
	closed bool
}

// NewSSEPublisher creates a publisher that accepts any topic
func NewSSEPublisher() *SSEPublisher {
	return &SSEPublisher{topics: make(map[string]*topicState)}
}

// NewSessionPublisher creates a strict publisher with the session topics.
// Each replays its latest event so a client connecting mid-pass sees the
// current state.
func NewSessionPublisher() *SSEPublisher {
	p := NewSSEPublisher()
	p.strict = true
	for _, topic := range []string{TopicProgress, TopicStale, TopicFindings} {
		p.ConfigureTopic(topic, TopicConfig{BufferSize: 1})
	}
	return p
}

// ConfigureTopic sets buffering configuration for a topic
func (p *SSEPublisher) ConfigureTopic(topic string, config TopicConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic(topic).config = config
}

// Topics returns the configured topic names, sorted
func (p *SSEPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.topics))
	for name := range p.topics {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// topic must be called with mu held
func (p *SSEPublisher) topic(name string) *topicState {
	t, ok := p.topics[name]
	if !ok {
		t = &topicState{subs: make(map[*sseSubscription]struct{})}
		p.topics[name] = t
	}
	return t
}

// lookup must be called with mu held
func (p *SSEPublisher) lookup(name string) (*topicState, error) {
	if p.closed {
		return nil, ErrClosed
	}
	if t, ok := p.topics[name]; ok {
		return t, nil
	}
	if p.strict {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, name)
	}
	return p.topic(name), nil
}

// Subscribe creates a subscription and replays buffered events into it.
// Cancelling ctx closes the subscription.
func (p *SSEPublisher) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	p.mu.Lock()
	t, err := p.lookup(topic)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	sub := &sseSubscription{
		topic:     topic,
		events:    make(chan Event, subscriberBuffer),
		publisher: p,
	}
	t.subs[sub] = struct{}{}

	replay := t.buffer
	if !t.config.ReplayAll && len(replay) > 1 {
		replay = replay[len(replay)-1:]
	}
	// Replay under the lock so a concurrent Publish cannot overtake it
	for _, event := range replay {
		sub.deliver(event)
	}
	p.mu.Unlock()

	metrics.Subscribers.WithLabelValues(topic).Inc()
	if len(replay) > 0 {
		log.Debug("Replayed events to new subscriber", "topic", topic, "count", len(replay))
	}

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Publish marshals data and fans it out to every subscriber of topic
func (p *SSEPublisher) Publish(topic string, eventType string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t, err := p.lookup(topic)
	if err != nil {
		return err
	}

	t.version++
	event := Event{
		Topic:   topic,
		Type:    eventType,
		Data:    jsonData,
		Version: t.version,
	}

	if n := t.config.BufferSize; n > 0 {
		t.buffer = append(t.buffer, event)
		if len(t.buffer) > n {
			t.buffer = slices.Clone(t.buffer[len(t.buffer)-n:])
		}
	}

	for sub := range t.subs {
		if sub.deliver(event) {
			metrics.DroppedEvents.WithLabelValues(topic).Inc()
			log.Warn("Subscriber behind, dropped oldest event", "topic", topic, "type", eventType)
		}
	}
	return nil
}

// Close shuts down the publisher and ends every subscription stream
func (p *SSEPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	for name, t := range p.topics {
		for sub := range t.subs {
			close(sub.events)
			metrics.Subscribers.WithLabelValues(name).Dec()
		}
		t.subs = make(map[*sseSubscription]struct{})
	}
	return nil
}

// unsubscribe removes a subscription (called by subscription.Close())
func (p *SSEPublisher) unsubscribe(sub *sseSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.topics[sub.topic]
	if !ok {
		return
	}
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		metrics.Subscribers.WithLabelValues(sub.topic).Dec()
	}
}

// sseSubscription implements Subscription
type sseSubscription struct {
	topic     string
	events    chan Event
	publisher *SSEPublisher
	closed    bool
	mu        sync.Mutex
}

// deliver queues event without blocking. When the queue is full the oldest
// event is discarded first; it reports whether that happened. Callers hold
// the publisher lock, so the subscription has a single writer.
func (s *sseSubscription) deliver(event Event) (dropped bool) {
	for {
		select {
		case s.events <- event:
			return dropped
		default:
		}
		select {
		case <-s.events:
			dropped = true
		default:
		}
	}
}

// Topic returns the subscription topic
func (s *sseSubscription) Topic() string {
	return s.topic
}

// Events returns a channel for receiving events
func (s *sseSubscription) Events() <-chan Event {
	return s.events
}

// Close closes the subscription
func (s *sseSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.publisher.unsubscribe(s)
	return nil
}

// WriteSSE writes one event in SSE framing. The id line lets a browser
// EventSource report the last version it saw when it reconnects.
func WriteSSE(w io.Writer, event Event) error {
	jsonData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = fmt.Fprintf(w, "data: %s\nid: %d\n\n", jsonData, event.Version)
	return err
}
