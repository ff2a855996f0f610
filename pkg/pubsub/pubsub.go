package pubsub

import (
	"context"
	"encoding/json"

	"github.com/ritzau/deps-validator/pkg/model"
)

// Topics published by a validation session
const (
	TopicProgress = "validation_progress"
	TopicStale    = "workspace_stale"
	TopicFindings = "findings"
)

// Event represents a pub/sub event
type Event struct {
	Topic   string          `json:"topic"`   // Subscription topic (e.g., "validation_progress", "findings")
	Type    string          `json:"type"`    // Event type (e.g., "started", "validating", "done", "error")
	Data    json.RawMessage `json:"data"`    // Event payload
	Version int             `json:"version"` // Version number for ordering
}

// Subscription represents a client subscription to a topic
type Subscription interface {
	// Topic returns the subscription topic
	Topic() string

	// Events returns a channel for receiving events
	Events() <-chan Event

	// Close closes the subscription
	Close() error
}

// Publisher manages pub/sub subscriptions and event publishing
type Publisher interface {
	// Subscribe creates a new subscription to a topic
	// Context cancellation will close the subscription
	Subscribe(ctx context.Context, topic string) (Subscription, error)

	// Publish sends an event to all subscribers of a topic
	Publish(topic string, eventType string, data interface{}) error

	// Close shuts down the publisher and all subscriptions
	Close() error
}

// Progress phases, also used as the event type on TopicProgress
const (
	PhaseStarted    = "started"
	PhaseScanning   = "scanning"
	PhaseValidating = "validating"
	PhaseDone       = "done"
	PhaseError      = "error"
)

// Progress reports where a validation pass is
type Progress struct {
	Phase   string `json:"phase"`
	Kind    string `json:"kind"`    // file, batch, full
	Percent int    `json:"percent"` // 0-100
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
	Retry   bool   `json:"retry,omitempty"` // The pass failed and may be retried
}

// StaleStatus is published only when staleness flips
type StaleStatus struct {
	Stale bool `json:"stale"`
}

// FindingsUpdate follows every merge into the live finding set
type FindingsUpdate struct {
	Stats    model.Stats `json:"stats"`
	Scope    []string    `json:"scope,omitempty"` // Files whose findings were replaced
	Complete bool        `json:"complete"`        // True after a full regeneration
}
