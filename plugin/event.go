package plugin

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBusClosed is returned when publishing to a closed EventBus.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrPublishTimeout is returned when the publish buffer is full and context expires.
	ErrPublishTimeout = errors.New("event publish timeout: buffer full")
)

// Lifecycle event topics published by the registry.
const (
	EventPluginLoaded   = "plugin.loaded"
	EventPluginUnloaded = "plugin.unloaded"
	EventPluginFailed   = "plugin.failed"
	EventPluginDisabled = "plugin.disabled"
	EventPluginUIReady  = "plugin.ui_ready"
)

// Event represents a lifecycle or plugin event.
type Event struct {
	ID        string    // unique event id
	Name      string    // e.g. "plugin.loaded"
	PluginID  string    // plugin the event is about
	Stage     Stage     // lifecycle stage at publish time
	Data      any       // payload
	Timestamp time.Time // when the event was created
}

// EventHandler is the typed handler for events.
type EventHandler func(ctx context.Context, event Event) error

// Subscription represents an active event subscription.
type Subscription interface {
	Unsubscribe()
}

// EventBus carries lifecycle notifications between the registry and plugins.
type EventBus interface {
	// Publish sends an event. Blocks if buffer is full until ctx expires.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for a topic. Returns a Subscription for unsubscribing.
	Subscribe(topic string, handler EventHandler) Subscription

	// Close drains pending events and waits for in-flight handlers to complete.
	Close() error
}
