package runtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/leeforge/lifecycle/plugin"
	"go.uber.org/zap"
)

// eventBus implements plugin.EventBus with a buffered channel and backpressure.
// Handlers run on their own goroutines; a slow handler never blocks Publish.
type eventBus struct {
	subscribers map[string][]subscriberEntry
	mu          sync.RWMutex
	ch          chan eventEnvelope
	wg          sync.WaitGroup
	closed      atomic.Bool
	logger      *zap.Logger
	nextID      atomic.Uint64
	done        chan struct{}
	exited      chan struct{}
}

type eventEnvelope struct {
	ctx   context.Context
	event plugin.Event
}

type subscriberEntry struct {
	id      uint64
	handler plugin.EventHandler
}

type subscription struct {
	bus   *eventBus
	topic string
	id    uint64
	once  sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()

		subs := s.bus.subscribers[s.topic]
		for i, entry := range subs {
			if entry.id == s.id {
				s.bus.subscribers[s.topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	})
}

// NewEventBus creates a new EventBus with the given buffer size.
func NewEventBus(bufferSize int, logger *zap.Logger) *eventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	bus := &eventBus{
		subscribers: make(map[string][]subscriberEntry),
		ch:          make(chan eventEnvelope, bufferSize),
		logger:      logger,
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}

	go bus.dispatch()
	return bus
}

func (b *eventBus) dispatch() {
	defer close(b.exited)
	for {
		select {
		case env := <-b.ch:
			b.fanOut(env)
		case <-b.done:
			for {
				select {
				case env := <-b.ch:
					b.fanOut(env)
				default:
					return
				}
			}
		}
	}
}

func (b *eventBus) fanOut(env eventEnvelope) {
	b.mu.RLock()
	subs := append([]subscriberEntry{}, b.subscribers[env.event.Name]...)
	b.mu.RUnlock()

	for _, entry := range subs {
		b.wg.Add(1)
		go func(h plugin.EventHandler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("event", env.event.Name), zap.Any("panic", r))
				}
			}()
			if err := h(env.ctx, env.event); err != nil {
				b.logger.Warn("event handler error",
					zap.String("event", env.event.Name),
					zap.String("plugin", env.event.PluginID),
					zap.Error(err))
			}
		}(entry.handler)
	}
}

// Publish sends an event. Blocks until buffer has space or ctx expires.
func (b *eventBus) Publish(ctx context.Context, event plugin.Event) error {
	if b.closed.Load() {
		return plugin.ErrBusClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	env := eventEnvelope{ctx: context.WithoutCancel(ctx), event: event}

	select {
	case b.ch <- env:
		return nil
	default:
		select {
		case b.ch <- env:
			return nil
		case <-ctx.Done():
			return plugin.ErrPublishTimeout
		}
	}
}

// Subscribe registers a handler for a topic.
func (b *eventBus) Subscribe(topic string, handler plugin.EventHandler) plugin.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subscribers[topic] = append(b.subscribers[topic], subscriberEntry{
		id:      id,
		handler: handler,
	})

	return &subscription{bus: b, topic: topic, id: id}
}

// Close stops accepting new events, delivers pending ones and waits for in-flight handlers.
func (b *eventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	close(b.done)
	<-b.exited
	b.wg.Wait()
	return nil
}

// trackingBus is the bus a plugin sees. It remembers the plugin's subscriptions so
// they can be dropped when the plugin is unloaded.
type trackingBus struct {
	plugin.EventBus

	mu   sync.Mutex
	subs []plugin.Subscription
}

func newTrackingBus(bus plugin.EventBus) *trackingBus {
	return &trackingBus{EventBus: bus}
}

func (t *trackingBus) Subscribe(topic string, handler plugin.EventHandler) plugin.Subscription {
	sub := t.EventBus.Subscribe(topic, handler)
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return sub
}

// Close is a no-op: plugins do not own the shared bus.
func (t *trackingBus) Close() error {
	return nil
}

func (t *trackingBus) unsubscribeAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}
