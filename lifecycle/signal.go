package lifecycle

import (
	"context"
	"sync"
	"time"
)

// readySignal is a resettable one-shot flag: set closes ch, clear swaps in a fresh one.
type readySignal struct {
	ch  chan struct{}
	set bool
}

// signalMap creates signals lazily under the same lock that guards the map,
// so "does it exist" and "create it" cannot race.
type signalMap struct {
	mu      sync.Mutex
	signals map[string]*readySignal
}

func newSignalMap() *signalMap {
	return &signalMap{signals: make(map[string]*readySignal)}
}

func (m *signalMap) getLocked(pluginID string) *readySignal {
	s, ok := m.signals[pluginID]
	if !ok {
		s = &readySignal{ch: make(chan struct{})}
		m.signals[pluginID] = s
	}
	return s
}

func (m *signalMap) channel(pluginID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(pluginID).ch
}

func (m *signalMap) fire(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(pluginID)
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// clear resets the signal but keeps the entry for a later re-registration.
func (m *signalMap) clear(pluginID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.signals[pluginID]; ok && s.set {
		s.ch = make(chan struct{})
		s.set = false
	}
}

func (m *signalMap) isSet(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.signals[pluginID]
	return ok && s.set
}

func (m *signalMap) wait(ctx context.Context, pluginID string, timeout time.Duration) bool {
	ch := m.channel(pluginID)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ch:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
