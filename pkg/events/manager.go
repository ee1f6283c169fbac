package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// listenTimeout bounds how long a LISTEN command may block when subscribing
// to a new PG channel, so a stalled connection can't block a subscriber
// indefinitely.
const listenTimeout = 10 * time.Second

// Manager fans a NOTIFY channel's payloads out to local in-process
// subscribers (e.g. the scheduler's EventTrigger consumer). One Go
// process has one Manager instance; NotifyListener feeds it via Broadcast.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan []byte
	nextID      int

	listenerMu sync.RWMutex
	listener   *NotifyListener
}

// NewManager creates a Manager with no subscribers.
func NewManager() *Manager {
	return &Manager{
		subscribers: make(map[string]map[int]chan []byte),
	}
}

// SetListener wires the NotifyListener used to LISTEN/UNLISTEN as
// subscriber count transitions to/from zero for a channel.
func (m *Manager) SetListener(l *NotifyListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listener = l
}

// Subscribe returns a channel receiving every payload broadcast on the
// given NOTIFY channel, and a cancel function that must be called to
// release it. LISTEN is established synchronously before this call
// returns, so no notification published after Subscribe returns is lost.
func (m *Manager) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 32)

	m.mu.Lock()
	subs, exists := m.subscribers[channel]
	if !exists {
		subs = make(map[int]chan []byte)
		m.subscribers[channel] = subs
	}
	id := m.nextID
	m.nextID++
	subs[id] = ch
	m.mu.Unlock()

	if !exists {
		m.listenerMu.RLock()
		l := m.listener
		m.listenerMu.RUnlock()
		if l != nil {
			listenCtx, cancel := context.WithTimeout(ctx, listenTimeout)
			err := l.Subscribe(listenCtx, channel)
			cancel()
			if err != nil {
				m.removeSubscriber(channel, id)
				return nil, nil, err
			}
		}
	}

	cancelFn := func() { m.unsubscribe(channel, id) }
	return ch, cancelFn, nil
}

// Broadcast delivers a payload to every subscriber of a channel. Slow
// subscribers (full buffer) have the delivery dropped rather than
// blocking the receive loop.
func (m *Manager) Broadcast(channel string, payload []byte) {
	m.mu.RLock()
	subs := m.subscribers[channel]
	targets := make([]chan []byte, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	m.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
			slog.Warn("Dropping event broadcast to slow subscriber", "channel", channel)
		}
	}
}

// subscriberCount returns the number of subscribers for a channel.
func (m *Manager) subscriberCount(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers[channel])
}

func (m *Manager) unsubscribe(channel string, id int) {
	last := m.removeSubscriber(channel, id)
	if !last {
		return
	}

	m.listenerMu.RLock()
	l := m.listener
	m.listenerMu.RUnlock()
	if l == nil {
		return
	}

	go func() {
		m.mu.RLock()
		_, resubscribed := m.subscribers[channel]
		m.mu.RUnlock()
		if resubscribed {
			return
		}
		if err := l.Unsubscribe(context.Background(), channel); err != nil {
			slog.Error("Failed to UNLISTEN channel", "channel", channel, "error", err)
		}
	}()
}

// removeSubscriber removes a subscriber and reports whether it was the
// last one for that channel (in which case the channel entry is deleted).
func (m *Manager) removeSubscriber(channel string, id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs, exists := m.subscribers[channel]
	if !exists {
		return false
	}
	if ch, ok := subs[id]; ok {
		close(ch)
		delete(subs, id)
	}
	if len(subs) == 0 {
		delete(m.subscribers, channel)
		return true
	}
	return false
}
