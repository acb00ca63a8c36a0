package backend

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"

	"github.com/c360/georelay/errors"
)

// Memory is an in-process Store/Bus used by tests and local development. It
// mirrors the production semantics: per-channel keyed values with insertion
// order preserved, and subject-style pattern matching on the bus side.
type Memory struct {
	mu       sync.RWMutex
	channels map[string]*memoryChannel
	subs     []*memorySub
}

type memoryChannel struct {
	order  []string
	values map[string][]byte
}

type memorySub struct {
	names    map[string]struct{}
	patterns []string
	out      chan BusMessage
	done     <-chan struct{}
}

var (
	_ Store = (*Memory)(nil)
	_ Bus   = (*Memory)(nil)
)

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{channels: make(map[string]*memoryChannel)}
}

// Put stores a value under ref in the channel, creating the channel on first
// use. Re-putting an existing ref overwrites in place and keeps its position.
func (m *Memory) Put(channel, ref string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[channel]
	if !ok {
		ch = &memoryChannel{values: make(map[string][]byte)}
		m.channels[channel] = ch
	}
	if _, exists := ch.values[ref]; !exists {
		ch.order = append(ch.order, ref)
	}
	ch.values[ref] = value
}

// Get returns the value keyed by ref, or ErrNotFound.
func (m *Memory) Get(_ context.Context, channel, ref string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channel]
	if !ok {
		return nil, ErrNotFound
	}
	value, ok := ch.values[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

// Values returns the channel's values in insertion order.
func (m *Memory) Values(_ context.Context, channel string) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[channel]
	if !ok {
		return nil, ErrNotFound
	}
	values := make([][]byte, 0, len(ch.order))
	for _, ref := range ch.order {
		values = append(values, ch.values[ref])
	}
	return values, nil
}

// Subscribe registers interest in the given channel names and patterns.
// Delivery is best-effort like the production bus: a full subscriber channel
// drops the message.
func (m *Memory) Subscribe(ctx context.Context, names, patterns []string) (<-chan BusMessage, error) {
	if len(names)+len(patterns) == 0 {
		return nil, errors.WrapInvalid(
			stderrors.New("nothing to subscribe to"),
			"Memory", "Subscribe", "validate subjects",
		)
	}

	sub := &memorySub{
		names:    make(map[string]struct{}, len(names)),
		patterns: patterns,
		out:      make(chan BusMessage, busBuffer),
		done:     ctx.Done(),
	}
	for _, name := range names {
		sub.names[name] = struct{}{}
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	return sub.out, nil
}

// Publish delivers a payload to every subscriber whose names or patterns
// match the channel.
func (m *Memory) Publish(channel string, payload []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.subs {
		select {
		case <-sub.done:
			continue
		default:
		}
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.out <- BusMessage{Channel: channel, Payload: payload}:
		default:
		}
	}
}

func (s *memorySub) matches(channel string) bool {
	if _, ok := s.names[channel]; ok {
		return true
	}
	for _, pattern := range s.patterns {
		if matchSubject(pattern, channel) {
			return true
		}
	}
	return false
}

// matchSubject implements NATS subject matching: tokens separated by '.',
// '*' matches exactly one token, '>' matches one or more trailing tokens.
func matchSubject(pattern, subject string) bool {
	pt := strings.Split(pattern, ".")
	st := strings.Split(subject, ".")

	for i, tok := range pt {
		if tok == ">" {
			return i < len(st)
		}
		if i >= len(st) {
			return false
		}
		if tok != "*" && tok != st[i] {
			return false
		}
	}
	return len(pt) == len(st)
}
