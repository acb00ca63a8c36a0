package protocol

import (
	"context"
	"log/slog"
	"sync"

	"github.com/c360/georelay/backend"
	"github.com/c360/georelay/filter"
)

// Sender delivers one outbound frame to the client. Implemented by the
// server's connection type.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
}

// AccessFunc decides whether a channel is reachable from this connection.
// The default predicate is membership in a configured allow-list; embedders
// can substitute their own.
type AccessFunc func(channel string) bool

// AllowAll is the access predicate used when no allow-list is configured.
func AllowAll(string) bool { return true }

// AllowListed returns an access predicate accepting exactly the given
// channel names.
func AllowListed(channels []string) AccessFunc {
	set := make(map[string]struct{}, len(channels))
	for _, c := range channels {
		set[c] = struct{}{}
	}
	return func(channel string) bool {
		_, ok := set[channel]
		return ok
	}
}

// Session holds the per-connection protocol state mutated by command
// handlers: the subscription set, the filter pipeline, and the channel
// access predicate. It is created once per accepted connection; no state is
// shared between sessions.
type Session struct {
	Peer          string
	Subscriptions *SubscriptionSet
	Filters       *filter.Pipeline
	Store         backend.Store
	Allowed       AccessFunc

	sender Sender
	logger *slog.Logger
}

// NewSession creates the protocol state for one connection. A nil allowed
// predicate permits every channel.
func NewSession(peer string, store backend.Store, sender Sender, allowed AccessFunc, logger *slog.Logger) *Session {
	if allowed == nil {
		allowed = AllowAll
	}
	return &Session{
		Peer:          peer,
		Subscriptions: NewSubscriptionSet(),
		Filters:       filter.NewPipeline(),
		Store:         store,
		Allowed:       allowed,
		sender:        sender,
		logger:        logger.With("peer", peer),
	}
}

// Send builds a frame and hands it to the connection's sender.
func (s *Session) Send(ctx context.Context, source string, content any, clientRef string) error {
	return s.sender.Send(ctx, NewFrame(source, content, clientRef))
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *slog.Logger {
	return s.logger
}

// SubscriptionSet is the set of channel names a connection is subscribed to.
// It is mutated only by the connection's own SUB/DEL handlers but read by the
// fan-out router, so access is synchronized.
type SubscriptionSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewSubscriptionSet creates an empty subscription set
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{set: make(map[string]struct{})}
}

// Add inserts a channel name
func (s *SubscriptionSet) Add(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set[channel] = struct{}{}
}

// Remove deletes a channel name; absent entries are a no-op
func (s *SubscriptionSet) Remove(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.set, channel)
}

// Contains reports whether the channel is subscribed
func (s *SubscriptionSet) Contains(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[channel]
	return ok
}

// Len returns the number of subscribed channels
func (s *SubscriptionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.set)
}
