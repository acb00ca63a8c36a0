package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/georelay/backend"
	"github.com/c360/georelay/metric"
	"github.com/c360/georelay/protocol"
)

// registry maps active connections for the fan-out router. Mutation happens
// on connect/disconnect; every bus message iterates a stable snapshot, so a
// mid-pass connect or disconnect never interleaves with delivery.
type registry struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

func newRegistry() *registry {
	return &registry{conns: make(map[*Conn]struct{})}
}

func (r *registry) add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

func (r *registry) remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// subscribed counts the registered connections holding at least one channel
// subscription; connections that never issued a SUB are not peers of any
// fan-out pass.
func (r *registry) subscribed() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for c := range r.conns {
		if c.sess.Subscriptions.Len() > 0 {
			n++
		}
	}
	return n
}

func (r *registry) snapshot() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	return out
}

// router owns the single upstream bus subscription and distributes each
// received message to every registered connection subscribed to its channel.
// Client SUB/DEL never touch the upstream subscription; they only change
// which connections a broadcast reaches.
type router struct {
	bus      backend.Bus
	registry *registry
	names    []string
	patterns []string
	liveness time.Duration
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// run consumes the bus until ctx is cancelled. The liveness ticker is an
// idle-period heartbeat, not a per-message deadline.
func (rt *router) run(ctx context.Context) error {
	msgs, err := rt.bus.Subscribe(ctx, rt.names, rt.patterns)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(rt.liveness)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			rt.fanout(msg)
		case <-ticker.C:
			rt.metrics.RecordSubscribedPeers(rt.registry.subscribed())
			rt.logger.Debug("router alive", "connections", rt.registry.len())
		}
	}
}

// fanout delivers one bus message to every subscribed connection. The pass
// runs over a snapshot and never blocks on a slow connection: a full inbound
// queue drops the message for that connection only.
func (rt *router) fanout(msg backend.BusMessage) {
	rt.metrics.RecordBusMessage(msg.Channel)
	start := time.Now()

	for _, c := range rt.registry.snapshot() {
		if !c.Subscribed(msg.Channel) {
			continue
		}
		if !c.Enqueue(protocol.Message{Source: msg.Channel, Content: msg.Payload}) {
			rt.metrics.RecordFrameDropped(msg.Channel)
			rt.logger.Warn("dropping message, connection queue full",
				"channel", msg.Channel, "peer", c.Peer())
		}
	}

	rt.metrics.RecordFanoutDuration(time.Since(start))
}
