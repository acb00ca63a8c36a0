// Package backend defines the relay's view of its backend collaborators: a
// per-channel keyed-value store and a publish/subscribe channel bus. The
// production implementation sits on NATS (JetStream KV buckets plus core
// subjects); Memory provides an in-process double for tests and local runs.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups when the channel has no bucket or
// the bucket has no entry for the requested key.
var ErrNotFound = errors.New("backend: not found")

// Store is the per-channel keyed-value store: a mapping from key to
// last-known value for each channel.
type Store interface {
	// Get returns the single value keyed by ref in the channel's store.
	Get(ctx context.Context, channel, ref string) ([]byte, error)
	// Values returns all values currently held for the channel. A channel
	// with no store yields ErrNotFound; an empty store yields an empty slice.
	Values(ctx context.Context, channel string) ([][]byte, error)
}

// BusMessage is one message received from the channel bus.
type BusMessage struct {
	Channel string
	Payload []byte
}

// Bus is the publish/subscribe side of the backend. Subscribe is called once
// by the fan-out router with the configured static set of channel names and
// patterns. Delivery stops when ctx is cancelled; the returned channel may or
// may not be closed afterwards, so consumers select on ctx as well.
type Bus interface {
	Subscribe(ctx context.Context, names, patterns []string) (<-chan BusMessage, error)
}
