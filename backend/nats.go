package backend

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/georelay/errors"
	"github.com/c360/georelay/natsclient"
)

// busBuffer is the capacity of the channel handed to the fan-out router.
// Messages arriving while the router is mid-pass queue here; overflow is
// dropped and counted, matching the relay's best-effort delivery model.
const busBuffer = 1024

// NATS implements Store and Bus over a managed NATS connection: a channel is
// a core subject on the pub/sub side and a JetStream KV bucket of the same
// name on the keyed-value side.
type NATS struct {
	client *natsclient.Client
	logger *slog.Logger

	// KV bucket handles are cached per channel after first use.
	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue

	dropped func(channel string)
}

var (
	_ Store = (*NATS)(nil)
	_ Bus   = (*NATS)(nil)
)

// NewNATS creates the NATS-backed Store/Bus pair.
func NewNATS(client *natsclient.Client, logger *slog.Logger) *NATS {
	return &NATS{
		client:  client,
		logger:  logger,
		buckets: make(map[string]jetstream.KeyValue),
	}
}

// OnDropped registers a callback invoked when an inbound bus message is
// dropped because the router queue is full. Used for metrics.
func (b *NATS) OnDropped(fn func(channel string)) {
	b.dropped = fn
}

// bucket returns the cached KV handle for a channel, opening it on first use.
func (b *NATS) bucket(ctx context.Context, channel string) (jetstream.KeyValue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if kv, ok := b.buckets[channel]; ok {
		return kv, nil
	}
	kv, err := b.client.KeyValueBucket(ctx, channel)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrBucketNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "NATS", "bucket", "open bucket")
	}
	b.buckets[channel] = kv
	return kv, nil
}

// Get returns the value keyed by ref in the channel's bucket.
func (b *NATS) Get(ctx context.Context, channel, ref string) ([]byte, error) {
	kv, err := b.bucket(ctx, channel)
	if err != nil {
		return nil, err
	}
	entry, err := kv.Get(ctx, ref)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "NATS", "Get", "fetch key")
	}
	return entry.Value(), nil
}

// Values returns every value currently held in the channel's bucket. Keys
// deleted between listing and fetching are skipped.
func (b *NATS) Values(ctx context.Context, channel string) ([][]byte, error) {
	kv, err := b.bucket(ctx, channel)
	if err != nil {
		return nil, err
	}

	lister, err := kv.ListKeys(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "NATS", "Values", "list keys")
	}
	defer func() { _ = lister.Stop() }()

	var values [][]byte
	for key := range lister.Keys() {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			if stderrors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, errors.Wrap(err, "NATS", "Values", "fetch key")
		}
		values = append(values, entry.Value())
	}
	return values, nil
}

// Subscribe makes one core subscription per configured name and pattern and
// funnels everything into a single channel for the router. The channel name
// a client sees is the concrete subject a message was delivered on.
func (b *NATS) Subscribe(ctx context.Context, names, patterns []string) (<-chan BusMessage, error) {
	subjects := make([]string, 0, len(names)+len(patterns))
	subjects = append(subjects, names...)
	subjects = append(subjects, patterns...)
	if len(subjects) == 0 {
		return nil, errors.WrapInvalid(
			stderrors.New("nothing to subscribe to"),
			"NATS", "Subscribe", "validate subjects",
		)
	}

	out := make(chan BusMessage, busBuffer)
	for _, subject := range subjects {
		err := b.client.Subscribe(subject, func(subject string, data []byte) {
			select {
			case out <- BusMessage{Channel: subject, Payload: data}:
			default:
				b.logger.Warn("dropping bus message, router queue full", "channel", subject)
				if b.dropped != nil {
					b.dropped(subject)
				}
			}
		})
		if err != nil {
			return nil, errors.Wrap(err, "NATS", "Subscribe", "subscribe subject")
		}
	}

	// The channel is left open: NATS delivery callbacks outlive ctx until the
	// client is drained, and the router stops consuming on ctx.Done anyway.
	_ = ctx
	return out, nil
}
