package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetAndValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put("vehicles", "v1", []byte(`{"id":"v1"}`))
	m.Put("vehicles", "v2", []byte(`{"id":"v2"}`))

	value, err := m.Get(ctx, "vehicles", "v1")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"id":"v1"}`), value)

	_, err = m.Get(ctx, "vehicles", "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(ctx, "nothing", "v1")
	assert.ErrorIs(t, err, ErrNotFound)

	values, err := m.Values(ctx, "vehicles")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`{"id":"v1"}`), []byte(`{"id":"v2"}`)}, values)

	_, err = m.Values(ctx, "nothing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PutOverwriteKeepsOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put("vehicles", "v1", []byte(`1`))
	m.Put("vehicles", "v2", []byte(`2`))
	m.Put("vehicles", "v1", []byte(`1b`))

	values, err := m.Values(ctx, "vehicles")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`1b`), []byte(`2`)}, values)
}

func TestMemory_PublishSubscribe(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := m.Subscribe(ctx, []string{"vehicles"}, nil)
	require.NoError(t, err)

	m.Publish("vehicles", []byte(`hello`))
	m.Publish("other", []byte(`ignored`))

	select {
	case msg := <-msgs:
		assert.Equal(t, "vehicles", msg.Channel)
		assert.Equal(t, []byte(`hello`), msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case msg := <-msgs:
		t.Fatalf("unexpected message for channel %s", msg.Channel)
	default:
	}
}

func TestMemory_SubscribePatterns(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, err := m.Subscribe(ctx, nil, []string{"fleet.*"})
	require.NoError(t, err)

	m.Publish("fleet.north", []byte(`n`))

	select {
	case msg := <-msgs:
		assert.Equal(t, "fleet.north", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}
}

func TestMemory_SubscribeNothingIsInvalid(t *testing.T) {
	m := NewMemory()
	_, err := m.Subscribe(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestMemory_CancelledSubscriberSkipped(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := m.Subscribe(ctx, []string{"vehicles"}, nil)
	require.NoError(t, err)
	cancel()

	m.Publish("vehicles", []byte(`late`))
	select {
	case msg, ok := <-msgs:
		if ok {
			t.Fatalf("message delivered after cancel: %s", msg.Channel)
		}
	default:
	}
}

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"vehicles", "vehicles", true},
		{"vehicles", "alerts", false},
		{"fleet.*", "fleet.north", true},
		{"fleet.*", "fleet.north.trucks", false},
		{"fleet.*", "fleet", false},
		{"fleet.>", "fleet.north", true},
		{"fleet.>", "fleet.north.trucks", true},
		{"fleet.>", "fleet", false},
		{">", "anything", true},
		{">", "any.thing", true},
		{"*.north", "fleet.north", true},
		{"*.north", "fleet.south", false},
		{"a.*.c", "a.b.c", true},
		{"a.*.c", "a.b.d", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, matchSubject(tt.pattern, tt.subject))
		})
	}
}
