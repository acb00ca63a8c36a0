package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/georelay/errors"
	"github.com/c360/georelay/metric"
	"github.com/c360/georelay/protocol"
)

const writeTimeout = 10 * time.Second

// Conn is one accepted websocket connection: its inbound queue, its protocol
// session, and the reader/processor goroutine pair. The Server owns the Conn
// exclusively while it is active; the fan-out router only touches Enqueue and
// Subscribed.
type Conn struct {
	ws         *websocket.Conn
	sess       *protocol.Session
	dispatcher *protocol.Dispatcher
	queue      chan protocol.Message
	logger     *slog.Logger
	metrics    *metric.Metrics

	// gorilla/websocket panics on concurrent writes
	writeMu sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
	done      chan struct{}
	cancel    context.CancelFunc
	onClose   func(*Conn)
}

// Peer returns the remote address of the connection.
func (c *Conn) Peer() string { return c.sess.Peer }

// Subscribed reports whether this connection wants messages for the channel.
func (c *Conn) Subscribed(channel string) bool {
	return c.sess.Subscriptions.Contains(channel)
}

// Enqueue offers a message to the inbound queue without blocking. It reports
// false when the queue is full or the connection is closing; the message is
// dropped in both cases.
func (c *Conn) Enqueue(msg protocol.Message) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.queue <- msg:
		return true
	default:
		return false
	}
}

// Send implements protocol.Sender. It serializes the frame and writes it as
// one text message, holding the write lock so a teardown never interleaves
// with a half-written frame.
func (c *Conn) Send(_ context.Context, frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return errors.WrapInternal(err, "Conn", "Send", "marshal frame")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return errors.ErrSessionClosed
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "Conn", "Send", "write frame")
	}
	c.metrics.RecordFrameSent()
	return nil
}

// run drives the connection until teardown: a reader goroutine feeding the
// queue and the processor loop in this goroutine. ctx carries the maximum
// session lifetime; its cancellation is one of the teardown triggers.
func (c *Conn) run(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	defer c.teardown()

	// Status frame first, before anything can race it onto the wire.
	if err := c.Send(ctx, protocol.NewFrame(protocol.SourceClient,
		map[string]string{"status": "open"}, "")); err != nil {
		c.logger.Warn("failed to send open frame", "error", err)
		return
	}

	go c.readLoop()

	c.processLoop(ctx)
}

// readLoop pulls text frames off the websocket and enqueues them as
// client-sourced messages. It blocks on the queue rather than dropping:
// backpressure on the client's own commands is intentional.
func (c *Conn) readLoop() {
	defer c.teardown()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}
		select {
		case c.queue <- protocol.Message{Source: protocol.SourceClient, Content: data}:
		case <-c.done:
			return
		}
	}
}

// processLoop dequeues messages in FIFO order. Client-sourced messages go to
// the dispatcher; channel-sourced messages go through the filter pipeline and
// out to the client if they pass.
func (c *Conn) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case msg := <-c.queue:
			if msg.Source == protocol.SourceClient {
				if !c.processCommand(ctx, msg) {
					return
				}
				continue
			}
			if !c.processBroadcast(ctx, msg) {
				return
			}
		}
	}
}

// processCommand dispatches one command line. It reports false when the error
// is fatal to the connection.
func (c *Conn) processCommand(ctx context.Context, msg protocol.Message) bool {
	c.metrics.RecordCommand(commandName(msg.Content))

	err := c.dispatcher.Dispatch(ctx, string(msg.Content))
	if err == nil {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	switch {
	case errors.IsRemote(err):
		c.metrics.RecordCommandError("remote")
		c.logger.Warn("closing connection on client error", "error", err)
	default:
		c.metrics.RecordCommandError("internal")
		c.logger.Error("closing connection on internal error", "error", err)
	}
	return false
}

// processBroadcast filters one fanned-out channel message and forwards it
// when it passes. A payload the pipeline cannot decode is an internal error
// and fatal to the connection: backend data is a trusted source, so a
// malformed payload is an operator-facing signal.
func (c *Conn) processBroadcast(ctx context.Context, msg protocol.Message) bool {
	passed, doc, err := c.sess.Filters.Apply(msg.Content)
	if err != nil {
		c.logger.Error("closing connection on undecodable payload", "channel", msg.Source, "error", err)
		return false
	}
	if !passed {
		return true
	}
	if err := c.sess.Send(ctx, msg.Source, doc, ""); err != nil {
		if !stderrors.Is(err, errors.ErrSessionClosed) {
			c.logger.Debug("send failed during fan-out", "channel", msg.Source, "error", err)
		}
		return false
	}
	return true
}

// teardown closes the transport and releases the goroutine pair. Idempotent;
// any of the teardown triggers may invoke it first.
func (c *Conn) teardown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
		c.writeMu.Unlock()

		if c.onClose != nil {
			c.onClose(c)
		}
		c.logger.Debug("connection closed")
	})
}

// commandName extracts the first token of a command line for metrics labels
// without allocating the full parse.
func commandName(line []byte) string {
	name, _, _ := strings.Cut(strings.TrimSpace(string(line)), " ")
	if name == "" {
		return "invalid"
	}
	return strings.ToUpper(name)
}

// remoteAddr formats the peer address for session identity, tolerating
// non-TCP test transports.
func remoteAddr(addr net.Addr) string {
	if addr == nil {
		return "unknown"
	}
	return addr.String()
}
