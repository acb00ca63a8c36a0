package protocol

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/c360/georelay/backend"
	"github.com/c360/georelay/errors"
)

// CoreExtension contributes the built-in command set: PING, SUB, DEL, GET.
type CoreExtension struct{}

// Name identifies the extension
func (CoreExtension) Name() string { return "core" }

// Attach returns the built-in handlers. They are stateless beyond the
// session itself.
func (CoreExtension) Attach(*Session) map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"PING": handlePing,
		"SUB":  handleSub,
		"DEL":  handleDel,
		"GET":  handleGet,
	}
}

// handlePing replies with a keep-alive frame to the sender only.
func handlePing(ctx context.Context, sess *Session, _ Command) error {
	return sess.Send(ctx, SourceClient, "PONG", "")
}

// handleSub adds the channel to the subscription set iff the access
// predicate accepts it; otherwise it is a no-op.
func handleSub(_ context.Context, sess *Session, cmd Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("SUB expects 1 argument, got %d", len(cmd.Args))
	}
	if sess.Allowed(cmd.Args[0]) {
		sess.Subscriptions.Add(cmd.Args[0])
	}
	return nil
}

// handleDel removes the channel from the subscription set; absent entries
// are a silent no-op.
func handleDel(_ context.Context, sess *Session, cmd Command) error {
	if len(cmd.Args) != 1 {
		return fmt.Errorf("DEL expects 1 argument, got %d", len(cmd.Args))
	}
	sess.Subscriptions.Remove(cmd.Args[0])
	return nil
}

// handleGet fetches cached values for a channel, optionally narrowed to one
// key. A GET on an allowed channel always yields at least one reply: the
// filtered value(s), or a single null frame when nothing can be returned.
func handleGet(ctx context.Context, sess *Session, cmd Command) error {
	channel, ref, clientRef, err := GetArgs(cmd)
	if err != nil {
		return err
	}
	return sess.Get(ctx, channel, ref, clientRef, nil, nil)
}

// GetArgs extracts the positional arguments shared by GET and the geo
// extension's PGET: channel, optional ref, optional client reference.
func GetArgs(cmd Command) (channel, ref, clientRef string, err error) {
	if len(cmd.Args) < 1 || len(cmd.Args) > 3 {
		return "", "", "", fmt.Errorf("%s expects 1 to 3 arguments, got %d", cmd.Name, len(cmd.Args))
	}
	channel = cmd.Args[0]
	if len(cmd.Args) > 1 {
		ref = cmd.Args[1]
	}
	if len(cmd.Args) > 2 {
		clientRef = cmd.Args[2]
	}
	return channel, ref, clientRef, nil
}

// Get implements the shared GET/PGET reply contract. exclude names filter
// entries skipped for this call; transform, when non-nil, is applied to each
// passing document after the pipeline has run (PGET's one-off projection).
func (s *Session) Get(ctx context.Context, channel, ref, clientRef string,
	exclude []string, transform func(doc any)) error {

	if !s.Allowed(channel) {
		return nil
	}

	if ref != "" {
		source := channel + " " + ref
		raw, err := s.Store.Get(ctx, channel, ref)
		if err != nil && !stderrors.Is(err, backend.ErrNotFound) {
			return errors.WrapInternal(err, "Session", "get", "fetch value")
		}
		passed, doc, err := s.Filters.Apply(raw, exclude...)
		if err != nil {
			return err
		}
		if !passed {
			doc = nil
		} else if transform != nil {
			transform(doc)
		}
		return s.Send(ctx, source, doc, clientRef)
	}

	values, err := s.Store.Values(ctx, channel)
	if err != nil && !stderrors.Is(err, backend.ErrNotFound) {
		return errors.WrapInternal(err, "Session", "get", "fetch values")
	}

	sent := 0
	for _, raw := range values {
		passed, doc, err := s.Filters.Apply(raw, exclude...)
		if err != nil {
			return err
		}
		if !passed {
			continue
		}
		if transform != nil {
			transform(doc)
		}
		if err := s.Send(ctx, channel, doc, clientRef); err != nil {
			return err
		}
		sent++
	}

	if sent == 0 {
		s.logger.Debug("no data for GET, sending empty message", "channel", channel)
		return s.Send(ctx, channel, nil, clientRef)
	}
	return nil
}
