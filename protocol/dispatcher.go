package protocol

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/c360/georelay/errors"
)

// HandlerFunc handles one parsed command against the session it was attached
// to. A returned error is fatal to the session unless it is a cooperative
// cancellation signal.
type HandlerFunc func(ctx context.Context, sess *Session, cmd Command) error

// Extension contributes command handlers to a connection. Attach is called
// once per connection at construction time and may allocate per-session state
// that the returned handlers close over.
type Extension interface {
	Name() string
	Attach(sess *Session) map[string]HandlerFunc
}

// Dispatcher routes parsed commands to handlers. The handler map is built
// once per connection from the extension list and validated against the
// allow-list up front; there is no runtime lookup beyond the map access.
//
// Unknown or disallowed commands are silently dropped - no reply, no error -
// to avoid confirming valid command names to a probing client.
type Dispatcher struct {
	sess     *Session
	handlers map[string]HandlerFunc
}

// NewDispatcher builds the handler map for one connection. allowed lists the
// command names active on this connection (case-insensitive); a nil allowed
// list activates every handler the extensions contribute. Every allowed
// command must be backed by a handler and no two extensions may claim the
// same command.
func NewDispatcher(sess *Session, allowed []string, extensions ...Extension) (*Dispatcher, error) {
	contributed := make(map[string]HandlerFunc)
	for _, ext := range extensions {
		for name, fn := range ext.Attach(sess) {
			name = strings.ToUpper(name)
			if _, dup := contributed[name]; dup {
				return nil, errors.WrapInvalid(
					fmt.Errorf("command %s contributed twice (extension %s)", name, ext.Name()),
					"Dispatcher", "NewDispatcher", "merge extensions",
				)
			}
			contributed[name] = fn
		}
	}

	handlers := contributed
	if allowed != nil {
		handlers = make(map[string]HandlerFunc, len(allowed))
		for _, name := range allowed {
			name = strings.ToUpper(name)
			fn, ok := contributed[name]
			if !ok {
				return nil, errors.WrapInvalid(
					fmt.Errorf("allowed command %s has no handler", name),
					"Dispatcher", "NewDispatcher", "validate allow-list",
				)
			}
			handlers[name] = fn
		}
	}

	return &Dispatcher{sess: sess, handlers: handlers}, nil
}

// Commands returns the names of the commands active on this connection.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch parses one command line and invokes its handler. Handler errors
// keep their internal classification when the backend caused them; anything
// else that went wrong while handling client input is a remote error.
func (d *Dispatcher) Dispatch(ctx context.Context, line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		return err
	}

	fn, ok := d.handlers[cmd.Name]
	if !ok {
		// Most likely spam or probing, don't even echo it back.
		d.sess.Logger().Debug("dropping unknown command", "command", cmd.Name)
		return nil
	}

	d.sess.Logger().Debug("processing command", "command", cmd.Name, "args", cmd.Args)

	if err := fn(ctx, d.sess, cmd); err != nil {
		if stderrors.Is(err, context.Canceled) {
			return err
		}
		if errors.IsInternal(err) || errors.IsRemote(err) {
			return err
		}
		return errors.WrapRemote(err, "Dispatcher", "Dispatch",
			fmt.Sprintf("handle %s", cmd.Name))
	}
	return nil
}
