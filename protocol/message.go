// Package protocol defines the client-facing wire protocol of the relay:
// inbound text commands, outbound frames, the per-connection session state,
// and the dispatcher that routes commands to handlers contributed by
// extensions.
package protocol

import (
	"time"
)

// SourceClient is the source attached to messages originating from the
// client's own transport, and to frames the relay addresses directly to the
// client (status, PING replies).
const SourceClient = "client"

// Message is one item on a connection's inbound queue: either a raw command
// line read from the transport (Source == SourceClient) or a backend payload
// fanned out by the router (Source == channel name). Immutable once enqueued.
type Message struct {
	Source  string
	Content []byte
}

// Frame is the outbound envelope sent to the client. Content is null when the
// relay has nothing to return for a request that guarantees a reply.
type Frame struct {
	Source          string  `json:"source"`
	Content         any     `json:"content"`
	Timestamp       int64   `json:"timestamp"`
	ClientReference *string `json:"client_reference"`
}

// NewFrame builds a frame stamped with the current wall clock in milliseconds
// since epoch (the format JavaScript clients expect). An empty clientRef is
// encoded as null.
func NewFrame(source string, content any, clientRef string) Frame {
	f := Frame{
		Source:    source,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	if clientRef != "" {
		f.ClientReference = &clientRef
	}
	return f
}
