package wire

import "encoding/json"

// Client commands sent over the push channel. Server events use the
// model.EventKind values as their Type.
const (
	CmdJoin     = "join"
	CmdLeave    = "leave"
	CmdMarkRead = "mark_read"

	// TypeError reports a rejected command back to the client.
	TypeError = "error"
)

// Frame is one WebSocket text message in either direction.
type Frame struct {
	Type     string          `json:"type"`
	ThreadID string          `json:"threadId,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// ErrorData is the payload of a TypeError frame.
type ErrorData struct {
	Message string `json:"message"`
}
