// Package convert maps push-channel frames to domain events and back.
package convert

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/and161185/leaguechat/internal/model"
	"github.com/and161185/leaguechat/internal/wire"
)

// ErrUnknownFrame is returned for frame types that carry no event.
var ErrUnknownFrame = errors.New("unknown frame type")

// --- events (server -> client) ---

// ToFrame encodes ev as a push frame.
func ToFrame(ev model.Event) (wire.Frame, error) {
	if ev == nil {
		return wire.Frame{}, fmt.Errorf("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return wire.Frame{}, fmt.Errorf("encode %s: %w", ev.Kind(), err)
	}
	return wire.Frame{Type: string(ev.Kind()), ThreadID: ev.Thread(), Data: data}, nil
}

// FromFrame decodes a server event frame. Frames whose type is not an event
// kind yield ErrUnknownFrame.
func FromFrame(f wire.Frame) (model.Event, error) {
	switch model.EventKind(f.Type) {
	case model.EventNewMessage:
		var e model.NewMessage
		if err := decode(f, &e); err != nil {
			return nil, err
		}
		if e.Message.ThreadID == "" {
			e.Message.ThreadID = f.ThreadID
		}
		if e.Message.ID == "" || e.Message.ThreadID == "" || e.Message.SenderID == "" {
			return nil, fmt.Errorf("%s: incomplete message", f.Type)
		}
		return e, nil
	case model.EventMessageSent:
		var e model.MessageSent
		if err := decode(f, &e); err != nil {
			return nil, err
		}
		if e.ThreadID == "" {
			e.ThreadID = f.ThreadID
		}
		return e, nil
	case model.EventMessageDeleted:
		var e model.MessageDeleted
		if err := decode(f, &e); err != nil {
			return nil, err
		}
		if e.ThreadID == "" {
			e.ThreadID = f.ThreadID
		}
		if e.MessageID == "" {
			return nil, fmt.Errorf("%s: missing messageId", f.Type)
		}
		return e, nil
	case model.EventMessageRead:
		var e model.MessageRead
		if err := decode(f, &e); err != nil {
			return nil, err
		}
		if e.ThreadID == "" {
			e.ThreadID = f.ThreadID
		}
		return e, nil
	case model.EventUnreadCount:
		var e model.UnreadCount
		if err := decode(f, &e); err != nil {
			return nil, err
		}
		if e.ThreadID == "" {
			e.ThreadID = f.ThreadID
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%q: %w", f.Type, ErrUnknownFrame)
	}
}

func decode(f wire.Frame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s: empty data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%s: %w", f.Type, err)
	}
	return nil
}

// --- commands (client -> server) ---

// JoinFrame asks to subscribe to a thread room.
func JoinFrame(threadID string) wire.Frame {
	return wire.Frame{Type: wire.CmdJoin, ThreadID: threadID}
}

// LeaveFrame asks to unsubscribe from a thread room.
func LeaveFrame(threadID string) wire.Frame {
	return wire.Frame{Type: wire.CmdLeave, ThreadID: threadID}
}

// ReadFrame carries a read request.
func ReadFrame(req model.ReadRequest) (wire.Frame, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return wire.Frame{}, err
	}
	return wire.Frame{Type: wire.CmdMarkRead, ThreadID: req.ThreadID, Data: data}, nil
}

// FromReadFrame decodes a mark_read command.
func FromReadFrame(f wire.Frame) (model.ReadRequest, error) {
	var req model.ReadRequest
	if err := decode(f, &req); err != nil {
		return model.ReadRequest{}, err
	}
	if req.ThreadID == "" {
		req.ThreadID = f.ThreadID
	}
	if req.ThreadID == "" {
		return model.ReadRequest{}, fmt.Errorf("%s: missing threadId", f.Type)
	}
	return req, nil
}

// ErrorFrame reports a rejected command.
func ErrorFrame(threadID string, err error) wire.Frame {
	data, _ := json.Marshal(wire.ErrorData{Message: err.Error()})
	return wire.Frame{Type: wire.TypeError, ThreadID: threadID, Data: data}
}
