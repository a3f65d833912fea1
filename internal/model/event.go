package model

import "time"

// EventKind names a push event.
type EventKind string

const (
	EventNewMessage     EventKind = "new_message"
	EventMessageSent    EventKind = "message_sent"
	EventMessageDeleted EventKind = "message_deleted"
	EventMessageRead    EventKind = "message_read"
	EventUnreadCount    EventKind = "unread_count"
)

// Event is an inbound push event. The set of variants is closed.
type Event interface {
	Kind() EventKind
	Thread() string
}

// NewMessage carries a message posted by any participant.
type NewMessage struct {
	Message Message `json:"message"`
}

// MessageSent is the server echo of the current user's own send.
// Message is nil when the server only acknowledges.
type MessageSent struct {
	ThreadID string   `json:"threadId"`
	Message  *Message `json:"message,omitempty"`
}

// MessageDeleted reports a tombstoned message.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
	ThreadID  string `json:"threadId"`
}

// MessageRead reports a read receipt by some reader.
type MessageRead struct {
	MessageID  string    `json:"messageId"`
	ThreadID   string    `json:"threadId"`
	ReaderID   string    `json:"readerId"`
	ReaderName string    `json:"readerName"`
	ReadAt     time.Time `json:"readAt"`
}

// UnreadCount is the server-authoritative unread count of a thread.
type UnreadCount struct {
	ThreadID string `json:"threadId"`
	Count    int    `json:"count"`
}

func (NewMessage) Kind() EventKind      { return EventNewMessage }
func (e NewMessage) Thread() string     { return e.Message.ThreadID }
func (MessageSent) Kind() EventKind     { return EventMessageSent }
func (e MessageSent) Thread() string    { return e.ThreadID }
func (MessageDeleted) Kind() EventKind  { return EventMessageDeleted }
func (e MessageDeleted) Thread() string { return e.ThreadID }
func (MessageRead) Kind() EventKind     { return EventMessageRead }
func (e MessageRead) Thread() string    { return e.ThreadID }
func (UnreadCount) Kind() EventKind     { return EventUnreadCount }
func (e UnreadCount) Thread() string    { return e.ThreadID }
