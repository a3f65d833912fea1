// Package model defines the chat domain entities shared by the sync engine and the backend.
package model

import (
	"encoding/json"
	"time"
)

// TombstoneContent replaces the content of a deleted message.
const TombstoneContent = "This message was deleted"

// ThreadType classifies a conversation.
type ThreadType string

const (
	ThreadDirect   ThreadType = "direct"
	ThreadGroup    ThreadType = "group"
	ThreadDivision ThreadType = "division"
)

// MessageType is the kind of message body.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageEvent MessageType = "event" // embedded match/event reference in Payload
)

// User is a participant reference. Supplied by the profile service and never mutated here.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	IsOnline  bool   `json:"isOnline,omitempty"`
}

// ReadReceipt records that a user has seen a message.
type ReadReceipt struct {
	UserID   string    `json:"userId"`
	UserName string    `json:"userName"`
	ReadAt   time.Time `json:"readAt"`
}

// MessageMetadata holds flags and receipts of a message.
type MessageMetadata struct {
	IsEdited  bool          `json:"isEdited,omitempty"`
	IsDeleted bool          `json:"isDeleted,omitempty"`
	ReadBy    []ReadReceipt `json:"readBy,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID               string          `json:"id"`       // unique within its thread
	ThreadID         string          `json:"threadId"` // owning thread
	SenderID         string          `json:"senderId"`
	Content          string          `json:"content"`
	Timestamp        time.Time       `json:"timestamp"` // creation instant
	IsDelivered      bool            `json:"isDelivered"`
	IsRead           bool            `json:"isRead"`
	ReplyToMessageID string          `json:"replyToMessageId,omitempty"` // same thread; chains allowed
	Type             MessageType     `json:"type,omitempty"`
	Payload          json.RawMessage `json:"payload,omitempty"` // opaque, passed through
	Metadata         MessageMetadata `json:"metadata"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	out := m
	if m.Payload != nil {
		out.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Metadata.ReadBy != nil {
		out.Metadata.ReadBy = append([]ReadReceipt(nil), m.Metadata.ReadBy...)
	}
	return out
}

// Tombstone returns the deleted form of m. Identity, sender and timestamp are kept.
func (m Message) Tombstone() Message {
	out := m.Clone()
	out.Content = TombstoneContent
	out.Payload = nil
	out.Metadata.IsDeleted = true
	return out
}

// HasReceipt reports whether userID already has a receipt on m.
func (m Message) HasReceipt(userID string) bool {
	for _, r := range m.Metadata.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// WithReceipt returns a copy of m carrying r. At most one receipt per user is kept;
// changed is false when r.UserID had already read m.
func (m Message) WithReceipt(r ReadReceipt) (out Message, changed bool) {
	if m.HasReceipt(r.UserID) {
		return m, false
	}
	out = m.Clone()
	out.Metadata.ReadBy = append(out.Metadata.ReadBy, r)
	out.IsRead = true
	return out, true
}

// Thread is a conversation between two or more participants.
type Thread struct {
	ID           string            `json:"id"`
	Name         string            `json:"name,omitempty"`
	Type         ThreadType        `json:"type"`
	Sport        string            `json:"sport,omitempty"`
	Participants []User            `json:"participants"`
	LastMessage  *Message          `json:"lastMessage,omitempty"` // denormalized, may be stale
	UnreadCount  int               `json:"unreadCount"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
	Metadata     map[string]string `json:"metadata,omitempty"` // e.g. divisionId, seasonId
}

// Valid reports whether t can be stored.
func (t Thread) Valid() bool { return t.ID != "" }

// Clone returns a deep copy of t.
func (t Thread) Clone() Thread {
	out := t
	if t.Participants != nil {
		out.Participants = append([]User(nil), t.Participants...)
	}
	if t.LastMessage != nil {
		lm := t.LastMessage.Clone()
		out.LastMessage = &lm
	}
	if t.Metadata != nil {
		out.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// DisplayName returns the thread name; direct threads without one are named
// after the first participant that is not me.
func (t Thread) DisplayName(me string) string {
	if t.Name != "" {
		return t.Name
	}
	for _, p := range t.Participants {
		if p.ID != me {
			if p.Name != "" {
				return p.Name
			}
			return p.Username
		}
	}
	return t.ID
}

// Participant returns the participant with the given id.
func (t Thread) Participant(id string) (User, bool) {
	for _, p := range t.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return User{}, false
}

// SendRequest is a send intent passed to the transport.
type SendRequest struct {
	ThreadID  string          `json:"threadId"`
	SenderID  string          `json:"senderId"`
	Content   string          `json:"content"`
	ReplyToID string          `json:"replyToId,omitempty"`
	Type      MessageType     `json:"type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ReadRequest asks the push channel to mark a thread (or one message) read for a user.
type ReadRequest struct {
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
}
