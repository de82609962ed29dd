// Package chat implements the real-time synchronization core for
// FurniMart conversations: connection lifecycle, room scoping, message
// reconciliation, delivery states, typing indicators, presence, and
// read receipts. Persistence is owned by the external chat store; this
// package holds a transient, reconciled view of one conversation.
package chat

import (
	"context"
	"fmt"
	"time"
)

// Role distinguishes the two sides of a conversation.
type Role string

const (
	RoleCustomer     Role = "customer"
	RoleManufacturer Role = "manufacturer"
)

// Sender identifies who produced a message. It is populated once at
// creation so readers never probe alternative id fields.
type Sender struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// DeliveryState is the three-stage confirmation status of a message.
// It only ever advances: sent -> delivered -> read.
type DeliveryState int

const (
	DeliverySent DeliveryState = iota
	DeliveryDelivered
	DeliveryRead
)

func (s DeliveryState) String() string {
	switch s {
	case DeliverySent:
		return "sent"
	case DeliveryDelivered:
		return "delivered"
	case DeliveryRead:
		return "read"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// MarshalJSON encodes the state as its wire string.
func (s DeliveryState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the wire string form. Unknown values are an error.
func (s *DeliveryState) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"sent"`:
		*s = DeliverySent
	case `"delivered"`:
		*s = DeliveryDelivered
	case `"read"`:
		*s = DeliveryRead
	default:
		return fmt.Errorf("unknown delivery state %s", data)
	}
	return nil
}

// Attachment references an uploaded file on a message. Upload itself is
// handled elsewhere; the core only carries the reference.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType,omitempty"`
}

// Message is one chat message in a room's reconciled sequence.
type Message struct {
	ID            string        `json:"messageId"`
	RoomID        string        `json:"roomId"`
	Sender        Sender        `json:"sender"`
	Content       string        `json:"content"`
	Attachments   []Attachment  `json:"attachments,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	DeliveryState DeliveryState `json:"deliveryState"`

	// Provisional marks a locally-created message awaiting server
	// confirmation. Failed marks a provisional send that timed out;
	// the draft stays in place so the user can resend it.
	Provisional bool `json:"-"`
	Failed      bool `json:"-"`
}

// Room is a conversation between participants about one product.
type Room struct {
	ID             string   `json:"roomId"`
	Participants   []Sender `json:"participants"`
	ProductContext string   `json:"productContext,omitempty"`
	LastMessage    string   `json:"lastMessageSummary,omitempty"`
	UnreadCount    int      `json:"unreadCount"`
}

// Session identifies the local participant for the lifetime of the client.
type Session struct {
	ParticipantID string
	DisplayName   string
	Role          Role
}

// TypingSignal is an ephemeral indicator that a peer is composing a
// message. It self-expires; a stop event is not guaranteed to arrive.
type TypingSignal struct {
	RoomID    string
	UserID    string
	UserName  string
	ExpiresAt time.Time
}

// Store is the narrow interface to the external chat store service that
// owns persistence. Implemented by internal/chatstore.
type Store interface {
	Rooms(ctx context.Context, participantID string) ([]Room, error)
	Messages(ctx context.Context, roomID string) ([]Message, error)
	SendMessage(ctx context.Context, roomID string, sender Sender, content string) (Message, error)
	MarkRead(ctx context.Context, roomID, participantID string) error
}

// Wire payload shapes for gateway events.

// SessionReadyPayload announces presence after (re)connect.
type SessionReadyPayload struct {
	ParticipantID string `json:"participantId"`
	Role          Role   `json:"role"`
	DisplayName   string `json:"displayName"`
}

// RoomPayload scopes join/leave events to one room.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// DeliveredPayload advances a message to delivered.
type DeliveredPayload struct {
	MessageID string `json:"messageId"`
}

// ReadPayload advances a room's messages to read for everyone but the reader.
type ReadPayload struct {
	RoomID   string `json:"roomId"`
	ReaderID string `json:"readerId"`
}

// TypingPayload carries typing-start / typing-stop.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// PresencePayload carries user-online / user-offline.
type PresencePayload struct {
	UserID string `json:"userId"`
}
