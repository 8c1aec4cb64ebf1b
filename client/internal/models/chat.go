package models

import (
	"strings"
	"time"
)

// RoomStatus is the lifecycle of a support conversation.
type RoomStatus string

const (
	RoomActive   RoomStatus = "active"
	RoomResolved RoomStatus = "resolved"
	RoomClosed   RoomStatus = "closed"
)

// Valid reports whether s is a known room status.
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomActive, RoomResolved, RoomClosed:
		return true
	}
	return false
}

// ChatMessage is a single message inside a room.
type ChatMessage struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"roomId"`
	SenderID string    `json:"senderId"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
	IsRead   bool      `json:"isRead"`
}

// Validate checks the id the message log is keyed by.
func (m ChatMessage) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return invalid("message", "id is required")
	}
	return nil
}

// ChatRoom is a support conversation between a customer and operators.
type ChatRoom struct {
	ID           string       `json:"id"`
	Subject      string       `json:"subject,omitempty"`
	Participants []string     `json:"participants"`
	Status       RoomStatus   `json:"status"`
	UnreadCount  int          `json:"unreadCount"`
	LastMessage  *ChatMessage `json:"lastMessage,omitempty"`
}

// Normalize lower-cases the status field.
func (r *ChatRoom) Normalize() {
	r.Status = RoomStatus(strings.ToLower(strings.TrimSpace(string(r.Status))))
}

// Validate checks the id and status enumeration.
func (r ChatRoom) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return invalid("room", "id is required")
	}
	if !r.Status.Valid() {
		return invalid("room", "unknown status %q", r.Status)
	}
	if r.LastMessage != nil {
		return r.LastMessage.Validate()
	}
	return nil
}

// Clone returns a deep copy so callers cannot mutate store state.
func (r ChatRoom) Clone() ChatRoom {
	out := r
	out.Participants = append([]string(nil), r.Participants...)
	if r.LastMessage != nil {
		msg := *r.LastMessage
		out.LastMessage = &msg
	}
	return out
}
