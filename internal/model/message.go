package model

import "time"

type SenderKind string

const (
	SenderUser   SenderKind = "user"
	SenderEntity SenderKind = "entity"
	SenderSystem SenderKind = "system"
)

type MessageKind string

const (
	MessageKindChat      MessageKind = "chat"
	MessageKindProactive MessageKind = "proactive"
	MessageKindReminder  MessageKind = "reminder"
	MessageKindError     MessageKind = "error"
)

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	SenderKind     SenderKind  `json:"sender_kind"`
	EntityID       int64       `json:"entity_id,omitempty"`
	Content        string      `json:"content"`
	Kind           MessageKind `json:"kind"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (m Message) FromUser() bool {
	return m.SenderKind == SenderUser
}
