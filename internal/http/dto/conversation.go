package dto

import (
	"time"

	"basegraph.app/chorus/internal/model"
)

type CreateConversationRequest struct {
	Kind        model.ConversationKind `json:"kind" binding:"required,oneof=single group"`
	Title       string                 `json:"title" binding:"max=255"`
	MemberIDs   []Int64String          `json:"member_ids" binding:"required,min=1"`
	AllowAIToAI bool                   `json:"allow_ai_to_ai"`
}

type PostMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type ConversationResponse struct {
	ID                 int64      `json:"id,string"`
	Kind               string     `json:"kind"`
	Title              string     `json:"title"`
	MemberIDs          []string   `json:"member_ids"`
	AllowAIToAI        bool       `json:"allow_ai_to_ai"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func ToConversationResponse(c *model.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ID:                 c.ID,
		Kind:               string(c.Kind),
		Title:              c.Title,
		MemberIDs:          idStrings(c.MemberIDs),
		AllowAIToAI:        c.AllowAIToAI,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		CreatedAt:          c.CreatedAt,
	}
}

type ListConversationsResponse struct {
	Conversations []*ConversationResponse `json:"conversations"`
}

func ToListConversationsResponse(convs []model.Conversation) ListConversationsResponse {
	out := ListConversationsResponse{Conversations: make([]*ConversationResponse, len(convs))}
	for i := range convs {
		out.Conversations[i] = ToConversationResponse(&convs[i])
	}
	return out
}

type MessageResponse struct {
	ID             int64     `json:"id,string"`
	ConversationID int64     `json:"conversation_id,string"`
	SenderKind     string    `json:"sender_kind"`
	EntityID       *string   `json:"entity_id,omitempty"`
	Content        string    `json:"content"`
	Kind           string    `json:"kind"`
	CreatedAt      time.Time `json:"created_at"`
}

func ToMessageResponse(m *model.Message) *MessageResponse {
	resp := &MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderKind:     string(m.SenderKind),
		Content:        m.Content,
		Kind:           string(m.Kind),
		CreatedAt:      m.CreatedAt,
	}
	if m.SenderKind == model.SenderEntity {
		s := formatID(m.EntityID)
		resp.EntityID = &s
	}
	return resp
}

type ListMessagesResponse struct {
	Messages []*MessageResponse `json:"messages"`
}

func ToListMessagesResponse(msgs []model.Message) ListMessagesResponse {
	out := ListMessagesResponse{Messages: make([]*MessageResponse, len(msgs))}
	for i := range msgs {
		out.Messages[i] = ToMessageResponse(&msgs[i])
	}
	return out
}

type PostMessageResponse struct {
	Message  *MessageResponse `json:"message"`
	Enqueued bool             `json:"enqueued"`
}
