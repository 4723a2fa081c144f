package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"basegraph.app/chorus/common/id"
	"basegraph.app/chorus/internal/model"
	"basegraph.app/chorus/internal/queue"
	"basegraph.app/chorus/internal/store"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	maxMessageLength = 4000
)

type CreateConversationParams struct {
	Kind        model.ConversationKind
	Title       string
	MemberIDs   []int64
	AllowAIToAI bool
}

type PostMessageParams struct {
	ConversationID int64
	Content        string
	TraceID        string
}

type PostMessageResult struct {
	Message  *model.Message
	Enqueued bool
}

type ConversationService interface {
	// Create returns the existing 1:1 conversation when the entity already has one.
	Create(ctx context.Context, params CreateConversationParams) (*model.Conversation, error)
	Get(ctx context.Context, id int64) (*model.Conversation, error)
	List(ctx context.Context, limit int) ([]model.Conversation, error)
	Delete(ctx context.Context, id int64) error
	Messages(ctx context.Context, conversationID, beforeID int64, limit int) ([]model.Message, error)
	// PostMessage persists a user fragment and hands it to the engine.
	PostMessage(ctx context.Context, params PostMessageParams) (*PostMessageResult, error)
}

type conversationService struct {
	convs    store.ConversationStore
	messages store.MessageStore
	txRunner TxRunner
	producer queue.Producer
}

func NewConversationService(convs store.ConversationStore, messages store.MessageStore, txRunner TxRunner, producer queue.Producer) ConversationService {
	return &conversationService{
		convs:    convs,
		messages: messages,
		txRunner: txRunner,
		producer: producer,
	}
}

func (s *conversationService) Create(ctx context.Context, params CreateConversationParams) (*model.Conversation, error) {
	members := dedupe(params.MemberIDs)
	switch params.Kind {
	case model.ConversationKindSingle:
		if len(members) != 1 {
			return nil, invalid("a single conversation needs exactly one member")
		}
		if params.AllowAIToAI {
			return nil, invalid("allow_ai_to_ai only applies to group conversations")
		}
	case model.ConversationKindGroup:
		if len(members) < 2 {
			return nil, invalid("a group conversation needs at least two members")
		}
	default:
		return nil, invalid("unknown conversation kind %q", params.Kind)
	}

	var conv *model.Conversation
	err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		found, err := sp.Entities().GetMany(ctx, members)
		if err != nil {
			return fmt.Errorf("loading members: %w", err)
		}
		if len(found) != len(members) {
			return invalid("unknown member in %v", members)
		}

		if params.Kind == model.ConversationKindSingle {
			existing, err := sp.Conversations().FindSingle(ctx, members[0])
			if err == nil {
				conv = existing
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("finding 1:1 conversation: %w", err)
			}
		}

		conv = &model.Conversation{
			ID:          id.New(),
			Kind:        params.Kind,
			Title:       strings.TrimSpace(params.Title),
			MemberIDs:   members,
			AllowAIToAI: params.AllowAIToAI,
		}
		if err := sp.Conversations().Create(ctx, conv); err != nil {
			return fmt.Errorf("creating conversation: %w", err)
		}
		slog.InfoContext(ctx, "conversation created", "conversation_id", conv.ID, "kind", conv.Kind)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, id int64) (*model.Conversation, error) {
	return s.convs.GetByID(ctx, id)
}

func (s *conversationService) List(ctx context.Context, limit int) ([]model.Conversation, error) {
	return s.convs.List(ctx, pageSize(limit))
}

func (s *conversationService) Delete(ctx context.Context, id int64) error {
	if err := s.convs.SoftDelete(ctx, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "conversation deleted", "conversation_id", id)
	return nil
}

func (s *conversationService) Messages(ctx context.Context, conversationID, beforeID int64, limit int) ([]model.Message, error) {
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.messages.List(ctx, conversationID, beforeID, pageSize(limit))
}

func (s *conversationService) PostMessage(ctx context.Context, params PostMessageParams) (*PostMessageResult, error) {
	content := strings.TrimSpace(params.Content)
	if content == "" {
		return nil, invalid("content is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, invalid("content exceeds %d characters", maxMessageLength)
	}
	if _, err := s.convs.GetByID(ctx, params.ConversationID); err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:             id.New(),
		ConversationID: params.ConversationID,
		SenderKind:     model.SenderUser,
		Content:        content,
		Kind:           model.MessageKindChat,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	enqueued := enqueue(ctx, s.producer, queue.Task{
		TaskType:       queue.TaskTypeUserMessage,
		ConversationID: &msg.ConversationID,
		Content:        content,
		TraceID:        params.TraceID,
	})
	return &PostMessageResult{Message: msg, Enqueued: enqueued}, nil
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}

func dedupe(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
