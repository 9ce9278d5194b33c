package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fractiverse/internal/repository/db"
)

// ErrNotFound is returned for unknown conversations and for conversations
// owned by someone else
var ErrNotFound = errors.New("conversation not found")

// Store is the subset of the database the service needs
type Store interface {
	GetConversation(ctx context.Context, id, userID string) (*db.Conversation, error)
	GetConversationsByUser(ctx context.Context, userID string) ([]db.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID, userID string) ([]db.Message, error)
	DeleteConversation(ctx context.Context, id, userID string) error
}

// Info is the listing view of a conversation
type Info struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// MessageView is a persisted message as returned to its owner
type MessageView struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// ConversationService handles the business logic for conversation management
type ConversationService struct {
	db Store
}

// NewConversationService creates a new ConversationService
func NewConversationService(store Store) *ConversationService {
	return &ConversationService{db: store}
}

// GetUserConversations lists the caller's conversations, most recently updated first
func (s *ConversationService) GetUserConversations(ctx context.Context, userID string) ([]Info, error) {
	conversations, err := s.db.GetConversationsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve conversations: %w", err)
	}

	result := make([]Info, 0, len(conversations))
	for _, conv := range conversations {
		result = append(result, Info{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: conv.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return result, nil
}

// GetConversationMessages returns the complete messages of a conversation the
// caller owns, oldest first
func (s *ConversationService) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]MessageView, error) {
	if err := s.checkOwner(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	messages, err := s.db.GetConversationMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve messages: %w", err)
	}

	result := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		result = append(result, MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return result, nil
}

// DeleteConversation deletes a conversation and its messages if the caller owns it
func (s *ConversationService) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	if err := s.db.DeleteConversation(ctx, conversationID, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

func (s *ConversationService) checkOwner(ctx context.Context, conversationID, userID string) error {
	if _, err := s.db.GetConversation(ctx, conversationID, userID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	return nil
}
