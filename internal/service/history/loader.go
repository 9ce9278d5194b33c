package history

import (
	"context"
	"fmt"

	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"
	"fractiverse/internal/service/llm"

	"github.com/sirupsen/logrus"
)

// Loader reads the persisted context of a conversation
type Loader struct {
	store db.MessageStore
}

// NewLoader creates a Loader over the message store
func NewLoader(store db.MessageStore) *Loader {
	return &Loader{store: store}
}

// Load returns the complete messages of a conversation, oldest first
func (l *Loader) Load(ctx context.Context, conversationID, userID string) ([]llm.Message, error) {
	rows, err := l.store.GetConversationMessages(ctx, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	messages := make([]llm.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, llm.Message{Role: row.Role, Content: row.Content})
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"message_count":   len(messages),
	}).Debug("Loaded conversation history")

	return messages, nil
}

// Assemble builds the model input: the system prompt, then history, then
// the new messages, each kept verbatim
func Assemble(systemPrompt string, history, incoming []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, 1+len(history)+len(incoming))
	if systemPrompt != "" {
		out = append(out, llm.Message{Role: db.RoleSystem, Content: systemPrompt})
	}
	out = append(out, history...)
	out = append(out, incoming...)
	return out
}
