package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// EnsureConversation creates the conversation on first use. An id that is
// already taken by another user is reported as db.ErrNotFound.
func (p *PostgresDB) EnsureConversation(ctx context.Context, id, userID, title string) (*db.Conversation, error) {
	query := `
	INSERT INTO conversations (id, user_id, title)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO NOTHING
	`
	res, err := p.conn.ExecContext(ctx, query, id, userID, title)
	if err != nil {
		return nil, fmt.Errorf("error creating conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		logger.Log.WithFields(logrus.Fields{"conversation_id": id, "user_id": userID}).Info("Created new conversation")
	}

	return p.GetConversation(ctx, id, userID)
}

// GetConversation retrieves a conversation owned by userID
func (p *PostgresDB) GetConversation(ctx context.Context, id, userID string) (*db.Conversation, error) {
	var conv db.Conversation
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE id = $1 AND user_id = $2
	`
	if err := p.conn.GetContext(ctx, &conv, query, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}
	return &conv, nil
}

// GetConversationsByUser retrieves all conversations for a user, most recently active first
func (p *PostgresDB) GetConversationsByUser(ctx context.Context, userID string) ([]db.Conversation, error) {
	query := `
	SELECT id, user_id, title, created_at, updated_at
	FROM conversations
	WHERE user_id = $1
	ORDER BY updated_at DESC
	`
	conversations := []db.Conversation{}
	if err := p.conn.SelectContext(ctx, &conversations, query, userID); err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	return conversations, nil
}

// DeleteConversation deletes a conversation and all its messages
func (p *PostgresDB) DeleteConversation(ctx context.Context, id, userID string) error {
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var owner string
		err := tx.GetContext(ctx, &owner,
			`SELECT user_id FROM conversations WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return fmt.Errorf("error locking conversation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = $1`, id); err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
			return fmt.Errorf("error deleting conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Log.WithFields(logrus.Fields{"conversation_id": id, "user_id": userID}).Info("Deleted conversation")
	return nil
}
