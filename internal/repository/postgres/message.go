package postgres

import (
	"context"
	"fmt"

	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const messageColumns = `id, seq, conversation_id, user_id, role, content, status, created_at`

// InsertUserMessages inserts the caller messages of one turn and returns their ids in order
func (p *PostgresDB) InsertUserMessages(ctx context.Context, conversationID, userID string, msgs []db.NewMessage, status string) ([]string, error) {
	ids := make([]string, 0, len(msgs))
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, msg := range msgs {
			m, err := insertMessage(ctx, tx, conversationID, userID, msg.Role, msg.Content, status)
			if err != nil {
				return err
			}
			ids = append(ids, m.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"count":           len(ids),
		"status":          status,
	}).Debug("Inserted user messages")

	return ids, nil
}

// InsertAssistantMessage inserts a single assistant row
func (p *PostgresDB) InsertAssistantMessage(ctx context.Context, conversationID, userID, content, status string) (*db.Message, error) {
	var msg *db.Message
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		msg, err = insertMessage(ctx, tx, conversationID, userID, db.RoleAssistant, content, status)
		return err
	})
	return msg, err
}

// CommitTurn marks the provisional user rows complete and stores the assistant reply
func (p *PostgresDB) CommitTurn(ctx context.Context, conversationID, userID string, userMessageIDs []string, assistantContent string) (*db.Message, error) {
	var msg *db.Message
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		if len(userMessageIDs) > 0 {
			query := `
			UPDATE messages SET status = $1
			WHERE id = ANY($2) AND conversation_id = $3 AND user_id = $4 AND status = $5
			`
			_, err := tx.ExecContext(ctx, query, db.StatusComplete, pq.Array(userMessageIDs), conversationID, userID, db.StatusIncomplete)
			if err != nil {
				return fmt.Errorf("error completing user messages: %w", err)
			}
		}

		var err error
		msg, err = insertMessage(ctx, tx, conversationID, userID, db.RoleAssistant, assistantContent, db.StatusComplete)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"response_chars":  len(assistantContent),
	}).Debug("Committed conversation turn")

	return msg, nil
}

// DeleteIncomplete removes the provisional rows of one turn of userID in a conversation
func (p *PostgresDB) DeleteIncomplete(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	query := `
	DELETE FROM messages
	WHERE conversation_id = $1 AND user_id = $2 AND status = $3 AND id = ANY($4)
	`
	res, err := p.conn.ExecContext(ctx, query, conversationID, userID, db.StatusIncomplete, pq.Array(messageIDs))
	if err != nil {
		return 0, fmt.Errorf("error deleting incomplete messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetConversationMessages retrieves complete messages of a conversation, oldest first
func (p *PostgresDB) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]db.Message, error) {
	query := `
	SELECT ` + messageColumns + `
	FROM messages
	WHERE conversation_id = $1 AND user_id = $2 AND status = $3
	ORDER BY created_at ASC, seq ASC
	`
	messages := []db.Message{}
	if err := p.conn.SelectContext(ctx, &messages, query, conversationID, userID, db.StatusComplete); err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	return messages, nil
}

func insertMessage(ctx context.Context, tx *sqlx.Tx, conversationID, userID, role, content, status string) (*db.Message, error) {
	var msg db.Message
	query := `
	INSERT INTO messages (id, conversation_id, user_id, role, content, status)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING ` + messageColumns

	err := tx.GetContext(ctx, &msg, query, uuid.New().String(), conversationID, userID, role, content, status)
	if err != nil {
		return nil, fmt.Errorf("error adding message: %w", err)
	}

	// Update conversation updated_at timestamp
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID); err != nil {
		return nil, fmt.Errorf("error updating conversation timestamp: %w", err)
	}

	return &msg, nil
}
