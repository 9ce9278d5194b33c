package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// GetBalance returns the spendable token balance of a user
func (p *PostgresDB) GetBalance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := p.conn.GetContext(ctx, &balance, `SELECT token_balance FROM users WHERE id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, db.ErrNotFound
		}
		return 0, fmt.Errorf("error retrieving balance: %w", err)
	}
	return balance, nil
}

// ReserveTokens moves amount into the user's hold if the balance covers it
func (p *PostgresDB) ReserveTokens(ctx context.Context, userID string, amount int) (int, error) {
	query := `
	UPDATE users
	SET token_balance = token_balance - $2, reserved_tokens = reserved_tokens + $2
	WHERE id = $1 AND token_balance >= $2
	RETURNING token_balance
	`
	var balance int
	err := p.conn.GetContext(ctx, &balance, query, userID, amount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, p.noRowsReason(ctx, p.conn, userID)
		}
		return 0, fmt.Errorf("error reserving tokens: %w", err)
	}
	return balance, nil
}

// ReleaseTokens returns a hold to the spendable balance
func (p *PostgresDB) ReleaseTokens(ctx context.Context, userID string, amount int) error {
	query := `
	UPDATE users
	SET token_balance = token_balance + $2, reserved_tokens = reserved_tokens - $2
	WHERE id = $1 AND reserved_tokens >= $2
	`
	res, err := p.conn.ExecContext(ctx, query, userID, amount)
	if err != nil {
		return fmt.Errorf("error releasing tokens: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("error releasing tokens: no hold of %d for user %s", amount, userID)
	}
	return nil
}

// SettleTokens converts a hold of reserved tokens into a debit of cost.
// A cost above the hold is taken from the spendable balance, capped at what
// is available; a cost below the hold refunds the difference.
func (p *PostgresDB) SettleTokens(ctx context.Context, userID string, reserved, cost int, description string, conversationID *string) (*db.TokenTransaction, error) {
	var txn *db.TokenTransaction
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			Balance  int `db:"token_balance"`
			Reserved int `db:"reserved_tokens"`
		}
		err := tx.GetContext(ctx, &row, `SELECT token_balance, reserved_tokens FROM users WHERE id = $1 FOR UPDATE`, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return fmt.Errorf("error locking user balance: %w", err)
		}
		if row.Reserved < reserved {
			return fmt.Errorf("error settling tokens: hold of %d exceeds reserved %d", reserved, row.Reserved)
		}

		charged, balance := settleAmounts(row.Balance, reserved, cost)

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET token_balance = $2, reserved_tokens = reserved_tokens - $3 WHERE id = $1`,
			userID, balance, reserved)
		if err != nil {
			return fmt.Errorf("error settling tokens: %w", err)
		}

		txn, err = insertTransaction(ctx, tx, userID, -charged, balance, description, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":       userID,
		"reserved":      reserved,
		"cost":          cost,
		"charged":       -txn.Amount,
		"balance_after": txn.BalanceAfter,
	}).Info("Settled token reservation")

	return txn, nil
}

// settleAmounts returns what is actually charged and the resulting spendable balance
func settleAmounts(balance, reserved, cost int) (charged, newBalance int) {
	if cost <= reserved {
		return cost, balance + (reserved - cost)
	}
	extra := cost - reserved
	if extra > balance {
		extra = balance
	}
	return reserved + extra, balance - extra
}

// DebitTokens subtracts amount from the balance if it covers it and records the transaction
func (p *PostgresDB) DebitTokens(ctx context.Context, userID string, amount int, description string, conversationID *string) (*db.TokenTransaction, error) {
	var txn *db.TokenTransaction
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
		UPDATE users SET token_balance = token_balance - $2
		WHERE id = $1 AND token_balance >= $2
		RETURNING token_balance
		`
		var balance int
		if err := tx.GetContext(ctx, &balance, query, userID, amount); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return p.noRowsReason(ctx, tx, userID)
			}
			return fmt.Errorf("error debiting tokens: %w", err)
		}

		var err error
		txn, err = insertTransaction(ctx, tx, userID, -amount, balance, description, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":       userID,
		"amount":        amount,
		"balance_after": txn.BalanceAfter,
	}).Info("Debited tokens")

	return txn, nil
}

// CreditTokens adds amount to the balance and records the transaction
func (p *PostgresDB) CreditTokens(ctx context.Context, userID string, amount int, description string) (*db.TokenTransaction, error) {
	var txn *db.TokenTransaction
	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		var balance int
		err := tx.GetContext(ctx, &balance,
			`UPDATE users SET token_balance = token_balance + $2 WHERE id = $1 RETURNING token_balance`,
			userID, amount)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return db.ErrNotFound
			}
			return fmt.Errorf("error crediting tokens: %w", err)
		}

		txn, err = insertTransaction(ctx, tx, userID, amount, balance, description, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{"user_id": userID, "amount": amount}).Info("Credited tokens")
	return txn, nil
}

// GetTransactions returns the most recent transactions of a user, newest first
func (p *PostgresDB) GetTransactions(ctx context.Context, userID string, limit int) ([]db.TokenTransaction, error) {
	query := `
	SELECT id, user_id, amount, balance_after, description, conversation_id, created_at
	FROM token_transactions
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT $2
	`
	txns := []db.TokenTransaction{}
	if err := p.conn.SelectContext(ctx, &txns, query, userID, limit); err != nil {
		return nil, fmt.Errorf("error querying transactions: %w", err)
	}
	return txns, nil
}

func insertTransaction(ctx context.Context, tx *sqlx.Tx, userID string, amount, balanceAfter int, description string, conversationID *string) (*db.TokenTransaction, error) {
	var txn db.TokenTransaction
	query := `
	INSERT INTO token_transactions (id, user_id, amount, balance_after, description, conversation_id)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, user_id, amount, balance_after, description, conversation_id, created_at
	`
	err := tx.GetContext(ctx, &txn, query, uuid.New().String(), userID, amount, balanceAfter, description, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error recording token transaction: %w", err)
	}
	return &txn, nil
}

// noRowsReason tells a missing user apart from an insufficient balance
// after a conditional update matched nothing
func (p *PostgresDB) noRowsReason(ctx context.Context, q sqlx.QueryerContext, userID string) error {
	var exists bool
	if err := sqlx.GetContext(ctx, q, &exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID); err != nil {
		return fmt.Errorf("error checking user: %w", err)
	}
	if !exists {
		return db.ErrNotFound
	}
	return db.ErrInsufficientBalance
}
