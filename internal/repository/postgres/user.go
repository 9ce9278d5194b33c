package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const userColumns = `id, username, COALESCE(email, '') AS email, password_hash, token_balance, reserved_tokens, created_at`

// CreateUser creates a new user. The password must already be hashed.
func (p *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*db.User, error) {
	var user db.User
	query := `
	INSERT INTO users (id, username, email, password_hash)
	VALUES ($1, $2, $3, $4)
	RETURNING ` + userColumns

	err := p.conn.GetContext(ctx, &user, query, uuid.New().String(), username, email, passwordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, db.ErrUsernameTaken
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{"username": username, "user_id": user.ID}).Info("Created new user")

	return &user, nil
}

// GetUserByUsername retrieves a user by username
func (p *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	var user db.User
	err := p.conn.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	return &user, nil
}

// GetUserByID retrieves a user by id
func (p *PostgresDB) GetUserByID(ctx context.Context, id string) (*db.User, error) {
	var user db.User
	err := p.conn.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("error retrieving user: %w", err)
	}
	return &user, nil
}
