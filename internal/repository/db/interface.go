package db

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a row does not exist or is not owned by the caller
	ErrNotFound = errors.New("not found")
	// ErrInsufficientBalance is returned when a conditional balance update matched no row
	ErrInsufficientBalance = errors.New("insufficient token balance")
	// ErrUsernameTaken is returned when registering a username that already exists
	ErrUsernameTaken = errors.New("username already exists")
)

// UserStore persists user accounts
type UserStore interface {
	CreateUser(ctx context.Context, username, email, passwordHash string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// ConversationStore persists conversations. Every lookup and mutation is
// scoped to the owning user.
type ConversationStore interface {
	// EnsureConversation creates the conversation for userID if it does not exist.
	// It returns ErrNotFound when the id belongs to another user.
	EnsureConversation(ctx context.Context, id, userID, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id, userID string) (*Conversation, error)
	GetConversationsByUser(ctx context.Context, userID string) ([]Conversation, error)
	// DeleteConversation removes the conversation messages and then the conversation itself
	DeleteConversation(ctx context.Context, id, userID string) error
}

// MessageStore persists conversation messages
type MessageStore interface {
	InsertUserMessages(ctx context.Context, conversationID, userID string, msgs []NewMessage, status string) ([]string, error)
	InsertAssistantMessage(ctx context.Context, conversationID, userID, content, status string) (*Message, error)
	// CommitTurn marks the provisional user rows complete and inserts the
	// assistant reply in a single transaction.
	CommitTurn(ctx context.Context, conversationID, userID string, userMessageIDs []string, assistantContent string) (*Message, error)
	// DeleteIncomplete removes the caller's provisional rows with the given ids
	// in a conversation. Complete rows, rows of other users and provisional
	// rows of other turns are never touched.
	DeleteIncomplete(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error)
	// GetConversationMessages returns complete rows, oldest first
	GetConversationMessages(ctx context.Context, conversationID, userID string) ([]Message, error)
}

// LedgerStore mutates token balances. Every balance change is a single
// conditional statement so concurrent requests cannot overdraw an account.
type LedgerStore interface {
	GetBalance(ctx context.Context, userID string) (int, error)
	// ReserveTokens moves amount from the spendable balance into a hold
	ReserveTokens(ctx context.Context, userID string, amount int) (int, error)
	// ReleaseTokens returns a hold to the spendable balance
	ReleaseTokens(ctx context.Context, userID string, amount int) error
	// SettleTokens turns a hold into a debit of cost and records one transaction
	SettleTokens(ctx context.Context, userID string, reserved, cost int, description string, conversationID *string) (*TokenTransaction, error)
	DebitTokens(ctx context.Context, userID string, amount int, description string, conversationID *string) (*TokenTransaction, error)
	CreditTokens(ctx context.Context, userID string, amount int, description string) (*TokenTransaction, error)
	GetTransactions(ctx context.Context, userID string, limit int) ([]TokenTransaction, error)
}

// Database combines all stores behind one connection
type Database interface {
	UserStore
	ConversationStore
	MessageStore
	LedgerStore

	Ping(ctx context.Context) error
	Close() error
}
