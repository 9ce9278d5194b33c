package db

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message statuses. Only complete rows are visible to history reads.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
)

// User represents a user in the database
type User struct {
	ID             string    `db:"id"`
	Username       string    `db:"username"`
	Email          string    `db:"email"`
	PasswordHash   string    `db:"password_hash"`
	TokenBalance   int       `db:"token_balance"`
	ReservedTokens int       `db:"reserved_tokens"`
	CreatedAt      time.Time `db:"created_at"`
}

// Conversation represents a conversation in the database
type Conversation struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Message represents a message in a conversation
type Message struct {
	ID             string    `db:"id"`
	Seq            int64     `db:"seq"`
	ConversationID string    `db:"conversation_id"`
	UserID         string    `db:"user_id"`
	Role           string    `db:"role"`
	Content        string    `db:"content"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
}

// NewMessage is a message to be inserted
type NewMessage struct {
	Role    string
	Content string
}

// TokenTransaction is one entry of a user's balance audit trail.
// Amount is negative for debits and positive for credits.
type TokenTransaction struct {
	ID             string    `db:"id"`
	UserID         string    `db:"user_id"`
	Amount         int       `db:"amount"`
	BalanceAfter   int       `db:"balance_after"`
	Description    string    `db:"description"`
	ConversationID *string   `db:"conversation_id"`
	CreatedAt      time.Time `db:"created_at"`
}
