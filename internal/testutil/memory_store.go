package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fractiverse/internal/repository/db"

	"github.com/google/uuid"
)

// Ensure MemoryStore implements db.Database interface
var _ db.Database = (*MemoryStore)(nil)

// MemoryStore is an in-memory db.Database with the same conditional update
// semantics as the Postgres store. Errors can be injected per method name.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[string]*db.User
	conversations map[string]*db.Conversation
	messages      []db.Message
	transactions  []db.TokenTransaction
	seq           int64
	base          time.Time
	errs          map[string]error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[string]*db.User{},
		conversations: map[string]*db.Conversation{},
		base:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		errs:          map[string]error{},
	}
}

// SetError makes every later call of method fail with err. A nil err clears it.
func (m *MemoryStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// AddUser seeds a user with a balance and returns its id
func (m *MemoryStore) AddUser(username string, balance int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.users[id] = &db.User{
		ID:           id,
		Username:     username,
		TokenBalance: balance,
		CreatedAt:    m.now(),
	}
	return id
}

// UserBalance returns the spendable and reserved tokens of a user
func (m *MemoryStore) UserBalance(userID string) (balance, reserved int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u.TokenBalance, u.ReservedTokens
	}
	return 0, 0
}

// AllMessages returns every row of a conversation regardless of status
func (m *MemoryStore) AllMessages(conversationID string) []db.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out
}

// Transactions returns the ledger entries of a user in insertion order
func (m *MemoryStore) Transactions(userID string) []db.TokenTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []db.TokenTransaction
	for _, t := range m.transactions {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

func (m *MemoryStore) now() time.Time {
	m.seq++
	return m.base.Add(time.Duration(m.seq) * time.Millisecond)
}

func (m *MemoryStore) fail(method string) error {
	return m.errs[method]
}

// Ping implements db.Database
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fail("Ping")
}

// Close implements db.Database
func (m *MemoryStore) Close() error {
	return nil
}

// User methods

func (m *MemoryStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateUser"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.Username == username {
			return nil, db.ErrUsernameTaken
		}
	}
	u := &db.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    m.now(),
	}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUserByUsername"); err != nil {
		return nil, err
	}
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*db.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetUserByID"); err != nil {
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// Conversation methods

func (m *MemoryStore) EnsureConversation(ctx context.Context, id, userID, title string) (*db.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("EnsureConversation"); err != nil {
		return nil, err
	}
	if c, ok := m.conversations[id]; ok {
		if c.UserID != userID {
			return nil, db.ErrNotFound
		}
		cp := *c
		return &cp, nil
	}
	now := m.now()
	c := &db.Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}
	m.conversations[id] = c
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id, userID string) (*db.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetConversation"); err != nil {
		return nil, err
	}
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return nil, db.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) GetConversationsByUser(ctx context.Context, userID string) ([]db.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetConversationsByUser"); err != nil {
		return nil, err
	}
	out := []db.Conversation{}
	for _, c := range m.conversations {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteConversation"); err != nil {
		return err
	}
	c, ok := m.conversations[id]
	if !ok || c.UserID != userID {
		return db.ErrNotFound
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	delete(m.conversations, id)
	return nil
}

// Message methods

func (m *MemoryStore) InsertUserMessages(ctx context.Context, conversationID, userID string, msgs []db.NewMessage, status string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertUserMessages"); err != nil {
		return nil, err
	}
	if _, ok := m.conversations[conversationID]; !ok {
		return nil, fmt.Errorf("conversation %s does not exist", conversationID)
	}
	ids := make([]string, 0, len(msgs))
	for _, nm := range msgs {
		ids = append(ids, m.insert(conversationID, userID, nm.Role, nm.Content, status).ID)
	}
	return ids, nil
}

func (m *MemoryStore) InsertAssistantMessage(ctx context.Context, conversationID, userID, content, status string) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("InsertAssistantMessage"); err != nil {
		return nil, err
	}
	msg := m.insert(conversationID, userID, db.RoleAssistant, content, status)
	return &msg, nil
}

func (m *MemoryStore) CommitTurn(ctx context.Context, conversationID, userID string, userMessageIDs []string, assistantContent string) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CommitTurn"); err != nil {
		return nil, err
	}
	pending := map[string]bool{}
	for _, id := range userMessageIDs {
		pending[id] = true
	}
	for i := range m.messages {
		msg := &m.messages[i]
		if pending[msg.ID] && msg.ConversationID == conversationID && msg.UserID == userID && msg.Status == db.StatusIncomplete {
			msg.Status = db.StatusComplete
		}
	}
	msg := m.insert(conversationID, userID, db.RoleAssistant, assistantContent, db.StatusComplete)
	return &msg, nil
}

func (m *MemoryStore) DeleteIncomplete(ctx context.Context, conversationID, userID string, messageIDs []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DeleteIncomplete"); err != nil {
		return 0, err
	}
	turn := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		turn[id] = true
	}
	var n int64
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if turn[msg.ID] && msg.ConversationID == conversationID && msg.UserID == userID && msg.Status == db.StatusIncomplete {
			n++
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
	return n, nil
}

func (m *MemoryStore) GetConversationMessages(ctx context.Context, conversationID, userID string) ([]db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetConversationMessages"); err != nil {
		return nil, err
	}
	out := []db.Message{}
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.UserID == userID && msg.Status == db.StatusComplete {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (m *MemoryStore) insert(conversationID, userID, role, content, status string) db.Message {
	now := m.now()
	msg := db.Message{
		ID:             uuid.New().String(),
		Seq:            m.seq,
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Status:         status,
		CreatedAt:      now,
	}
	m.messages = append(m.messages, msg)
	if c, ok := m.conversations[conversationID]; ok {
		c.UpdatedAt = now
	}
	return msg
}

// Ledger methods

func (m *MemoryStore) GetBalance(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetBalance"); err != nil {
		return 0, err
	}
	u, ok := m.users[userID]
	if !ok {
		return 0, db.ErrNotFound
	}
	return u.TokenBalance, nil
}

func (m *MemoryStore) ReserveTokens(ctx context.Context, userID string, amount int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReserveTokens"); err != nil {
		return 0, err
	}
	u, ok := m.users[userID]
	if !ok {
		return 0, db.ErrNotFound
	}
	if u.TokenBalance < amount {
		return 0, db.ErrInsufficientBalance
	}
	u.TokenBalance -= amount
	u.ReservedTokens += amount
	return u.TokenBalance, nil
}

func (m *MemoryStore) ReleaseTokens(ctx context.Context, userID string, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ReleaseTokens"); err != nil {
		return err
	}
	u, ok := m.users[userID]
	if !ok || u.ReservedTokens < amount {
		return fmt.Errorf("no hold of %d for user %s", amount, userID)
	}
	u.ReservedTokens -= amount
	u.TokenBalance += amount
	return nil
}

func (m *MemoryStore) SettleTokens(ctx context.Context, userID string, reserved, cost int, description string, conversationID *string) (*db.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("SettleTokens"); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if u.ReservedTokens < reserved {
		return nil, fmt.Errorf("hold of %d exceeds reserved %d", reserved, u.ReservedTokens)
	}
	charged := cost
	if cost <= reserved {
		u.TokenBalance += reserved - cost
	} else {
		extra := cost - reserved
		if extra > u.TokenBalance {
			extra = u.TokenBalance
		}
		u.TokenBalance -= extra
		charged = reserved + extra
	}
	u.ReservedTokens -= reserved
	return m.record(userID, -charged, u.TokenBalance, description, conversationID), nil
}

func (m *MemoryStore) DebitTokens(ctx context.Context, userID string, amount int, description string, conversationID *string) (*db.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("DebitTokens"); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	if u.TokenBalance < amount {
		return nil, db.ErrInsufficientBalance
	}
	u.TokenBalance -= amount
	return m.record(userID, -amount, u.TokenBalance, description, conversationID), nil
}

func (m *MemoryStore) CreditTokens(ctx context.Context, userID string, amount int, description string) (*db.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreditTokens"); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	u.TokenBalance += amount
	return m.record(userID, amount, u.TokenBalance, description, nil), nil
}

func (m *MemoryStore) GetTransactions(ctx context.Context, userID string, limit int) ([]db.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetTransactions"); err != nil {
		return nil, err
	}
	out := []db.TokenTransaction{}
	for i := len(m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.transactions[i].UserID == userID {
			out = append(out, m.transactions[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) record(userID string, amount, balanceAfter int, description string, conversationID *string) *db.TokenTransaction {
	var convID *string
	if conversationID != nil {
		v := *conversationID
		convID = &v
	}
	t := db.TokenTransaction{
		ID:             uuid.New().String(),
		UserID:         userID,
		Amount:         amount,
		BalanceAfter:   balanceAfter,
		Description:    description,
		ConversationID: convID,
		CreatedAt:      m.now(),
	}
	m.transactions = append(m.transactions, t)
	return &t
}
