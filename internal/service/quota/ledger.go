package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fractiverse/internal/config"
	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"

	"github.com/sirupsen/logrus"
)

// ErrInsufficientBalance is returned when the caller cannot afford a completion
var ErrInsufficientBalance = errors.New("insufficient token balance")

// Cost models
const (
	CostModelFlat  = "flat"
	CostModelUsage = "usage"
)

const (
	settleTimeout   = 10 * time.Second
	maxTransactions = 100
)

// BalanceCheck is the result of a balance pre-check
type BalanceCheck struct {
	Sufficient bool
	Balance    int
}

// Ledger meters completions against the per-user token balance
type Ledger struct {
	store     db.LedgerStore
	minCost   int
	costModel string
	reserve   bool
}

// NewLedger creates a ledger with the configured charging rules
func NewLedger(store db.LedgerStore, cfg config.QuotaConfig) *Ledger {
	minCost := cfg.MinCost
	if minCost < 1 {
		minCost = 1
	}
	costModel := cfg.CostModel
	if costModel == "" {
		costModel = CostModelFlat
	}
	return &Ledger{
		store:     store,
		minCost:   minCost,
		costModel: costModel,
		reserve:   cfg.ReserveOnStart,
	}
}

// MinCost returns the minimum charge per completion
func (l *Ledger) MinCost() int {
	return l.minCost
}

// CostModel returns the configured cost model name
func (l *Ledger) CostModel() string {
	return l.costModel
}

// Cost computes the charge for a completion that used totalTokens
func (l *Ledger) Cost(totalTokens int) int {
	if l.costModel == CostModelUsage && totalTokens > l.minCost {
		return totalTokens
	}
	return l.minCost
}

// Balance returns the spendable balance of a user
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// CheckBalance reports whether the user can afford the minimum charge.
// It is a fast-fail check only; the conditional updates are authoritative.
func (l *Ledger) CheckBalance(ctx context.Context, userID string) (BalanceCheck, error) {
	balance, err := l.store.GetBalance(ctx, userID)
	if err != nil {
		return BalanceCheck{}, fmt.Errorf("failed to check balance: %w", err)
	}
	return BalanceCheck{
		Sufficient: balance >= l.minCost,
		Balance:    balance,
	}, nil
}

// Debit subtracts amount from the balance if the balance covers it
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, description string) error {
	return l.debit(ctx, userID, amount, description, nil)
}

func (l *Ledger) debit(ctx context.Context, userID string, amount int, description string, conversationID *string) error {
	if amount <= 0 {
		return fmt.Errorf("invalid debit amount %d", amount)
	}
	if _, err := l.store.DebitTokens(ctx, userID, amount, description, conversationID); err != nil {
		if errors.Is(err, db.ErrInsufficientBalance) {
			return ErrInsufficientBalance
		}
		return fmt.Errorf("failed to debit tokens: %w", err)
	}
	return nil
}

// Credit adds amount to the balance
func (l *Ledger) Credit(ctx context.Context, userID string, amount int, description string) error {
	if amount <= 0 {
		return fmt.Errorf("invalid credit amount %d", amount)
	}
	if _, err := l.store.CreditTokens(ctx, userID, amount, description); err != nil {
		return fmt.Errorf("failed to credit tokens: %w", err)
	}
	return nil
}

// Transactions returns the user's most recent ledger entries, newest first
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]db.TokenTransaction, error) {
	if limit <= 0 || limit > maxTransactions {
		limit = maxTransactions
	}
	txns, err := l.store.GetTransactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return txns, nil
}

// Reserve places a hold of the minimum charge on the user's balance before
// the model is called. When reservations are disabled the returned
// Reservation only debits on Settle.
func (l *Ledger) Reserve(ctx context.Context, userID, conversationID string) (*Reservation, error) {
	r := &Reservation{
		ledger:         l,
		userID:         userID,
		conversationID: conversationID,
	}
	if !l.reserve {
		return r, nil
	}

	if _, err := l.store.ReserveTokens(ctx, userID, l.minCost); err != nil {
		if errors.Is(err, db.ErrInsufficientBalance) {
			return nil, ErrInsufficientBalance
		}
		return nil, fmt.Errorf("failed to reserve tokens: %w", err)
	}
	r.held = l.minCost

	logger.Log.WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": conversationID,
		"amount":          r.held,
	}).Debug("Reserved tokens")

	return r, nil
}

// Reservation binds the quota of one completion. Exactly one of Settle or
// Release takes effect; later calls are no-ops.
type Reservation struct {
	ledger         *Ledger
	userID         string
	conversationID string
	held           int

	mu   sync.Mutex
	done bool
}

// Held returns the amount currently on hold
func (r *Reservation) Held() int {
	return r.held
}

// Settle charges cost for a completed stream and records one debit
func (r *Reservation) Settle(ctx context.Context, cost int, description string) error {
	if !r.finish() {
		return nil
	}
	ctx, cancel := detached(ctx)
	defer cancel()

	convID := &r.conversationID
	if r.held == 0 {
		return r.ledger.debit(ctx, r.userID, cost, description, convID)
	}
	if _, err := r.ledger.store.SettleTokens(ctx, r.userID, r.held, cost, description, convID); err != nil {
		return fmt.Errorf("failed to settle reservation: %w", err)
	}
	return nil
}

// Release returns the hold without recording a debit
func (r *Reservation) Release(ctx context.Context) error {
	if !r.finish() {
		return nil
	}
	if r.held == 0 {
		return nil
	}
	ctx, cancel := detached(ctx)
	defer cancel()

	if err := r.ledger.store.ReleaseTokens(ctx, r.userID, r.held); err != nil {
		return fmt.Errorf("failed to release reservation: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":         r.userID,
		"conversation_id": r.conversationID,
		"amount":          r.held,
	}).Debug("Released token reservation")
	return nil
}

func (r *Reservation) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return false
	}
	r.done = true
	return true
}

// detached keeps request values but survives a cancelled request so that a
// disconnected client still has its quota settled or released
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
}
