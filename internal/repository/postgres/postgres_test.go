package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"fractiverse/internal/config"
	"fractiverse/internal/repository/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettleAmounts(t *testing.T) {
	tests := []struct {
		name                         string
		balance, reserved, cost      int
		wantCharged, wantNewBalance int
	}{
		{"cost equals hold", 9, 1, 1, 1, 9},
		{"cost below hold refunds the rest", 5, 10, 4, 4, 11},
		{"overage taken from balance", 50, 1, 42, 42, 9},
		{"overage capped at balance", 3, 1, 42, 4, 0},
		{"nothing left to take", 0, 1, 42, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			charged, newBalance := settleAmounts(tt.balance, tt.reserved, tt.cost)
			assert.Equal(t, tt.wantCharged, charged)
			assert.Equal(t, tt.wantNewBalance, newBalance)
			assert.GreaterOrEqual(t, newBalance, 0)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("23505")))
}

// openTestDB connects to FRACTIVERSE_TEST_DATABASE_URL, skipping when unset
func openTestDB(t *testing.T) *PostgresDB {
	t.Helper()
	url := os.Getenv("FRACTIVERSE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FRACTIVERSE_TEST_DATABASE_URL not set")
	}

	pg, err := NewPostgresDB(context.Background(), config.DatabaseConfig{
		URL:            url,
		MigrationsPath: "file://../../../migrations",
	})
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })
	return pg
}

func newTestUser(t *testing.T, pg *PostgresDB, balance int) string {
	t.Helper()
	ctx := context.Background()
	user, err := pg.CreateUser(ctx, "user-"+uuid.NewString()[:8], "", "hash")
	require.NoError(t, err)
	if balance > 0 {
		_, err = pg.CreditTokens(ctx, user.ID, balance, "seed")
		require.NoError(t, err)
	}
	return user.ID
}

func TestPostgres_UserUniqueness(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	name := "dup-" + uuid.NewString()[:8]

	_, err := pg.CreateUser(ctx, name, "", "hash")
	require.NoError(t, err)
	_, err = pg.CreateUser(ctx, name, "", "hash")
	assert.ErrorIs(t, err, db.ErrUsernameTaken)

	_, err = pg.GetUserByUsername(ctx, "missing-"+uuid.NewString())
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestPostgres_ReserveSettleRelease(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	userID := newTestUser(t, pg, 10)
	convID := uuid.NewString()

	_, err := pg.ReserveTokens(ctx, userID, 1)
	require.NoError(t, err)
	balance, err := pg.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 9, balance)

	txn, err := pg.SettleTokens(ctx, userID, 1, 4, "Chat completion", &convID)
	require.NoError(t, err)
	assert.Equal(t, -4, txn.Amount)
	assert.Equal(t, 6, txn.BalanceAfter)

	_, err = pg.ReserveTokens(ctx, userID, 1)
	require.NoError(t, err)
	require.NoError(t, pg.ReleaseTokens(ctx, userID, 1))
	balance, err = pg.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 6, balance)

	txns, err := pg.GetTransactions(ctx, userID, 10)
	require.NoError(t, err)
	require.Len(t, txns, 2, "seed credit and one debit")
	assert.Equal(t, -4, txns[0].Amount)
}

func TestPostgres_ConcurrentDebitsNeverNegative(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	userID := newTestUser(t, pg, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = pg.ReserveTokens(ctx, userID, 1)
		}(i)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, db.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	balance, err := pg.GetBalance(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestPostgres_TurnLifecycle(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	alice := newTestUser(t, pg, 0)
	bob := newTestUser(t, pg, 0)
	convID := uuid.NewString()

	_, err := pg.EnsureConversation(ctx, convID, alice, "fractals")
	require.NoError(t, err)
	_, err = pg.EnsureConversation(ctx, convID, bob, "hijack")
	assert.ErrorIs(t, err, db.ErrNotFound)

	ids, err := pg.InsertUserMessages(ctx, convID, alice, []db.NewMessage{{Role: db.RoleUser, Content: "first"}}, db.StatusIncomplete)
	require.NoError(t, err)

	history, err := pg.GetConversationMessages(ctx, convID, alice)
	require.NoError(t, err)
	assert.Empty(t, history, "incomplete rows are not history")

	_, err = pg.CommitTurn(ctx, convID, alice, ids, "first answer")
	require.NoError(t, err)

	lost, err := pg.InsertUserMessages(ctx, convID, alice, []db.NewMessage{{Role: db.RoleUser, Content: "lost"}}, db.StatusIncomplete)
	require.NoError(t, err)

	deleted, err := pg.DeleteIncomplete(ctx, convID, bob, lost)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	deleted, err = pg.DeleteIncomplete(ctx, convID, alice, ids)
	require.NoError(t, err)
	assert.Zero(t, deleted, "complete rows are never deleted")
	deleted, err = pg.DeleteIncomplete(ctx, convID, alice, lost)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	history, err = pg.GetConversationMessages(ctx, convID, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "first answer", history[1].Content)

	foreign, err := pg.GetConversationMessages(ctx, convID, bob)
	require.NoError(t, err)
	assert.Empty(t, foreign)

	assert.ErrorIs(t, pg.DeleteConversation(ctx, convID, bob), db.ErrNotFound)
	require.NoError(t, pg.DeleteConversation(ctx, convID, alice))
	_, err = pg.GetConversation(ctx, convID, alice)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestPostgres_RollbackKeepsConcurrentTurn(t *testing.T) {
	pg := openTestDB(t)
	ctx := context.Background()
	alice := newTestUser(t, pg, 0)
	convID := uuid.NewString()

	_, err := pg.EnsureConversation(ctx, convID, alice, "race")
	require.NoError(t, err)

	kept, err := pg.InsertUserMessages(ctx, convID, alice, []db.NewMessage{{Role: db.RoleUser, Content: "kept"}}, db.StatusIncomplete)
	require.NoError(t, err)
	dropped, err := pg.InsertUserMessages(ctx, convID, alice, []db.NewMessage{{Role: db.RoleUser, Content: "dropped"}}, db.StatusIncomplete)
	require.NoError(t, err)

	deleted, err := pg.DeleteIncomplete(ctx, convID, alice, dropped)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = pg.CommitTurn(ctx, convID, alice, kept, "kept answer")
	require.NoError(t, err)

	history, err := pg.GetConversationMessages(ctx, convID, alice)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "kept", history[0].Content)
	assert.Equal(t, "kept answer", history[1].Content)
}
