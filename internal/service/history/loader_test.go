package history

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"fractiverse/internal/repository/db"
	"fractiverse/internal/service/llm"
	"fractiverse/internal/testutil"
)

func TestLoad_RoundTripsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	userID := store.AddUser("alice", 0)
	if _, err := store.EnsureConversation(ctx, "conv-1", userID, "t"); err != nil {
		t.Fatalf("EnsureConversation: %v", err)
	}

	var want []llm.Message
	for i := 0; i < 6; i++ {
		role := db.RoleUser
		if i%2 == 1 {
			role = db.RoleAssistant
		}
		content := fmt.Sprintf("m%d", i+1)
		want = append(want, llm.Message{Role: role, Content: content})

		var err error
		if role == db.RoleUser {
			_, err = store.InsertUserMessages(ctx, "conv-1", userID, []db.NewMessage{{Role: role, Content: content}}, db.StatusComplete)
		} else {
			_, err = store.InsertAssistantMessage(ctx, "conv-1", userID, content, db.StatusComplete)
		}
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	loader := NewLoader(store)
	got, err := loader.Load(ctx, "conv-1", userID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Load() returned %d messages, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLoad_SkipsIncompleteAndForeignRows(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewMemoryStore()
	alice := store.AddUser("alice", 0)
	bob := store.AddUser("bob", 0)
	store.EnsureConversation(ctx, "conv-1", alice, "t")

	store.InsertUserMessages(ctx, "conv-1", alice, []db.NewMessage{{Role: db.RoleUser, Content: "kept"}}, db.StatusComplete)
	store.InsertUserMessages(ctx, "conv-1", alice, []db.NewMessage{{Role: db.RoleUser, Content: "provisional"}}, db.StatusIncomplete)

	loader := NewLoader(store)
	got, err := loader.Load(ctx, "conv-1", alice)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "kept" {
		t.Errorf("Load() = %+v, want only the complete row", got)
	}

	got, err = loader.Load(ctx, "conv-1", bob)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Load() for another user = %+v, want empty", got)
	}
}

func TestLoad_StoreError(t *testing.T) {
	store := testutil.NewMemoryStore()
	store.SetError("GetConversationMessages", errors.New("connection refused"))

	_, err := NewLoader(store).Load(context.Background(), "conv-1", "user-1")
	if err == nil {
		t.Fatal("Load() expected error, got nil")
	}
}

func TestAssemble(t *testing.T) {
	history := []llm.Message{
		{Role: "user", Content: "m1"},
		{Role: "assistant", Content: "m2"},
	}
	incoming := []llm.Message{{Role: "user", Content: "new"}}

	tests := []struct {
		name   string
		system string
		want   []llm.Message
	}{
		{
			name:   "system prompt first",
			system: "You are FractiVerse.",
			want: []llm.Message{
				{Role: "system", Content: "You are FractiVerse."},
				{Role: "user", Content: "m1"},
				{Role: "assistant", Content: "m2"},
				{Role: "user", Content: "new"},
			},
		},
		{
			name:   "no system prompt",
			system: "",
			want: []llm.Message{
				{Role: "user", Content: "m1"},
				{Role: "assistant", Content: "m2"},
				{Role: "user", Content: "new"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Assemble(tt.system, history, incoming)
			if len(got) != len(tt.want) {
				t.Fatalf("Assemble() returned %d messages, want %d", len(got), len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("message %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAssemble_DoesNotAliasHistory(t *testing.T) {
	history := make([]llm.Message, 1, 4)
	history[0] = llm.Message{Role: "user", Content: "m1"}

	got := Assemble("", history, []llm.Message{{Role: "user", Content: "new"}})
	got[0].Content = "changed"

	if history[0].Content != "m1" {
		t.Errorf("Assemble() modified the caller's history slice")
	}
}
