package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"fractiverse/internal/config"
	"fractiverse/internal/service/llm"
)

// MockLLMProvider is a mock implementation of llm.Provider for testing
type MockLLMProvider struct {
	StreamChatFunc func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error)
	ModelName      string

	mu       sync.Mutex
	calls    int
	received [][]llm.Message
}

func (m *MockLLMProvider) StreamChat(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.calls++
	m.received = append(m.received, append([]llm.Message(nil), messages...))
	m.mu.Unlock()

	if m.StreamChatFunc != nil {
		return m.StreamChatFunc(ctx, messages)
	}
	return nil, errors.New("not implemented")
}

func (m *MockLLMProvider) Model() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return "test-model"
}

// Calls returns how many times StreamChat was invoked
func (m *MockLLMProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// LastMessages returns the message list of the most recent call
func (m *MockLLMProvider) LastMessages() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}

// StreamOf returns a StreamChatFunc that emits the given chunks and closes.
// Sending stops when ctx is done, like a real provider.
func StreamOf(chunks ...llm.StreamChunk) func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	return func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			for _, c := range chunks {
				select {
				case ch <- c:
				case <-ctx.Done():
					return
				}
			}
		}()
		return ch, nil
	}
}

// Fragments is StreamOf for plain content fragments
func Fragments(parts ...string) func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	chunks := make([]llm.StreamChunk, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, llm.StreamChunk{Content: p})
	}
	return StreamOf(chunks...)
}

// HangingStream emits the given fragments and then blocks until ctx is done
func HangingStream(parts ...string) func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	return func(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
		ch := make(chan llm.StreamChunk)
		go func() {
			defer close(ch)
			for _, p := range parts {
				select {
				case ch <- llm.StreamChunk{Content: p}:
				case <-ctx.Done():
					return
				}
			}
			<-ctx.Done()
		}()
		return ch, nil
	}
}

// NewTestConfig returns an application config suitable for unit tests
func NewTestConfig() *config.AppConfig {
	profile := config.DefaultAssistantProfile()
	return &config.AppConfig{
		Env:       "test",
		Assistant: profile,
		Server: config.ServerConfig{
			Port:         "0",
			MaxBodyBytes: 1 << 20,
		},
		LLM: config.LLMConfig{
			APIKey:       "test-api-key",
			Model:        "test-model",
			Temperature:  0.7,
			MaxTokens:    256,
			SystemPrompt: "You are FractiVerse.",
			Timeout:      5 * time.Second,
		},
		Auth: config.AuthConfig{
			JWTSecret:         []byte("test-secret-that-is-at-least-32-chars-long"),
			TokenExpiration:   time.Hour,
			CookieName:        "fv-access-token",
			SignupBonusTokens: 100,
		},
		Quota: config.QuotaConfig{
			MinCost:        1,
			CostModel:      "flat",
			ReserveOnStart: true,
		},
	}
}
