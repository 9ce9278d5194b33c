package llm

import "context"

// Message is one entry of the conversation sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the token accounting reported by the provider at the end of a stream
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamChunk is one increment of a streamed completion. A chunk carries
// either content, final usage, or a terminal error.
type StreamChunk struct {
	Content string
	Usage   *Usage
	Err     error
}

// Provider streams chat completions. Model parameters are fixed by the
// provider configuration; callers only supply the messages.
type Provider interface {
	// StreamChat starts a completion. A returned error means the stream never
	// started. The channel is closed when the stream ends; a failure during the
	// stream is delivered as a chunk with Err set. The producer stops when ctx
	// is done.
	StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error)

	// Model returns the model identifier used for completions
	Model() string
}
