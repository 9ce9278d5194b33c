package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"fractiverse/internal/config"
	"fractiverse/internal/logger"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIProvider implements Provider against any OpenAI-compatible endpoint
// (OpenRouter by default)
type OpenAIProvider struct {
	client *openai.Client
	config config.LLMConfig
}

// NewOpenAIProvider creates a provider from the LLM configuration
func NewOpenAIProvider(llmConfig config.LLMConfig) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(llmConfig.APIKey)
	if llmConfig.BaseURL != "" {
		clientConfig.BaseURL = llmConfig.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{
		Transport: &headerTransport{
			base: http.DefaultTransport,
			headers: map[string]string{
				"HTTP-Referer": "https://fractiverse.app",
				"X-Title":      "FractiVerse",
			},
		},
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: llmConfig,
	}
}

// Model returns the configured model
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// StreamChat sends the messages and streams the response
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan StreamChunk, error) {
	req := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(p.config.Temperature),
		MaxTokens:   p.config.MaxTokens,
		Stream:      true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	logger.Log.WithFields(logrus.Fields{
		"model":         req.Model,
		"message_count": len(messages),
	}).Info("Calling LLM streaming API")

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error starting completion stream: %w", err)
	}

	chunks := make(chan StreamChunk)

	go func() {
		defer close(chunks)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, chunks, StreamChunk{Err: fmt.Errorf("error reading completion stream: %w", err)})
				return
			}

			var chunk StreamChunk
			if len(resp.Choices) > 0 {
				chunk.Content = resp.Choices[0].Delta.Content
			}
			if resp.Usage != nil {
				chunk.Usage = &Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if chunk.Content == "" && chunk.Usage == nil {
				continue
			}
			if !send(ctx, chunks, chunk) {
				return
			}
		}
	}()

	return chunks, nil
}

// send delivers a chunk unless the consumer has gone away
func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	return out
}

// headerTransport adds fixed headers to every outgoing request
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
