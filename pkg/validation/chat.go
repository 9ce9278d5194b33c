package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"fractiverse/internal/service/llm"

	"github.com/google/uuid"
)

const (
	// MaxMessages bounds the number of messages accepted in one request
	MaxMessages = 50
	// MaxContentLength bounds a single message, in characters
	MaxContentLength = 20000
)

var (
	// ErrMissingFields is returned when a top-level field is absent or null
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidMessage is returned when a message is not a {role, content} object
	ErrInvalidMessage = errors.New("invalid message format")
	// ErrInvalidBody is returned when the body is not a JSON object
	ErrInvalidBody = errors.New("invalid request body")
	// ErrInvalidChatID is returned when chatId is not a UUID
	ErrInvalidChatID = errors.New("invalid chat id")
)

var validRoles = map[string]bool{
	"user":      true,
	"assistant": true,
	"system":    true,
}

// ValidationError carries the failure kind and a detail for logs
type ValidationError struct {
	Kind   error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func invalid(kind error, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// CompletionRequest is a decoded and validated chat completion request
type CompletionRequest struct {
	Messages []llm.Message
	UserID   string
	ChatID   string
}

type completionBody struct {
	Messages json.RawMessage `json:"messages"`
	UserID   json.RawMessage `json:"userId"`
	ChatID   json.RawMessage `json:"chatId"`
}

type messageBody struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

// DecodeCompletionRequest decodes a completion request body. Top-level
// fields are checked for presence before their shape, so a body missing
// chatId reports ErrMissingFields even when its messages are malformed.
func DecodeCompletionRequest(r io.Reader) (*CompletionRequest, error) {
	var body completionBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		return nil, invalid(ErrInvalidBody, "%v", err)
	}

	if absent(body.Messages) || absent(body.UserID) || absent(body.ChatID) {
		return nil, &ValidationError{Kind: ErrMissingFields}
	}

	var userID, chatID string
	if err := json.Unmarshal(body.UserID, &userID); err != nil {
		return nil, invalid(ErrInvalidBody, "userId must be a string")
	}
	if err := json.Unmarshal(body.ChatID, &chatID); err != nil {
		return nil, invalid(ErrInvalidBody, "chatId must be a string")
	}
	userID = strings.TrimSpace(userID)
	chatID = strings.TrimSpace(chatID)
	if userID == "" || chatID == "" {
		return nil, &ValidationError{Kind: ErrMissingFields}
	}

	parsed, err := uuid.Parse(chatID)
	if err != nil {
		return nil, invalid(ErrInvalidChatID, "%v", err)
	}

	messages, err := decodeMessages(body.Messages)
	if err != nil {
		return nil, err
	}

	return &CompletionRequest{
		Messages: messages,
		UserID:   userID,
		ChatID:   parsed.String(),
	}, nil
}

func decodeMessages(raw json.RawMessage) ([]llm.Message, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, invalid(ErrInvalidMessage, "messages must be an array")
	}
	if len(items) == 0 {
		return nil, invalid(ErrMissingFields, "messages is empty")
	}
	if len(items) > MaxMessages {
		return nil, invalid(ErrInvalidMessage, "at most %d messages are allowed, got %d", MaxMessages, len(items))
	}

	messages := make([]llm.Message, 0, len(items))
	for i, item := range items {
		var m messageBody
		if err := json.Unmarshal(item, &m); err != nil {
			return nil, invalid(ErrInvalidMessage, "message %d is not an object", i)
		}
		if err := ValidateMessage(m.Role, m.Content); err != nil {
			return nil, invalid(ErrInvalidMessage, "message %d: %v", i, err)
		}
		messages = append(messages, llm.Message{Role: *m.Role, Content: *m.Content})
	}
	return messages, nil
}

// ValidateMessage checks a single message's role and content
func ValidateMessage(role, content *string) error {
	if role == nil || content == nil {
		return errors.New("role and content are required")
	}
	if !validRoles[*role] {
		return fmt.Errorf("unknown role %q", *role)
	}
	if strings.TrimSpace(*content) == "" {
		return errors.New("content cannot be empty")
	}
	if n := utf8.RuneCountInString(*content); n > MaxContentLength {
		return fmt.Errorf("content must be at most %d characters, got %d", MaxContentLength, n)
	}
	return nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
