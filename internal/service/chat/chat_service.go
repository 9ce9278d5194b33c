package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fractiverse/internal/app"
	"fractiverse/internal/observe"
	"fractiverse/internal/repository/db"
	"fractiverse/internal/service/history"
	"fractiverse/internal/service/llm"
	"fractiverse/internal/service/quota"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrLLMNotConfigured is returned when no LLM credential is configured
	ErrLLMNotConfigured = errors.New("LLM provider not configured")
	// ErrConversationNotFound is returned when the chat id belongs to another user
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrStreamTimeout is returned when the completion exceeded the request timeout
	ErrStreamTimeout = errors.New("completion timed out")
	// ErrClientGone is returned when the client disconnected during the stream
	ErrClientGone = errors.New("client disconnected")
	// ErrEmptyCompletion is returned when the stream ended without any content
	ErrEmptyCompletion = errors.New("completion produced no content")
)

const (
	maxTitleRunes     = 100
	finalizeTimeout   = 10 * time.Second
	defaultLLMTimeout = 60 * time.Second
	debitDescription  = "Chat completion"
	reasonCancelled   = "client_cancelled"
)

// StreamRequest is a validated chat completion request
type StreamRequest struct {
	UserID   string
	ChatID   string
	Messages []llm.Message
}

// ChatService runs the metered completion pipeline
type ChatService struct {
	db           db.Database
	llmProvider  llm.Provider
	ledger       *quota.Ledger
	history      *history.Loader
	metrics      *observe.Metrics
	systemPrompt string
	timeout      time.Duration
	costModel    string
}

// NewChatService creates a new ChatService
func NewChatService(config *app.Config) *ChatService {
	timeout := config.AppConfig.LLM.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &ChatService{
		db:           config.DB,
		llmProvider:  config.LLM,
		ledger:       quota.NewLedger(config.DB, config.AppConfig.Quota),
		history:      history.NewLoader(config.DB),
		metrics:      metrics,
		systemPrompt: config.AppConfig.LLM.SystemPrompt,
		timeout:      timeout,
		costModel:    config.AppConfig.Quota.CostModel,
	}
}

// Ledger exposes the quota ledger used by the service
func (s *ChatService) Ledger() *quota.Ledger {
	return s.ledger
}

// Start runs every step up to and including opening the LLM stream. Any
// error returned here happened before a byte was sent to the client, and
// nothing it did is left behind.
func (s *ChatService) Start(ctx context.Context, req StreamRequest) (*Completion, error) {
	if s.llmProvider == nil {
		return nil, ErrLLMNotConfigured
	}

	ctx, span := observe.StartSpan(ctx, "chat.start", trace.WithAttributes(
		attribute.String("conversation_id", req.ChatID),
		attribute.String("user_id", req.UserID),
	))
	defer span.End()

	log := observe.Logger(ctx).WithFields(logrus.Fields{
		"conversation_id": req.ChatID,
		"user_id":         req.UserID,
	})

	check, err := s.ledger.CheckBalance(ctx, req.UserID)
	if err != nil {
		return nil, s.startFailed(span, err)
	}
	if !check.Sufficient {
		log.WithField("balance", check.Balance).Info("Rejected completion: insufficient balance")
		return nil, s.startFailed(span, quota.ErrInsufficientBalance)
	}

	reservation, err := s.ledger.Reserve(ctx, req.UserID, req.ChatID)
	if err != nil {
		return nil, s.startFailed(span, err)
	}
	release := func() {
		if err := reservation.Release(ctx); err != nil {
			log.WithError(err).Error("Failed to release token reservation")
		}
	}

	conv, err := s.db.EnsureConversation(ctx, req.ChatID, req.UserID, titleFrom(req.Messages))
	if err != nil {
		release()
		if errors.Is(err, db.ErrNotFound) {
			return nil, s.startFailed(span, ErrConversationNotFound)
		}
		return nil, s.startFailed(span, fmt.Errorf("failed to get/create conversation: %w", err))
	}

	past, err := s.history.Load(ctx, conv.ID, req.UserID)
	if err != nil {
		release()
		return nil, s.startFailed(span, err)
	}

	userMessageIDs, err := s.db.InsertUserMessages(ctx, conv.ID, req.UserID, toNewMessages(req.Messages), db.StatusIncomplete)
	if err != nil {
		release()
		return nil, s.startFailed(span, fmt.Errorf("failed to save user message: %w", err))
	}

	c := &Completion{
		svc:            s,
		ctx:            ctx,
		conversationID: conv.ID,
		userID:         req.UserID,
		userMessageIDs: userMessageIDs,
		reservation:    reservation,
		log:            log,
	}

	messages := history.Assemble(s.systemPrompt, past, req.Messages)
	log.WithFields(logrus.Fields{
		"history_count": len(past),
		"message_count": len(messages),
		"model":         s.llmProvider.Model(),
	}).Debug("Starting streaming LLM call")

	c.streamCtx, c.cancel = context.WithTimeout(ctx, s.timeout)
	c.started = time.Now()

	chunks, err := s.llmProvider.StreamChat(c.streamCtx, messages)
	if err != nil {
		cause := c.classify(fmt.Errorf("LLM streaming error: %w", err))
		c.cancel()
		c.rollback(cause)
		return nil, s.startFailed(span, cause)
	}
	c.chunks = chunks

	return c, nil
}

func (s *ChatService) startFailed(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	outcome := observe.OutcomeFailedBeforeSend
	switch {
	case errors.Is(err, quota.ErrInsufficientBalance):
		outcome = observe.OutcomeRejectedQuota
	case errors.Is(err, ErrStreamTimeout):
		outcome = observe.OutcomeTimedOut
	case errors.Is(err, ErrClientGone):
		outcome = observe.OutcomeClientCancelled
	}
	s.metrics.RecordCompletion(context.Background(), outcome)
	return err
}

// Completion is an open LLM stream bound to one request. Run must be called
// exactly once.
type Completion struct {
	svc            *ChatService
	ctx            context.Context
	streamCtx      context.Context
	cancel         context.CancelFunc
	chunks         <-chan llm.StreamChunk
	conversationID string
	userID         string
	userMessageIDs []string
	reservation    *quota.Reservation
	started        time.Time
	log            *logrus.Entry
}

// ConversationID returns the conversation the completion belongs to
func (c *Completion) ConversationID() string {
	return c.conversationID
}

// Run forwards every fragment to emit as it arrives. When the stream ends
// cleanly the turn is persisted and charged; on any failure, including emit
// failing because the client went away, the provisional rows are deleted and
// the reservation is released.
func (c *Completion) Run(emit func(fragment string) error) error {
	defer c.cancel()

	ctx, span := observe.StartSpan(c.ctx, "chat.stream", trace.WithAttributes(
		attribute.String("conversation_id", c.conversationID),
	))
	defer span.End()

	c.svc.metrics.ActiveStreams.Add(ctx, 1)
	defer c.svc.metrics.ActiveStreams.Add(ctx, -1)

	var response strings.Builder
	var usage *llm.Usage

	for {
		select {
		case chunk, ok := <-c.chunks:
			if !ok {
				if c.streamCtx.Err() != nil {
					return c.fail(span, c.classify(c.streamCtx.Err()))
				}
				if response.Len() == 0 {
					return c.fail(span, ErrEmptyCompletion)
				}
				c.finalize(span, response.String(), usage)
				return nil
			}
			if chunk.Err != nil {
				return c.fail(span, c.classify(chunk.Err))
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Content == "" {
				continue
			}
			response.WriteString(chunk.Content)
			if err := emit(chunk.Content); err != nil {
				return c.fail(span, fmt.Errorf("%w: %v", ErrClientGone, err))
			}
		case <-c.streamCtx.Done():
			return c.fail(span, c.classify(c.streamCtx.Err()))
		}
	}
}

// classify maps a stream failure onto cancellation, timeout or a plain error
func (c *Completion) classify(err error) error {
	if errors.Is(c.ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	if c.streamCtx != nil && errors.Is(c.streamCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrStreamTimeout, err)
	}
	return err
}

func (c *Completion) fail(span trace.Span, cause error) error {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	c.rollback(cause)
	return cause
}

// rollback deletes the provisional rows of this turn and returns the hold.
// Provisional rows of a concurrent turn in the same conversation survive.
// It runs on a context detached from the request so a disconnected client
// is still cleaned up.
func (c *Completion) rollback(cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), finalizeTimeout)
	defer cancel()

	deleted, err := c.svc.db.DeleteIncomplete(ctx, c.conversationID, c.userID, c.userMessageIDs)
	if err != nil {
		c.log.WithError(err).Error("Failed to delete incomplete messages")
	}
	if err := c.reservation.Release(ctx); err != nil {
		c.log.WithError(err).Error("Failed to release token reservation")
	}

	log := c.log.WithField("deleted_messages", deleted)
	outcome := observe.OutcomeRolledBack
	switch {
	case errors.Is(cause, ErrClientGone):
		outcome = observe.OutcomeClientCancelled
		log.WithField("reason", reasonCancelled).Warn("Completion cancelled by client, rolled back")
	case errors.Is(cause, ErrStreamTimeout):
		outcome = observe.OutcomeTimedOut
		log.WithError(cause).Error("Completion timed out, rolled back")
	default:
		log.WithError(cause).Error("Completion failed, rolled back")
	}
	c.svc.metrics.RecordCompletion(ctx, outcome)
}

// finalize persists the turn and charges the user. The response has already
// been streamed, so failures are logged and not retried.
func (c *Completion) finalize(span trace.Span, response string, usage *llm.Usage) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), finalizeTimeout)
	defer cancel()

	c.svc.metrics.LLMDuration.Record(ctx, time.Since(c.started).Seconds())

	if _, err := c.svc.db.CommitTurn(ctx, c.conversationID, c.userID, c.userMessageIDs, response); err != nil {
		span.RecordError(err)
		c.log.WithError(err).Error("Failed to persist assistant message")
		if _, err := c.svc.db.DeleteIncomplete(ctx, c.conversationID, c.userID, c.userMessageIDs); err != nil {
			c.log.WithError(err).Error("Failed to delete incomplete messages")
		}
	}

	totalTokens := 0
	if usage != nil {
		totalTokens = usage.TotalTokens
	}
	cost := c.svc.ledger.Cost(totalTokens)

	if err := c.reservation.Settle(ctx, cost, debitDescription); err != nil {
		span.RecordError(err)
		c.log.WithError(err).WithField("cost", cost).Error("Failed to debit tokens for completed stream")
	} else {
		c.svc.metrics.RecordDebit(ctx, cost, c.svc.costModel)
	}

	c.svc.metrics.RecordCompletion(ctx, observe.OutcomeCompleted)
	c.log.WithFields(logrus.Fields{
		"response_chars": len(response),
		"total_tokens":   totalTokens,
		"cost":           cost,
	}).Info("Completed streaming response")
}

// titleFrom uses the first user message, cut to maxTitleRunes runes
func titleFrom(messages []llm.Message) string {
	title := ""
	for _, m := range messages {
		if m.Role == db.RoleUser {
			title = m.Content
			break
		}
	}
	if title == "" && len(messages) > 0 {
		title = messages[0].Content
	}
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		title = string(runes[:maxTitleRunes])
	}
	return title
}

func toNewMessages(messages []llm.Message) []db.NewMessage {
	out := make([]db.NewMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, db.NewMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
