package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"fractiverse/internal/app"
	"fractiverse/internal/auth"
	"fractiverse/internal/logger"
	"fractiverse/internal/observe"
	"fractiverse/internal/repository/db"
	chatService "fractiverse/internal/service/chat"
	conversationService "fractiverse/internal/service/conversation"
	"fractiverse/internal/service/quota"
	"fractiverse/pkg/validation"

	"github.com/sirupsen/logrus"
)

const defaultMaxBodyBytes = 1 << 20

type contentEvent struct {
	Content string `json:"content"`
}

type errorEvent struct {
	Error string `json:"error"`
}

// ChatHandlers serves the completion, conversation and balance endpoints
type ChatHandlers struct {
	config              *app.Config
	resolver            *auth.Resolver
	metrics             *observe.Metrics
	chatService         *chatService.ChatService
	conversationService *conversationService.ConversationService
	ledger              *quota.Ledger
	maxBodyBytes        int64
}

// NewChatHandlers creates a new ChatHandlers with service layer
func NewChatHandlers(config *app.Config) *ChatHandlers {
	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	maxBody := config.AppConfig.Server.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	chat := chatService.NewChatService(config)
	return &ChatHandlers{
		config:              config,
		resolver:            auth.NewResolver(config.Identity, config.AppConfig.Auth.CookieName),
		metrics:             metrics,
		chatService:         chat,
		conversationService: conversationService.NewConversationService(config.DB),
		ledger:              chat.Ledger(),
		maxBodyBytes:        maxBody,
	}
}

// Resolver returns the credential resolver guarding the protected routes
func (ch *ChatHandlers) Resolver() *auth.Resolver {
	return ch.resolver
}

// ChatCompletionsHandler streams a metered completion as server-sent events.
// Every failure before the first byte maps to a status code; afterwards the
// stream ends with an error event instead of [DONE].
func (ch *ChatHandlers) ChatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	// Without a provider nothing else is worth doing, not even reading the body
	if ch.config.LLM == nil {
		ch.metrics.RecordCompletion(ctx, observe.OutcomeFailedBeforeSend)
		sendInternalError(w, r, ch.config.AppConfig, "LLM provider not configured", chatService.ErrLLMNotConfigured)
		return
	}

	req, err := validation.DecodeCompletionRequest(http.MaxBytesReader(w, r.Body, ch.maxBodyBytes))
	if err != nil {
		ch.metrics.RecordCompletion(ctx, observe.OutcomeRejectedInvalid)
		log.WithError(err).Info("Rejected invalid completion request")
		sendError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	userID, err := ch.resolver.Resolve(r, req.UserID)
	if err != nil {
		ch.metrics.RecordCompletion(ctx, observe.OutcomeRejectedAuth)
		sendError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	log = log.WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": req.ChatID,
	})
	ctx = logger.WithContext(ctx, log)
	log.WithField("message_count", len(req.Messages)).Info("Chat completion request received")

	flusher, ok := w.(http.Flusher)
	if !ok {
		sendInternalError(w, r, ch.config.AppConfig, "Streaming not supported", nil)
		return
	}

	completion, err := ch.chatService.Start(ctx, chatService.StreamRequest{
		UserID:   userID,
		ChatID:   req.ChatID,
		Messages: req.Messages,
	})
	if err != nil {
		ch.sendStartError(w, r.WithContext(ctx), err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = completion.Run(func(fragment string) error {
		if err := writeEvent(w, contentEvent{Content: fragment}); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	switch {
	case err == nil:
		fmt.Fprint(w, "data: [DONE]\n\n")
	case errors.Is(err, chatService.ErrClientGone):
		return
	case errors.Is(err, chatService.ErrStreamTimeout):
		writeEvent(w, errorEvent{Error: "Request timed out"})
	default:
		writeEvent(w, errorEvent{Error: "Stream interrupted"})
	}
	flusher.Flush()
}

func (ch *ChatHandlers) sendStartError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quota.ErrInsufficientBalance):
		sendError(w, http.StatusPaymentRequired, "Insufficient token balance")
	case errors.Is(err, chatService.ErrConversationNotFound):
		sendError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, db.ErrNotFound):
		// credential is valid but no account backs it
		sendError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, chatService.ErrStreamTimeout):
		sendError(w, http.StatusGatewayTimeout, "Request timed out")
	case errors.Is(err, chatService.ErrClientGone):
		logger.FromContext(r.Context()).Warn("Client went away before streaming started")
	case errors.Is(err, chatService.ErrLLMNotConfigured):
		sendInternalError(w, r, ch.config.AppConfig, "LLM provider not configured", err)
	default:
		sendInternalError(w, r, ch.config.AppConfig, "Internal server error", err)
	}
}

func writeEvent(w http.ResponseWriter, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, validation.ErrMissingFields):
		return "Missing required fields"
	case errors.Is(err, validation.ErrInvalidMessage):
		return "Invalid message format"
	case errors.Is(err, validation.ErrInvalidChatID):
		return "Invalid chatId"
	default:
		return "Invalid request body"
	}
}
