package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fractiverse/internal/auth"
	"fractiverse/internal/logger"
	conversationService "fractiverse/internal/service/conversation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ConversationsResponse struct {
	Conversations []conversationService.Info `json:"conversations"`
}

type MessagesResponse struct {
	Messages []conversationService.MessageView `json:"messages"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type BalanceResponse struct {
	Balance   int    `json:"balance"`
	MinCost   int    `json:"min_cost"`
	CostModel string `json:"cost_model"`
}

type TransactionData struct {
	ID             string  `json:"id"`
	Amount         int     `json:"amount"`
	BalanceAfter   int     `json:"balance_after"`
	Description    string  `json:"description"`
	ConversationID *string `json:"conversation_id,omitempty"`
	CreatedAt      string  `json:"created_at"`
}

type TransactionsResponse struct {
	Transactions []TransactionData `json:"transactions"`
}

// GetConversationsHandler lists the caller's conversations
func (ch *ChatHandlers) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	conversations, err := ch.conversationService.GetUserConversations(r.Context(), userID)
	if err != nil {
		sendInternalError(w, r, ch.config.AppConfig, "Error retrieving conversations", err)
		return
	}

	sendJSON(w, http.StatusOK, ConversationsResponse{Conversations: conversations})
}

// GetConversationMessagesHandler returns the complete messages of one conversation
func (ch *ChatHandlers) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	messages, err := ch.conversationService.GetConversationMessages(r.Context(), convID, userID)
	if err != nil {
		if errors.Is(err, conversationService.ErrNotFound) {
			sendError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		sendInternalError(w, r, ch.config.AppConfig, "Error retrieving messages", err)
		return
	}

	sendJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

// DeleteConversationHandler deletes a conversation and all of its messages
func (ch *ChatHandlers) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	convID, ok := conversationID(w, r)
	if !ok {
		return
	}

	if err := ch.conversationService.DeleteConversation(r.Context(), convID, userID); err != nil {
		if errors.Is(err, conversationService.ErrNotFound) {
			sendError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		sendInternalError(w, r, ch.config.AppConfig, "Error deleting conversation", err)
		return
	}

	logger.FromContext(r.Context()).WithFields(logrus.Fields{
		"user_id":         userID,
		"conversation_id": convID,
	}).Info("Conversation deleted")

	sendJSON(w, http.StatusOK, DeleteResponse{Success: true, Message: "Conversation deleted successfully"})
}

// BalanceHandler reports the caller's spendable balance and the charging rules
func (ch *ChatHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	balance, err := ch.ledger.Balance(r.Context(), userID)
	if err != nil {
		sendInternalError(w, r, ch.config.AppConfig, "Error retrieving balance", err)
		return
	}

	sendJSON(w, http.StatusOK, BalanceResponse{
		Balance:   balance,
		MinCost:   ch.ledger.MinCost(),
		CostModel: ch.ledger.CostModel(),
	})
}

// TransactionsHandler lists the caller's ledger entries, newest first.
// An optional ?limit caps the count.
func (ch *ChatHandlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			sendError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	txns, err := ch.ledger.Transactions(r.Context(), userID, limit)
	if err != nil {
		sendInternalError(w, r, ch.config.AppConfig, "Error retrieving transactions", err)
		return
	}

	data := make([]TransactionData, 0, len(txns))
	for _, t := range txns {
		data = append(data, TransactionData{
			ID:             t.ID,
			Amount:         t.Amount,
			BalanceAfter:   t.BalanceAfter,
			Description:    t.Description,
			ConversationID: t.ConversationID,
			CreatedAt:      t.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	sendJSON(w, http.StatusOK, TransactionsResponse{Transactions: data})
}

// conversationID reads the {id} path value; malformed ids cannot exist
func conversationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		sendError(w, http.StatusNotFound, "Conversation not found")
		return "", false
	}
	return id.String(), true
}
