package api

import (
	"net/http"

	"fractiverse/internal/api/handlers"
	"fractiverse/internal/app"
	"fractiverse/internal/observe"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	allowedMethods = "GET, POST, DELETE, OPTIONS"
	allowedHeaders = "Content-Type, Authorization, X-Correlation-ID"
)

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
		w.Header().Set("Access-Control-Expose-Headers", "X-Correlation-ID")
		next.ServeHTTP(w, r)
	})
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// NewRouter registers every route. Protected routes go through the
// credential resolver; the completion endpoint resolves credentials itself
// so it can match the userId in the body against them.
func NewRouter(config *app.Config) http.Handler {
	chat := handlers.NewChatHandlers(config)
	protect := chat.Resolver().Middleware

	mux := http.NewServeMux()
	route := func(pattern, path string, h http.Handler) {
		mux.Handle(pattern, h)
		mux.HandleFunc("OPTIONS "+path, preflight)
	}

	route("GET /api/health", "/api/health", handlers.HealthHandler(config))

	if !config.UsesRemoteIdentity() {
		accounts := handlers.NewAuthHandlers(config)
		route("POST /api/register", "/api/register", http.HandlerFunc(accounts.RegisterHandler))
		route("POST /api/login", "/api/login", http.HandlerFunc(accounts.LoginHandler))
	}

	route("POST /api/chat/completions", "/api/chat/completions", http.HandlerFunc(chat.ChatCompletionsHandler))
	route("GET /api/conversations", "/api/conversations", protect(http.HandlerFunc(chat.GetConversationsHandler)))
	route("GET /api/conversations/{id}/messages", "/api/conversations/{id}/messages", protect(http.HandlerFunc(chat.GetConversationMessagesHandler)))
	route("DELETE /api/conversations/{id}", "/api/conversations/{id}", protect(http.HandlerFunc(chat.DeleteConversationHandler)))
	route("GET /api/balance", "/api/balance", protect(http.HandlerFunc(chat.BalanceHandler)))
	route("GET /api/balance/transactions", "/api/balance/transactions", protect(http.HandlerFunc(chat.TransactionsHandler)))

	mux.Handle("GET /metrics", promhttp.Handler())

	metrics := config.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return observe.Middleware(metrics)(enableCORS(mux))
}
