package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"fractiverse/internal/logger"

	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated is returned when no valid identity backs a request.
// Callers never learn which check failed.
var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey string

const userIDContextKey contextKey = "user_id"

// Identity is the verified owner of a bearer token
type Identity struct {
	UserID string
	Email  string
}

// IdentityProvider verifies a bearer token and returns its owner
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Resolver turns a request's credential into a user id
type Resolver struct {
	provider   IdentityProvider
	cookieName string
}

// NewResolver creates a Resolver reading the Authorization header first and
// the named cookie second
func NewResolver(provider IdentityProvider, cookieName string) *Resolver {
	return &Resolver{provider: provider, cookieName: cookieName}
}

// Authenticate verifies the request credential
func (r *Resolver) Authenticate(req *http.Request) (*Identity, error) {
	token := BearerToken(req, r.cookieName)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	identity, err := r.provider.Verify(req.Context(), token)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) {
			logger.FromContext(req.Context()).WithError(err).Warn("Identity verification failed")
		}
		return nil, ErrUnauthenticated
	}
	return identity, nil
}

// Resolve authenticates the request and checks that a user id claimed in the
// body, when present, is the authenticated one
func (r *Resolver) Resolve(req *http.Request, claimedUserID string) (string, error) {
	identity, err := r.Authenticate(req)
	if err != nil {
		return "", err
	}
	if claimedUserID != "" && claimedUserID != identity.UserID {
		logger.FromContext(req.Context()).WithFields(logrus.Fields{
			"user_id":         identity.UserID,
			"claimed_user_id": claimedUserID,
		}).Warn("Rejected request: user id does not match credential")
		return "", ErrUnauthenticated
	}
	return identity.UserID, nil
}

// Middleware rejects unauthenticated requests with 401 and stores the user
// id on the request context
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		identity, err := r.Authenticate(req)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, req.WithContext(WithUserID(req.Context(), identity.UserID)))
	})
}

// BearerToken extracts the token from "Authorization: Bearer <token>", falling
// back to the cookie when the header is absent
func BearerToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}

// WithUserID stores the authenticated user id on ctx
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the user id stored by Middleware
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	return userID, ok && userID != ""
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
}
