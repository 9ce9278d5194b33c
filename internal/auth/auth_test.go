package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-that-is-at-least-32-chars-long")

func TestJWTVerifier_IssueAndVerify(t *testing.T) {
	v := NewJWTVerifier(testSecret, time.Hour)

	token, err := v.Issue("user-1", "alice")
	require.NoError(t, err)

	identity, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier(testSecret, time.Hour)
	valid, err := v.Issue("user-1", "alice")
	require.NoError(t, err)

	expired := NewJWTVerifier(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredToken, err := expired.Issue("user-1", "alice")
	require.NoError(t, err)

	otherSecret, err := NewJWTVerifier([]byte("another-secret-that-is-32-chars-long!!"), time.Hour).Issue("user-1", "alice")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(testSecret)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":          expiredToken,
		"wrong secret":     otherSecret,
		"alg none":         none,
		"missing subject":  noSubject,
		"garbage":          "not-a-token",
		"forged signature": valid[:strings.LastIndex(valid, ".")+1] + "c2lnbmF0dXJl",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
		want   string
	}{
		{"bearer header", "Bearer abc", "", "abc"},
		{"lowercase scheme", "bearer abc", "", "abc"},
		{"header wins over cookie", "Bearer abc", "def", "abc"},
		{"cookie fallback", "", "def", "def"},
		{"basic scheme", "Basic abc", "", ""},
		{"malformed header", "Bearer", "def", ""},
		{"nothing", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "fv-access-token", Value: tt.cookie})
			}
			assert.Equal(t, tt.want, BearerToken(r, "fv-access-token"))
		})
	}
}

type stubProvider struct {
	identity *Identity
	err      error
	tokens   []string
}

func (s *stubProvider) Verify(ctx context.Context, token string) (*Identity, error) {
	s.tokens = append(s.tokens, token)
	return s.identity, s.err
}

func TestResolver_Resolve(t *testing.T) {
	provider := &stubProvider{identity: &Identity{UserID: "user-1"}}
	resolver := NewResolver(provider, "fv-access-token")

	authed := func() *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/api/chat/completions", nil)
		r.Header.Set("Authorization", "Bearer tok")
		return r
	}

	userID, err := resolver.Resolve(authed(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	userID, err = resolver.Resolve(authed(), "")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	_, err = resolver.Resolve(authed(), "user-2")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = resolver.Resolve(httptest.NewRequest(http.MethodPost, "/", nil), "user-1")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, []string{"tok", "tok", "tok"}, provider.tokens, "provider must not be called without a token")
}

func TestResolver_ProviderErrorsAreUnauthenticated(t *testing.T) {
	resolver := NewResolver(&stubProvider{err: errors.New("identity service down")}, "")
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer tok")

	_, err := resolver.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestResolver_Middleware(t *testing.T) {
	resolver := NewResolver(&stubProvider{identity: &Identity{UserID: "user-1"}}, "")
	var seen string
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserIDFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/balance", nil)
	r.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", seen)

	seen = ""
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/balance", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	assert.Empty(t, seen)
}

func TestUserIDFromContext(t *testing.T) {
	_, ok := UserIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = UserIDFromContext(WithUserID(context.Background(), ""))
	assert.False(t, ok)

	id, ok := UserIDFromContext(WithUserID(context.Background(), "user-1"))
	assert.True(t, ok)
	assert.Equal(t, "user-1", id)
}

func TestRemoteVerifier(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "anon-key", r.Header.Get("apikey"))
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "email": "alice@example.com"})
		case "Bearer broken":
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	v := NewRemoteVerifier(server.URL+"/", "anon-key", server.Client())

	identity, err := v.Verify(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, &Identity{UserID: "user-1", Email: "alice@example.com"}, identity)

	_, err = v.Verify(context.Background(), "bad")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = v.Verify(context.Background(), "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnauthenticated)
	assert.Contains(t, err.Error(), "502")
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))
}
