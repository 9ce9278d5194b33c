package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"fractiverse/internal/app"
	"fractiverse/internal/auth"
	"fractiverse/internal/logger"
	"fractiverse/internal/repository/db"
	"fractiverse/internal/service/quota"
	"fractiverse/pkg/validation"

	"github.com/sirupsen/logrus"
)

const signupDescription = "Signup bonus"

type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type RegisterResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	UserID  string `json:"user_id"`
	Balance int    `json:"balance"`
}

// AuthHandlers serves local account registration and login
type AuthHandlers struct {
	config *app.Config
	ledger *quota.Ledger
}

// NewAuthHandlers creates AuthHandlers
func NewAuthHandlers(config *app.Config) *AuthHandlers {
	return &AuthHandlers{
		config: config,
		ledger: quota.NewLedger(config.DB, config.AppConfig.Quota),
	}
}

// RegisterHandler creates a new user account and grants the signup bonus
func (h *AuthHandlers) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var creds validation.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)).Decode(&creds); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	creds.Normalize()

	if err := validation.ValidateRegistration(creds); err != nil {
		sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: detail(err)})
		return
	}

	hash, err := auth.HashPassword(creds.Password)
	if err != nil {
		sendInternalError(w, r, h.config.AppConfig, "Error creating user", err)
		return
	}

	user, err := h.config.DB.CreateUser(r.Context(), creds.Username, creds.Email, hash)
	if err != nil {
		if errors.Is(err, db.ErrUsernameTaken) {
			sendError(w, http.StatusConflict, "Username already exists")
			return
		}
		sendInternalError(w, r, h.config.AppConfig, "Error creating user", err)
		return
	}

	log := logger.FromContext(r.Context()).WithFields(logrus.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	})

	balance := 0
	if bonus := h.config.AppConfig.Auth.SignupBonusTokens; bonus > 0 {
		if err := h.ledger.Credit(r.Context(), user.ID, bonus, signupDescription); err != nil {
			log.WithError(err).Error("Failed to credit signup bonus")
		} else {
			balance = bonus
		}
	}

	token, err := h.issue(w, user)
	if err != nil {
		sendInternalError(w, r, h.config.AppConfig, "Error generating token", err)
		return
	}

	log.Info("User registered successfully")
	sendJSON(w, http.StatusCreated, RegisterResponse{
		Message: "User registered successfully",
		Token:   token,
		UserID:  user.ID,
		Balance: balance,
	})
}

// LoginHandler authenticates a user and returns a bearer token
func (h *AuthHandlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var creds validation.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, defaultMaxBodyBytes)).Decode(&creds); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	creds.Normalize()

	if err := validation.ValidateLogin(creds); err != nil {
		sendError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	log := logger.FromContext(r.Context()).WithField("username", creds.Username)

	user, err := h.config.DB.GetUserByUsername(r.Context(), creds.Username)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Info("Login failed: user not found")
			sendError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		sendInternalError(w, r, h.config.AppConfig, "Error logging in", err)
		return
	}

	if !auth.CheckPassword(user.PasswordHash, creds.Password) {
		log.Info("Login failed: invalid password")
		sendError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := h.issue(w, user)
	if err != nil {
		sendInternalError(w, r, h.config.AppConfig, "Error generating token", err)
		return
	}

	log.WithField("user_id", user.ID).Info("User logged in successfully")
	sendJSON(w, http.StatusOK, LoginResponse{Token: token, UserID: user.ID})
}

// issue signs a token and mirrors it into the auth cookie
func (h *AuthHandlers) issue(w http.ResponseWriter, user *db.User) (string, error) {
	token, err := h.config.Tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", err
	}
	if name := h.config.AppConfig.Auth.CookieName; name != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    token,
			Path:     "/",
			MaxAge:   int(h.config.AppConfig.Auth.TokenExpiration.Seconds()),
			HttpOnly: true,
			Secure:   !h.config.AppConfig.IsDevelopment(),
			SameSite: http.SameSiteLaxMode,
		})
	}
	return token, nil
}

func detail(err error) string {
	var verr *validation.ValidationError
	if errors.As(err, &verr) && verr.Detail != "" {
		return verr.Detail
	}
	return err.Error()
}
