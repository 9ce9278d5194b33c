package app

import (
	"fractiverse/internal/auth"
	"fractiverse/internal/config"
	"fractiverse/internal/observe"
	"fractiverse/internal/repository/db"
	"fractiverse/internal/service/llm"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig
	// LLM is nil when no API key is configured
	LLM llm.Provider
	// Tokens issues and verifies the service's own bearer tokens
	Tokens *auth.JWTVerifier
	// Identity verifies bearer tokens presented by callers
	Identity auth.IdentityProvider
	// Metrics holds the OpenTelemetry instruments
	Metrics *observe.Metrics
}

// NewConfig wires the application dependencies from configuration
func NewConfig(database db.Database, appConfig *config.AppConfig) *Config {
	tokens := auth.NewJWTVerifier(appConfig.Auth.JWTSecret, appConfig.Auth.TokenExpiration)

	c := &Config{
		DB:        database,
		AppConfig: appConfig,
		Tokens:    tokens,
		Identity:  tokens,
		Metrics:   observe.DefaultMetrics(),
	}

	if appConfig.LLM.APIKey != "" {
		c.LLM = llm.NewOpenAIProvider(appConfig.LLM)
	}

	if appConfig.Auth.IdentityURL != "" {
		c.Identity = auth.NewRemoteVerifier(appConfig.Auth.IdentityURL, appConfig.Auth.IdentityAnonKey, nil)
	}

	return c
}

// UsesRemoteIdentity reports whether accounts are managed by an external identity provider
func (c *Config) UsesRemoteIdentity() bool {
	return c.AppConfig.Auth.IdentityURL != ""
}
