package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"fractiverse/internal/logger"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Env       string
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Auth      AuthConfig
	Quota     QuotaConfig
	Assistant *AssistantProfile
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	URL            string
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MigrationsPath string
}

// LLMConfig holds LLM provider configuration
type LLMConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret         []byte
	TokenExpiration   time.Duration
	CookieName        string
	IdentityURL       string
	IdentityAnonKey   string
	SignupBonusTokens int
}

// QuotaConfig holds the token charging rules
type QuotaConfig struct {
	MinCost        int
	CostModel      string
	ReserveOnStart bool
}

// IsDevelopment reports whether internal error details may be echoed to clients
func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// LoadConfig loads and validates application configuration from environment
func LoadConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Log.WithError(err).Warn("Could not parse .env file")
	}

	config := &AppConfig{
		Env: getEnvOrDefault("APP_ENV", "production"),
	}

	// Load Assistant profile
	profilePath := getEnvOrDefault("ASSISTANT_PROFILE_PATH", "config/assistant.yaml")
	profile, err := LoadAssistantProfile(profilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load assistant profile: %w", err)
		}
		logger.Log.WithField("path", profilePath).Warn("Assistant profile not found, using defaults")
		profile = DefaultAssistantProfile()
	}
	config.Assistant = profile

	// Load Server config
	config.Server = ServerConfig{
		Port:            getEnvOrDefault("SERVER_PORT", getEnvOrDefault("PORT", "8080")),
		ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxBodyBytes:    int64(getEnvAsInt("SERVER_MAX_BODY_BYTES", 1<<20)),
	}

	// Load Database config
	config.Database = DatabaseConfig{
		URL:            os.Getenv("DATABASE_URL"),
		Host:           getEnvOrDefault("DB_HOST", "postgres"),
		Port:           getEnvOrDefault("DB_PORT", "5432"),
		User:           getEnvOrDefault("DB_USER", "postgres"),
		Password:       getEnvOrDefault("DB_PASSWORD", "postgres"),
		Name:           getEnvOrDefault("DB_NAME", "fractiverse"),
		SSLMode:        getEnvOrDefault("DB_SSLMODE", "disable"),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "file://migrations"),
	}

	// Load LLM config
	apiKey := getEnvOrDefault("LLM_API_KEY", os.Getenv("OPENROUTER_API_KEY"))
	if apiKey == "" {
		logger.Log.Warn("LLM_API_KEY environment variable not set, chat completions will fail")
	}

	config.LLM = LLMConfig{
		APIKey:       apiKey,
		BaseURL:      getEnvOrDefault("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
		Model:        getEnvOrDefault("LLM_MODEL", profile.Model),
		Temperature:  getEnvAsFloat("LLM_TEMPERATURE", profile.Temperature),
		MaxTokens:    getEnvAsInt("LLM_MAX_TOKENS", profile.MaxTokens),
		SystemPrompt: strings.TrimSpace(profile.SystemPrompt),
		Timeout:      getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
	}

	// Load Quota config
	config.Quota = QuotaConfig{
		MinCost:        getEnvAsInt("QUOTA_MIN_COST", profile.Pricing.MinCost),
		CostModel:      getEnvOrDefault("QUOTA_COST_MODEL", profile.Pricing.CostModel),
		ReserveOnStart: getEnvAsBool("QUOTA_RESERVE_ON_START", true),
	}
	if config.Quota.MinCost < 1 {
		return nil, fmt.Errorf("QUOTA_MIN_COST must be at least 1 (current value: %d)", config.Quota.MinCost)
	}
	if config.Quota.CostModel != "flat" && config.Quota.CostModel != "usage" {
		return nil, fmt.Errorf("QUOTA_COST_MODEL must be flat or usage (current value: %q)", config.Quota.CostModel)
	}

	// Load Auth config
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters (current length: %d)", len(jwtSecret))
	}

	config.Auth = AuthConfig{
		JWTSecret:         []byte(jwtSecret),
		TokenExpiration:   getEnvAsDuration("JWT_TOKEN_EXPIRATION", 24*time.Hour),
		CookieName:        getEnvOrDefault("AUTH_COOKIE_NAME", "fv-access-token"),
		IdentityURL:       strings.TrimRight(os.Getenv("IDENTITY_URL"), "/"),
		IdentityAnonKey:   os.Getenv("IDENTITY_ANON_KEY"),
		SignupBonusTokens: getEnvAsInt("SIGNUP_BONUS_TOKENS", 100),
	}

	logger.SetLevel(os.Getenv("LOG_LEVEL"))

	return config, nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Helper functions for environment variable parsing

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid integer value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid float value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid boolean value, using default")
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"key": key, "default": defaultValue}).Warn("Invalid duration value, using default")
		return defaultValue
	}
	return value
}
