package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/text/language"
)

// Config holds all application configuration
// Includes LLM configuration, HTTP server configuration and storage paths
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration:
// - LLM_API_KEY: API key for the LLM provider (required)
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_TEXT_MODEL: Model used for story breakdown (default: openai/gpt-4o-mini)
// - LLM_IMAGE_MODEL: Model used for image generation (default: google/gemini-2.5-flash-image-preview)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 8000)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.7)
// - LLM_TIMEOUT: Request timeout in seconds (default: 60)
// - LLM_SITE_URL: Site URL for HTTP referer header (optional)
// - LLM_APP_NAME: Application name for X-Title header (optional)
//
// HTTP Configuration:
// - HTTP_ADDR: Listen address (default: :8080)
// - UI_STATIC_DIR: Gallery frontend directory (default: /app/web)
// - UI_ENABLED: Serve the frontend (default: true)
//
// Generation Configuration:
// - DEFAULT_LANGUAGE: Fallback prose language for breakdowns (default: en)
// - SCENE_COUNT: Default storyboard scene count (default: 6)
// - PRUNE_CRON_EXPR: Schedule for stale session cleanup (default: 0 3 * * *)
// - SESSION_MAX_AGE_HOURS: Sessions older than this are pruned (default: 720)
//
// System Configuration:
// - DATA_DIR: SQLite and working data directory (default: /app/data)
// - LOG_LEVEL: debug|info|warn|error (default: info)
// - TZ: Timezone (default: UTC)

type Config struct {
	LLM      LLMConfig      `json:"llm"`
	HTTP     HTTPConfig     `json:"http"`
	Generate GenerateConfig `json:"generate"`
	System   SystemConfig   `json:"system"`
}

// LLMConfig holds the configuration for the generation API client.
// Supports any chat-completions provider (OpenRouter, OpenAI, etc.)
type LLMConfig struct {
	APIKey      string  `json:"-"`
	APIURL      string  `json:"api_url"`
	TextModel   string  `json:"text_model"`
	ImageModel  string  `json:"image_model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIStaticDir string `json:"ui_static_dir"`
	UIEnabled   bool   `json:"ui_enabled"`
}

type GenerateConfig struct {
	DefaultLanguage language.Tag  `json:"default_language"`
	SceneCount      int           `json:"scene_count"`
	PruneCronExpr   string        `json:"prune_cron_expr"`
	SessionMaxAge   time.Duration `json:"session_max_age"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	LogLevel string `json:"log_level"`
	TZ       string `json:"tz"`
}

// DBPath returns the SQLite database location under the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "illustrator.db")
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			APIKey:      getEnvString("LLM_API_KEY", ""),
			APIURL:      getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			TextModel:   getEnvString("LLM_TEXT_MODEL", "openai/gpt-4o-mini"),
			ImageModel:  getEnvString("LLM_IMAGE_MODEL", "google/gemini-2.5-flash-image-preview"),
			MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:     getEnvInt("LLM_TIMEOUT", 60),
			SiteURL:     getEnvString("LLM_SITE_URL", ""),
			AppName:     getEnvString("LLM_APP_NAME", "story-illustrator"),
		},
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
			UIEnabled:   getEnvBool("UI_ENABLED", true),
		},
		Generate: GenerateConfig{
			DefaultLanguage: getEnvLanguage("DEFAULT_LANGUAGE", language.English),
			SceneCount:      getEnvInt("SCENE_COUNT", 6),
			PruneCronExpr:   getEnvString("PRUNE_CRON_EXPR", "0 3 * * *"),
			SessionMaxAge:   time.Duration(getEnvInt("SESSION_MAX_AGE_HOURS", 720)) * time.Hour,
		},
		System: SystemConfig{
			DataDir:  getEnvString("DATA_DIR", "/app/data"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
			TZ:       getEnvString("TZ", "UTC"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvLanguage parses a BCP 47 tag from environment variables with default
func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	if value := os.Getenv(key); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return tag
		}
	}
	return defaultValue
}
