package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full application configuration. It is loaded once at
// process startup and passed down through constructors; nothing reads the
// environment after Load returns.
type Config struct {
	// Service ports.
	APIPort   int
	AgentPort int
	MCPPort   int

	// Storage.
	DatabasePath string

	// Auth.
	JWTSecret        string
	ServiceAuthToken string

	// Secrets at rest.
	EncryptionKey string // base64-encoded 32-byte key

	// Agent / LLM.
	Agent AgentConfig

	// Backend location, as seen from the MCP server.
	BackendBaseURL string

	// Events.
	Events EventsConfig

	// Rate limiting for the API-key validation endpoint.
	APIKeyTestLimit  int
	APIKeyTestWindow time.Duration

	// HTTP-level per-IP rate limiting.
	HTTPRateLimit  int
	HTTPRateWindow time.Duration

	LogLevel string
}

// AgentConfig holds the LLM and context-window settings for the agent
// service.
type AgentConfig struct {
	GeminiAPIKey     string
	GeminiBaseURL    string
	Model            string
	Temperature      float64
	SystemPrompt     string
	LLMRetryAttempts int

	MCPServerURL     string
	MCPTimeout       time.Duration
	MCPRetryAttempts int

	// Context window management.
	TokenBudget  int
	EncodingName string

	// Ordinal task references expire after this long.
	TaskContextTTL time.Duration
}

// EventsConfig configures the Kafka activity-event producer. Disabled by
// default; the services run fine without a broker.
type EventsConfig struct {
	Enable   bool
	Brokers  []string
	Topic    string
	ClientID string
}

// defaultSystemPrompt instructs the model to trust tool results over
// conversation history. Task mentions in history may describe tasks that
// have since been deleted; list_tasks output is the only source of truth.
const defaultSystemPrompt = `You are a helpful task management assistant. Use the available tools to help users manage their tasks.

Data freshness rules:
1. Tool results are the only source of truth. When list_tasks returns results, those are the only tasks that exist right now.
2. Conversation history is unreliable for task data. Tasks mentioned earlier may have been deleted. Never combine task IDs from history with current list_tasks results.
3. When the user asks about a task, call list_tasks first and use only IDs from that result.
4. Never report more tasks than the most recent list_tasks call returned.`

// Load builds a Config from environment variables. Callers that want .env
// support load it (godotenv) before calling Load.
func Load() *Config {
	return &Config{
		APIPort:   getEnvInt("API_PORT", 8000),
		AgentPort: getEnvInt("AGENT_PORT", 8002),
		MCPPort:   getEnvInt("MCP_PORT", 8001),

		DatabasePath: getEnv("DATABASE_PATH", "taskdeck.db"),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		ServiceAuthToken: getEnv("SERVICE_AUTH_TOKEN", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),

		Agent: AgentConfig{
			GeminiAPIKey:     getEnv("AGENT_GEMINI_API_KEY", ""),
			GeminiBaseURL:    getEnv("AGENT_GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/openai"),
			Model:            getEnv("AGENT_MODEL", "gemini-2.5-flash"),
			Temperature:      getEnvFloat("AGENT_TEMPERATURE", 0.7),
			SystemPrompt:     getEnv("AGENT_SYSTEM_PROMPT", defaultSystemPrompt),
			LLMRetryAttempts: getEnvInt("AGENT_LLM_RETRY_ATTEMPTS", 3),
			MCPServerURL:     getEnv("AGENT_MCP_SERVER_URL", "http://localhost:8001/mcp"),
			MCPTimeout:       time.Duration(getEnvInt("AGENT_MCP_TIMEOUT_SECONDS", 10)) * time.Second,
			MCPRetryAttempts: getEnvInt("AGENT_MCP_RETRY_ATTEMPTS", 3),
			TokenBudget:      getEnvInt("AGENT_TOKEN_BUDGET", 800_000),
			EncodingName:     getEnv("AGENT_ENCODING_NAME", "cl100k_base"),
			TaskContextTTL:   time.Duration(getEnvInt("AGENT_TASK_CONTEXT_TTL_MINUTES", 5)) * time.Minute,
		},

		BackendBaseURL: getEnv("BACKEND_BASE_URL", "http://localhost:8000"),

		Events: EventsConfig{
			Enable:   getEnvBool("KAFKA_ENABLE", false),
			Brokers:  strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
			Topic:    getEnv("KAFKA_TOPIC", "taskdeck-activity"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "taskdeck"),
		},

		APIKeyTestLimit:  getEnvInt("API_KEY_TEST_LIMIT", 5),
		APIKeyTestWindow: time.Duration(getEnvInt("API_KEY_TEST_WINDOW_MINUTES", 60)) * time.Minute,

		HTTPRateLimit:  getEnvInt("HTTP_RATE_LIMIT", 100),
		HTTPRateWindow: time.Duration(getEnvInt("HTTP_RATE_WINDOW_SECONDS", 60)) * time.Second,

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ValidateAPI checks the settings the backend service cannot run without.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.ServiceAuthToken == "" {
		return fmt.Errorf("SERVICE_AUTH_TOKEN is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	return nil
}

// ValidateAgent checks the settings the agent service cannot run without.
func (c *Config) ValidateAgent() error {
	if strings.TrimSpace(c.Agent.GeminiAPIKey) == "" {
		return fmt.Errorf("AGENT_GEMINI_API_KEY is required and cannot be empty")
	}
	if c.Agent.TokenBudget <= 0 {
		return fmt.Errorf("AGENT_TOKEN_BUDGET must be positive")
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 2 {
		return fmt.Errorf("AGENT_TEMPERATURE must be between 0 and 2")
	}
	return nil
}

// ValidateMCP checks the settings the MCP server cannot run without.
func (c *Config) ValidateMCP() error {
	if c.ServiceAuthToken == "" {
		return fmt.Errorf("SERVICE_AUTH_TOKEN is required")
	}
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	return nil
}

// getEnv retrieves environment variable with fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves boolean environment variable with fallback
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvInt retrieves integer environment variable with fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves float environment variable with fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
