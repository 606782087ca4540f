// Package config loads portal settings from the environment and builds the logger.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSurreal = "surreal"
	StoreRedis   = "redis"
	StoreMemory  = "memory"
)

// Assistant providers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Mail transports.
const (
	MailSMTP  = "smtp"
	MailBrevo = "brevo"
)

// Config holds all configuration values.
type Config struct {
	// Document store backend
	Store string

	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis connection
	RedisURL string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// HTTP server
	ServerPort  int
	JWTSecret   string
	CORSOrigins []string

	// Assistant
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string
	SystemPrompt    string

	// Mail
	MailTransport string
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailFrom      string
	MailFromName  string
	BrevoAPIKey   string

	// Expired-ticket sweeper
	SweepExpired  bool
	SweepSchedule string

	// ChatHubSize caps how many users' chat stores the server keeps in memory.
	ChatHubSize int
}

// Load reads configuration from environment variables, after loading an
// optional .env file from the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Store: strings.ToLower(getEnv("VSERVE_STORE", StoreSurreal)),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "vserve"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "portal"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		LogFile:  getEnv("VSERVE_LOG_FILE", "/tmp/vserve.log"),
		LogLevel: parseLogLevel(getEnv("VSERVE_LOG_LEVEL", "INFO")),

		ServerPort:  getEnvInt("VSERVE_SERVER_PORT", 8484),
		JWTSecret:   getEnv("VSERVE_JWT_SECRET", ""),
		CORSOrigins: splitList(getEnv("VSERVE_CORS_ORIGINS", "http://localhost:5173")),

		LLMProvider:     strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
		LLMModel:        getEnv("LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
		SystemPrompt:    getEnv("VSERVE_SYSTEM_PROMPT", ""),

		MailTransport: strings.ToLower(getEnv("MAIL_TRANSPORT", MailSMTP)),
		SMTPHost:      getEnv("SMTP_HOST", "localhost"),
		SMTPPort:      getEnvInt("SMTP_PORT", 587),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		MailFrom:      getEnv("MAIL_FROM", "no-reply@vserve.local"),
		MailFromName:  getEnv("MAIL_FROM_NAME", "V-Serve"),
		BrevoAPIKey:   getEnv("BREVO_API_KEY", ""),

		SweepExpired:  getEnvBool("VSERVE_SWEEP_EXPIRED", false),
		SweepSchedule: getEnv("VSERVE_SWEEP_SCHEDULE", "@every 60s"),

		ChatHubSize: getEnvInt("VSERVE_CHAT_HUB_SIZE", 4096),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
