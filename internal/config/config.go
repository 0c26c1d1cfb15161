package config

import (
	"os"
	"strconv"
	"strings"
)

// Config centralizes runtime settings for the gateway.
type Config struct {
	Port string

	AuthToken string

	DatabaseURL string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiTimeoutMS  int
	GeminiMaxRetries int

	ZAIAPIKey     string
	ZAIBaseURL    string
	ZAITimeoutMS  int
	ZAIMaxRetries int

	AttemptTimeoutMS int
	Temperature      float64
	MaxOutputTokens  int

	ClassifierCodeKeywords     []string
	ClassifierResearchKeywords []string
	ClassifierTaskHelpKeywords []string
	ComplexWordCount           int
	ComplexConjunctions        int
	ComplexQuestionMarks       int

	HistoryMaxTurns int
	HistoryMaxChars int

	ResponseCacheTTLSeconds int
	ResponseCacheMaxEntries int

	RedisAddr           string
	RedisPassword       string
	RedisDB             int
	HistoryCacheTurns   int
	HistoryCacheTTLSecs int

	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int

	JanitorEnabled         bool
	SessionRetentionDays   int
	JanitorIntervalMinutes int
}

func Load() Config {
	return Config{
		Port: getEnv("PORT", "8080"),

		AuthToken: getEnv("API_AUTH_TOKEN", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiTimeoutMS:  getEnvInt("GEMINI_TIMEOUT_MS", 30000),
		GeminiMaxRetries: getEnvInt("GEMINI_MAX_RETRIES", 2),

		ZAIAPIKey:     getEnv("Z_API_KEY", ""),
		ZAIBaseURL:    getEnv("ZAI_BASE_URL", "https://api.z.ai/v1"),
		ZAITimeoutMS:  getEnvInt("ZAI_TIMEOUT_MS", 30000),
		ZAIMaxRetries: getEnvInt("ZAI_MAX_RETRIES", 2),

		AttemptTimeoutMS: getEnvInt("ATTEMPT_TIMEOUT_MS", 30000),
		Temperature:      getEnvFloat("MODEL_TEMPERATURE", 0.4),
		MaxOutputTokens:  getEnvInt("MODEL_MAX_OUTPUT_TOKENS", 2000),

		ClassifierCodeKeywords:     getEnvList("CLASSIFIER_CODE_KEYWORDS"),
		ClassifierResearchKeywords: getEnvList("CLASSIFIER_RESEARCH_KEYWORDS"),
		ClassifierTaskHelpKeywords: getEnvList("CLASSIFIER_TASK_KEYWORDS"),
		ComplexWordCount:           getEnvInt("CLASSIFIER_COMPLEX_WORD_COUNT", 40),
		ComplexConjunctions:        getEnvInt("CLASSIFIER_COMPLEX_CONJUNCTIONS", 2),
		ComplexQuestionMarks:       getEnvInt("CLASSIFIER_COMPLEX_QUESTION_MARKS", 2),

		HistoryMaxTurns: getEnvInt("HISTORY_MAX_TURNS", 10),
		HistoryMaxChars: getEnvInt("HISTORY_MAX_CHARS", 8000),

		ResponseCacheTTLSeconds: getEnvInt("RESPONSE_CACHE_TTL_SECONDS", 900),
		ResponseCacheMaxEntries: getEnvInt("RESPONSE_CACHE_MAX_ENTRIES", 2000),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		HistoryCacheTurns:   getEnvInt("HISTORY_CACHE_TURNS", 50),
		HistoryCacheTTLSecs: getEnvInt("HISTORY_CACHE_TTL_SECONDS", 1800),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 20),

		JanitorEnabled:         getEnvBool("JANITOR_ENABLED", true),
		SessionRetentionDays:   getEnvInt("SESSION_RETENTION_DAYS", 30),
		JanitorIntervalMinutes: getEnvInt("JANITOR_INTERVAL_MINUTES", 60),
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		result = append(result, trimmed)
	}
	return result
}
