package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Evolution API (WhatsApp gateway)
	EvolutionAPIURL      string
	EvolutionAPIToken    string
	EvolutionInstance    string
	MessageSegmentDelay  time.Duration
	DispatchMaxSegments  int

	// OpenAI (interpreter, transcription, speech)
	OpenAIAPIKey     string
	InterpreterModel string

	// Klingo (scheduling provider)
	KlingoBaseURL     string
	KlingoAppToken    string
	KlingoSpecialtyID string
	KlingoExamID      string
	KlingoPlanID      string
	// ConsultationPriceCents is the default deposit charged up front.
	ConsultationPriceCents int64

	// Asaas (payment provider)
	AsaasBaseURL string
	AsaasAPIKey  string

	// Message buffer
	BufferDebounce     time.Duration
	BufferMaxFragments int
	BufferKeywords     []string

	// Conversation flow
	MaxAttempts    int
	SupportContact string
	DefaultClinic  string

	// Outbound retry policy
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Reminder worker
	ReminderHour     int
	ReminderTimezone string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EvolutionAPIURL:     strings.TrimRight(getEnv("EVOLUTION_API_URL", ""), "/"),
		EvolutionAPIToken:   getEnv("EVOLUTION_API_TOKEN", ""),
		EvolutionInstance:   getEnv("EVOLUTION_INSTANCE_NAME", ""),
		MessageSegmentDelay: getEnvAsDuration("MESSAGE_SEGMENT_DELAY", 800*time.Millisecond),
		DispatchMaxSegments: getEnvAsInt("DISPATCH_MAX_SEGMENTS", 6),

		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		InterpreterModel: getEnv("INTERPRETER_MODEL", "gpt-4o-mini"),

		KlingoBaseURL:          strings.TrimRight(getEnv("KLINGO_BASE_URL", "https://api-externa.klingo.app/api"), "/"),
		KlingoAppToken:         getEnv("KLINGO_APP_TOKEN", ""),
		KlingoSpecialtyID:      getEnv("KLINGO_SPECIALTY_ID", "225275"),
		KlingoExamID:           getEnv("KLINGO_EXAM_ID", "1376"),
		KlingoPlanID:           getEnv("KLINGO_PLAN_ID", "1"),
		ConsultationPriceCents: int64(getEnvAsInt("CONSULTATION_PRICE_CENTS", 15000)),

		AsaasBaseURL: strings.TrimRight(getEnv("ASAAS_BASE_URL", "https://sandbox.asaas.com/api/v3"), "/"),
		AsaasAPIKey:  getEnv("ASAAS_API_KEY", ""),

		BufferDebounce:     getEnvAsDuration("BUFFER_DEBOUNCE", 5*time.Second),
		BufferMaxFragments: getEnvAsInt("BUFFER_MAX_FRAGMENTS", 5),
		BufferKeywords:     getEnvAsList("BUFFER_KEYWORDS", []string{"consulta", "agendar", "agendamento", "marcar"}),

		MaxAttempts:    getEnvAsInt("FLOW_MAX_ATTEMPTS", 3),
		SupportContact: getEnv("SUPPORT_CONTACT", "wa.me/5537987654321"),
		DefaultClinic:  getEnv("DEFAULT_CLINIC_ID", ""),

		RetryMaxAttempts: getEnvAsInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   getEnvAsDuration("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getEnvAsDuration("RETRY_MAX_DELAY", 10*time.Second),

		ReminderHour:     getEnvAsInt("REMINDER_HOUR", 8),
		ReminderTimezone: getEnv("REMINDER_TZ", "America/Sao_Paulo"),
	}
}

// Validate reports fatal configuration errors. Missing vendor credentials are
// raised here, at process start, rather than surfacing mid-conversation.
func (c *Config) Validate() error {
	var missing []string
	if c.EvolutionAPIURL == "" {
		missing = append(missing, "EVOLUTION_API_URL")
	}
	if c.EvolutionAPIToken == "" {
		missing = append(missing, "EVOLUTION_API_TOKEN")
	}
	if c.EvolutionInstance == "" {
		missing = append(missing, "EVOLUTION_INSTANCE_NAME")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.KlingoAppToken == "" {
		missing = append(missing, "KLINGO_APP_TOKEN")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated environment variable into values.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
