// Package clinic provides clinic-specific configuration and persistence.
package clinic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Config holds the per-clinic settings the assistant needs at runtime.
// Every field has a sane default so a clinic works before any onboarding.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	// AssistantName is the persona the assistant introduces itself with.
	AssistantName string `json:"assistant_name,omitempty"`
	Address       string `json:"address,omitempty"`
	// Recommendations is free text appended to booking confirmations
	// (arrive early, bring documents, fasting instructions).
	Recommendations string `json:"recommendations,omitempty"`
	// SupportContact is the human WhatsApp line offered on handoff.
	SupportContact string `json:"support_contact,omitempty"`
	Greeting       string `json:"greeting,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
	// AsaasAPIKey overrides the global payment credential for this clinic.
	AsaasAPIKey string `json:"asaas_api_key,omitempty"`
	// VoiceReplies enables audio responses when the user asks for them.
	VoiceReplies bool `json:"voice_replies"`
}

// DefaultConfig returns the configuration used when a clinic has never been
// onboarded.
func DefaultConfig(id string) *Config {
	return &Config{
		ID:            id,
		Name:          "Clínica Médica",
		AssistantName: "Ana",
		Timezone:      "America/Sao_Paulo",
		VoiceReplies:  true,
		Greeting:      "Olá! Sou a assistente virtual da clínica. Como posso ajudar?",
	}
}

// ConfirmationFooter renders the extra lines appended to a booking
// confirmation message.
func (c *Config) ConfirmationFooter() string {
	var b strings.Builder
	if c.Address != "" {
		b.WriteString("Endereço: " + c.Address + "\n")
	}
	if c.Recommendations != "" {
		b.WriteString(c.Recommendations + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Store provides persistence for clinic configurations.
type Store struct {
	redis *redis.Client
}

// NewStore creates a new clinic config store.
func NewStore(redisClient *redis.Client) *Store {
	return &Store{redis: redisClient}
}

func (s *Store) key(id string) string {
	return fmt.Sprintf("clinic:config:%s", id)
}

// Get retrieves clinic config, returning defaults if not found.
func (s *Store) Get(ctx context.Context, id string) (*Config, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return DefaultConfig(id), nil
	}
	if err != nil {
		return nil, fmt.Errorf("clinic: get config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("clinic: unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Set saves clinic config.
func (s *Store) Set(ctx context.Context, cfg *Config) error {
	if cfg.ID == "" {
		return fmt.Errorf("clinic: config id required")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("clinic: marshal config: %w", err)
	}
	if err := s.redis.Set(ctx, s.key(cfg.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("clinic: set config: %w", err)
	}
	return nil
}

// PaymentKey returns the clinic's payment credential, falling back to the
// global one when the clinic has no override.
func (s *Store) PaymentKey(ctx context.Context, id, fallback string) (string, error) {
	cfg, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if cfg.AsaasAPIKey != "" {
		return cfg.AsaasAPIKey, nil
	}
	return fallback, nil
}
