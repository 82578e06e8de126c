package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	sessionTTL     = 24 * time.Hour
	transcriptKeep = 50
)

// SessionStore persists flow state and the rolling transcript in Redis so a
// restart never loses a session mid-flow.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	if client == nil {
		panic("conversation: redis client cannot be nil")
	}
	return &SessionStore{client: client}
}

func stateKey(remoteJID string) string {
	return fmt.Sprintf("session:state:%s", remoteJID)
}

func transcriptKey(remoteJID string) string {
	return fmt.Sprintf("session:transcript:%s", remoteJID)
}

// SaveState writes the flow state, refusing to persist a corrupt one.
func (s *SessionStore) SaveState(ctx context.Context, remoteJID string, state *State) error {
	if err := state.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("conversation: marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(remoteJID), data, sessionTTL).Err(); err != nil {
		return fmt.Errorf("conversation: save state: %w", err)
	}
	return nil
}

// LoadState returns the stored state, or a fresh one when the session is
// missing, expired, or fails validation.
func (s *SessionStore) LoadState(ctx context.Context, remoteJID string) (*State, error) {
	data, err := s.client.Get(ctx, stateKey(remoteJID)).Bytes()
	if err == redis.Nil {
		return NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load state: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return NewState(), nil
	}
	if state.Slots == nil {
		state.Slots = make(map[string]string)
	}
	if err := state.Validate(); err != nil {
		return NewState(), nil
	}
	return &state, nil
}

// ClearState drops the session, used after a completed booking or handoff.
func (s *SessionStore) ClearState(ctx context.Context, remoteJID string) error {
	if err := s.client.Del(ctx, stateKey(remoteJID)).Err(); err != nil {
		return fmt.Errorf("conversation: clear state: %w", err)
	}
	return nil
}

// TranscriptEntry is one logged message in a session.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// AppendTranscript logs a message, keeping only the most recent entries.
func (s *SessionStore) AppendTranscript(ctx context.Context, remoteJID, role, text string) error {
	entry, err := json.Marshal(TranscriptEntry{Role: role, Text: text, At: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("conversation: marshal transcript entry: %w", err)
	}
	key := transcriptKey(remoteJID)
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, entry)
	pipe.LTrim(ctx, key, -transcriptKeep, -1)
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("conversation: append transcript: %w", err)
	}
	return nil
}

// Transcript returns up to n most recent entries, oldest first.
func (s *SessionStore) Transcript(ctx context.Context, remoteJID string, n int) ([]TranscriptEntry, error) {
	if n <= 0 || n > transcriptKeep {
		n = transcriptKeep
	}
	raw, err := s.client.LRange(ctx, transcriptKey(remoteJID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("conversation: read transcript: %w", err)
	}
	entries := make([]TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		var entry TranscriptEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
