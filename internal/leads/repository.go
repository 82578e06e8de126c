package leads

import (
	"context"
	"sync"
	"time"
)

// Repository persists leads keyed by remotejid. Writes are upsert-only.
type Repository interface {
	// Upsert merges the non-zero fields of partial into the stored lead,
	// creating it if absent, and returns the resulting record.
	Upsert(ctx context.Context, remoteJID string, partial Lead) (*Lead, error)

	// Get returns the lead for remoteJID, or ErrLeadNotFound.
	Get(ctx context.Context, remoteJID string) (*Lead, error)
}

// InMemoryRepository is a map-backed Repository for tests and local runs.
type InMemoryRepository struct {
	mu    sync.RWMutex
	byJID map[string]*Lead
	now   func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		byJID: make(map[string]*Lead),
		now:   time.Now,
	}
}

func (r *InMemoryRepository) Upsert(_ context.Context, remoteJID string, partial Lead) (*Lead, error) {
	if err := ValidateJID(remoteJID); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	lead, ok := r.byJID[remoteJID]
	if !ok {
		lead = &Lead{
			RemoteJID:    remoteJID,
			Phone:        PhoneFromJID(remoteJID),
			RegisteredAt: now,
		}
		r.byJID[remoteJID] = lead
	}
	lead.Merge(partial)
	lead.UpdatedAt = now

	out := *lead
	return &out, nil
}

func (r *InMemoryRepository) Get(_ context.Context, remoteJID string) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.byJID[remoteJID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	out := *lead
	return &out, nil
}
