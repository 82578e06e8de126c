package conversation

import (
	"context"
	"fmt"
	"sync"

	"github.com/saluslabs/clinic-assistant/internal/leads"
)

// ThreadCreator opens a new interpreter thread.
type ThreadCreator interface {
	NewThread(ctx context.Context) (string, error)
}

// Session is a resolved conversation handle: the lead record plus the
// interpreter thread bound to it.
type Session struct {
	RemoteJID string
	ThreadID  string
	Lead      *leads.Lead
}

// Resolver maps a remotejid to its session, caching in memory over the lead
// store. Concurrent resolves of the same user share one in-flight lookup so
// a burst of webhooks never creates two threads for one person.
type Resolver struct {
	repo    leads.Repository
	creator ThreadCreator

	mu      sync.RWMutex
	cache   map[string]string // remotejid -> thread id
	pending map[string]*sync.Mutex
}

func NewResolver(repo leads.Repository, creator ThreadCreator) *Resolver {
	if repo == nil {
		panic("conversation: lead repository cannot be nil")
	}
	if creator == nil {
		panic("conversation: thread creator cannot be nil")
	}
	return &Resolver{
		repo:    repo,
		creator: creator,
		cache:   make(map[string]string),
		pending: make(map[string]*sync.Mutex),
	}
}

// Resolve returns the session for remoteJID, creating the lead and thread on
// first contact. pushName is recorded on the lead when present.
func (r *Resolver) Resolve(ctx context.Context, remoteJID, pushName string) (*Session, error) {
	if err := leads.ValidateJID(remoteJID); err != nil {
		return nil, err
	}

	r.mu.RLock()
	threadID, cached := r.cache[remoteJID]
	r.mu.RUnlock()
	if cached {
		lead, err := r.repo.Get(ctx, remoteJID)
		if err != nil {
			return nil, err
		}
		return &Session{RemoteJID: remoteJID, ThreadID: threadID, Lead: lead}, nil
	}

	// serialize first-contact resolution per user
	keyMu := r.keyLock(remoteJID)
	keyMu.Lock()
	defer keyMu.Unlock()

	r.mu.RLock()
	threadID, cached = r.cache[remoteJID]
	r.mu.RUnlock()
	if cached {
		lead, err := r.repo.Get(ctx, remoteJID)
		if err != nil {
			return nil, err
		}
		return &Session{RemoteJID: remoteJID, ThreadID: threadID, Lead: lead}, nil
	}

	lead, err := r.repo.Upsert(ctx, remoteJID, leads.Lead{PushName: pushName})
	if err != nil {
		return nil, err
	}
	if lead.ThreadID == "" {
		threadID, err = r.creator.NewThread(ctx)
		if err != nil {
			return nil, fmt.Errorf("conversation: open thread: %w", err)
		}
		lead, err = r.repo.Upsert(ctx, remoteJID, leads.Lead{ThreadID: threadID})
		if err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.cache[remoteJID] = lead.ThreadID
	delete(r.pending, remoteJID)
	r.mu.Unlock()

	return &Session{RemoteJID: remoteJID, ThreadID: lead.ThreadID, Lead: lead}, nil
}

// Forget drops the cached thread for a user, forcing the next resolve to hit
// the store.
func (r *Resolver) Forget(remoteJID string) {
	r.mu.Lock()
	delete(r.cache, remoteJID)
	r.mu.Unlock()
}

func (r *Resolver) keyLock(remoteJID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mu, ok := r.pending[remoteJID]; ok {
		return mu
	}
	mu := &sync.Mutex{}
	r.pending[remoteJID] = mu
	return mu
}
