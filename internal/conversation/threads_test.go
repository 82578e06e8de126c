package conversation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/saluslabs/clinic-assistant/internal/leads"
)

type countingCreator struct {
	calls atomic.Int64
}

func (c *countingCreator) NewThread(context.Context) (string, error) {
	n := c.calls.Add(1)
	return fmt.Sprintf("thread_%d", n), nil
}

func TestResolveCreatesThreadOnce(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	creator := &countingCreator{}
	r := NewResolver(repo, creator)
	ctx := context.Background()

	first, err := r.Resolve(ctx, sessionJID, "Maria")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(ctx, sessionJID, "Maria")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ThreadID != second.ThreadID {
		t.Errorf("thread ids differ: %q vs %q", first.ThreadID, second.ThreadID)
	}
	if got := creator.calls.Load(); got != 1 {
		t.Errorf("threads created = %d, want 1", got)
	}
	if first.Lead.PushName != "Maria" {
		t.Errorf("push name not recorded: %+v", first.Lead)
	}
}

func TestResolveConcurrentSingleThread(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	creator := &countingCreator{}
	r := NewResolver(repo, creator)

	var wg sync.WaitGroup
	threadIDs := make([]string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := r.Resolve(context.Background(), sessionJID, "")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			threadIDs[i] = session.ThreadID
		}(i)
	}
	wg.Wait()

	if got := creator.calls.Load(); got != 1 {
		t.Fatalf("threads created = %d, want 1", got)
	}
	for _, id := range threadIDs {
		if id != threadIDs[0] {
			t.Fatalf("divergent thread ids: %v", threadIDs)
		}
	}
}

func TestResolveRejectsInvalidJID(t *testing.T) {
	r := NewResolver(leads.NewInMemoryRepository(), &countingCreator{})
	if _, err := r.Resolve(context.Background(), "garbage", ""); err == nil {
		t.Fatal("invalid jid resolved")
	}
}

func TestResolveReusesPersistedThread(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, sessionJID, leads.Lead{ThreadID: "thread_db"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	creator := &countingCreator{}
	r := NewResolver(repo, creator)
	session, err := r.Resolve(ctx, sessionJID, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if session.ThreadID != "thread_db" {
		t.Errorf("thread id = %q, want persisted one", session.ThreadID)
	}
	if creator.calls.Load() != 0 {
		t.Errorf("new thread created despite persisted one")
	}
}

func TestForgetDropsCache(t *testing.T) {
	repo := leads.NewInMemoryRepository()
	creator := &countingCreator{}
	r := NewResolver(repo, creator)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, sessionJID, ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	r.Forget(sessionJID)
	session, err := r.Resolve(ctx, sessionJID, "")
	if err != nil {
		t.Fatalf("resolve after forget: %v", err)
	}
	// the lead still carries the thread, so no second creation happens
	if session.ThreadID != "thread_1" || creator.calls.Load() != 1 {
		t.Errorf("session = %+v, creations = %d", session, creator.calls.Load())
	}
}
