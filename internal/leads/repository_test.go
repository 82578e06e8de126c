package leads

import (
	"context"
	"errors"
	"testing"
)

const testJID = "5537999990000@s.whatsapp.net"

func TestInMemoryUpsertThenGet(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	if _, err := repo.Upsert(ctx, testJID, Lead{Name: "Maria Souza", Email: "maria@example.com"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if _, err := repo.Upsert(ctx, testJID, Lead{City: "Divinópolis"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	lead, err := repo.Get(ctx, testJID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if lead.Name != "Maria Souza" || lead.Email != "maria@example.com" || lead.City != "Divinópolis" {
		t.Errorf("fields lost across upserts: %+v", lead)
	}
	if lead.Phone != "5537999990000" {
		t.Errorf("phone not derived from jid: %q", lead.Phone)
	}
	if lead.RegisteredAt.IsZero() || lead.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: %+v", lead)
	}
}

func TestInMemoryGetUnknown(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.Get(context.Background(), testJID); !errors.Is(err, ErrLeadNotFound) {
		t.Fatalf("err = %v, want ErrLeadNotFound", err)
	}
}

func TestInMemoryUpsertRejectsInvalidJID(t *testing.T) {
	repo := NewInMemoryRepository()
	if _, err := repo.Upsert(context.Background(), "garbage", Lead{}); !errors.Is(err, ErrInvalidJID) {
		t.Fatalf("err = %v, want ErrInvalidJID", err)
	}
}

func TestInMemoryGetReturnsCopy(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()
	if _, err := repo.Upsert(ctx, testJID, Lead{Name: "Maria"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	first, _ := repo.Get(ctx, testJID)
	first.Name = "mutated"
	second, _ := repo.Get(ctx, testJID)
	if second.Name != "Maria" {
		t.Fatalf("stored lead mutated through returned pointer")
	}
}
