package agent

import (
	"errors"
	"testing"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	store, err := NewMemoryStore([]Seed{
		{Name: "alice", Password: "correct-horse", Superuser: true},
		{Name: "bob", Password: "battery-staple"},
	})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	return store
}

func TestAuthenticateSuccess(t *testing.T) {
	store := seededStore(t)

	found, err := store.Authenticate("alice", "correct-horse")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if found.Name != "alice" || !found.Superuser {
		t.Fatalf("unexpected agent: %+v", found)
	}
	if found.ID == "" {
		t.Fatal("expected an assigned id")
	}
}

func TestAuthenticateFailuresAreUniform(t *testing.T) {
	store := seededStore(t)

	if _, err := store.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := store.Authenticate("nobody", "whatever"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
}

func TestFindByNameAndID(t *testing.T) {
	store := seededStore(t)

	bob, ok := store.FindByName("bob")
	if !ok || bob.Superuser {
		t.Fatalf("unexpected lookup result: %+v (ok=%v)", bob, ok)
	}
	again, ok := store.FindByID(bob.ID)
	if !ok || again.Name != "bob" {
		t.Fatalf("expected id lookup to find bob, got %+v (ok=%v)", again, ok)
	}
	if _, ok := store.FindByName("mallory"); ok {
		t.Fatal("expected unknown name to miss")
	}
}

func TestSeedValidation(t *testing.T) {
	if _, err := NewMemoryStore([]Seed{{Name: "", Password: "x"}}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewMemoryStore([]Seed{{Name: "x", Password: ""}}); err == nil {
		t.Fatal("expected error for empty password")
	}
}
