package registry

import (
	"path/filepath"
	"testing"

	"github.com/vthunder/smsd/internal/types"
)

func TestRegisterPreservesCreatedAt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	first, err := r.Register("+16175551234", "jane-doe", "/tmp/jane", types.SessionIndividual, "Jane Doe", "", "family", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	second, err := r.Register("+16175551234", "jane-doe", "/tmp/jane", types.SessionIndividual, "Jane Doe", "", "family", nil)
	if err != nil {
		t.Fatalf("Register (again): %v", err)
	}

	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed across re-register: %v != %v", second.CreatedAt, first.CreatedAt)
	}
}

func TestGetBySessionName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.Register("chat1", "group-family", "/tmp/g", types.SessionGroup, "", "Family Chat", "family", []string{"a", "b"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := r.GetBySessionName("group-family")
	if err != nil {
		t.Fatalf("GetBySessionName: %v", err)
	}
	if got.ChatID != "chat1" {
		t.Errorf("ChatID = %q, want chat1", got.ChatID)
	}

	if _, err := r.GetBySessionName("nope"); err != ErrNotFound {
		t.Errorf("GetBySessionName(missing) err = %v, want ErrNotFound", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := r.Register("chat1", "jane-doe", "/tmp/j", types.SessionIndividual, "Jane", "", "family", nil); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Remove("chat1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove("chat1"); err != nil {
		t.Fatalf("Remove (again): %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestUpdateLastMessageInitiallyNil(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	entry, err := r.Register("chat1", "jane-doe", "/tmp/j", types.SessionIndividual, "Jane", "", "family", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if entry.LastMessageTime != nil {
		t.Errorf("LastMessageTime = %v, want nil", entry.LastMessageTime)
	}

	if err := r.UpdateLastMessage("chat1"); err != nil {
		t.Fatalf("UpdateLastMessage: %v", err)
	}
	got, err := r.Get("chat1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastMessageTime == nil {
		t.Error("LastMessageTime still nil after UpdateLastMessage")
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.json")
	r, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}
