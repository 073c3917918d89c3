package prefs

import (
	"errors"
	"path/filepath"
	"testing"

	"pkt.systems/pinwire/schema"
)

func TestGetDefaultsLanguage(t *testing.T) {
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := store.Get("u-alice"); got.Language != DefaultLanguage {
		t.Fatalf("language = %q, want %q", got.Language, DefaultLanguage)
	}
}

func TestSetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.json")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set("u-alice", Prefs{Language: "sv"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	if got := reloaded.Get("u-alice"); got.Language != "sv" {
		t.Fatalf("language = %q, want sv", got.Language)
	}
	if got := reloaded.Get("u-bob"); got.Language != DefaultLanguage {
		t.Fatalf("other user language = %q, want default", got.Language)
	}
}

func TestSetValidates(t *testing.T) {
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Set("", Prefs{Language: "en"}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if err := store.Set("u-alice", Prefs{Language: "not a tag"}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("err = %v, want ErrInvalidRequest", err)
	}
	if err := store.Set("u-alice", Prefs{Language: "pt-BR"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
}
