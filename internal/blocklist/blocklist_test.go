package blocklist

import (
	"path/filepath"
	"testing"
)

// TestBlockedPrefixSemantics matches entries at path boundaries only.
func TestBlockedPrefixSemantics(t *testing.T) {
	l, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Add("media/private"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if !l.Blocked("media/private") {
		t.Fatalf("exact match should be blocked")
	}
	if !l.Blocked("media/private/movie.mp4") {
		t.Fatalf("descendant should be blocked")
	}
	if !l.Blocked("MEDIA\\Private\\x") {
		t.Fatalf("case/backslash variants should be blocked")
	}
	if l.Blocked("media/privateer") {
		t.Fatalf("sibling with shared prefix must not be blocked")
	}
}

// TestAddRemovePersist survives reopen and deduplicates.
func TestAddRemovePersist(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := l.Add("secret/"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := l.Add("SECRET"); err != nil {
		t.Fatalf("Add dup: %v", err)
	}
	if got := len(l.Entries()); got != 1 {
		t.Fatalf("expected 1 entry, got %d", got)
	}

	l2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !l2.Blocked("secret/x") {
		t.Fatalf("entry lost on reopen")
	}
	if err := l2.Remove("secret"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if l2.Blocked("secret/x") {
		t.Fatalf("entry should be removed")
	}
	if _, err := Open(filepath.Join(dir)); err != nil {
		t.Fatalf("reopen after remove: %v", err)
	}
}
