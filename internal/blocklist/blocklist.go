// Package blocklist keeps the persisted set of forbidden subtrees.
// Entries are raw path strings as entered by an admin; matching is
// case-insensitive with backslash and trailing-slash normalization.
package blocklist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const fileName = "block.json"

// List is the in-memory block list backed by .fileshare/block.json.
type List struct {
	mu      sync.RWMutex
	path    string
	entries []string
}

// Open loads the block list from dataDir, tolerating a missing file.
func Open(dataDir string) (*List, error) {
	l := &List{path: filepath.Join(dataDir, fileName)}
	b, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, err
	}
	var entries []string
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, err
	}
	l.entries = entries
	return l, nil
}

// normalize lowercases, flips backslashes, and strips trailing slashes
// so "C:\Media\" and "c:/media" compare equal.
func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimRight(p, "/")
	return strings.ToLower(p)
}

// Blocked reports whether target equals, or lives under, any entry.
func (l *List) Blocked(target string) bool {
	t := normalize(target)
	if t == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.entries {
		n := normalize(e)
		if n == "" {
			continue
		}
		if t == n || strings.HasPrefix(t, n+"/") {
			return true
		}
	}
	return false
}

// Entries returns a copy of the raw entries in order.
func (l *List) Entries() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Add appends an entry (ignoring duplicates by normalized form) and
// persists the list.
func (l *List) Add(entry string) error {
	if strings.TrimSpace(entry) == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := normalize(entry)
	for _, e := range l.entries {
		if normalize(e) == n {
			return nil
		}
	}
	l.entries = append(l.entries, entry)
	return l.persistLocked()
}

// Remove deletes any entry whose normalized form matches and persists.
func (l *List) Remove(entry string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := normalize(entry)
	kept := l.entries[:0]
	for _, e := range l.entries {
		if normalize(e) != n {
			kept = append(kept, e)
		}
	}
	l.entries = kept
	return l.persistLocked()
}

func (l *List) persistLocked() error {
	b, err := json.MarshalIndent(l.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}
