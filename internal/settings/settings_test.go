// Package settings tests cover normalization and the migration chain.
package settings

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

type ftpModule struct {
	AnonymousRead bool `json:"anonymousRead"`
	MaxSessions   int  `json:"maxSessions"`
}

// TestOpenRegeneratesDefaults creates the file when none exists.
func TestOpenRegeneratesDefaults(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Register("ftp", ftpModule{MaxSessions: 8}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var m ftpModule
	if err := s.Module("ftp", &m); err != nil {
		t.Fatalf("Module: %v", err)
	}
	if m.MaxSessions != 8 {
		t.Fatalf("expected default overlay, got %+v", m)
	}
	if _, err := os.Stat(filepath.Join(dir, "settings.json")); err != nil {
		t.Fatalf("settings file not persisted: %v", err)
	}
}

// TestNormalizeLegacyBareMap wraps a versionless module map as v0 and
// runs the full migration chain.
func TestNormalizeLegacyBareMap(t *testing.T) {
	raw := []byte(`{"httpserver":{"idleTimeoutSec":60},"haproxy":{"enabled":true,"listen":"0.0.0.0:8081"}}`)
	modules := Normalize(raw)
	if _, ok := modules["httpserver"]; ok {
		t.Fatalf("httpserver key should have been renamed")
	}
	if _, ok := modules["http"]; !ok {
		t.Fatalf("http module missing after migration")
	}
	var hp map[string]bool
	if err := json.Unmarshal(modules["haproxy"], &hp); err != nil {
		t.Fatalf("haproxy unmarshal: %v", err)
	}
	if !reflect.DeepEqual(hp, map[string]bool{"proxyProtocolV2": true}) {
		t.Fatalf("haproxy = %v", hp)
	}
}

// TestNormalizeIdempotent verifies normalize(normalize(x)) = normalize(x).
func TestNormalizeIdempotent(t *testing.T) {
	raw := []byte(`{"settingsVersion":1,"modules":{"haproxy":{"enabled":false},"upload":{"maxFileSizeBytes":5}}}`)
	once := Normalize(raw)
	b, err := json.Marshal(fileShape{SettingsVersion: CurrentVersion, Modules: once})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	twice := Normalize(b)
	if !reflect.DeepEqual(mapToAny(t, once), mapToAny(t, twice)) {
		t.Fatalf("normalize not idempotent:\n%v\n%v", once, twice)
	}
}

// TestModuleReturnsClone mutating one view must not affect the store.
func TestModuleReturnsClone(t *testing.T) {
	s, err := Open(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Register("upload", map[string]any{"maxFileSizeBytes": float64(10)}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var a map[string]any
	if err := s.Module("upload", &a); err != nil {
		t.Fatalf("Module: %v", err)
	}
	a["maxFileSizeBytes"] = float64(999)
	var b map[string]any
	if err := s.Module("upload", &b); err != nil {
		t.Fatalf("Module: %v", err)
	}
	if b["maxFileSizeBytes"] != float64(10) {
		t.Fatalf("store mutated through returned view: %v", b)
	}
}

// TestStoredValuesSurviveReopen persists updates across Open calls.
func TestStoredValuesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Register("ftp", ftpModule{MaxSessions: 8}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Update("ftp", ftpModule{AnonymousRead: true, MaxSessions: 3}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	s2, err := Open(dir, testLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if err := s2.Register("ftp", ftpModule{MaxSessions: 8}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	var m ftpModule
	if err := s2.Module("ftp", &m); err != nil {
		t.Fatalf("Module: %v", err)
	}
	if !m.AnonymousRead || m.MaxSessions != 3 {
		t.Fatalf("stored value lost: %+v", m)
	}
}

func mapToAny(t *testing.T, m map[string]json.RawMessage) map[string]any {
	t.Helper()
	out := make(map[string]any, len(m))
	for k, v := range m {
		var x any
		if err := json.Unmarshal(v, &x); err != nil {
			t.Fatalf("unmarshal %s: %v", k, err)
		}
		out[k] = x
	}
	return out
}
