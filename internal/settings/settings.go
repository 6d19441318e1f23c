// Package settings is the versioned JSON module store persisted under
// the share at .fileshare/settings.json. Each module registers a
// default value once at startup; reads hand out deep clones so one
// module can never mutate another's view.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// CurrentVersion is the settings schema version written to disk.
const CurrentVersion = 2

const fileName = "settings.json"

type fileShape struct {
	SettingsVersion int                        `json:"settingsVersion"`
	Modules         map[string]json.RawMessage `json:"modules"`
}

// A migration upgrades the modules map from exactly one version to the
// next. Migrations run in order until CurrentVersion is reached.
type migration func(modules map[string]json.RawMessage)

var migrations = map[int]migration{
	0: migrateV0toV1,
	1: migrateV1toV2,
}

// migrateV0toV1 renames the legacy "httpserver" module key to "http".
func migrateV0toV1(modules map[string]json.RawMessage) {
	if v, ok := modules["httpserver"]; ok {
		if _, exists := modules["http"]; !exists {
			modules["http"] = v
		}
		delete(modules, "httpserver")
	}
}

// migrateV1toV2 compacts the haproxy module to {proxyProtocolV2: bool}.
// Older files stored a nested object with listener details.
func migrateV1toV2(modules map[string]json.RawMessage) {
	raw, ok := modules["haproxy"]
	if !ok {
		return
	}
	var legacy map[string]any
	enabled := false
	if err := json.Unmarshal(raw, &legacy); err == nil {
		if v, ok := legacy["proxyProtocolV2"].(bool); ok {
			enabled = v
		} else if v, ok := legacy["enabled"].(bool); ok {
			enabled = v
		}
	}
	b, _ := json.Marshal(map[string]bool{"proxyProtocolV2": enabled})
	modules["haproxy"] = b
}

// Store holds normalized settings for all modules.
type Store struct {
	mu       sync.Mutex
	path     string
	modules  map[string]json.RawMessage
	defaults map[string]json.RawMessage
	log      *slog.Logger
}

// Open reads, normalizes, migrates, and persists the settings file in
// dataDir (the .fileshare directory). A missing or unreadable file
// regenerates from scratch.
func Open(dataDir string, log *slog.Logger) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("data dir is required")
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Store{
		path:     filepath.Join(dataDir, fileName),
		modules:  make(map[string]json.RawMessage),
		defaults: make(map[string]json.RawMessage),
		log:      log,
	}
	s.modules = Normalize(readRaw(s.path, log))
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// readRaw returns the raw file bytes, or nil when absent/unreadable.
func readRaw(path string, log *slog.Logger) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("settings read failed, regenerating defaults", "error", err)
		}
		return nil
	}
	return b
}

// Normalize turns any legacy settings payload into the current shape:
// bare module maps are wrapped as version 0, then migrations run until
// CurrentVersion. Normalize is idempotent.
func Normalize(raw []byte) map[string]json.RawMessage {
	modules := make(map[string]json.RawMessage)
	version := 0
	if len(raw) > 0 {
		var f fileShape
		if err := json.Unmarshal(raw, &f); err == nil && f.Modules != nil {
			modules = f.Modules
			version = f.SettingsVersion
		} else {
			// Legacy shape: a bare map of module name to value.
			var bare map[string]json.RawMessage
			if err := json.Unmarshal(raw, &bare); err == nil {
				modules = bare
			}
		}
	}
	if version > CurrentVersion {
		version = CurrentVersion
	}
	for v := version; v < CurrentVersion; v++ {
		if m, ok := migrations[v]; ok {
			m(modules)
		}
	}
	return modules
}

// Register records a module default. Missing keys in the stored module
// value are overlaid from the default; an absent module adopts the
// default wholesale. Register must be called once per module at
// startup, before Module.
func (s *Store) Register(name string, def any) error {
	b, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal default for %s: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaults[name] = b
	s.modules[name] = overlay(b, s.modules[name])
	return s.persistLocked()
}

// overlay fills keys absent from stored into a copy of def. Non-object
// values keep the stored form when present.
func overlay(def, stored json.RawMessage) json.RawMessage {
	if stored == nil {
		return def
	}
	var dm, sm map[string]json.RawMessage
	if json.Unmarshal(def, &dm) != nil || json.Unmarshal(stored, &sm) != nil {
		return stored
	}
	for k, v := range sm {
		dm[k] = v
	}
	b, err := json.Marshal(dm)
	if err != nil {
		return stored
	}
	return b
}

// Module unmarshals a deep clone of the named module's value into out.
func (s *Store) Module(name string, out any) error {
	s.mu.Lock()
	raw, ok := s.modules[name]
	if !ok {
		raw = s.defaults[name]
	}
	s.mu.Unlock()
	if raw == nil {
		return fmt.Errorf("unknown settings module %q", name)
	}
	return json.Unmarshal(raw, out)
}

// Update replaces the named module's value and persists the store.
func (s *Store) Update(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[name] = b
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	f := fileShape{SettingsVersion: CurrentVersion, Modules: s.modules}
	b, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
