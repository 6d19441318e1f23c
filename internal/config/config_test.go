// Package config tests validate config loading behavior.
package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadAppliesDefaults confirms defaults are applied on load.
func TestLoadAppliesDefaults(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "fileshare.yaml")
	if err := os.WriteFile(p, []byte("log:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTP.Port != 3000 {
		t.Fatalf("expected default http.port 3000, got %d", c.HTTP.Port)
	}
	if c.FTP.Port != 2121 {
		t.Fatalf("expected default ftp.port 2121, got %d", c.FTP.Port)
	}
	if c.FTP.PassivePorts != "50000-50100" {
		t.Fatalf("expected default passive range, got %s", c.FTP.PassivePorts)
	}
	if c.Log.Level != "debug" {
		t.Fatalf("expected log level debug, got %s", c.Log.Level)
	}
}

// TestLoadRejectsBadPort rejects out-of-range ports.
func TestLoadRejectsBadPort(t *testing.T) {
	tmp := t.TempDir()
	p := filepath.Join(tmp, "fileshare.yaml")
	if err := os.WriteFile(p, []byte("http:\n  port: 99999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(p); err == nil {
		t.Fatalf("expected invalid port error")
	}
}

// TestDefaultBridgePortFollowsHTTP derives the bridge port from HTTP.
func TestDefaultBridgePortFollowsHTTP(t *testing.T) {
	c := Default()
	if c.Bridge.Port != c.HTTP.Port+1 {
		t.Fatalf("bridge port %d, want %d", c.Bridge.Port, c.HTTP.Port+1)
	}
}
