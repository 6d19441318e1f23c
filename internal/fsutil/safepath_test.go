// Package fsutil tests validate path traversal protections.
package fsutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// TestScrub removes traversal segments before any filesystem access.
func TestScrub(t *testing.T) {
	cases := map[string]string{
		"a/b.txt":          "a/b.txt",
		"/a/b.txt":         "a/b.txt",
		"./a/./b":          "a/b",
		"../../etc/passwd": "etc/passwd",
		"a\\b\\c":          "a/b/c",
		"a/../../b":        "a/b",
		"a\x00b":           "ab",
		"":                 "",
		"..":               "",
	}
	for in, want := range cases {
		if got := Scrub(in); got != want {
			t.Errorf("Scrub(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestResolveRejectsTraversal blocks .. escapes and absolute paths.
func TestResolveRejectsTraversal(t *testing.T) {
	root, err := ShareRoot(t.TempDir())
	if err != nil {
		t.Fatalf("ShareRoot: %v", err)
	}
	for _, p := range []string{"../etc/passwd", "/../etc/passwd", "..\\..\\etc"} {
		got, err := Resolve(root, p)
		if err == nil && !strings.HasPrefix(strings.ToLower(filepath.ToSlash(got)), strings.ToLower(filepath.ToSlash(root))) {
			t.Fatalf("Resolve(%q) escaped root: %s", p, got)
		}
	}
}

// TestResolveExistingFile resolves a plain file inside the root.
func TestResolveExistingFile(t *testing.T) {
	dir := t.TempDir()
	root, err := ShareRoot(dir)
	if err != nil {
		t.Fatalf("ShareRoot: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := Resolve(root, "f.txt")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(p) != "f.txt" {
		t.Fatalf("unexpected path %s", p)
	}
	if Rel(root, p) != "f.txt" {
		t.Fatalf("Rel = %q", Rel(root, p))
	}
}

// TestResolveRejectsSymlinkEscape blocks symlink-based escapes.
func TestResolveRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink behavior varies on windows")
	}
	root, err := ShareRoot(t.TempDir())
	if err != nil {
		t.Fatalf("ShareRoot: %v", err)
	}
	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := Resolve(root, "link/secret"); err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
	if _, err := ResolveForWrite(root, "link/new.txt"); err == nil {
		t.Fatalf("expected symlink escape to be rejected for write")
	}
}

// TestResolveForWriteMissingLeaf allows creating new files in the root.
func TestResolveForWriteMissingLeaf(t *testing.T) {
	root, err := ShareRoot(t.TempDir())
	if err != nil {
		t.Fatalf("ShareRoot: %v", err)
	}
	p, err := ResolveForWrite(root, "sub/new.txt")
	if err != nil {
		t.Fatalf("ResolveForWrite: %v", err)
	}
	if filepath.Base(p) != "new.txt" {
		t.Fatalf("unexpected path %s", p)
	}
}
