package jailfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/fsutil"
)

func newJail(t *testing.T, readOnly bool) (*FS, string) {
	t.Helper()
	root, err := fsutil.ShareRoot(t.TempDir())
	if err != nil {
		t.Fatalf("ShareRoot: %v", err)
	}
	block, err := blocklist.Open(filepath.Join(root, stateDirName))
	if err != nil {
		t.Fatalf("blocklist: %v", err)
	}
	return New(root, block, nil, readOnly), root
}

// TestJailBlocksTraversal paths never escape the root.
func TestJailBlocksTraversal(t *testing.T) {
	fs, root := newJail(t, false)
	f, err := fs.Create("/../outside.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()
	if _, err := os.Stat(filepath.Join(root, "outside.txt")); err != nil {
		t.Fatalf("scrubbed path should land inside root: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "outside.txt")); err == nil {
		t.Fatalf("file escaped the jail")
	}
}

// TestJailCreatesParents writes into not-yet-existing directories the
// way sloppy FTP clients expect.
func TestJailCreatesParents(t *testing.T) {
	fs, root := newJail(t, false)
	f, err := fs.Create("a/b/c.txt")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.Close()
	if _, err := os.Stat(filepath.Join(root, "a", "b", "c.txt")); err != nil {
		t.Fatalf("nested create failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "src.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fs.Rename("src.txt", "moved/into/dst.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "moved", "into", "dst.txt")); err != nil {
		t.Fatalf("rename into missing dir failed: %v", err)
	}
}

// TestJailHidesStateDir .fileshare is unlistable and unresolvable.
func TestJailHidesStateDir(t *testing.T) {
	fs, root := newJail(t, false)
	if err := os.MkdirAll(filepath.Join(root, stateDirName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "visible.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := fs.Stat("/" + stateDirName); err == nil {
		t.Fatalf("state dir resolvable")
	}
	if _, err := fs.Open("/.FILESHARE/users.json"); err == nil {
		t.Fatalf("state dir resolvable through case variation")
	}

	dir, err := fs.Open("/")
	if err != nil {
		t.Fatalf("Open /: %v", err)
	}
	defer dir.Close()
	names, err := dir.Readdirnames(-1)
	if err != nil {
		t.Fatalf("Readdirnames: %v", err)
	}
	for _, n := range names {
		if n == stateDirName {
			t.Fatalf("state dir listed")
		}
	}
	if len(names) != 1 || names[0] != "visible.txt" {
		t.Fatalf("names = %v", names)
	}
}

// TestJailReadOnly anonymous sessions cannot mutate anything.
func TestJailReadOnly(t *testing.T) {
	fs, root := newJail(t, true)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := fs.Create("new.txt"); err != ErrReadOnly {
		t.Fatalf("Create = %v", err)
	}
	if err := fs.Mkdir("d", 0o755); err != ErrReadOnly {
		t.Fatalf("Mkdir = %v", err)
	}
	if err := fs.Remove("f.txt"); err != ErrReadOnly {
		t.Fatalf("Remove = %v", err)
	}
	if err := fs.Rename("f.txt", "g.txt"); err != ErrReadOnly {
		t.Fatalf("Rename = %v", err)
	}
	if _, err := fs.OpenFile("f.txt", os.O_WRONLY, 0o644); err != ErrReadOnly {
		t.Fatalf("OpenFile(write) = %v", err)
	}
	// Reads still work.
	f, err := fs.Open("f.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f.Close()
}

// TestJailBlocklist blocked subtrees behave like permission errors.
func TestJailBlocklist(t *testing.T) {
	fs, root := newJail(t, false)
	if err := os.MkdirAll(filepath.Join(root, "private"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := fs.block.Add("private"); err != nil {
		t.Fatalf("block: %v", err)
	}
	if _, err := fs.Open("private"); err == nil {
		t.Fatalf("blocked dir opened")
	}
	if _, err := fs.Create("private/x.txt"); err == nil {
		t.Fatalf("blocked write allowed")
	}
}
