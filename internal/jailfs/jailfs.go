// Package jailfs exposes the share as an afero filesystem jailed to
// the canonical root. Every path runs through the safe-path resolver
// and the block list; the server state directory is invisible; read
// and write volume is accounted into the stats service.
package jailfs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/fsutil"
	"github.com/gamelist1990/FileShare/internal/stats"
)

// stateDirName is hidden from every listing and unresolvable.
const stateDirName = ".fileshare"

// ErrReadOnly is returned for mutations on anonymous sessions.
var ErrReadOnly = errors.New("session is read-only")

// FS is one session's jailed filesystem.
type FS struct {
	root     string
	block    *blocklist.List
	stats    *stats.Stats
	readOnly bool
	osfs     afero.Fs
}

// New builds a jail over the canonical share root. readOnly sessions
// (anonymous FTP) may not mutate anything.
func New(root string, block *blocklist.List, st *stats.Stats, readOnly bool) *FS {
	return &FS{root: root, block: block, stats: st, readOnly: readOnly, osfs: afero.NewOsFs()}
}

// local maps an FTP path to a jailed filesystem path.
func (f *FS) local(name string) (string, error) {
	rel := fsutil.Scrub(name)
	if rel != "" {
		first := rel
		if i := strings.Index(rel, "/"); i >= 0 {
			first = rel[:i]
		}
		if strings.EqualFold(first, stateDirName) {
			return "", os.ErrNotExist
		}
	}
	p, err := fsutil.ResolveForWrite(f.root, rel)
	if err != nil {
		return "", err
	}
	if f.block != nil && f.block.Blocked(fsutil.Rel(f.root, p)) {
		return "", os.ErrPermission
	}
	return p, nil
}

func (f *FS) rel(local string) string {
	return fsutil.Rel(f.root, local)
}

func (f *FS) Create(name string) (afero.File, error) {
	if f.readOnly {
		return nil, ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	file, err := f.osfs.Create(p)
	if err != nil {
		return nil, err
	}
	return &countingFile{File: file, fs: f, rel: f.rel(p)}, nil
}

func (f *FS) Mkdir(name string, perm os.FileMode) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Mkdir(p, perm)
}

func (f *FS) MkdirAll(path string, perm os.FileMode) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(path)
	if err != nil {
		return err
	}
	return f.osfs.MkdirAll(p, perm)
}

func (f *FS) Open(name string) (afero.File, error) {
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	file, err := f.osfs.Open(p)
	if err != nil {
		return nil, err
	}
	if st, err := file.Stat(); err == nil && st.IsDir() {
		return &filteredDir{File: file}, nil
	}
	return &countingFile{File: file, fs: f, rel: f.rel(p)}, nil
}

func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.readOnly && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}
	file, err := f.osfs.OpenFile(p, flag, perm)
	if err != nil {
		return nil, err
	}
	return &countingFile{File: file, fs: f, rel: f.rel(p)}, nil
}

func (f *FS) Remove(name string) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	if err := f.osfs.Remove(p); err != nil {
		return err
	}
	if f.stats != nil {
		f.stats.PathDeleted(f.rel(p))
	}
	return nil
}

func (f *FS) RemoveAll(path string) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(path)
	if err != nil {
		return err
	}
	return f.osfs.RemoveAll(p)
}

func (f *FS) Rename(oldname, newname string) error {
	if f.readOnly {
		return ErrReadOnly
	}
	oldp, err := f.local(oldname)
	if err != nil {
		return err
	}
	newp, err := f.local(newname)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(newp), 0o755); err != nil {
		return err
	}
	if err := f.osfs.Rename(oldp, newp); err != nil {
		return err
	}
	if f.stats != nil {
		f.stats.PathRenamed(f.rel(oldp), f.rel(newp))
	}
	return nil
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	p, err := f.local(name)
	if err != nil {
		return nil, err
	}
	return f.osfs.Stat(p)
}

func (f *FS) Name() string { return "jailfs" }

func (f *FS) Chmod(name string, mode os.FileMode) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Chmod(p, mode)
}

func (f *FS) Chown(name string, uid, gid int) error {
	return errors.New("chown not supported")
}

func (f *FS) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := f.local(name)
	if err != nil {
		return err
	}
	return f.osfs.Chtimes(p, atime, mtime)
}

// filteredDir hides the state directory from directory reads.
type filteredDir struct {
	afero.File
}

func (d *filteredDir) Readdir(count int) ([]os.FileInfo, error) {
	infos, err := d.File.Readdir(count)
	out := infos[:0]
	for _, info := range infos {
		if strings.EqualFold(info.Name(), stateDirName) {
			continue
		}
		out = append(out, info)
	}
	return out, err
}

func (d *filteredDir) Readdirnames(n int) ([]string, error) {
	names, err := d.File.Readdirnames(n)
	out := names[:0]
	for _, name := range names {
		if strings.EqualFold(name, stateDirName) {
			continue
		}
		out = append(out, name)
	}
	return out, err
}

// countingFile accounts transfer volume into stats when the file is
// closed: reads as downloads, writes as uploads.
type countingFile struct {
	afero.File
	fs      *FS
	rel     string
	read    int64
	written int64
}

func (c *countingFile) Read(p []byte) (int, error) {
	n, err := c.File.Read(p)
	c.read += int64(n)
	return n, err
}

func (c *countingFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.File.ReadAt(p, off)
	c.read += int64(n)
	return n, err
}

func (c *countingFile) Write(p []byte) (int, error) {
	n, err := c.File.Write(p)
	c.written += int64(n)
	return n, err
}

func (c *countingFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := c.File.WriteAt(p, off)
	c.written += int64(n)
	return n, err
}

func (c *countingFile) Close() error {
	err := c.File.Close()
	if c.fs.stats != nil {
		if c.read > 0 {
			c.fs.stats.RecordDownload(c.rel, c.read)
		}
		if c.written > 0 {
			c.fs.stats.RecordUpload(c.written)
		}
	}
	return err
}

var _ afero.Fs = (*FS)(nil)
