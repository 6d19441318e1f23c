// Package files implements the read side of the share: directory
// listings, range-aware file serving, MIME mapping, playlist URI
// rewriting, and the social-preview unfurl page.
package files

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/gamelist1990/FileShare/internal/blocklist"
	"github.com/gamelist1990/FileShare/internal/fsutil"
	"github.com/gamelist1990/FileShare/internal/stats"
)

// DataDirName is the reserved state directory at the share root. It is
// invisible to every client surface.
const DataDirName = ".fileshare"

// dirSizeWorkers bounds the parallel recursive-size walks per listing.
const dirSizeWorkers = 8

// Entry is one listing record. Directory sizes are recursive totals.
type Entry struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	IsDir         bool   `json:"isDir"`
	Size          int64  `json:"size"`
	Mtime         string `json:"mtime"`
	DownloadCount *int64 `json:"downloadCount,omitempty"`
}

// Service exposes read operations over the canonical share root.
type Service struct {
	Root  string
	Block *blocklist.List
	Stats *stats.Stats
	Log   *slog.Logger

	collator *collate.Collator
}

// NewService builds the read service over a canonical root.
func NewService(root string, block *blocklist.List, st *stats.Stats, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		Root:     root,
		Block:    block,
		Stats:    st,
		Log:      log,
		collator: collate.New(language.Und, collate.IgnoreCase),
	}
}

// List reads one directory. Blocked entries and the state directory
// are omitted; directories report recursive sizes computed in
// parallel, with unreadable children contributing zero.
func (s *Service) List(relPath string) ([]Entry, error) {
	local, err := fsutil.Resolve(s.Root, relPath)
	if err != nil {
		return nil, err
	}
	if s.blocked(local) {
		return nil, fsutil.ErrPathTraversal
	}
	dirents, err := os.ReadDir(local)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		if de.Name() == DataDirName {
			continue
		}
		child := filepath.Join(local, de.Name())
		if s.blocked(child) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		rel := fsutil.Rel(s.Root, child)
		e := Entry{
			Name:  de.Name(),
			Path:  rel,
			IsDir: info.IsDir(),
			Size:  info.Size(),
			Mtime: info.ModTime().UTC().Format(time.RFC3339),
		}
		if !e.IsDir && s.Stats != nil {
			if n := s.Stats.DownloadCount(rel); n > 0 {
				e.DownloadCount = &n
			}
		}
		entries = append(entries, e)
	}

	// Recursive sizes for directories, bounded fan-out.
	var g errgroup.Group
	g.SetLimit(dirSizeWorkers)
	for i := range entries {
		if !entries[i].IsDir {
			continue
		}
		e := &entries[i]
		g.Go(func() error {
			e.Size = dirSize(filepath.Join(local, e.Name))
			return nil
		})
	}
	_ = g.Wait()

	c := s.collator
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return c.CompareString(entries[i].Name, entries[j].Name) < 0
	})
	return entries, nil
}

// dirSize sums a subtree. Inaccessible entries contribute 0 and never
// abort the walk.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

// blocked checks the block list against the share-relative form.
func (s *Service) blocked(local string) bool {
	if s.Block == nil {
		return false
	}
	return s.Block.Blocked(fsutil.Rel(s.Root, local))
}
