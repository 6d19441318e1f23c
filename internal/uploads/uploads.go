// Package uploads ingests multipart file writes into the share:
// filename sanitation, unique-name allocation, quota/disk admission,
// and atomic writes.
package uploads

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gamelist1990/FileShare/internal/fsutil"
)

// Config is the "upload" settings module.
type Config struct {
	MaxFileSizeBytes    int64 `json:"maxFileSizeBytes"`
	DirectoryQuotaBytes int64 `json:"directoryQuotaBytes"`
}

// DefaultConfig is registered at startup.
func DefaultConfig() Config {
	return Config{
		MaxFileSizeBytes:    4 << 30, // 4 GiB
		DirectoryQuotaBytes: 0,       // quota disabled; physical disk governs
	}
}

// Scope tells which limit produced the DiskInfo numbers.
type Scope string

const (
	ScopeDisk  Scope = "disk"
	ScopeQuota Scope = "quota"
)

// DiskInfo is the admission picture reported by /api/disk and used by
// every upload decision.
type DiskInfo struct {
	Total       int64   `json:"total"`
	Free        int64   `json:"free"`
	Used        int64   `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
	MaxUpload   int64   `json:"maxUpload"`
	MaxFileSize int64   `json:"maxFileSize"`
	Scope       Scope   `json:"scope"`
	QuotaBytes  int64   `json:"quotaBytes"`
}

var (
	ErrInvalidFilename     = errors.New("invalid filename")
	ErrNotDirectory        = errors.New("target is not a directory")
	ErrTooLarge            = errors.New("file exceeds allowed size")
	ErrQuotaExceeded       = errors.New("directory quota exceeded")
	ErrInsufficientStorage = errors.New("insufficient disk space")
)

// usageCacheTTL bounds how stale the recursive quota walk may be.
const usageCacheTTL = 30 * time.Second

// Service handles upload admission and storage for one share root.
type Service struct {
	Root   string
	Config func() Config
	Log    *slog.Logger

	mu          sync.Mutex
	usage       int64
	usageAt     time.Time
	lastDisk    DiskInfo
	hasLastDisk bool
	now         func() time.Time
}

// NewService wires the upload service; cfg is called per operation so
// settings updates apply immediately.
func NewService(root string, cfg func() Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Root: root, Config: cfg, Log: log, now: time.Now}
}

// forbidden characters are replaced with underscores; control bytes
// are stripped entirely.
const forbiddenChars = `/\:*?"<>|`

// SanitizeFilename reduces an untrusted filename to a safe basename.
func SanitizeFilename(name string) (string, error) {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "/" {
		return "", ErrInvalidFilename
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20:
			// drop control characters
		case strings.ContainsRune(forbiddenChars, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || out == "." || out == ".." {
		return "", ErrInvalidFilename
	}
	return out, nil
}

// UniquePath returns dir/name, appending " (N)" before the last dot
// until the candidate does not exist.
func UniquePath(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
		return candidate, nil
	}
	stem, ext := name, ""
	if i := strings.LastIndex(name, "."); i > 0 {
		stem, ext = name[:i], name[i:]
	}
	for n := 1; n < 10000; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", stem, n, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s", name)
}

// Disk reports the admission picture. With a directory quota the
// numbers come from a cached recursive usage walk; otherwise from the
// filesystem. Probe failures fall back to the last good reading.
func (s *Service) Disk() (DiskInfo, error) {
	cfg := s.Config()
	physTotal, physFree, err := diskFree(s.Root)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.hasLastDisk {
			return s.lastDisk, nil
		}
		return DiskInfo{}, err
	}

	var info DiskInfo
	info.MaxFileSize = cfg.MaxFileSizeBytes
	if cfg.DirectoryQuotaBytes > 0 {
		used := s.cachedUsage()
		free := cfg.DirectoryQuotaBytes - used
		if free < 0 {
			free = 0
		}
		info.Scope = ScopeQuota
		info.QuotaBytes = cfg.DirectoryQuotaBytes
		info.Total = cfg.DirectoryQuotaBytes
		info.Used = used
		info.Free = free
		info.MaxUpload = min64(free, int64(physFree), cfg.MaxFileSizeBytes)
	} else {
		info.Scope = ScopeDisk
		info.Total = int64(physTotal)
		info.Free = int64(physFree)
		info.Used = info.Total - info.Free
		info.MaxUpload = min64(info.Free, cfg.MaxFileSizeBytes)
	}
	if info.Total > 0 {
		info.UsedPercent = float64(info.Used) / float64(info.Total) * 100
	}

	s.mu.Lock()
	s.lastDisk = info
	s.hasLastDisk = true
	s.mu.Unlock()
	return info, nil
}

// cachedUsage walks the share at most once per TTL window.
func (s *Service) cachedUsage() int64 {
	s.mu.Lock()
	if s.now().Sub(s.usageAt) < usageCacheTTL && !s.usageAt.IsZero() {
		u := s.usage
		s.mu.Unlock()
		return u
	}
	s.mu.Unlock()

	var total int64
	_ = filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})

	s.mu.Lock()
	s.usage = total
	s.usageAt = s.now()
	s.mu.Unlock()
	return total
}

// InvalidateCaches forgets cached usage after any write to the share.
func (s *Service) InvalidateCaches() {
	s.mu.Lock()
	s.usageAt = time.Time{}
	s.mu.Unlock()
}

// CheckDeclaredSize rejects a request whose declared length already
// exceeds the configured ceiling.
func (s *Service) CheckDeclaredSize(contentLength int64) error {
	if max := s.Config().MaxFileSizeBytes; max > 0 && contentLength > max {
		return ErrTooLarge
	}
	return nil
}

// Store writes one uploaded file. dirRel names the target directory
// inside the share; filename has already survived SanitizeFilename.
// The returned path is share-relative.
func (s *Service) Store(dirRel, filename string, src io.Reader, size int64) (string, int64, error) {
	dir, err := fsutil.Resolve(s.Root, dirRel)
	if err != nil {
		return "", 0, err
	}
	st, err := os.Stat(dir)
	if err != nil || !st.IsDir() {
		return "", 0, ErrNotDirectory
	}

	info, err := s.Disk()
	if err != nil {
		return "", 0, err
	}
	cfg := s.Config()
	if cfg.MaxFileSizeBytes > 0 && size > cfg.MaxFileSizeBytes {
		return "", 0, ErrTooLarge
	}
	if info.Scope == ScopeQuota {
		if info.Free <= 0 || size > info.Free {
			return "", 0, ErrQuotaExceeded
		}
	}
	if size > 0 && info.Scope == ScopeDisk && size > info.Free {
		return "", 0, ErrInsufficientStorage
	}

	dst, err := UniquePath(dir, filename)
	if err != nil {
		return "", 0, err
	}
	if _, err := fsutil.ResolveForWrite(s.Root, fsutil.Rel(s.Root, dst)); err != nil {
		return "", 0, err
	}

	written, err := atomicWrite(dst, src)
	if err != nil {
		return "", 0, err
	}
	s.InvalidateCaches()
	return fsutil.Rel(s.Root, dst), written, nil
}

// atomicWrite streams src into a temp file next to dst, then renames.
func atomicWrite(dst string, src io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	n, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

func min64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
