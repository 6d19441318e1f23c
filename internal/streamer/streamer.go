// Package streamer serves HLS video from share files: lazy playlist
// synthesis and on-demand segment transcoding through the external
// ffmpeg collaborator, with per-segment inflight deduplication, a
// bounded transcoder pool, and a TTL-evicted on-disk cache.
package streamer

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/gamelist1990/FileShare/internal/fsutil"
)

const (
	// noCacheThreshold switches sources above 1 GiB to transient
	// segment handling.
	noCacheThreshold = 1 << 30

	// segmentGrace is how long a transient segment outlives its
	// response before deletion.
	segmentGrace = 8 * time.Second

	// cacheTTL evicts cache entries not accessed for this long.
	cacheTTL = 30 * time.Minute

	// janitorInterval is the sweep cadence.
	janitorInterval = 60 * time.Second

	// maxTranscoders caps concurrent ffmpeg child processes.
	maxTranscoders = 2

	metaFileName  = "meta.json"
	indexFileName = "index.m3u8"
	atimeFileName = ".atime"
)

// ErrTranscoderMissing marks an absent ffmpeg binary; HTTP answers 501.
var ErrTranscoderMissing = errors.New("transcoder binary not available")

// ErrNotStreamable marks a source the streamer does not handle.
var ErrNotStreamable = errors.New("source is not streamable")

// Config is the "hls" settings module.
type Config struct {
	SegmentSec float64 `json:"segmentSec"`
	Preset     string  `json:"preset"`
}

// DefaultConfig is registered at startup.
func DefaultConfig() Config {
	return Config{SegmentSec: 6, Preset: "veryfast"}
}

var validPresets = map[string]bool{
	"ultrafast": true,
	"superfast": true,
	"veryfast":  true,
	"faster":    true,
}

// preset clamps the configured preset to the allowed set.
func (c Config) preset() string {
	if validPresets[c.Preset] {
		return c.Preset
	}
	return "veryfast"
}

func (c Config) segmentSec() float64 {
	if c.SegmentSec <= 0 {
		return 6
	}
	return c.SegmentSec
}

// meta is the per-source cache descriptor stored as meta.json.
type meta struct {
	DurationSec   float64 `json:"durationSec"`
	TotalSegments int     `json:"totalSegments"`
	SegSec        float64 `json:"segSec"`
}

// Options wires the streamer to its environment.
type Options struct {
	ShareRoot   string // canonical share root
	CacheRoot   string // .fileshare/cache/hls
	FFmpegPath  string
	FFprobePath string
	Config      func() Config
	Logger      *slog.Logger
}

// Streamer is the process-wide HLS service.
type Streamer struct {
	opt      Options
	rootHash string
	log      *slog.Logger

	inflight singleflight.Group
	sem      *semaphore.Weighted

	mu          sync.Mutex
	noCacheMeta map[string]meta // cacheDir -> memoized metadata
}

// New builds the streamer. The cache root is created lazily.
func New(opt Options) *Streamer {
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}
	if opt.Config == nil {
		opt.Config = DefaultConfig
	}
	h := sha1.Sum([]byte(opt.ShareRoot))
	return &Streamer{
		opt:         opt,
		rootHash:    hex.EncodeToString(h[:]),
		log:         log,
		sem:         semaphore.NewWeighted(maxTranscoders),
		noCacheMeta: make(map[string]meta),
	}
}

// IsStreamable restricts HLS to the container formats the stream-copy
// fast path understands.
func IsStreamable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".m4v", ".mov":
		return true
	}
	return false
}

// source describes one resolved, fingerprinted share file.
type source struct {
	abs      string
	size     int64
	cacheDir string
	noCache  bool
}

// resolveSource maps a share-relative path to its cache identity. The
// fingerprint binds to (absPath, size, mtimeNs) so any change to the
// file lands in a fresh cache directory.
func (s *Streamer) resolveSource(relPath string) (*source, error) {
	abs, err := fsutil.Resolve(s.opt.ShareRoot, relPath)
	if err != nil {
		return nil, err
	}
	if !IsStreamable(abs) {
		return nil, ErrNotStreamable
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return nil, ErrNotStreamable
	}
	fp := fmt.Sprintf("%s:%d:%d", abs, info.Size(), info.ModTime().UnixNano())
	h := sha1.Sum([]byte(fp))
	return &source{
		abs:      abs,
		size:     info.Size(),
		cacheDir: filepath.Join(s.opt.CacheRoot, s.rootHash, hex.EncodeToString(h[:])),
		noCache:  info.Size() > noCacheThreshold,
	}, nil
}

// SegmentName formats the canonical segment file name.
func SegmentName(index int) string {
	return fmt.Sprintf("seg_%05d.ts", index)
}

// ParseSegmentName validates a client-supplied segment file name and
// extracts its index.
func ParseSegmentName(name string) (int, bool) {
	if len(name) != len("seg_00000.ts") || !strings.HasPrefix(name, "seg_") || !strings.HasSuffix(name, ".ts") {
		return 0, false
	}
	digits := name[4:9]
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	return n, true
}

// touchAccess refreshes the cache entry's liveness signal. When the
// filesystem refuses directory mtime updates, a sidecar .atime file
// holding Unix millis takes over.
func (s *Streamer) touchAccess(dir string) {
	now := time.Now()
	if err := os.Chtimes(dir, now, now); err != nil {
		millis := strconv.FormatInt(now.UnixMilli(), 10)
		if werr := os.WriteFile(filepath.Join(dir, atimeFileName), []byte(millis), 0o644); werr != nil {
			s.log.Debug("cache touch failed", "dir", dir, "error", werr)
		}
	}
}

// entryAge reads the liveness signal back, preferring the sidecar.
func entryAge(dir string, now time.Time) (time.Duration, bool) {
	if b, err := os.ReadFile(filepath.Join(dir, atimeFileName)); err == nil {
		if ms, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64); err == nil {
			return now.Sub(time.UnixMilli(ms)), true
		}
	}
	info, err := os.Stat(dir)
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}

func (s *Streamer) readMeta(src *source) (meta, bool) {
	if src.noCache {
		s.mu.Lock()
		m, ok := s.noCacheMeta[src.cacheDir]
		s.mu.Unlock()
		return m, ok
	}
	b, err := os.ReadFile(filepath.Join(src.cacheDir, metaFileName))
	if err != nil {
		return meta{}, false
	}
	var m meta
	if err := json.Unmarshal(b, &m); err != nil {
		return meta{}, false
	}
	return m, true
}

func (s *Streamer) writeMeta(src *source, m meta) {
	if src.noCache {
		s.mu.Lock()
		s.noCacheMeta[src.cacheDir] = m
		s.mu.Unlock()
		return
	}
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := os.WriteFile(filepath.Join(src.cacheDir, metaFileName), b, 0o644); err != nil {
		s.log.Warn("meta write failed", "dir", src.cacheDir, "error", err)
	}
}

// Close synchronously removes the whole HLS cache root. Called on
// shutdown, including fatal signal paths.
func (s *Streamer) Close() {
	if s.opt.CacheRoot == "" {
		return
	}
	if err := os.RemoveAll(s.opt.CacheRoot); err != nil {
		s.log.Warn("hls cache removal failed", "error", err)
	}
}
