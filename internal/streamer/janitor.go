package streamer

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// RunJanitor sweeps the cache until ctx is done. Entries idle past the
// TTL are removed; emptied root-hash directories are pruned.
func (s *Streamer) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// Sweep performs one janitor pass at the given instant.
func (s *Streamer) Sweep(now time.Time) {
	roots, err := os.ReadDir(s.opt.CacheRoot)
	if err != nil {
		return
	}
	for _, rh := range roots {
		if !rh.IsDir() {
			continue
		}
		rootDir := filepath.Join(s.opt.CacheRoot, rh.Name())
		sources, err := os.ReadDir(rootDir)
		if err != nil {
			continue
		}
		remaining := 0
		for _, sd := range sources {
			if !sd.IsDir() {
				continue
			}
			dir := filepath.Join(rootDir, sd.Name())
			age, ok := entryAge(dir, now)
			if ok && age >= cacheTTL {
				if err := os.RemoveAll(dir); err != nil {
					s.log.Warn("cache eviction failed", "dir", dir, "error", err)
					remaining++
					continue
				}
				s.mu.Lock()
				delete(s.noCacheMeta, dir)
				s.mu.Unlock()
				s.log.Debug("evicted hls cache entry", "dir", sd.Name())
				continue
			}
			remaining++
		}
		if remaining == 0 {
			_ = os.Remove(rootDir)
		}
	}
}
