// Package stats tracks transfer counters, a 60-second sliding
// bandwidth window, active request/client gauges, and the persisted
// per-file download tallies.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// bandwidthWindow is how much transfer history feeds the rate average.
const bandwidthWindow = 60 * time.Second

// clientExpiry is how long an IP counts as an active client after its
// last request.
const clientExpiry = 60 * time.Second

type sample struct {
	at      time.Time
	dlBytes int64
	ulBytes int64
}

// Snapshot is a consistent point-in-time view for /api/status.
type Snapshot struct {
	TotalDownloads     int64   `json:"totalDownloads"`
	TotalDownloadBytes int64   `json:"totalDownloadBytes"`
	TotalUploads       int64   `json:"totalUploads"`
	TotalUploadBytes   int64   `json:"totalUploadBytes"`
	ActiveRequests     int64   `json:"activeRequests"`
	ActiveClients      int     `json:"activeClients"`
	DownloadBps        float64 `json:"downloadBps"`
	UploadBps          float64 `json:"uploadBps"`
}

// Stats is the process-wide statistics service.
type Stats struct {
	totalDownloads     atomic.Int64
	totalDownloadBytes atomic.Int64
	totalUploads       atomic.Int64
	totalUploadBytes   atomic.Int64
	activeRequests     atomic.Int64

	mu      sync.Mutex
	samples []sample
	clients map[string]time.Time

	db  *TallyDB
	log *slog.Logger
	now func() time.Time
}

// Open wires the stats service to its sqlite tally store and reloads
// checkpointed lifetime counters. db may be nil in tests.
func Open(ctx context.Context, db *TallyDB, log *slog.Logger) (*Stats, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Stats{
		clients: make(map[string]time.Time),
		db:      db,
		log:     log,
		now:     time.Now,
	}
	if db != nil {
		for name, dst := range map[string]*atomic.Int64{
			"total_downloads":      &s.totalDownloads,
			"total_download_bytes": &s.totalDownloadBytes,
			"total_uploads":        &s.totalUploads,
			"total_upload_bytes":   &s.totalUploadBytes,
		} {
			v, err := db.GetCounter(ctx, name)
			if err != nil {
				return nil, err
			}
			dst.Store(v)
		}
	}
	return s, nil
}

// StartRequest marks a request in flight and refreshes the client set.
func (s *Stats) StartRequest(ip string) {
	s.activeRequests.Add(1)
	if ip == "" {
		return
	}
	now := s.now()
	s.mu.Lock()
	s.clients[ip] = now
	s.mu.Unlock()
}

// EndRequest balances StartRequest; callers defer it on every path.
func (s *Stats) EndRequest() {
	s.activeRequests.Add(-1)
}

// RecordDownload accounts one completed (or partial) file read.
func (s *Stats) RecordDownload(relPath string, bytes int64) {
	s.totalDownloads.Add(1)
	s.totalDownloadBytes.Add(bytes)
	s.addSample(bytes, 0)
	if s.db != nil && relPath != "" {
		if _, err := s.db.IncrementDownload(context.Background(), relPath); err != nil {
			s.log.Warn("download tally failed", "path", relPath, "error", err)
		}
	}
}

// RecordDownloadBytes accounts transfer volume without bumping the
// per-file tally (speedtest, HLS segments).
func (s *Stats) RecordDownloadBytes(bytes int64) {
	s.totalDownloadBytes.Add(bytes)
	s.addSample(bytes, 0)
}

// RecordUpload accounts one completed upload.
func (s *Stats) RecordUpload(bytes int64) {
	s.totalUploads.Add(1)
	s.totalUploadBytes.Add(bytes)
	s.addSample(0, bytes)
}

// RecordUploadBytes accounts upload volume without counting an upload.
func (s *Stats) RecordUploadBytes(bytes int64) {
	s.totalUploadBytes.Add(bytes)
	s.addSample(0, bytes)
}

func (s *Stats) addSample(dl, ul int64) {
	now := s.now()
	s.mu.Lock()
	s.samples = append(s.samples, sample{at: now, dlBytes: dl, ulBytes: ul})
	s.evictLocked(now)
	s.mu.Unlock()
}

// evictLocked drops samples older than the window; called on every
// read and write so the ring stays bounded.
func (s *Stats) evictLocked(now time.Time) {
	cutoff := now.Add(-bandwidthWindow)
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

// DownloadCount reads a file's persisted tally.
func (s *Stats) DownloadCount(relPath string) int64 {
	if s.db == nil {
		return 0
	}
	n, err := s.db.DownloadCount(context.Background(), relPath)
	if err != nil {
		s.log.Warn("tally read failed", "path", relPath, "error", err)
		return 0
	}
	return n
}

// TopDownloads reads the persisted leaderboard.
func (s *Stats) TopDownloads(n int) []FileTally {
	if s.db == nil {
		return nil
	}
	out, err := s.db.Top(context.Background(), n)
	if err != nil {
		s.log.Warn("tally top failed", "error", err)
		return nil
	}
	return out
}

// PathRenamed and PathDeleted keep tallies attached to moved files.
func (s *Stats) PathRenamed(oldRel, newRel string) {
	if s.db == nil {
		return
	}
	if err := s.db.RenamePath(context.Background(), oldRel, newRel); err != nil {
		s.log.Warn("tally rename failed", "error", err)
	}
}

func (s *Stats) PathDeleted(rel string) {
	if s.db == nil {
		return
	}
	if err := s.db.DeletePath(context.Background(), rel); err != nil {
		s.log.Warn("tally delete failed", "error", err)
	}
}

// Current returns a consistent snapshot: counters first, then the
// derived bandwidth figures.
func (s *Stats) Current() Snapshot {
	snap := Snapshot{
		TotalDownloads:     s.totalDownloads.Load(),
		TotalDownloadBytes: s.totalDownloadBytes.Load(),
		TotalUploads:       s.totalUploads.Load(),
		TotalUploadBytes:   s.totalUploadBytes.Load(),
		ActiveRequests:     s.activeRequests.Load(),
	}
	now := s.now()
	s.mu.Lock()
	s.evictLocked(now)
	var dl, ul int64
	var oldest time.Time
	for i, sm := range s.samples {
		if i == 0 {
			oldest = sm.at
		}
		dl += sm.dlBytes
		ul += sm.ulBytes
	}
	span := time.Second
	if len(s.samples) > 0 {
		if d := now.Sub(oldest); d > span {
			span = d
		}
	}
	for ip, seen := range s.clients {
		if now.Sub(seen) >= clientExpiry {
			delete(s.clients, ip)
		}
	}
	snap.ActiveClients = len(s.clients)
	s.mu.Unlock()

	snap.DownloadBps = float64(dl) / span.Seconds()
	snap.UploadBps = float64(ul) / span.Seconds()
	return snap
}

// Flush checkpoints lifetime counters into the tally store and logs a
// one-line summary.
func (s *Stats) Flush(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for name, src := range map[string]*atomic.Int64{
		"total_downloads":      &s.totalDownloads,
		"total_download_bytes": &s.totalDownloadBytes,
		"total_uploads":        &s.totalUploads,
		"total_upload_bytes":   &s.totalUploadBytes,
	} {
		if err := s.db.SetCounter(ctx, name, src.Load()); err != nil {
			return err
		}
	}
	s.log.Info("stats checkpoint",
		"downloads", s.totalDownloads.Load(),
		"downloaded", humanize.Bytes(uint64(s.totalDownloadBytes.Load())),
		"uploads", s.totalUploads.Load(),
		"uploaded", humanize.Bytes(uint64(s.totalUploadBytes.Load())),
	)
	return nil
}
