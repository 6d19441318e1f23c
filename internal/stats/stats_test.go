package stats

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

// TestCountersAndBandwidth verifies counter math and windowed rates.
func TestCountersAndBandwidth(t *testing.T) {
	s, err := Open(context.Background(), nil, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Now()
	s.now = func() time.Time { return base }

	s.RecordDownload("a.bin", 1000)
	s.RecordUpload(500)
	s.now = func() time.Time { return base.Add(2 * time.Second) }
	s.RecordDownload("b.bin", 3000)

	snap := s.Current()
	if snap.TotalDownloads != 2 || snap.TotalDownloadBytes != 4000 {
		t.Fatalf("download counters: %+v", snap)
	}
	if snap.TotalUploads != 1 || snap.TotalUploadBytes != 500 {
		t.Fatalf("upload counters: %+v", snap)
	}
	// 4000 bytes over a 2 s span.
	if snap.DownloadBps != 2000 {
		t.Fatalf("DownloadBps = %v, want 2000", snap.DownloadBps)
	}
	if snap.UploadBps != 250 {
		t.Fatalf("UploadBps = %v, want 250", snap.UploadBps)
	}
}

// TestBandwidthEviction drops samples older than the 60 s window.
func TestBandwidthEviction(t *testing.T) {
	s, err := Open(context.Background(), nil, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Now()
	s.now = func() time.Time { return base }
	s.RecordDownloadBytes(1 << 20)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	snap := s.Current()
	if snap.DownloadBps != 0 {
		t.Fatalf("stale sample still counted: %v", snap.DownloadBps)
	}
	// Lifetime counters are unaffected by eviction.
	if snap.TotalDownloadBytes != 1<<20 {
		t.Fatalf("lifetime bytes = %d", snap.TotalDownloadBytes)
	}
}

// TestActiveClientsExpiry forgets idle IPs after a minute.
func TestActiveClientsExpiry(t *testing.T) {
	s, err := Open(context.Background(), nil, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	base := time.Now()
	s.now = func() time.Time { return base }
	s.StartRequest("1.1.1.1")
	s.EndRequest()
	s.StartRequest("2.2.2.2")
	s.EndRequest()
	if got := s.Current().ActiveClients; got != 2 {
		t.Fatalf("ActiveClients = %d, want 2", got)
	}
	s.now = func() time.Time { return base.Add(61 * time.Second) }
	if got := s.Current().ActiveClients; got != 0 {
		t.Fatalf("ActiveClients after expiry = %d, want 0", got)
	}
}

// TestTallyPersistence download counts survive a reopen.
func TestTallyPersistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stats.db")
	db, err := OpenTallyDB(ctx, path)
	if err != nil {
		t.Fatalf("OpenTallyDB: %v", err)
	}
	s, err := Open(ctx, db, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.RecordDownload("docs/a.pdf", 10)
	s.RecordDownload("docs/a.pdf", 10)
	s.RecordDownload("b.iso", 10)
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db2, err := OpenTallyDB(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	s2, err := Open(ctx, db2, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := s2.DownloadCount("docs/a.pdf"); got != 2 {
		t.Fatalf("DownloadCount = %d, want 2", got)
	}
	if got := s2.Current().TotalDownloads; got != 3 {
		t.Fatalf("reloaded TotalDownloads = %d, want 3", got)
	}
	top := s2.TopDownloads(1)
	if len(top) != 1 || top[0].Path != "docs/a.pdf" {
		t.Fatalf("TopDownloads = %+v", top)
	}
}

// TestPathRenameMovesTally renames keep the count attached.
func TestPathRenameMovesTally(t *testing.T) {
	ctx := context.Background()
	db, err := OpenTallyDB(ctx, filepath.Join(t.TempDir(), "stats.db"))
	if err != nil {
		t.Fatalf("OpenTallyDB: %v", err)
	}
	defer db.Close()
	s, err := Open(ctx, db, testLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.RecordDownload("old.bin", 1)
	s.PathRenamed("old.bin", "new.bin")
	if got := s.DownloadCount("new.bin"); got != 1 {
		t.Fatalf("count after rename = %d", got)
	}
	if got := s.DownloadCount("old.bin"); got != 0 {
		t.Fatalf("old path still counted = %d", got)
	}
	s.PathDeleted("new.bin")
	if got := s.DownloadCount("new.bin"); got != 0 {
		t.Fatalf("count after delete = %d", got)
	}
}
