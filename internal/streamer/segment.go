package streamer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Segment is one ready-to-serve segment file. NoCache segments must be
// released via Release once the response is written.
type Segment struct {
	Path        string
	NoCache     bool
	LastSegment bool

	s        *Streamer
	cacheDir string
}

// Release schedules transient cleanup: the segment file disappears
// after the grace window, and the final segment takes the whole cache
// directory with it.
func (g *Segment) Release() {
	if g == nil || !g.NoCache {
		return
	}
	path := g.Path
	time.AfterFunc(segmentGrace, func() {
		_ = os.Remove(path)
	})
	if g.LastSegment {
		dir := g.cacheDir
		s := g.s
		time.AfterFunc(segmentGrace, func() {
			_ = os.RemoveAll(dir)
			s.mu.Lock()
			delete(s.noCacheMeta, dir)
			s.mu.Unlock()
		})
	}
}

// OpenSegment produces one segment, generating it on demand. For any
// (cacheDir, index) key at most one ffmpeg job runs; concurrent
// callers share its outcome. Generation first tries a stream copy and
// falls back to a full transcode.
func (s *Streamer) OpenSegment(ctx context.Context, relPath, fileName string) (*Segment, error) {
	index, ok := ParseSegmentName(fileName)
	if !ok {
		return nil, ErrNotStreamable
	}
	src, err := s.resolveSource(relPath)
	if err != nil {
		return nil, err
	}
	s.touchAccess(src.cacheDir)

	m, hasMeta := s.readMeta(src)
	segPath := filepath.Join(src.cacheDir, SegmentName(index))

	if !src.noCache {
		if _, err := os.Stat(segPath); err == nil {
			return &Segment{Path: segPath, s: s, cacheDir: src.cacheDir}, nil
		}
	}

	key := src.cacheDir + "#" + SegmentName(index)
	_, err, _ = s.inflight.Do(key, func() (any, error) {
		if _, err := os.Stat(segPath); err == nil {
			return nil, nil
		}
		return nil, s.generateSegment(ctx, src, index, segPath)
	})
	if err != nil {
		return nil, err
	}
	// Success iff the file exists after the shared job completed.
	if _, err := os.Stat(segPath); err != nil {
		return nil, fmt.Errorf("segment generation produced no output")
	}
	g := &Segment{
		Path:     segPath,
		NoCache:  src.noCache,
		s:        s,
		cacheDir: src.cacheDir,
	}
	if hasMeta && m.TotalSegments > 0 && index == m.TotalSegments-1 {
		g.LastSegment = true
	}
	return g, nil
}

// generateSegment runs under the inflight lock for its key and inside
// the bounded transcoder pool.
func (s *Streamer) generateSegment(ctx context.Context, src *source, index int, segPath string) error {
	if _, err := exec.LookPath(s.opt.FFmpegPath); err != nil {
		return ErrTranscoderMissing
	}
	if err := os.MkdirAll(src.cacheDir, 0o755); err != nil {
		return err
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	cfg := s.opt.Config()
	segSec := cfg.segmentSec()
	start := float64(index) * segSec

	// Fast path: stream copy. Falls back to one transcode attempt.
	if err := s.runFFmpeg(ctx, copyArgs(src.abs, start, segSec, segPath)); err == nil {
		if st, serr := os.Stat(segPath); serr == nil && st.Size() > 0 {
			return nil
		}
	}
	_ = os.Remove(segPath)
	if err := s.runFFmpeg(ctx, transcodeArgs(src.abs, start, segSec, cfg.preset(), segPath)); err != nil {
		_ = os.Remove(segPath)
		return fmt.Errorf("transcode segment %d: %w", index, err)
	}
	return nil
}

func (s *Streamer) runFFmpeg(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, s.opt.FFmpegPath, args...)
	return cmd.Run()
}

func copyArgs(src string, start, segSec float64, out string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", src,
		"-t", fmt.Sprintf("%.3f", segSec+0.5),
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "mpegts",
		"-y", out,
	}
}

func transcodeArgs(src string, start, segSec float64, preset, out string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", src,
		"-t", fmt.Sprintf("%.3f", segSec+0.5),
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", "26",
		"-profile:v", "main",
		"-level:v", "4.0",
		"-g", "60",
		"-c:a", "aac",
		"-b:a", "96k",
		"-ac", "2",
		"-movflags", "+faststart",
		"-f", "mpegts",
		"-y", out,
	}
}
