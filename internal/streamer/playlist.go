package streamer

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// progressiveLookAhead is how many not-yet-generated segments a
// duration-less playlist advertises past the last one on disk.
const progressiveLookAhead = 3

// Playlist synthesizes (or replays) the VOD playlist for one source
// and returns it with segment URIs rewritten onto the stream API.
func (s *Streamer) Playlist(ctx context.Context, relPath string) (string, error) {
	src, err := s.resolveSource(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(src.cacheDir, 0o755); err != nil {
		return "", err
	}
	s.touchAccess(src.cacheDir)

	// A finalized playlist replays as-is for cached sources.
	if !src.noCache {
		if b, err := os.ReadFile(filepath.Join(src.cacheDir, indexFileName)); err == nil {
			stored := string(b)
			if strings.Contains(stored, "#EXT-X-ENDLIST") {
				return rewriteSegmentURIs(stored, relPath), nil
			}
		}
	}

	cfg := s.opt.Config()
	segSec := cfg.segmentSec()

	duration, err := s.probeDuration(ctx, src.abs)
	if err != nil {
		return "", err
	}
	if duration <= 0 {
		return s.progressivePlaylist(src, relPath, segSec), nil
	}

	total := int(math.Ceil(duration / segSec))
	if total < 1 {
		total = 1
	}
	s.writeMeta(src, meta{DurationSec: duration, TotalSegments: total, SegSec: segSec})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(segSec)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i < total; i++ {
		d := segSec
		if i == total-1 {
			if rem := duration - float64(i)*segSec; rem > 0 {
				d = rem
			}
		}
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", d)
		b.WriteString(SegmentName(i) + "\n")
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	stored := b.String()

	if !src.noCache {
		if err := os.WriteFile(filepath.Join(src.cacheDir, indexFileName), []byte(stored), 0o644); err != nil {
			s.log.Warn("playlist persist failed", "dir", src.cacheDir, "error", err)
		}
	}
	return rewriteSegmentURIs(stored, relPath), nil
}

// progressivePlaylist lists what exists plus a short look-ahead when
// the duration is unknown; no ENDLIST so players keep polling.
func (s *Streamer) progressivePlaylist(src *source, relPath string, segSec float64) string {
	existing := existingSegmentIndexes(src.cacheDir)
	last := -1
	if len(existing) > 0 {
		last = existing[len(existing)-1]
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(segSec)))
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	for i := 0; i <= last+progressiveLookAhead; i++ {
		fmt.Fprintf(&b, "#EXTINF:%.3f,\n", segSec)
		b.WriteString(SegmentName(i) + "\n")
	}
	return rewriteSegmentURIs(b.String(), relPath)
}

func existingSegmentIndexes(dir string) []int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []int
	for _, e := range entries {
		if n, ok := ParseSegmentName(e.Name()); ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// rewriteSegmentURIs maps bare seg_NNNNN.ts lines onto the stream API.
func rewriteSegmentURIs(playlist, relPath string) string {
	lines := strings.Split(playlist, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if _, ok := ParseSegmentName(trimmed); ok {
			lines[i] = "/api/stream/file?path=" + url.QueryEscape(relPath) + "&file=" + trimmed
		}
	}
	return strings.Join(lines, "\n")
}
