package streamer

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// probeDuration asks ffprobe for the container duration, falling back
// to parsing ffmpeg's banner output when ffprobe is unavailable.
func (s *Streamer) probeDuration(ctx context.Context, src string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if _, err := exec.LookPath(s.opt.FFprobePath); err == nil {
		out, err := exec.CommandContext(ctx, s.opt.FFprobePath,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			src,
		).Output()
		if err == nil {
			if d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); err == nil && d > 0 {
				return d, nil
			}
		}
	}

	if _, err := exec.LookPath(s.opt.FFmpegPath); err != nil {
		return 0, ErrTranscoderMissing
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.opt.FFmpegPath, "-hide_banner", "-i", src)
	cmd.Stderr = &stderr
	_ = cmd.Run() // ffmpeg exits non-zero without an output file
	m := durationRe.FindStringSubmatch(stderr.String())
	if m == nil {
		return 0, nil
	}
	hours, _ := strconv.ParseFloat(m[1], 64)
	mins, _ := strconv.ParseFloat(m[2], 64)
	secs, _ := strconv.ParseFloat(m[3], 64)
	return hours*3600 + mins*60 + secs, nil
}
