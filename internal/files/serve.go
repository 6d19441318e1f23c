package files

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gamelist1990/FileShare/internal/fsutil"
)

// ErrNotFound is returned for directories and missing targets so the
// HTTP layer can answer 404 without leaking local paths.
var ErrNotFound = errors.New("not found")

// Serve streams one file with range support. forceDownload reflects
// the ?download query flag. The response is written in full here;
// returned errors mean nothing was written yet.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, relPath string, forceDownload bool) error {
	local, err := fsutil.Resolve(s.Root, relPath)
	if err != nil {
		return err
	}
	if s.blocked(local) || strings.EqualFold(filepath.Base(local), DataDirName) {
		return fsutil.ErrPathTraversal
	}
	info, err := os.Stat(local)
	if err != nil || info.IsDir() {
		return ErrNotFound
	}
	rel := fsutil.Rel(s.Root, local)

	w.Header().Set("Accept-Ranges", "bytes")

	// Social preview bots asking for a forced download get an unfurl
	// page instead of binary bytes, unless they sent a Range header.
	if forceDownload && r.Header.Get("Range") == "" && IsPreviewBot(r.UserAgent()) {
		return s.serveUnfurl(w, r, rel, info.Size())
	}

	ext := strings.ToLower(filepath.Ext(local))
	if ext == ".m3u8" || ext == ".m3u" {
		return s.servePlaylist(w, r, local, rel)
	}

	w.Header().Set("Content-Type", ContentType(local))
	if forceDownload {
		w.Header().Set("Content-Disposition",
			"attachment; filename*=UTF-8''"+url.PathEscape(filepath.Base(local)))
	}

	size := info.Size()
	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		if r.Method == http.MethodHead {
			return nil
		}
		f, err := os.Open(local)
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		defer f.Close()
		n, _ := io.Copy(w, f)
		if s.Stats != nil {
			s.Stats.RecordDownload(rel, n)
		}
		return nil
	}

	br, err := parseRange(rangeHeader, size)
	if err != nil {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", br.start, br.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(br.length(), 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}
	f, err := os.Open(local)
	if err != nil {
		return nil
	}
	defer f.Close()
	if _, err := f.Seek(br.start, io.SeekStart); err != nil {
		return nil
	}
	n, _ := io.CopyN(w, f, br.length())
	if s.Stats != nil {
		if br.start == 0 {
			s.Stats.RecordDownload(rel, n)
		} else {
			s.Stats.RecordDownloadBytes(n)
		}
	}
	return nil
}

// servePlaylist reads an HLS playlist as UTF-8, rewrites its URIs onto
// the file API, and serves the result whole. Ranges do not apply to
// rewritten content.
func (s *Service) servePlaylist(w http.ResponseWriter, r *http.Request, local, rel string) error {
	b, err := os.ReadFile(local)
	if err != nil {
		return fmt.Errorf("read playlist: %w", err)
	}
	out := RewritePlaylist(string(b), rel)
	w.Header().Set("Content-Type", ContentType(local))
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	if r.Method == http.MethodHead {
		return nil
	}
	_, _ = io.WriteString(w, out)
	if s.Stats != nil {
		s.Stats.RecordDownload(rel, int64(len(out)))
	}
	return nil
}
