package httpapi

import (
	"io"
	"net/http"
	"os"
	"strconv"
)

func (s *Server) handleStreamPlaylist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	relPath := r.URL.Query().Get("path")
	if relPath == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	playlist, err := s.Streamer.Playlist(r.Context(), relPath)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(playlist)))
	_, _ = io.WriteString(w, playlist)
}

func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	relPath := r.URL.Query().Get("path")
	fileName := r.URL.Query().Get("file")
	if relPath == "" || fileName == "" {
		writeError(w, http.StatusBadRequest, "path and file are required")
		return
	}
	seg, err := s.Streamer.OpenSegment(r.Context(), relPath, fileName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	// Transient segments schedule their own deletion once served.
	defer seg.Release()

	f, err := os.Open(seg.Path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "segment read failed")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "segment read failed")
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	if seg.NoCache {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	n, _ := io.Copy(w, f)
	if s.Stats != nil {
		s.Stats.RecordDownloadBytes(n)
	}
}
