package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/gamelist1990/FileShare/internal/fsutil"
	"github.com/gamelist1990/FileShare/internal/uploads"
)

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	entries, err := s.Files.List(r.URL.Query().Get("path"))
	if err != nil {
		if errors.Is(err, fsutil.ErrPathTraversal) {
			writeServiceError(w, err)
		} else {
			writeError(w, http.StatusNotFound, "not found")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":    fsutil.Scrub(r.URL.Query().Get("path")),
		"entries": entries,
	})
}

// downloadFlag accepts the documented truthy forms.
func downloadFlag(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	relPath := r.URL.Query().Get("path")
	force := downloadFlag(r.URL.Query().Get("download"))
	if err := s.Files.Serve(w, r, relPath, force); err != nil {
		writeServiceError(w, err)
	}
}

func (s *Server) handleDisk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	info, err := s.Uploads.Disk()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "disk probe failed")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.Uploads.CheckDeclaredSize(r.ContentLength); err != nil {
		writeServiceError(w, err)
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	name, err := uploads.SanitizeFilename(hdr.Filename)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	rel, size, err := s.Uploads.Store(r.FormValue("path"), name, file, hdr.Size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if s.Stats != nil {
		s.Stats.RecordUpload(size)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"file": map[string]any{
			"name": path.Base(rel),
			"path": rel,
			"size": size,
		},
	})
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	local, err := fsutil.ResolveForWrite(s.Root, req.Path)
	if err != nil || s.Block.Blocked(fsutil.Rel(s.Root, local)) {
		writeError(w, http.StatusForbidden, "Not found or access denied")
		return
	}
	if local == s.Root {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := os.MkdirAll(local, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "mkdir failed")
		return
	}
	s.Uploads.InvalidateCaches()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": fsutil.Rel(s.Root, local)})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Path    string `json:"path"`
		NewName string `json:"newName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" || req.NewName == "" {
		writeError(w, http.StatusBadRequest, "path and newName are required")
		return
	}
	name, err := uploads.SanitizeFilename(req.NewName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	newRel := path.Join(path.Dir(fsutil.Scrub(req.Path)), name)
	s.moveEntry(w, req.Path, newRel)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Path    string `json:"path"`
		NewPath string `json:"newPath"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" || req.NewPath == "" {
		writeError(w, http.StatusBadRequest, "path and newPath are required")
		return
	}
	s.moveEntry(w, req.Path, req.NewPath)
}

// moveEntry implements rename and move: source must exist, target must
// not, both must stay inside the share and off the block list.
func (s *Server) moveEntry(w http.ResponseWriter, fromRel, toRel string) {
	src, err := fsutil.Resolve(s.Root, fromRel)
	if err != nil || s.Block.Blocked(fsutil.Rel(s.Root, src)) {
		writeError(w, http.StatusForbidden, "Not found or access denied")
		return
	}
	dst, err := fsutil.ResolveForWrite(s.Root, toRel)
	if err != nil || s.Block.Blocked(fsutil.Rel(s.Root, dst)) {
		writeError(w, http.StatusForbidden, "Not found or access denied")
		return
	}
	if src == s.Root || dst == s.Root {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if _, err := os.Lstat(dst); err == nil {
		writeError(w, http.StatusBadRequest, "target already exists")
		return
	}
	if err := os.Rename(src, dst); err != nil {
		writeError(w, http.StatusInternalServerError, "rename failed")
		return
	}
	if s.Stats != nil {
		s.Stats.PathRenamed(fsutil.Rel(s.Root, src), fsutil.Rel(s.Root, dst))
	}
	s.Uploads.InvalidateCaches()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "path": fsutil.Rel(s.Root, dst)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	local, err := fsutil.Resolve(s.Root, req.Path)
	if err != nil || s.Block.Blocked(fsutil.Rel(s.Root, local)) {
		writeError(w, http.StatusForbidden, "Not found or access denied")
		return
	}
	if local == s.Root {
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := os.RemoveAll(local); err != nil {
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	if s.Stats != nil {
		s.Stats.PathDeleted(fsutil.Rel(s.Root, local))
	}
	s.Uploads.InvalidateCaches()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
