package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gamelist1990/FileShare/internal/auth"
)

// userView is the wire shape for a user; credential material never
// leaves the store.
type userView struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Status         string `json:"status"`
	OpLevel        int    `json:"oplevel"`
	RegistrationIP string `json:"registrationIP,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

func viewOf(u *auth.User) userView {
	return userView{
		ID:             u.ID,
		Username:       u.Username,
		Status:         string(u.Status),
		OpLevel:        u.OpLevel,
		RegistrationIP: u.RegistrationIP,
		CreatedAt:      u.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	u, err := s.Users.Register(req.Username, req.Password, s.clientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateUsername):
			writeJSON(w, http.StatusConflict, map[string]any{"ok": false, "error": err.Error()})
		case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
			writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		default:
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "user": viewOf(u)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	sess, err := s.Users.Login(req.Username, req.Password, s.clientIP(r))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"token":    sess.Token,
		"username": sess.CurrentUsername,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tok := r.Header.Get("Authorization")
	if strings.TrimSpace(tok) == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	s.Users.Logout(tok)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleAuthStatus reports whether the presented token (if any) is
// valid. It never fails hard; anonymous callers get authenticated:false.
func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sess, user, err := s.Users.VerifyToken(r.Header.Get("Authorization"))
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      sess.CurrentUsername,
		"oplevel":       user.OpLevel,
	})
}

// handleAdmin multiplexes the /api/admin/ operations. The caller has
// already passed the opLevel-2 gate.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.URL.Path, "/api/admin/")
	switch op {
	case "users":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		users := s.Users.Users()
		out := make([]userView, 0, len(users))
		for _, u := range users {
			out = append(out, viewOf(u))
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": out})
	case "approve":
		s.adminUserOp(w, r, s.Users.Approve)
	case "deny":
		s.adminUserOp(w, r, s.Users.Deny)
	case "delete-user":
		s.adminUserOp(w, r, s.Users.DeleteUser)
	case "clear-pending":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		n := s.Users.ClearPending()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": n})
	case "reset-all":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.Users.ResetAll()
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case "reset-password":
		var req struct {
			ID       string `json:"id"`
			Password string `json:"password"`
		}
		if !decodeAdminBody(w, r, &req) {
			return
		}
		s.adminResult(w, s.Users.ResetPassword(req.ID, req.Password))
	case "reset-username":
		var req struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		}
		if !decodeAdminBody(w, r, &req) {
			return
		}
		s.adminResult(w, s.Users.ResetUsername(req.ID, req.Username))
	case "set-oplevel":
		var req struct {
			ID    string `json:"id"`
			Level int    `json:"level"`
		}
		if !decodeAdminBody(w, r, &req) {
			return
		}
		s.adminResult(w, s.Users.SetOpLevel(req.ID, req.Level))
	case "blocklist":
		s.handleAdminBlocklist(w, r)
	default:
		writeError(w, http.StatusNotFound, "unknown admin operation")
	}
}

func decodeAdminBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func (s *Server) adminUserOp(w http.ResponseWriter, r *http.Request, op func(string) error) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeAdminBody(w, r, &req) {
		return
	}
	s.adminResult(w, op(req.ID))
}

func (s *Server) adminResult(w http.ResponseWriter, err error) {
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnknownUser):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, auth.ErrInvalidUsername),
			errors.Is(err, auth.ErrInvalidPassword),
			errors.Is(err, auth.ErrInvalidOpLevel):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminBlocklist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"entries": s.Block.Entries()})
	case http.MethodPost:
		var req struct {
			Path   string `json:"path"`
			Remove bool   `json:"remove"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Path) == "" {
			writeError(w, http.StatusBadRequest, "path is required")
			return
		}
		var err error
		if req.Remove {
			err = s.Block.Remove(req.Path)
		} else {
			err = s.Block.Add(req.Path)
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "blocklist update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "entries": s.Block.Entries()})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
