// Package auth holds the user registry, HMAC-signed sessions, and the
// admin operations that mutate both. Users persist as a JSON array at
// .fileshare/users.json with debounced writes; sessions live only in
// memory and die with the process.
package auth

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	usersFileName = "users.json"
	saveDebounce  = 200 * time.Millisecond

	// SessionTTL bounds how long a minted token stays valid.
	SessionTTL = 24 * time.Hour
)

// Status is a user's registration state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// User is a registered account. The ID is stable across renames.
type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	PasswordHash   string    `json:"passwordHash"`
	Salt           string    `json:"salt"`
	RegistrationIP string    `json:"registrationIP"`
	Status         Status    `json:"status"`
	OpLevel        int       `json:"opLevel"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Session is an in-memory login. CurrentUsername tracks admin renames
// so token verification always reports the live name.
type Session struct {
	UserID          string
	CurrentUsername string
	Token           string
	ObservedIP      string
	ExpiresAt       time.Time
}

var (
	ErrInvalidUsername    = errors.New("invalid username")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotApproved        = errors.New("account not approved")
	ErrUnknownUser        = errors.New("unknown user")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInvalidOpLevel     = errors.New("invalid op level")
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_-]{2,32}$`)

// Store guards all user and session state behind one mutex.
type Store struct {
	mu        sync.Mutex
	path      string
	users     map[string]*User    // id -> user
	byName    map[string]string   // lowercased username -> id
	byIP      map[string]string   // last observed IP -> id
	sessions  map[string]*Session // token -> session
	secret    []byte
	saveTimer *time.Timer
	log       *slog.Logger
	now       func() time.Time
}

// Open loads users.json from dataDir and mints a fresh session secret.
// A missing file starts an empty registry.
func Open(dataDir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	s := &Store{
		path:     filepath.Join(dataDir, usersFileName),
		users:    make(map[string]*User),
		byName:   make(map[string]string),
		byIP:     make(map[string]string),
		sessions: make(map[string]*Session),
		secret:   secret,
		log:      log,
		now:      time.Now,
	}
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var users []*User
	if err := json.Unmarshal(b, &users); err != nil {
		return nil, err
	}
	for _, u := range users {
		s.users[u.ID] = u
		s.byName[strings.ToLower(u.Username)] = u.ID
	}
	return s, nil
}

// Register creates a pending user. Usernames are lowercased and must be
// unique case-insensitively; passwords need at least 4 characters.
func (s *Store) Register(username, password, ip string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if len(password) < 4 {
		return nil, ErrInvalidPassword
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[username]; taken {
		return nil, ErrDuplicateUsername
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	u := &User{
		ID:             uuid.NewString(),
		Username:       username,
		PasswordHash:   hashPassword(salt, password),
		Salt:           salt,
		RegistrationIP: ip,
		Status:         StatusPending,
		OpLevel:        1,
		CreatedAt:      s.now().UTC(),
	}
	s.users[u.ID] = u
	s.byName[username] = u.ID
	s.scheduleSaveLocked()
	return cloneUser(u), nil
}

// Login verifies credentials for an approved user, records the observed
// IP, and mints a session.
func (s *Store) Login(username, password, ip string) (*Session, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		// Burn comparable time so lookups don't reveal existence.
		verifyPassword("0", password, "0")
		return nil, ErrInvalidCredentials
	}
	u := s.users[id]
	if !verifyPassword(u.Salt, password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if u.Status != StatusApproved {
		return nil, ErrNotApproved
	}
	s.byIP[ip] = u.ID
	tok, err := s.mintTokenLocked(u.ID)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		UserID:          u.ID,
		CurrentUsername: u.Username,
		Token:           tok,
		ObservedIP:      ip,
		ExpiresAt:       s.now().Add(SessionTTL),
	}
	s.sessions[tok] = sess
	return cloneSession(sess), nil
}

// CheckPassword verifies credentials without minting a session. The
// FTP engine authenticates through this; only approved users pass.
func (s *Store) CheckPassword(username, password string) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[username]
	if !ok {
		verifyPassword("0", password, "0")
		return nil, ErrInvalidCredentials
	}
	u := s.users[id]
	if !verifyPassword(u.Salt, password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if u.Status != StatusApproved {
		return nil, ErrNotApproved
	}
	return cloneUser(u), nil
}

// VerifyToken resolves a bearer token to the owning user. Expired
// sessions are deleted on sight; users must still be approved.
func (s *Store) VerifyToken(token string) (*Session, *User, error) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	if token == "" || !s.checkSignature(token) {
		return nil, nil, ErrInvalidToken
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return nil, nil, ErrInvalidToken
	}
	if !s.now().Before(sess.ExpiresAt) {
		delete(s.sessions, token)
		return nil, nil, ErrInvalidToken
	}
	u, ok := s.users[sess.UserID]
	if !ok || u.Status != StatusApproved {
		return nil, nil, ErrInvalidToken
	}
	sess.CurrentUsername = u.Username
	return cloneSession(sess), cloneUser(u), nil
}

// Logout drops the session for a token, if any.
func (s *Store) Logout(token string) {
	token = strings.TrimPrefix(strings.TrimSpace(token), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// Users returns clones of all users in no particular order; callers
// sort as needed.
func (s *Store) Users() []*User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, cloneUser(u))
	}
	return out
}

// Approve marks a pending or denied user approved.
func (s *Store) Approve(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	u.Status = StatusApproved
	s.scheduleSaveLocked()
	return nil
}

// Deny marks a user denied and invalidates all of their sessions.
func (s *Store) Deny(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	u.Status = StatusDenied
	s.dropSessionsLocked(id)
	s.scheduleSaveLocked()
	return nil
}

// ClearPending removes every user still in pending state.
func (s *Store) ClearPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, u := range s.users {
		if u.Status == StatusPending {
			delete(s.users, id)
			delete(s.byName, strings.ToLower(u.Username))
			n++
		}
	}
	if n > 0 {
		s.scheduleSaveLocked()
	}
	return n
}

// ResetAll wipes the registry and every live session.
func (s *Store) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = make(map[string]*User)
	s.byName = make(map[string]string)
	s.byIP = make(map[string]string)
	s.sessions = make(map[string]*Session)
	s.scheduleSaveLocked()
}

// ResetPassword sets a new password and invalidates the user's sessions.
func (s *Store) ResetPassword(id, password string) error {
	if len(password) < 4 {
		return ErrInvalidPassword
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	salt, err := newSalt()
	if err != nil {
		return err
	}
	u.Salt = salt
	u.PasswordHash = hashPassword(salt, password)
	s.dropSessionsLocked(id)
	s.scheduleSaveLocked()
	return nil
}

// ResetUsername renames a user, re-indexes the name map, and updates
// the display name on all live sessions. The ID never changes.
func (s *Store) ResetUsername(id, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(username) {
		return ErrInvalidUsername
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	if other, taken := s.byName[username]; taken && other != id {
		return ErrDuplicateUsername
	}
	delete(s.byName, strings.ToLower(u.Username))
	u.Username = username
	s.byName[username] = id
	for _, sess := range s.sessions {
		if sess.UserID == id {
			sess.CurrentUsername = username
		}
	}
	s.scheduleSaveLocked()
	return nil
}

// DeleteUser removes a user and all of their sessions.
func (s *Store) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	delete(s.users, id)
	delete(s.byName, strings.ToLower(u.Username))
	s.dropSessionsLocked(id)
	s.scheduleSaveLocked()
	return nil
}

// SetOpLevel changes a user's role. Levels 1 and 2 are valid.
func (s *Store) SetOpLevel(id string, level int) error {
	if level != 1 && level != 2 {
		return ErrInvalidOpLevel
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUnknownUser
	}
	u.OpLevel = level
	s.scheduleSaveLocked()
	return nil
}

// Flush forces a pending debounced save to disk now. Called on
// shutdown and after tests.
func (s *Store) Flush() error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	err := s.persistLocked()
	s.mu.Unlock()
	return err
}

func (s *Store) dropSessionsLocked(userID string) {
	for tok, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, tok)
		}
	}
}

// scheduleSaveLocked arms the 200 ms debounce timer; bursts of admin
// mutations coalesce into one write.
func (s *Store) scheduleSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(saveDebounce, func() {
		s.mu.Lock()
		s.saveTimer = nil
		err := s.persistLocked()
		s.mu.Unlock()
		if err != nil {
			s.log.Error("users save failed", "error", err)
		}
	})
}

func (s *Store) persistLocked() error {
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	b, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func cloneUser(u *User) *User {
	c := *u
	return &c
}

func cloneSession(s *Session) *Session {
	c := *s
	return &c
}
