package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bookshare/internal/app"
	"bookshare/internal/ratelimit"
	"bookshare/internal/util"
	"bookshare/pkg/domain"
	"bookshare/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	RedisAddr                  string
	RedisPassword              string
	RegisterRateLimitPerMinute int
	LoginRateLimitPerMinute    int
	PasswordRateLimitPerMinute int
	MaxUploadBytes             int64
	TrustedProxies             []string
}

// Server exposes the HTTP API. All application routes live under /api; the
// prefix is stripped before dispatch.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	trusted        *util.TrustedProxies
	maxUploadBytes int64

	registerLimiter *ratelimit.FixedWindowLimiter
	loginLimiter    *ratelimit.FixedWindowLimiter
	passwordLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	passwordLimit := cfg.PasswordRateLimitPerMinute
	if passwordLimit <= 0 {
		passwordLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "bookshare:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	passwordLimiter, err := newLimiter("password", passwordLimit)
	if err != nil {
		return nil, err
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		trusted:         trusted,
		maxUploadBytes:  normalizeMaxBytes(cfg.MaxUploadBytes),
		registerLimiter: registerLimiter,
		loginLimiter:    loginLimiter,
		passwordLimiter: passwordLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	root := http.NewServeMux()
	root.HandleFunc("/healthz", s.handleHealth)
	root.Handle("/api/", http.StripPrefix("/api", s.mux))
	var h http.Handler = root
	h = util.WithRequestLog(s.trusted, h)
	h = util.WithRequestID(h)
	h = util.WithCORS(h)
	return util.WithSecurityHeaders(h)
}

func (s *Server) routes() {
	// accounts
	s.mux.HandleFunc("/register", s.handleRegister)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/update-password", s.handleUpdatePassword)
	s.mux.HandleFunc("/users", s.handleUsers)
	s.mux.HandleFunc("/users/", s.handleUserByID)

	// books & uploads
	s.mux.HandleFunc("/books", s.handleBooks)
	s.mux.HandleFunc("/books/", s.handleBookByID)
	s.mux.HandleFunc("/books/files/list", s.handleListBookFiles)
	s.mux.HandleFunc("/admin/upload-book", s.handleUploadBook)

	// notes
	s.mux.HandleFunc("/notes", s.handleNotes)
	s.mux.HandleFunc("/notes/", s.handleNoteByID)
	s.mux.HandleFunc("/notes/upload", s.handleUploadNoteFile)
	s.mux.HandleFunc("/notes/files/list", s.handleListNoteFiles)

	// blobs & dashboard
	s.mux.HandleFunc("/files/", s.handleFile)
	s.mux.HandleFunc("/statistics", s.handleStatistics)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// account handlers

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updatePasswordRequest struct {
	Email       string `json:"email"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many registration attempts") {
		s.audit(r, "api.register", "rate_limited")
		return
	}
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || strings.TrimSpace(req.Name) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email, name and password are required")
		return
	}
	var role domain.UserRole
	if req.Role != "" {
		parsed, ok := parseUserRole(req.Role)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}
		role = parsed
	}
	user, err := s.app.Register(r.Context(), req.Email, req.Name, req.Password, role)
	if err != nil {
		s.audit(r, "api.register", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "api.login", "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}
	user, err := s.app.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "api.login", "fail", "reason", err.Error())
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.passwordLimiter, "too many password change attempts") {
		s.audit(r, "api.password.update", "rate_limited")
		return
	}
	var req updatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.OldPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "email, old_password and new_password are required")
		return
	}
	if err := s.app.UpdatePassword(r.Context(), req.Email, req.OldPassword, req.NewPassword); err != nil {
		s.audit(r, "api.password.update", "fail", "reason", err.Error())
		// Password change against an unknown account is a missing user, not a
		// missing email, so the login mapping does not apply here.
		if errors.Is(err, app.ErrUnknownEmail) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeAppError(w, err)
		return
	}
	s.audit(r, "api.password.update", "success")
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// user handlers

type userUpdateRequest struct {
	Email *string `json:"email"`
	Name  *string `json:"name"`
	Role  *string `json:"role"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": users,
		"count": len(users),
	})
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "/users/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := s.app.GetUser(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		var req userUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Email == nil && req.Name == nil && req.Role == nil {
			writeError(w, http.StatusBadRequest, "email, name or role is required")
			return
		}
		patch := store.UserPatch{Email: req.Email, Name: req.Name}
		if req.Role != nil {
			role, ok := parseUserRole(*req.Role)
			if !ok {
				writeError(w, http.StatusBadRequest, "invalid role")
				return
			}
			patch.Role = &role
		}
		user, err := s.app.UpdateUser(r.Context(), id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "api.user.update", "success", "user_id", user.ID)
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := s.app.DeleteUser(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "api.user.delete", "success", "user_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.Statistics(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// helpers

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	if limiter.Allow(key) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

// pathID extracts the numeric id segment after prefix. It writes a 400 for a
// malformed id and a 404 for a nested path.
func pathID(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	raw := strings.TrimPrefix(r.URL.Path, prefix)
	if raw == "" || strings.Contains(raw, "/") {
		http.NotFound(w, r)
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
}

func parseUserRole(role string) (domain.UserRole, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case string(domain.RoleUser):
		return domain.RoleUser, true
	case string(domain.RoleAdmin):
		return domain.RoleAdmin, true
	default:
		return "", false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 50 * 1024 * 1024
	}
	return value
}

// writeAppError translates application sentinels into status codes. Unknown
// errors become opaque 500s.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrEmailAlreadyExists):
		writeError(w, http.StatusBadRequest, "email already exists")
	case errors.Is(err, app.ErrUnknownEmail):
		writeError(w, http.StatusNotFound, "unknown email")
	case errors.Is(err, app.ErrInvalidPassword):
		writeError(w, http.StatusUnauthorized, "incorrect password")
	case errors.Is(err, app.ErrNotAdmin):
		writeError(w, http.StatusForbidden, "admin role required")
	case errors.Is(err, app.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, app.ErrBookNotFound):
		writeError(w, http.StatusNotFound, "book not found")
	case errors.Is(err, app.ErrNoteNotFound):
		writeError(w, http.StatusNotFound, "note not found")
	case errors.Is(err, app.ErrFileNotFound):
		writeError(w, http.StatusNotFound, "file not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
