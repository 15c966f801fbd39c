package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/Yuzoo0703/Trae-chat-room/internal/directory"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// The HTTP API is the authentication collaborator around the relay core:
// registration, login, friend discovery and the admin surface. The relay
// itself only ever sees resolved user ids.

type registerRequest struct {
	Username string `json:"username" validate:"required,min=2,max=32"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "username must be 2-32 characters and password at least 6")
		return
	}

	if _, err := s.store.FindByUsername(req.Username); err == nil {
		s.respondError(w, http.StatusBadRequest, "username already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.log.Error("hash password", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not process password")
		return
	}

	user, err := s.store.CreateUser(uuid.NewString(), req.Username, string(hash))
	if err != nil {
		if errors.Is(err, directory.ErrUsernameTaken) {
			s.respondError(w, http.StatusBadRequest, "username already exists")
			return
		}
		s.log.Error("create user", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not create user")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"userId":   user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := s.validate.Struct(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	// One generic failure message: no user enumeration.
	user, err := s.store.FindByUsername(req.Username)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid username or password")
		return
	}
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		s.respondError(w, http.StatusBadRequest, "invalid username or password")
		return
	}

	token, err := s.tokens.NewUserToken(user.ID)
	if err != nil {
		s.log.Error("issue session token", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not issue session token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"userId":   user.ID,
		"username": user.Username,
		"token":    token,
	})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.Search(r.URL.Query().Get("query"))
	if err != nil {
		s.log.Error("search users", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "search failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if s.adminPassword == "" {
		s.respondError(w, http.StatusForbidden, "admin API disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.Username != s.cfg.Admin.User || req.Password != s.adminPassword {
		s.respondError(w, http.StatusUnauthorized, "invalid admin credentials")
		return
	}

	token, err := s.tokens.NewAdminToken(req.Username)
	if err != nil {
		s.log.Error("issue admin token", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not issue admin token")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"token": token})
}

// adminAuth gates the admin endpoints behind a bearer token with the admin
// claim.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			s.respondError(w, http.StatusForbidden, "unauthorized")
			return
		}
		_, admin, err := s.tokens.Subject(strings.TrimSpace(raw))
		if err != nil || !admin {
			s.respondError(w, http.StatusForbidden, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		s.log.Error("list users", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not list users")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if err := s.store.DeleteUser(userID); err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.log.Error("delete user", zap.Error(err), zap.String("user_id", userID))
		s.respondError(w, http.StatusInternalServerError, "could not delete user")
		return
	}
	s.relay.DropUser(userID)
	s.log.Info("user deleted by admin", zap.String("user_id", userID))
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAdminWipe(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Wipe(); err != nil {
		s.log.Error("wipe directory", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "could not wipe directory")
		return
	}
	s.relay.Wipe()
	s.log.Warn("full state wipe executed")
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) respondJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("encode response", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func (s *Server) respondError(w http.ResponseWriter, code int, message string) {
	s.respondJSON(w, code, map[string]any{"error": message})
}
