package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/splitify/splitify/internal/auth"
	"github.com/splitify/splitify/internal/store"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		writeValidation(w, fieldErrors{"username": {"Username must be 3-64 characters."}})
		return
	}

	token, err := s.loginProvider.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r.Context(), "login.failed", "", "", map[string]string{"username": req.Username})
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Warn("login failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "No active account found with the given credentials")
		return
	}

	// Look up user for audit event.
	userID := ""
	if user, _ := s.store.GetUser(r.Context(), req.Username); user != nil {
		userID = user.ID
	}
	s.audit(r.Context(), "login.success", userID, "", nil)

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity := getIdentityFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{
		"id":       identity.UserID,
		"username": identity.Username,
		"role":     identity.Role,
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page, ok := parsePage(r)
	if !ok {
		writeError(w, http.StatusNotFound, msgInvalidPage)
		return
	}
	users, total, err := s.store.ListUsers(r.Context(), page.store())
	if err != nil {
		s.writeStoreError(w, r, err, "list users")
		return
	}
	if users == nil {
		users = []store.User{}
	}
	writePage(w, r, page, total, users)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgMalformedBody)
		return
	}

	fe := fieldErrors{}
	if len(req.Username) < 3 || len(req.Username) > 64 {
		fe.add("username", "Username must be 3-64 characters.")
	}
	if len(req.Password) < 8 {
		fe.add("password", "Password must be at least 8 characters.")
	}
	if req.Role == "" {
		req.Role = "user"
	}
	if req.Role != "user" && req.Role != "admin" {
		fe.add("role", `"`+req.Role+`" is not a valid choice.`)
	}
	if !fe.empty() {
		writeValidation(w, fe)
		return
	}

	user, err := s.loginProvider.Register(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeValidation(w, fieldErrors{"username": {"A user with that username already exists."}})
			return
		}
		s.writeStoreError(w, r, err, "create user")
		return
	}

	identity := getIdentityFromContext(r.Context())
	s.audit(r.Context(), "user.create", identity.UserID, "", map[string]string{"created_user_id": user.ID, "role": user.Role})
	writeJSON(w, http.StatusCreated, user)
}
