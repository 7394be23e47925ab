package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/svezina/internal/account"
	"github.com/erazemk/svezina/internal/auth"
	"github.com/erazemk/svezina/internal/store"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	DB       *sql.DB
	Accounts *account.Service
	Tokens   *auth.Tokens
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.Accounts.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, account.ErrInvalidInput):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, account.ErrEmailTaken):
		jsonError(w, http.StatusConflict, "email already registered")
		return
	case err != nil:
		slog.Error("registering account", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	jsonResponse(w, http.StatusCreated, user)
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		jsonError(w, http.StatusBadRequest, "email and password required")
		return
	}

	user, err := h.Accounts.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, account.ErrInvalidCredentials) {
		slog.Warn("login failed", "remote", r.RemoteAddr)
		jsonError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		slog.Error("authenticating", "error", err)
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	token, err := h.Tokens.Issue(user.ID, user.Email)
	if err != nil {
		jsonError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	slog.Info("user logged in", "user_id", user.ID)
	jsonResponse(w, http.StatusOK, loginResponse{Token: token})
}

// ChangePassword handles PUT /api/auth/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		jsonError(w, http.StatusBadRequest, "current and new password required")
		return
	}

	err := h.Accounts.ChangePassword(r.Context(), claims.Email, req.CurrentPassword, req.NewPassword)
	switch {
	case errors.Is(err, account.ErrInvalidCredentials):
		jsonError(w, http.StatusUnauthorized, "current password is incorrect")
		return
	case errors.Is(err, account.ErrInvalidInput):
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("changing password", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update password")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// Logout handles POST /api/auth/logout by revoking the presented token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	if claims == nil {
		jsonError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := store.RevokeToken(r.Context(), h.DB, claims.ID, claims.ExpiresAt.Time); err != nil {
		slog.Error("revoking token", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to log out")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "logged out"})
}
