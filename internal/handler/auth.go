package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/josh-kwaku/wallet-ledger/internal/auth"
	"github.com/josh-kwaku/wallet-ledger/internal/logging"
)

const refreshCookieName = "refresh_token"

type sessionService interface {
	Register(ctx context.Context, email, name, password string) (*auth.Session, error)
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AuthHandler struct {
	sessions     sessionService
	secureCookie bool
}

func NewAuthHandler(sessions sessionService, secureCookie bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, secureCookie: secureCookie}
}

type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"required,max=120"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        userDTO   `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.sessions.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		logging.FromContext(r.Context()).Warn("registration failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, s)
	RespondMessage(w, http.StatusCreated, toSessionResponse(s), "Account created")
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	s, err := h.sessions.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		logging.FromContext(r.Context()).Warn("login failed", "error", err)
		RespondDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, s)
	RespondSuccess(w, http.StatusOK, toSessionResponse(s))
}

// Refresh reads the refresh token from its cookie only and rotates it.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookieName)
	if err != nil || c.Value == "" {
		RespondAppError(w, ErrMissingRefreshToken, nil)
		return
	}

	s, err := h.sessions.Refresh(r.Context(), c.Value)
	if err != nil {
		logging.FromContext(r.Context()).Warn("token refresh failed", "error", err)
		h.clearRefreshCookie(w)
		RespondDomainError(w, err)
		return
	}

	h.setRefreshCookie(w, s)
	RespondSuccess(w, http.StatusOK, toSessionResponse(s))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookieName); err == nil {
		if err := h.sessions.Logout(r.Context(), c.Value); err != nil {
			logging.FromContext(r.Context()).Error("logout failed", "error", err)
			RespondDomainError(w, err)
			return
		}
	}

	h.clearRefreshCookie(w)
	RespondMessage(w, http.StatusOK, nil, "Logged out")
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, s *auth.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    s.RefreshToken,
		Path:     "/api/v1/auth",
		Expires:  s.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func toSessionResponse(s *auth.Session) sessionResponse {
	return sessionResponse{
		AccessToken: s.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   s.AccessExpiresAt,
		User:        toUserDTO(s.User),
	}
}
