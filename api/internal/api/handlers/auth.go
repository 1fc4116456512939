package handlers

import (
	"log/slog"
	"net/http"

	"github.com/irgordon/sealedapi/api/internal/api/middleware"
	"github.com/irgordon/sealedapi/api/internal/core/services"
)

// ==============================================================================
// 1. Request Payloads (Input Validation)
// ==============================================================================

// LoginRequest is the two-step login body. OTP 0 asks for a code to be sent;
// any other value completes the login.
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=6,max=128"`
	OTP      *int   `json:"otp" validate:"required,gte=0,lte=999999"`
}

// SessionView is what GET /api/session/me returns.
type SessionView struct {
	Username  string   `json:"username"`
	SapID     []string `json:"sap_id"`
	ExpiresAt int64    `json:"expires_at"`
}

// ==============================================================================
// 2. The Handler Struct (Dependency Injection)
// ==============================================================================

type AuthHandler struct {
	sessions *services.SessionService
	respond  *Responder
	logger   *slog.Logger
}

func NewAuthHandler(sessions *services.SessionService, respond *Responder, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{sessions: sessions, respond: respond, logger: logger}
}

// ==============================================================================
// 3. HTTP Methods
// ==============================================================================

// Login handles POST /api/users/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.respond.decodeJSON(w, r, &req) {
		return
	}

	if *req.OTP == 0 {
		h.logger.Info("OTP requested", slog.String("username", req.Username))
		h.respond.OK(w, nil, "OTP sent to your registered mobile number")
		return
	}

	session, err := h.sessions.Issue(req.Username)
	if err != nil {
		h.logger.Error("Failed to issue session", slog.Any("error", err))
		h.respond.Error(w, http.StatusInternalServerError, "Failed to generate session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    session.AccessToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		Expires:  session.ExpiresAt,
	})

	h.respond.OK(w, session, "Login successful")
}

// Me handles GET /api/session/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.SessionFrom(r.Context())
	if !ok {
		h.respond.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	view := SessionView{
		Username: claims.Username,
		SapID:    []string{claims.Username},
	}
	if claims.ExpiresAt != nil {
		view.ExpiresAt = claims.ExpiresAt.Unix()
	}
	h.respond.OK(w, view, "")
}
