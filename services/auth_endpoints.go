package services

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/cascprep/models"
)

type AuthEndpoints struct {
	authService *AuthService
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type SetSessionRequest struct {
	IDToken string `json:"idToken"`
}

func NewAuthEndpoints(authService *AuthService) *AuthEndpoints {
	return &AuthEndpoints{authService: authService}
}

// RegisterRoutes mounts /api/auth/* and /set-session on r.
func (e *AuthEndpoints) RegisterRoutes(r chi.Router) {
	r.Post("/set-session", e.SetSessionHandler)
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", e.LoginHandler)
		r.Post("/signup", e.SignupHandler)
		r.Post("/logout", e.LogoutHandler)
		r.With(e.authService.Middleware).Get("/me", e.MeHandler)
	})
}

func userView(u *models.User) map[string]interface{} {
	return map[string]interface{}{
		"id":        u.ID,
		"email":     u.Email,
		"full_name": u.FullName,
		"role":      u.Role,
	}
}

func (e *AuthEndpoints) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := e.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, ErrInvalidCredentials) {
			slog.Error("Login failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if err := e.authService.SetSessionCookie(w, resp.User); err != nil {
		writeServiceError(w, err, "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":    userView(resp.User),
		"idToken": resp.IDToken,
	})
}

func (e *AuthEndpoints) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := e.authService.Signup(r.Context(), req.Email, req.Password, req.FullName)
	if errors.Is(err, ErrUserExists) {
		writeError(w, http.StatusConflict, "User already exists")
		return
	}
	if err != nil {
		writeServiceError(w, err, "Signup failed")
		return
	}

	if err := e.authService.SetSessionCookie(w, resp.User); err != nil {
		writeServiceError(w, err, "Signup failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":    userView(resp.User),
		"idToken": resp.IDToken,
	})
}

// SetSessionHandler exchanges an identity token for the session cookie.
func (e *AuthEndpoints) SetSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req SetSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "Missing idToken")
		return
	}

	user, err := e.authService.VerifyToken(r.Context(), req.IDToken, tokenIdentity)
	if err != nil {
		if !errors.Is(err, ErrInvalidToken) {
			slog.Error("set-session lookup failed", "error", err)
		}
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	if err := e.authService.SetSessionCookie(w, user); err != nil {
		writeServiceError(w, err, "Failed to set session")
		return
	}
	slog.Info("Session cookie issued", "user_id", user.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (e *AuthEndpoints) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	e.authService.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (e *AuthEndpoints) MeHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": userView(user)})
}
