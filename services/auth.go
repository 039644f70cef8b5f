package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
	"golang.org/x/crypto/bcrypt"
)

// Token kinds. Identity tokens are short-lived and are exchanged for a
// session cookie; session tokens only ever travel in that cookie.
const (
	tokenIdentity = "id"
	tokenSession  = "session"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid token")
)

type contextKey string

const userContextKey contextKey = "user"

type AuthService struct {
	repo           *repository.GORMRepository
	jwtSecret      []byte
	identityExpiry time.Duration
	sessionExpiry  time.Duration
	cookieName     string
	secureCookies  bool
	now            func() time.Time
}

type TokenClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Kind   string `json:"typ"`
	jwt.RegisteredClaims
}

type AuthResponse struct {
	User    *models.User `json:"user"`
	IDToken string       `json:"idToken"`
}

func NewAuthService(repo *repository.GORMRepository, jwtSecret string, session SessionConfig, secureCookies bool) *AuthService {
	ttl := session.TTL
	if ttl <= 0 {
		ttl = 14 * 24 * time.Hour
	}
	name := session.CookieName
	if name == "" {
		name = "session"
	}
	return &AuthService{
		repo:           repo,
		jwtSecret:      []byte(jwtSecret),
		identityExpiry: time.Hour,
		sessionExpiry:  ttl,
		cookieName:     name,
		secureCookies:  secureCookies,
		now:            time.Now,
	}
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Login checks the password and issues an identity token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueIdentityToken(user)
	if err != nil {
		return nil, err
	}
	slog.Info("User logged in successfully", "user_id", user.ID)
	return &AuthResponse{User: user, IDToken: token}, nil
}

// Signup creates a new password account.
func (s *AuthService) Signup(ctx context.Context, email, password, fullName string) (*AuthResponse, error) {
	email = normalizeEmail(email)
	if email == "" || len(password) < 6 {
		return nil, badRequest("Email and a password of at least 6 characters are required")
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Email: email, Password: hashed, FullName: fullName, Role: "user"}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	token, err := s.IssueIdentityToken(user)
	if err != nil {
		return nil, err
	}
	slog.Info("User signed up successfully", "user_id", user.ID)
	return &AuthResponse{User: user, IDToken: token}, nil
}

// ClaimAccount resolves the account a paid checkout belongs to. A missing
// account is created with password. An existing account without a password
// adopts it; one with a password must present the same password.
func (s *AuthService) ClaimAccount(ctx context.Context, email, password string) (*models.User, error) {
	email = normalizeEmail(email)
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if user != nil && user.Password != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
			return nil, ErrInvalidCredentials
		}
		return user, nil
	}

	hashed, err := hashPassword(password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		user = &models.User{Email: email, Password: hashed, Role: "user"}
		if err := s.repo.CreateUser(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
		return user, nil
	}
	if err := s.repo.UpdateUserPassword(ctx, user.ID, hashed); err != nil {
		return nil, fmt.Errorf("failed to update password: %w", err)
	}
	user.Password = hashed
	return user, nil
}

func (s *AuthService) IssueIdentityToken(user *models.User) (string, error) {
	return s.issue(user, tokenIdentity, s.identityExpiry)
}

func (s *AuthService) IssueSessionToken(user *models.User) (string, error) {
	return s.issue(user, tokenSession, s.sessionExpiry)
}

func (s *AuthService) issue(user *models.User, kind string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := &TokenClaims{
		UserID: user.ID,
		Email:  user.Email,
		Kind:   kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", kind, err)
	}
	return signed, nil
}

// VerifyToken checks signature, expiry and kind, then loads the user so that
// deleted accounts stop working immediately.
func (s *AuthService) VerifyToken(ctx context.Context, token, kind string) (*models.User, error) {
	claims := &TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind != kind {
		return nil, ErrInvalidToken
	}

	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// SetSessionCookie stores a fresh session token for user.
func (s *AuthService) SetSessionCookie(w http.ResponseWriter, user *models.User) error {
	token, err := s.IssueSessionToken(user)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.sessionExpiry.Seconds()),
	})
	return nil
}

func (s *AuthService) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// Authenticate resolves the caller from a bearer identity token or, failing
// that, the session cookie. It returns nil without error for anonymous
// requests.
func (s *AuthService) Authenticate(r *http.Request) (*models.User, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return nil, ErrInvalidToken
		}
		return s.VerifyToken(r.Context(), strings.TrimSpace(token), tokenIdentity)
	}
	if c, err := r.Cookie(s.cookieName); err == nil && c.Value != "" {
		return s.VerifyToken(r.Context(), c.Value, tokenSession)
	}
	return nil, nil
}

// Middleware rejects requests without a valid identity.
func (s *AuthService) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.Authenticate(r)
		if err != nil && !errors.Is(err, ErrInvalidToken) {
			slog.Error("Authentication lookup failed", "error", err)
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Not authenticated")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// OptionalMiddleware attaches the user when one is present and never rejects.
func (s *AuthService) OptionalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, _ := s.Authenticate(r); user != nil {
			r = r.WithContext(WithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userContextKey).(*models.User)
	return user
}
