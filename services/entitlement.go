package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
)

type AccessStatus string

const (
	AccessGranted        AccessStatus = "granted"
	AccessSignInRequired AccessStatus = "sign_in_required"
	AccessLocked         AccessStatus = "locked"
)

// Access is the outcome of an entitlement check.
type Access struct {
	Product   string       `json:"product"`
	Granted   bool         `json:"access"`
	Status    AccessStatus `json:"status"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
}

// EvaluateAccess grants access only to an authenticated caller holding an
// entitlement that expires strictly after now.
func EvaluateAccess(authenticated bool, ent *models.Entitlement, now time.Time) Access {
	if !authenticated {
		return Access{Status: AccessSignInRequired}
	}
	if ent == nil {
		return Access{Status: AccessLocked}
	}
	exp := ent.ExpiresAt
	if !ent.Active(now) {
		return Access{Product: ent.Product, Status: AccessLocked, ExpiresAt: &exp}
	}
	return Access{Product: ent.Product, Granted: true, Status: AccessGranted, ExpiresAt: &exp}
}

var productLabels = map[string]string{
	models.ProductTest: "Practice Mode",
	models.ProductLive: "Live Mode",
}

// LockedMessage is the paywall copy for a product.
func LockedMessage(product string) string {
	label := productLabels[product]
	if label == "" {
		label = "This mode"
	}
	return fmt.Sprintf("%s is locked. Purchase a plan to continue.", label)
}

type EntitlementService struct {
	repo *repository.GORMRepository
	now  func() time.Time
}

func NewEntitlementService(repo *repository.GORMRepository) *EntitlementService {
	return &EntitlementService{repo: repo, now: time.Now}
}

// Check evaluates user's access to product. user may be nil.
func (s *EntitlementService) Check(ctx context.Context, user *models.User, product string) (Access, error) {
	if user == nil {
		a := EvaluateAccess(false, nil, s.now())
		a.Product = product
		return a, nil
	}
	ent, err := s.repo.GetEntitlement(ctx, user.ID, product)
	if err != nil {
		return Access{}, fmt.Errorf("failed to load entitlement: %w", err)
	}
	a := EvaluateAccess(true, ent, s.now())
	a.Product = product
	return a, nil
}

// Require guards a route group behind an active entitlement. It expects the
// auth middleware to have run first.
func (s *EntitlementService) Require(product string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			access, err := s.Check(r.Context(), UserFromContext(r.Context()), product)
			if err != nil {
				slog.Error("Entitlement check failed", "error", err, "product", product)
				writeError(w, http.StatusInternalServerError, "Failed to check access")
				return
			}
			switch access.Status {
			case AccessGranted:
				next.ServeHTTP(w, r)
			case AccessSignInRequired:
				writeError(w, http.StatusUnauthorized, "Sign in required")
			default:
				writeError(w, http.StatusForbidden, LockedMessage(product))
			}
		})
	}
}

type EntitlementEndpoints struct {
	service     *EntitlementService
	authService *AuthService
}

func NewEntitlementEndpoints(service *EntitlementService, authService *AuthService) *EntitlementEndpoints {
	return &EntitlementEndpoints{service: service, authService: authService}
}

func (e *EntitlementEndpoints) RegisterRoutes(r chi.Router) {
	r.With(e.authService.OptionalMiddleware).Get("/api/access/{product}", e.AccessHandler)
	r.With(e.authService.Middleware).Get("/api/entitlements", e.ListHandler)
}

func (e *EntitlementEndpoints) AccessHandler(w http.ResponseWriter, r *http.Request) {
	product := models.NormalizeProduct(chi.URLParam(r, "product"))
	if product == "" {
		writeError(w, http.StatusNotFound, "Unknown product")
		return
	}

	access, err := e.service.Check(r.Context(), UserFromContext(r.Context()), product)
	if err != nil {
		writeServiceError(w, err, "Failed to check access")
		return
	}

	body := map[string]interface{}{
		"product": product,
		"access":  access.Granted,
		"status":  access.Status,
	}
	if access.ExpiresAt != nil {
		body["expiresAt"] = access.ExpiresAt.UnixMilli()
	}
	switch access.Status {
	case AccessSignInRequired:
		body["error"] = "Sign in required"
		writeJSON(w, http.StatusUnauthorized, body)
	case AccessLocked:
		body["message"] = LockedMessage(product)
		writeJSON(w, http.StatusOK, body)
	default:
		writeJSON(w, http.StatusOK, body)
	}
}

func (e *EntitlementEndpoints) ListHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	ents, err := e.service.repo.ListActiveEntitlements(r.Context(), user.ID, e.service.now())
	if err != nil {
		writeServiceError(w, err, "Failed to load entitlements")
		return
	}
	out := make([]map[string]interface{}, 0, len(ents))
	for _, ent := range ents {
		out = append(out, map[string]interface{}{
			"product":   ent.Product,
			"expiresAt": ent.ExpiresAt.UnixMilli(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entitlements": out})
}
