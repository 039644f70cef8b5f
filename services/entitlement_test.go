package services

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/krshsl/cascprep/models"
)

func TestEvaluateAccess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ent := func(exp time.Time) *models.Entitlement {
		return &models.Entitlement{Product: models.ProductLive, ExpiresAt: exp}
	}

	tests := []struct {
		name          string
		authenticated bool
		ent           *models.Entitlement
		want          AccessStatus
	}{
		{"anonymous", false, ent(now.Add(time.Hour)), AccessSignInRequired},
		{"no entitlement", true, nil, AccessLocked},
		{"expired", true, ent(now.Add(-time.Hour)), AccessLocked},
		{"expires exactly now", true, ent(now), AccessLocked},
		{"active", true, ent(now.Add(time.Second)), AccessGranted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateAccess(tt.authenticated, tt.ent, now)
			if got.Status != tt.want {
				t.Fatalf("status = %s, want %s", got.Status, tt.want)
			}
			if got.Granted != (tt.want == AccessGranted) {
				t.Fatalf("granted = %v for status %s", got.Granted, got.Status)
			}
		})
	}
}

func TestRequireGate(t *testing.T) {
	repo := newTestRepo(t)
	auth := newTestAuth(repo)
	svc := NewEntitlementService(repo)
	user, token := createTestUser(t, auth, "dr@example.com")

	protected := auth.Middleware(svc.Require(models.ProductLive)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	if rec := doRequest(t, protected, http.MethodGet, "/", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	if rec := doRequest(t, protected, http.MethodGet, "/", token, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("locked status = %d", rec.Code)
	}

	if _, err := repo.SetEntitlement(context.Background(), user.ID, models.ProductLive, time.Now().Add(time.Hour), models.SourceSeed); err != nil {
		t.Fatalf("set entitlement: %v", err)
	}
	if rec := doRequest(t, protected, http.MethodGet, "/", token, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("granted status = %d", rec.Code)
	}
}

func TestAccessEndpoint(t *testing.T) {
	repo := newTestRepo(t)
	auth := newTestAuth(repo)
	user, token := createTestUser(t, auth, "dr@example.com")
	router := newRouter(NewEntitlementEndpoints(NewEntitlementService(repo), auth).RegisterRoutes)

	if rec := doRequest(t, router, http.MethodGet, "/api/access/live", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", rec.Code)
	}
	if rec := doRequest(t, router, http.MethodGet, "/api/access/unknown", token, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown product status = %d", rec.Code)
	}

	repo.SetEntitlement(context.Background(), user.ID, models.ProductTest, time.Now().Add(time.Hour), models.SourceSeed)
	rec := doRequest(t, router, http.MethodGet, "/api/entitlements", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var body struct {
		Entitlements []struct {
			Product string `json:"product"`
		} `json:"entitlements"`
	}
	decodeBody(t, rec.Body.Bytes(), &body)
	if len(body.Entitlements) != 1 || body.Entitlements[0].Product != models.ProductTest {
		t.Fatalf("unexpected entitlements: %+v", body)
	}
}
