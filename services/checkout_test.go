package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
)

type checkoutFixture struct {
	repo    *repository.GORMRepository
	auth    *AuthService
	gateway *fakeGateway
	router  http.Handler
}

func newCheckoutFixture(t *testing.T, gateway PaymentGateway) *checkoutFixture {
	t.Helper()
	repo := newTestRepo(t)
	auth := newTestAuth(repo)
	fake, _ := gateway.(*fakeGateway)
	catalog := NewPlanCatalog(map[string]string{"live_1m": "price_live_1m", "test_3m": "price_test_3m"})
	endpoints := NewCheckoutEndpoints(gateway, catalog, repo, auth, "https://app.example/")
	return &checkoutFixture{repo: repo, auth: auth, gateway: fake, router: newRouter(endpoints.RegisterRoutes)}
}

func paidLiveSession(id, email, uid string) *CheckoutSession {
	meta := map[string]string{metaProduct: models.ProductLive, metaDurationDays: "30", metaPlanID: "live_1m"}
	if uid != "" {
		meta[metaUserID] = uid
	}
	return &CheckoutSession{ID: id, Email: email, Paid: true, Complete: true, Created: time.Now(), Metadata: meta}
}

func TestCreateCheckoutSession(t *testing.T) {
	gw := &fakeGateway{}
	f := newCheckoutFixture(t, gw)
	user, token := createTestUser(t, f.auth, "dr@example.com")

	for _, body := range []string{`{"planId":""}`, `{}`, `{"planId":"gold"}`} {
		rec := doRequest(t, f.router, http.MethodPost, "/api/checkout/session", "", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", body, rec.Code)
		}
		var errBody map[string]string
		decodeBody(t, rec.Body.Bytes(), &errBody)
		if errBody["error"] != "Invalid plan" {
			t.Fatalf("%s: unexpected body %v", body, errBody)
		}
	}
	if rec := doRequest(t, f.router, http.MethodPost, "/api/checkout/session", "", `{"planId":"live_6m"}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("unpriced plan status = %d", rec.Code)
	}

	rec := doRequest(t, f.router, http.MethodPost, "/api/checkout/session", token, `{"planId":"live_1m"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body)
	}
	if len(gw.created) != 1 {
		t.Fatalf("expected one session request, got %d", len(gw.created))
	}
	req := gw.created[0]
	if req.PriceID != "price_live_1m" || req.CustomerEmail != user.Email {
		t.Fatalf("unexpected checkout request: %+v", req)
	}
	if req.Metadata[metaUserID] != user.ID || req.Metadata[metaDurationDays] != "30" {
		t.Fatalf("unexpected metadata: %+v", req.Metadata)
	}
	if !strings.HasPrefix(req.SuccessURL, "https://app.example/checkout/success?session_id=") {
		t.Fatalf("unexpected success url %q", req.SuccessURL)
	}
}

func TestClaimGrantsOnce(t *testing.T) {
	gw := &fakeGateway{sessions: map[string]*CheckoutSession{}}
	f := newCheckoutFixture(t, gw)
	user, token := createTestUser(t, f.auth, "dr@example.com")
	_, otherToken := createTestUser(t, f.auth, "other@example.com")

	gw.sessions["cs_paid"] = paidLiveSession("cs_paid", user.Email, user.ID)
	gw.sessions["cs_unpaid"] = &CheckoutSession{ID: "cs_unpaid", Metadata: map[string]string{}}

	if rec := doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", token, `{"session_id":"cs_unpaid"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unpaid claim status = %d", rec.Code)
	}
	if rec := doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", otherToken, `{"session_id":"cs_paid"}`); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign claim status = %d", rec.Code)
	}

	rec := doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", token, `{"session_id":"cs_paid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		OK        bool   `json:"ok"`
		Product   string `json:"product"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	decodeBody(t, rec.Body.Bytes(), &body)
	if !body.OK || body.Product != models.ProductLive {
		t.Fatalf("unexpected claim body: %+v", body)
	}
	if until := time.UnixMilli(body.ExpiresAt).Sub(time.Now()); until < 29*24*time.Hour || until > 31*24*time.Hour {
		t.Fatalf("unexpected expiry distance %v", until)
	}

	// A repeat by the buyer reports the same grant without extending it.
	rec = doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", token, `{"session_id":"cs_paid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeat claim status = %d: %s", rec.Code, rec.Body)
	}
	var again struct {
		ExpiresAt int64 `json:"expiresAt"`
	}
	decodeBody(t, rec.Body.Bytes(), &again)
	if again.ExpiresAt != body.ExpiresAt {
		t.Fatalf("repeat claim moved expiry from %d to %d", body.ExpiresAt, again.ExpiresAt)
	}

	// A session without an owner is claimed by whoever comes first.
	gw.sessions["cs_open"] = paidLiveSession("cs_open", user.Email, "")
	if rec := doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", token, `{"session_id":"cs_open"}`); rec.Code != http.StatusOK {
		t.Fatalf("open claim status = %d: %s", rec.Code, rec.Body)
	}
	rec = doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", otherToken, `{"session_id":"cs_open"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second owner claim status = %d", rec.Code)
	}
	var conflict map[string]string
	decodeBody(t, rec.Body.Bytes(), &conflict)
	if conflict["error"] != "Session already claimed" {
		t.Fatalf("unexpected conflict body %v", conflict)
	}
}

func TestClaimAfterWebhookGrant(t *testing.T) {
	gw := &fakeGateway{sessions: map[string]*CheckoutSession{}}
	f := newCheckoutFixture(t, gw)
	user, token := createTestUser(t, f.auth, "dr@example.com")

	sess := paidLiveSession("cs_both", user.Email, user.ID)
	gw.sessions[sess.ID] = sess
	gw.event = &WebhookEvent{ID: "evt_both", Type: "checkout.session.completed", Session: sess}

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "valid")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body)
	}
	granted, err := f.repo.GetEntitlement(context.Background(), user.ID, models.ProductLive)
	if err != nil || granted == nil {
		t.Fatalf("expected webhook entitlement, got %+v (%v)", granted, err)
	}

	rec = doRequest(t, f.router, http.MethodPost, "/api/entitlements/claim", token, `{"session_id":"cs_both"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("claim after webhook status = %d: %s", rec.Code, rec.Body)
	}
	var body struct {
		OK        bool   `json:"ok"`
		Product   string `json:"product"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	decodeBody(t, rec.Body.Bytes(), &body)
	if !body.OK || body.Product != models.ProductLive || body.ExpiresAt != granted.ExpiresAt.UnixMilli() {
		t.Fatalf("unexpected claim body %+v, granted %v", body, granted.ExpiresAt)
	}
}

func TestFinishSignup(t *testing.T) {
	gw := &fakeGateway{sessions: map[string]*CheckoutSession{}}
	f := newCheckoutFixture(t, gw)
	gw.sessions["cs_guest"] = paidLiveSession("cs_guest", "guest@example.com", "")

	rec := doRequest(t, f.router, http.MethodGet, "/api/finish-signup?cs=cs_guest", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("peek status = %d: %s", rec.Code, rec.Body)
	}
	var peek map[string]interface{}
	decodeBody(t, rec.Body.Bytes(), &peek)
	if peek["email"] != "guest@example.com" || peek["redirectPath"] != "/dashboard/live-mode" {
		t.Fatalf("unexpected peek body: %+v", peek)
	}

	// An async payment that has not cleared can be previewed but not redeemed.
	pending := paidLiveSession("cs_pending", "pending@example.com", "")
	pending.Paid = false
	gw.sessions[pending.ID] = pending
	if rec := doRequest(t, f.router, http.MethodGet, "/api/finish-signup?cs=cs_pending", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("pending peek status = %d: %s", rec.Code, rec.Body)
	}
	if rec := doRequest(t, f.router, http.MethodPost, "/api/finish-signup", "", `{"sessionId":"cs_pending","password":"secret1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("pending finish status = %d", rec.Code)
	}
	if u, _ := f.repo.GetUserByEmail(context.Background(), "pending@example.com"); u != nil {
		t.Fatal("account created for an unpaid session")
	}

	if rec := doRequest(t, f.router, http.MethodPost, "/api/finish-signup", "", `{"sessionId":"cs_guest","password":"123"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("short password status = %d", rec.Code)
	}

	rec = doRequest(t, f.router, http.MethodPost, "/api/finish-signup", "", `{"sessionId":"cs_guest","password":"secret1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("finish status = %d: %s", rec.Code, rec.Body)
	}
	var done struct {
		RedirectTo  string `json:"redirectTo"`
		CustomToken string `json:"customToken"`
	}
	decodeBody(t, rec.Body.Bytes(), &done)
	if done.RedirectTo != "/dashboard/live-mode" || done.CustomToken == "" {
		t.Fatalf("unexpected finish body: %+v", done)
	}

	user, err := f.auth.VerifyToken(context.Background(), done.CustomToken, tokenIdentity)
	if err != nil {
		t.Fatalf("verify custom token: %v", err)
	}
	ent, err := f.repo.GetEntitlement(context.Background(), user.ID, models.ProductLive)
	if err != nil || !ent.Active(time.Now()) {
		t.Fatalf("expected active live entitlement, got %+v (%v)", ent, err)
	}

	// A return visit with the same password is accepted; a different one is not.
	if rec := doRequest(t, f.router, http.MethodPost, "/api/finish-signup", "", `{"sessionId":"cs_guest","password":"secret1"}`); rec.Code != http.StatusOK {
		t.Fatalf("repeat finish status = %d: %s", rec.Code, rec.Body)
	}
	if rec := doRequest(t, f.router, http.MethodPost, "/api/finish-signup", "", `{"sessionId":"cs_guest","password":"guess12"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password finish status = %d", rec.Code)
	}
}

func TestWebhookWithFakeGateway(t *testing.T) {
	gw := &fakeGateway{sessions: map[string]*CheckoutSession{}}
	f := newCheckoutFixture(t, gw)
	user, _ := createTestUser(t, f.auth, "dr@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader("{}"))
	req.Header.Set("Stripe-Signature", "forged")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("forged signature status = %d", rec.Code)
	}

	gw.event = &WebhookEvent{ID: "evt_1", Type: "checkout.session.completed", Session: paidLiveSession("cs_hook", user.Email, user.ID)}
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader("{}"))
		req.Header.Set("Stripe-Signature", "valid")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d status = %d: %s", i, rec.Code, rec.Body)
		}
	}

	claim, err := f.repo.GetClaim(context.Background(), "cs_hook")
	if err != nil || claim == nil || claim.Source != models.SourceWebhook {
		t.Fatalf("expected webhook claim, got %+v (%v)", claim, err)
	}
}

func signStripePayload(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeGatewayParsesSignedWebhook(t *testing.T) {
	const secret = "whsec_test"
	gw := NewStripeGateway("sk_test_unused", secret)
	f := newCheckoutFixture(t, gw)
	user, _ := createTestUser(t, f.auth, "dr@example.com")

	payload := []byte(fmt.Sprintf(`{
  "id": "evt_signed",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_signed",
    "object": "checkout.session",
    "payment_status": "paid",
    "status": "complete",
    "customer_email": "dr@example.com",
    "created": %d,
    "metadata": {"uid": %q, "product": "test", "durationDays": "90", "planId": "test_3m"}
  }}
}`, time.Now().Unix(), user.ID))

	event, err := gw.ParseWebhook(payload, signStripePayload(secret, payload, time.Now()))
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Session == nil || !event.Session.Paid || event.Session.Metadata[metaUserID] != user.ID {
		t.Fatalf("unexpected session: %+v", event.Session)
	}
	if _, err := gw.ParseWebhook(payload, signStripePayload("whsec_other", payload, time.Now())); err == nil {
		t.Fatal("expected signature mismatch")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", signStripePayload(secret, payload, time.Now()))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d: %s", rec.Code, rec.Body)
	}
	ent, err := f.repo.GetEntitlement(context.Background(), user.ID, models.ProductTest)
	if err != nil || ent == nil || ent.Source != models.SourceWebhook {
		t.Fatalf("expected webhook entitlement, got %+v (%v)", ent, err)
	}
}
