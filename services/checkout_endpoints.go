package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/krshsl/cascprep/models"
	"github.com/krshsl/cascprep/repository"
)

const maxWebhookBytes = 1 << 20

var dashboardPaths = map[string]string{
	models.ProductLive: "live-mode",
	models.ProductTest: "practice-mode",
}

type CheckoutEndpoints struct {
	gateway     PaymentGateway
	catalog     *PlanCatalog
	repo        *repository.GORMRepository
	authService *AuthService
	baseURL     string
}

func NewCheckoutEndpoints(gateway PaymentGateway, catalog *PlanCatalog, repo *repository.GORMRepository, authService *AuthService, baseURL string) *CheckoutEndpoints {
	return &CheckoutEndpoints{
		gateway:     gateway,
		catalog:     catalog,
		repo:        repo,
		authService: authService,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

func (e *CheckoutEndpoints) RegisterRoutes(r chi.Router) {
	r.Get("/api/plans", e.PlansHandler)
	r.With(e.authService.OptionalMiddleware).Post("/api/checkout/session", e.CreateSessionHandler)
	r.Get("/api/checkout/session/{id}", e.GetSessionHandler)
	r.With(e.authService.Middleware).Post("/api/entitlements/claim", e.ClaimHandler)
	r.Get("/api/finish-signup", e.PeekSignupHandler)
	r.Post("/api/finish-signup", e.FinishSignupHandler)
	r.Post("/api/webhook", e.WebhookHandler)
}

type CreateCheckoutRequest struct {
	PlanID        string `json:"planId"`
	CustomerEmail string `json:"customerEmail"`
}

type ClaimRequest struct {
	SessionID string `json:"session_id"`
}

type FinishSignupRequest struct {
	SessionID string `json:"sessionId"`
	Password  string `json:"password"`
}

func (e *CheckoutEndpoints) PlansHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": e.catalog.List()})
}

// origin picks the site the payment processor should send the buyer back to.
func (e *CheckoutEndpoints) origin(r *http.Request) string {
	if e.baseURL != "" {
		return e.baseURL
	}
	if o := r.Header.Get("Origin"); o != "" {
		return strings.TrimRight(o, "/")
	}
	return "http://localhost:3000"
}

func (e *CheckoutEndpoints) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	plan, ok := e.catalog.Lookup(strings.TrimSpace(req.PlanID))
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid plan")
		return
	}
	if plan.PriceID == "" {
		slog.Error("Plan has no configured price", "plan_id", plan.ID)
		writeError(w, http.StatusInternalServerError, "Plan is not available")
		return
	}

	meta := map[string]string{
		metaPlanID:       plan.ID,
		metaProduct:      plan.Product,
		metaDurationDays: strconv.Itoa(plan.DurationDays),
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if user := UserFromContext(r.Context()); user != nil {
		meta[metaUserID] = user.ID
		if email == "" {
			email = user.Email
		}
	}

	origin := e.origin(r)
	sess, err := e.gateway.CreateCheckoutSession(r.Context(), CheckoutRequest{
		PriceID:       plan.PriceID,
		CustomerEmail: email,
		SuccessURL:    origin + "/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     origin + "/pricing?canceled=1",
		Metadata:      meta,
	})
	if err != nil {
		slog.Error("Failed to create checkout session", "error", err, "plan_id", plan.ID)
		writeError(w, http.StatusInternalServerError, "Failed to create checkout session")
		return
	}

	slog.Info("Checkout session created", "session_id", sess.ID, "plan_id", plan.ID)
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": sess.ID, "url": sess.URL})
}

func (e *CheckoutEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing id")
		return
	}
	sess, err := e.gateway.GetCheckoutSession(r.Context(), id)
	if errors.Is(err, ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeServiceError(w, err, "Failed to retrieve session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       sess.ID,
		"paid":     sess.Paid,
		"email":    sess.Email,
		"metadata": sess.Metadata,
	})
}

// purchase works out what a session bought from its metadata, falling back
// to the plan id for sessions created without product details.
func (e *CheckoutEndpoints) purchase(sess *CheckoutSession) (string, int, error) {
	product := models.NormalizeProduct(sess.Metadata[metaProduct])
	days, _ := strconv.Atoi(sess.Metadata[metaDurationDays])
	if product == "" || days <= 0 {
		if plan, ok := e.catalog.Lookup(sess.Metadata[metaPlanID]); ok {
			product, days = plan.Product, plan.DurationDays
		}
	}
	if product == "" || days <= 0 {
		return "", 0, badRequest("Missing session metadata")
	}
	return product, days, nil
}

func (e *CheckoutEndpoints) grant(ctx context.Context, sess *CheckoutSession, userID, source string) (*models.Entitlement, error) {
	product, days, err := e.purchase(sess)
	if err != nil {
		return nil, err
	}
	return e.repo.ClaimEntitlement(ctx, repository.Grant{
		SessionID: sess.ID,
		UserID:    userID,
		Product:   product,
		Duration:  time.Duration(days) * 24 * time.Hour,
		Source:    source,
	})
}

func (e *CheckoutEndpoints) paidSession(ctx context.Context, id string) (*CheckoutSession, error) {
	sess, err := e.gateway.GetCheckoutSession(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, badRequest("Unpaid or invalid session")
	}
	if err != nil {
		return nil, newAPIError(http.StatusInternalServerError, "Failed to retrieve session", err)
	}
	return sess, nil
}

func (e *CheckoutEndpoints) ClaimHandler(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	var req ClaimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "Missing session_id")
		return
	}

	sess, err := e.paidSession(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err, "Claim failed")
		return
	}
	if !sess.Paid {
		writeError(w, http.StatusBadRequest, "Unpaid or invalid session")
		return
	}
	if uid := sess.Metadata[metaUserID]; uid != "" && uid != user.ID {
		writeError(w, http.StatusForbidden, "Session belongs to another account")
		return
	}

	ent, err := e.grant(r.Context(), sess, user.ID, models.SourceCheckout)
	if errors.Is(err, repository.ErrAlreadyClaimed) {
		ent, err = e.claimedBy(r.Context(), sess.ID, user.ID)
	}
	if err != nil {
		writeServiceError(w, err, "Claim failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"product":   ent.Product,
		"expiresAt": ent.ExpiresAt.UnixMilli(),
	})
}

// claimedBy resolves a claim conflict. A session already granted to userID,
// by the webhook or an earlier visit, yields that user's entitlement; any
// other owner is a 409.
func (e *CheckoutEndpoints) claimedBy(ctx context.Context, sessionID, userID string) (*models.Entitlement, error) {
	claim, err := e.repo.GetClaim(ctx, sessionID)
	if err != nil {
		return nil, newAPIError(http.StatusInternalServerError, "Failed to load claim", err)
	}
	if claim == nil || claim.UserID != userID {
		return nil, newAPIError(http.StatusConflict, "Session already claimed", repository.ErrAlreadyClaimed)
	}
	ent, err := e.repo.GetEntitlement(ctx, userID, claim.Product)
	if err != nil {
		return nil, newAPIError(http.StatusInternalServerError, "Failed to load entitlement", err)
	}
	if ent == nil {
		return nil, newAPIError(http.StatusConflict, "Session already claimed", repository.ErrAlreadyClaimed)
	}
	return ent, nil
}

// signupSession loads a session finish-signup can show. Completed sessions
// whose payment is still clearing pass here; only paid ones are redeemed.
func (e *CheckoutEndpoints) signupSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, badRequest("Missing session id")
	}
	sess, err := e.paidSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Paid && !sess.Complete {
		return nil, badRequest("Payment not completed")
	}
	if sess.Email == "" {
		return nil, badRequest("No email on session")
	}
	return sess, nil
}

func (e *CheckoutEndpoints) PeekSignupHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := e.signupSession(r.Context(), r.URL.Query().Get("cs"))
	if err != nil {
		writeServiceError(w, err, "Failed to load session")
		return
	}

	product, days, err := e.purchase(sess)
	if err != nil {
		product, days = models.ProductLive, 0
	}
	productKey := dashboardPaths[product]

	body := map[string]interface{}{
		"email":        sess.Email,
		"productKey":   productKey,
		"redirectPath": "/dashboard/" + productKey,
	}
	if days > 0 {
		body["accessUntil"] = sess.Created.Add(time.Duration(days) * 24 * time.Hour).UnixMilli()
	}
	writeJSON(w, http.StatusOK, body)
}

func (e *CheckoutEndpoints) FinishSignupHandler(w http.ResponseWriter, r *http.Request) {
	var req FinishSignupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return
	}

	sess, err := e.signupSession(r.Context(), req.SessionID)
	if err != nil {
		writeServiceError(w, err, "Failed to finish signup")
		return
	}
	if !sess.Paid {
		// Completed but still clearing; the webhook or a later visit grants it.
		writeError(w, http.StatusBadRequest, "Payment not completed")
		return
	}

	user, err := e.authService.ClaimAccount(r.Context(), sess.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, "An account already exists for this email. Sign in with its password.")
		return
	}
	if err != nil {
		writeServiceError(w, err, "Failed to finish signup")
		return
	}

	ent, err := e.grant(r.Context(), sess, user.ID, models.SourceCheckout)
	if errors.Is(err, repository.ErrAlreadyClaimed) {
		ent, err = e.claimedBy(r.Context(), sess.ID, user.ID)
	}
	if err != nil {
		writeServiceError(w, err, "Failed to finish signup")
		return
	}

	token, err := e.authService.IssueIdentityToken(user)
	if err != nil {
		writeServiceError(w, err, "Failed to finish signup")
		return
	}

	product := models.ProductLive
	if ent != nil {
		product = ent.Product
	}
	slog.Info("Signup finished", "user_id", user.ID, "session_id", sess.ID, "product", product)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"redirectTo":  "/dashboard/" + dashboardPaths[product],
		"customToken": token,
	})
}

// WebhookHandler applies signed payment events. Anything that is not a
// storage failure is acknowledged so the processor does not retry it.
func (e *CheckoutEndpoints) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	event, err := e.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, ErrInvalidSignature) {
			slog.Warn("Webhook signature rejected", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		slog.Error("Webhook payload rejected", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if err := e.applyCheckoutEvent(r.Context(), event); err != nil {
			slog.Error("Failed to apply checkout event", "error", err, "event_id", event.ID)
			writeError(w, http.StatusInternalServerError, "Webhook handling failed")
			return
		}
	default:
		slog.Debug("Ignoring webhook event", "type", event.Type, "event_id", event.ID)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true})
}

func (e *CheckoutEndpoints) applyCheckoutEvent(ctx context.Context, event *WebhookEvent) error {
	sess := event.Session
	if sess == nil {
		return nil
	}
	uid := sess.Metadata[metaUserID]
	if uid == "" {
		slog.Info("Checkout completed without account, waiting for finish-signup", "session_id", sess.ID)
		return nil
	}
	if !sess.Paid {
		slog.Info("Checkout completed but not paid yet", "session_id", sess.ID)
		return nil
	}

	_, err := e.grant(ctx, sess, uid, models.SourceWebhook)
	var apiErr *APIError
	switch {
	case errors.Is(err, repository.ErrAlreadyClaimed):
		slog.Info("Checkout session already claimed", "session_id", sess.ID)
		return nil
	case errors.As(err, &apiErr):
		slog.Warn("Checkout event skipped", "session_id", sess.ID, "reason", apiErr.Message)
		return nil
	}
	return err
}
