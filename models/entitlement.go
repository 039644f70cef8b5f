package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product keys an entitlement can grant.
const (
	ProductTest = "test"
	ProductLive = "live"
)

// Entitlement sources.
const (
	SourceCheckout = "stripe_checkout"
	SourceWebhook  = "stripe_webhook"
	SourceSeed     = "seed"
)

// Entitlement grants a user time-limited access to one product. There is at
// most one row per (user, product); repeat purchases move ExpiresAt forward.
type Entitlement struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;uniqueIndex:idx_entitlement_user_product,priority:1" json:"user_id"`
	Product   string    `gorm:"size:32;not null;uniqueIndex:idx_entitlement_user_product,priority:2" json:"product"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	SessionID string    `gorm:"size:255" json:"session_id,omitempty"`
	Source    string    `gorm:"size:32" json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *Entitlement) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// Active reports whether the entitlement is still valid at now.
func (e *Entitlement) Active(now time.Time) bool {
	return e != nil && e.ExpiresAt.After(now)
}

// CheckoutClaim records that a payment session was converted into an
// entitlement. SessionID is unique so a session can only be claimed once.
type CheckoutClaim struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID string    `gorm:"size:255;not null;uniqueIndex" json:"session_id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Product   string    `gorm:"size:32;not null" json:"product"`
	Source    string    `gorm:"size:32" json:"source"`
	ClaimedAt time.Time `gorm:"not null" json:"claimed_at"`
}

func (c *CheckoutClaim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// NormalizeProduct maps the product keys used by the web app onto the stored
// product names. It returns "" for unknown keys.
func NormalizeProduct(key string) string {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "test", "test-mode", "practice", "practice-mode":
		return ProductTest
	case "live", "live-mode":
		return ProductLive
	default:
		return ""
	}
}
