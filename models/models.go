package models

// Database schema overview:
// 1. users - password accounts, owned by the auth service
// 2. entitlements - one row per (user, product) with an expiry
// 3. checkout_claims - payment sessions already converted into entitlements
//
// Everything in exam.go is kept in memory or in the run store only.

// All returns every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Entitlement{},
		&CheckoutClaim{},
	}
}
