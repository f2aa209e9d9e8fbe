package security

import "time"

// SessionClaims is the verified content of a Shopify embedded-app session
// token. Shop is the bare myshopify domain extracted from the dest claim.
type SessionClaims struct {
	Shop    string
	UserID  string
	Exp     time.Time
	Issuer  string
	Subject string
}
