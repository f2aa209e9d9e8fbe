package security

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HS256Verifier checks Shopify embedded-app session tokens: HS256 JWTs
// signed with the app's API secret, aud = the app's API key, dest = the
// shop origin.
type HS256Verifier struct {
	secret []byte
	apiKey string
}

func NewHS256Verifier(apiSecret, apiKey string) *HS256Verifier {
	return &HS256Verifier{secret: []byte(apiSecret), apiKey: apiKey}
}

type sessionTokenClaims struct {
	Dest string `json:"dest"`
	Sid  string `json:"sid"`
	jwt.RegisteredClaims
}

func (v *HS256Verifier) VerifySessionToken(token string) (SessionClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionTokenClaims{}, func(t *jwt.Token) (any, error) {
		// prevent alg confusion
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrTokenInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrTokenExpired
		}
		return SessionClaims{}, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*sessionTokenClaims)
	if !ok || !parsed.Valid {
		return SessionClaims{}, ErrTokenInvalid
	}

	if v.apiKey != "" {
		aud, _ := claims.GetAudience()
		found := false
		for _, a := range aud {
			if a == v.apiKey {
				found = true
				break
			}
		}
		if !found {
			return SessionClaims{}, ErrTokenInvalid
		}
	}

	shop := shopFromDest(claims.Dest)
	if shop == "" {
		return SessionClaims{}, ErrTokenInvalid
	}

	exp := time.Time{}
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}

	return SessionClaims{
		Shop:    shop,
		UserID:  claims.Subject,
		Exp:     exp,
		Issuer:  claims.Issuer,
		Subject: claims.Subject,
	}, nil
}

// shopFromDest turns "https://my-store.myshopify.com" into
// "my-store.myshopify.com".
func shopFromDest(dest string) string {
	dest = strings.TrimSpace(dest)
	dest = strings.TrimPrefix(dest, "https://")
	dest = strings.TrimPrefix(dest, "http://")
	dest = strings.TrimSuffix(dest, "/")
	if dest == "" || !strings.Contains(dest, ".") {
		return ""
	}
	return dest
}
