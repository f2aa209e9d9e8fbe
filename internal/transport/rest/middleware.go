package rest

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/popforge/popup-service/internal/domain"
	"github.com/popforge/popup-service/internal/security"
)

// AuthMiddleware verifies the Shopify session token on admin requests and
// stores the shop identity in context. Status is 401 for every failure
// mode; the embedded app retries with a fresh token.
func AuthMiddleware(verifier security.SessionTokenVerifier) func(next http.Handler) http.Handler {
	if verifier == nil {
		panic("AuthMiddleware: nil verifier")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := strings.TrimSpace(r.Header.Get("Authorization"))
			if h == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(h, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			raw := strings.TrimSpace(parts[1])
			if raw == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.VerifySessionToken(raw)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if strings.TrimSpace(claims.Shop) == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withShopAuth(r.Context(), ShopAuth{
				Shop:   claims.Shop,
				UserID: claims.UserID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type RateLimitOptions struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// RateLimitMiddleware is a per-IP fixed window limiter on the public
// storefront endpoints. The Redis-backed counter fails open.
func RateLimitMiddleware(cache domain.VisitorCache, opt RateLimitOptions) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !opt.Enabled {
				next.ServeHTTP(w, r)
				return
			}
			allowed, _ := cache.AllowRequest(r.Context(), clientIP(r), opt.Limit, opt.Window)
			if !allowed {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the requester address. Storefront traffic arrives via
// the platform CDN, so the forwarding headers are trusted: first hop of
// X-Forwarded-For, then X-Real-IP, then RemoteAddr.
func clientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Restrictive policy suitable for JSON-only endpoints
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}
