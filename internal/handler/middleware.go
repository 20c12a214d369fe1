package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"identity-service/internal/token"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// ClaimsFromContext returns the verified session claims stashed by
// RequireAuth, or nil when the request was not authenticated.
func ClaimsFromContext(ctx context.Context) *token.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*token.Claims)
	return claims
}

// RequireAuth verifies the bearer token and stores its claims in the
// request context.
func RequireAuth(verifier *token.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, value, found := strings.Cut(header, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || value == "" {
				respondWithError(w, http.StatusUnauthorized,
					errors.New("missing bearer token"), "Authentication required")
				return
			}

			claims, err := verifier.Verify(value)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, err, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTwoFactor rejects tokens that enabled 2FA but have not passed
// the TOTP challenge. Accounts without 2FA pass through.
func RequireTwoFactor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFromContext(r.Context())
		if claims == nil {
			respondWithError(w, http.StatusUnauthorized,
				errors.New("missing session claims"), "Authentication required")
			return
		}
		if claims.TwoFactorEnabled && !claims.TwoFactorAuthenticated {
			respondWithError(w, http.StatusForbidden,
				errors.New("two-factor confirmation required"), "Complete the two-factor challenge first")
			return
		}
		next.ServeHTTP(w, r)
	})
}
