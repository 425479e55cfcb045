package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const subjectKey contextKey = "subject"

// TenantAuthMiddleware validates HS256 bearer tokens and requires their
// "tenant" claim to match the {tenantId} of the route.
func TenantAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid authorization header")
				return
			}

			claims := jwt.MapClaims{}
			_, err := jwt.ParseWithClaims(parts[1], claims, func(*jwt.Token) (any, error) {
				return secret, nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			tenantID := chi.URLParam(r, "tenantId")
			if claimed, _ := claims["tenant"].(string); claimed != tenantID {
				logger.Warn("auth: token issued for another tenant",
					zap.String("path", r.URL.Path),
					zap.String("tenant_id", tenantID),
				)
				writeError(w, http.StatusForbidden, "FORBIDDEN", "token does not grant access to this tenant")
				return
			}

			sub, _ := claims.GetSubject()
			ctx := context.WithValue(r.Context(), subjectKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// subjectFrom returns the authenticated token subject, if any.
func subjectFrom(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey).(string)
	return v
}
