package auth

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/utilization-registry/pkg/models"
)

// Middleware provides HTTP authentication middleware.
// It is thin and delegates authentication logic to AuthService.
type Middleware struct {
	authService AuthService
	logger      *zap.Logger
}

// NewMiddleware creates a new auth middleware with the given AuthService.
func NewMiddleware(authService AuthService, logger *zap.Logger) *Middleware {
	return &Middleware{
		authService: authService,
		logger:      logger,
	}
}

// RequireAuth validates the JWT and sets claims and token in context for
// downstream handlers.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, token, err := m.authService.ValidateRequest(r)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		ctx := WithClaims(r.Context(), claims)
		ctx = WithToken(ctx, token)
		next(w, r.WithContext(ctx))
	}
}

// RequireAuthWithProvenance is RequireAuth plus manual provenance for the
// authenticated user, so writes are attributed in the audit log.
// The token subject must be a UUID.
func (m *Middleware) RequireAuthWithProvenance(next http.HandlerFunc) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserUUIDFromContext(r.Context())
		if !ok {
			m.logger.Warn("Token subject is not a valid user ID",
				zap.String("subject", GetUserIDFromContext(r.Context())))
			writeAuthError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID in token")
			return
		}
		next(w, r.WithContext(models.WithManualProvenance(r.Context(), userID)))
	})
}

// RequireRole allows the request through only when the claims in context carry
// at least one of roles. Must run after RequireAuth.
func RequireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetClaims(r.Context())
			if !ok || claims == nil {
				writeAuthError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
				return
			}
			if !claims.HasAnyRole(roles...) {
				writeAuthError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
				return
			}
			next(w, r)
		}
	}
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}
