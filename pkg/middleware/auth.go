package middleware

import (
	"errors"
	"net/http"
	"strings"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

// AuthSession resolves the bearer token to a session issued by the auth
// service and puts the user id and role on the request context.
func AuthSession(sessionRepo repository.SessionRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.ResponseUnauthorized(w, "Missing authorization token")
				return
			}

			token, found := strings.CutPrefix(authHeader, "Bearer ")
			token = strings.TrimSpace(token)
			if !found || token == "" {
				utils.ResponseUnauthorized(w, "Invalid token format. Use: Bearer <token>")
				return
			}

			session, err := sessionRepo.FindValidSession(r.Context(), token)
			if errors.Is(err, entity.ErrNotFound) {
				logger.Warn("Invalid or expired session", zap.String("path", r.URL.Path))
				utils.ResponseUnauthorized(w, "Invalid or expired session")
				return
			}
			if err != nil {
				logger.Error("Failed to validate session", zap.Error(err))
				utils.ResponseInternalError(w, "Internal server error")
				return
			}

			ctx := utils.SetUserContext(r.Context(), session.UserID, string(session.Role))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Admin only lets through users whose session carries the admin role.
func Admin(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := utils.GetUserIDFromContext(r.Context())
			if !ok {
				utils.ResponseUnauthorized(w, "Authentication required")
				return
			}

			role, _ := utils.GetRoleFromContext(r.Context())
			if role != string(entity.RoleAdmin) {
				logger.Warn("Admin check: non-admin access attempt",
					zap.String("user_id", userID.String()),
					zap.String("path", r.URL.Path))
				utils.ResponseForbidden(w, "Admin access required")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
