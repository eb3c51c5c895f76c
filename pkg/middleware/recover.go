package middleware

import (
	"net/http"

	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

// Recover turns a panicking handler into a 500 response
func Recover(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					logger.Error("PANIC recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.String("method", r.Method),
						zap.Stack("stack"),
					)

					utils.ResponseInternalError(w, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
