package wire

import (
	"tutoring-booking/internal/adaptor"
	"tutoring-booking/pkg/middleware"
	"tutoring-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireSettlement(
	r chi.Router,
	settlementHandler *adaptor.SettlementHandler,
	config *utils.Config,
	log *zap.Logger,
) {
	limiter := middleware.NewRateLimiter(config.App.RateLimitPerMin, log)

	// ==================== PUBLIC ROUTES (payment page redirects) ====================
	r.Route("/settlement", func(r chi.Router) {
		r.Use(limiter.Handler)

		// GET /settlement/success?sessionRef= - Student paid
		r.Get("/success", settlementHandler.Success)

		// GET /settlement/cancel?sessionRef= - Student backed out
		r.Get("/cancel", settlementHandler.Cancel)
	})
}
