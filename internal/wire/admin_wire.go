package wire

import (
	"tutoring-booking/internal/adaptor"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireAdmin(
	r chi.Router,
	adminHandler *adaptor.AdminHandler,
	repo *repository.Repository,
	log *zap.Logger,
) {
	// ==================== ADMIN ROUTES ====================
	r.Route("/api/admin", func(r chi.Router) {
		// Require both authentication AND admin role
		r.Use(middleware.AuthSession(repo.Session, log))
		r.Use(middleware.Admin(log))

		// GET /api/admin/bookings/provisioning-failed - Bookings waiting for a provisioning retry
		r.Get("/bookings/provisioning-failed", adminHandler.ListProvisioningFailed)

		// GET /api/admin/bookings/refund-required - Cancelled bookings whose checkout was paid
		r.Get("/bookings/refund-required", adminHandler.ListRefundRequired)

		// GET /api/admin/bookings/{id} - View any booking
		r.Get("/bookings/{id}", adminHandler.GetBookingByID)

		// PUT /api/admin/bookings/{id}/cancel - Cancel a pending or confirmed booking
		r.Put("/bookings/{id}/cancel", adminHandler.CancelBooking)

		// POST /api/admin/bookings/{id}/provision - Retry provisioning
		r.Post("/bookings/{id}/provision", adminHandler.RetryProvisioning)

		// POST /api/admin/settlement/sweep - Run the abandonment sweep now
		r.Post("/settlement/sweep", adminHandler.Sweep)
	})
}
