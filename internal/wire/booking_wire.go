package wire

import (
	"tutoring-booking/internal/adaptor"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func wireBooking(
	r chi.Router,
	bookingHandler *adaptor.BookingHandler,
	repo *repository.Repository,
	log *zap.Logger,
) {
	// ==================== PROTECTED ROUTES (require auth) ====================
	r.Route("/api/bookings", func(r chi.Router) {
		r.Use(middleware.AuthSession(repo.Session, log))

		// POST /api/bookings - Reserve capacity and start checkout
		r.Post("/", bookingHandler.CreateBooking)

		// GET /api/bookings/{id} - View own booking
		r.Get("/{id}", bookingHandler.GetBooking)

		// POST /api/bookings/{id}/checkout - New checkout session for a pending booking
		r.Post("/{id}/checkout", bookingHandler.RetryCheckout)
	})
}
