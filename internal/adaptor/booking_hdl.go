package adaptor

import (
	"encoding/json"
	"net/http"

	"tutoring-booking/internal/dto/request"
	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type BookingHandler struct {
	service usecase.BookingService
	log     *zap.Logger
}

func NewBookingHandler(service usecase.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{
		service: service,
		log:     log.With(zap.String("handler", "booking")),
	}
}

// CreateBooking handles POST /api/bookings (protected)
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
		return
	}

	var req request.CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.ResponseBadRequest(w, "Invalid request body", nil)
		return
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	checkout, err := h.service.CreateBooking(r.Context(), userID, &req)
	if err != nil {
		handleServiceError(h.log, w, err, "create booking")
		return
	}

	utils.ResponseCreated(w, "Booking reserved, continue to payment", checkout)
}

// RetryCheckout handles POST /api/bookings/{id}/checkout (protected)
func (h *BookingHandler) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
		return
	}

	checkout, err := h.service.RetryCheckout(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.log, w, err, "retry checkout")
		return
	}

	utils.ResponseSuccess(w, "Continue to payment", checkout)
}

// GetBooking handles GET /api/bookings/{id} (protected, owner only)
func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := utils.GetUserIDFromContext(r.Context())
	if !ok {
		utils.ResponseUnauthorized(w, "Authentication required")
		return
	}

	booking, err := h.service.GetBooking(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.log, w, err, "get booking")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}
