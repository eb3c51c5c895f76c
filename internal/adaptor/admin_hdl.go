package adaptor

import (
	"net/http"
	"time"

	"tutoring-booking/internal/dto/request"
	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AdminHandler struct {
	bookings   usecase.BookingService
	settlement usecase.SettlementService
	log        *zap.Logger
}

func NewAdminHandler(bookings usecase.BookingService, settlement usecase.SettlementService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{
		bookings:   bookings,
		settlement: settlement,
		log:        log.With(zap.String("handler", "admin")),
	}
}

// GetBookingByID handles GET /api/admin/bookings/{id} (admin only)
func (h *AdminHandler) GetBookingByID(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.GetBookingByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.log, w, err, "get booking by ID")
		return
	}

	utils.ResponseSuccess(w, "success", booking)
}

// CancelBooking handles PUT /api/admin/bookings/{id}/cancel (admin only)
func (h *AdminHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	result, err := h.bookings.CancelBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.log, w, err, "cancel booking")
		return
	}

	utils.ResponseSuccess(w, outcomeMessages[result.Outcome], result)
}

// ListProvisioningFailed handles GET /api/admin/bookings/provisioning-failed (admin only)
func (h *AdminHandler) ListProvisioningFailed(w http.ResponseWriter, r *http.Request) {
	req := request.PaginationFromQuery(r.URL.Query())

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	bookings, err := h.bookings.ListProvisioningFailed(r.Context(), req)
	if err != nil {
		handleServiceError(h.log, w, err, "list provisioning-failed bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// ListRefundRequired handles GET /api/admin/bookings/refund-required (admin only)
func (h *AdminHandler) ListRefundRequired(w http.ResponseWriter, r *http.Request) {
	req := request.PaginationFromQuery(r.URL.Query())

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return
	}

	bookings, err := h.bookings.ListRefundRequired(r.Context(), req)
	if err != nil {
		handleServiceError(h.log, w, err, "list refund-required bookings")
		return
	}

	utils.ResponseSuccess(w, "success", bookings)
}

// RetryProvisioning handles POST /api/admin/bookings/{id}/provision (admin only)
func (h *AdminHandler) RetryProvisioning(w http.ResponseWriter, r *http.Request) {
	result, err := h.bookings.RetryProvisioning(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(h.log, w, err, "retry provisioning")
		return
	}

	utils.ResponseSuccess(w, outcomeMessages[result.Outcome], result)
}

// Sweep handles POST /api/admin/settlement/sweep (admin only)
func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.settlement.SweepAbandoned(r.Context(), time.Now())
	if err != nil {
		handleServiceError(h.log, w, err, "sweep abandoned bookings")
		return
	}

	utils.ResponseSuccess(w, "Sweep finished", report)
}
