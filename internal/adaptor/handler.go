package adaptor

import (
	"errors"
	"net/http"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

type Handler struct {
	Booking    *BookingHandler
	Settlement *SettlementHandler
	Admin      *AdminHandler
}

func NewHandler(service *usecase.Service, log *zap.Logger) *Handler {
	return &Handler{
		Booking:    NewBookingHandler(service.Booking, log),
		Settlement: NewSettlementHandler(service.Settlement, log),
		Admin:      NewAdminHandler(service.Booking, service.Settlement, log),
	}
}

// handleServiceError maps domain errors to HTTP responses
func handleServiceError(log *zap.Logger, w http.ResponseWriter, err error, operation string) {
	if checkoutErr, ok := usecase.IsCheckoutError(err); ok {
		log.Warn(operation+" failed - payment gateway unavailable",
			zap.Error(err),
			zap.String("booking_id", checkoutErr.BookingID.String()))
		utils.ResponseServiceUnavailable(w, "Payment provider unavailable, please try again", map[string]string{
			"booking_id": checkoutErr.BookingID.String(),
			"reference":  checkoutErr.Reference,
		})
		return
	}

	switch {
	case errors.Is(err, entity.ErrValidation):
		log.Warn(operation+" validation failed", zap.Error(err))
		utils.ResponseBadRequest(w, err.Error(), nil)

	case errors.Is(err, entity.ErrNotFound):
		log.Warn(operation+" failed - not found", zap.Error(err))
		utils.ResponseNotFound(w, err.Error())

	case errors.Is(err, entity.ErrForbidden):
		log.Warn(operation+" failed - forbidden", zap.Error(err))
		utils.ResponseForbidden(w, "You do not have access to this booking")

	case errors.Is(err, entity.ErrCapacityExceeded):
		log.Info(operation+" failed - capacity exceeded", zap.Error(err))
		utils.ResponseConflict(w, err.Error())

	case errors.Is(err, entity.ErrInvalidTransition), errors.Is(err, entity.ErrStaleOrUnknownSession):
		log.Warn(operation+" failed - invalid state", zap.Error(err))
		utils.ResponseConflict(w, err.Error())

	case errors.Is(err, entity.ErrGatewayUnavailable):
		log.Warn(operation+" failed - payment gateway unavailable", zap.Error(err))
		utils.ResponseServiceUnavailable(w, "Payment provider unavailable, please try again", nil)

	case errors.Is(err, entity.ErrProvisioningFailed):
		log.Warn(operation+" failed - provisioning", zap.Error(err))
		utils.ResponseJSON(w, http.StatusBadGateway, false, "Could not set up the booked session", nil, nil)

	default:
		log.Error("Failed to "+operation, zap.Error(err))
		utils.ResponseInternalError(w, "Internal server error")
	}
}
