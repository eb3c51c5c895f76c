package adaptor

import (
	"net/http"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/dto/request"
	"tutoring-booking/internal/dto/response"
	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

var outcomeMessages = map[entity.SettlementOutcome]string{
	entity.OutcomeConfirmed:                    "Booking confirmed",
	entity.OutcomeConfirmedProvisioningPending: "Booking confirmed, setup is pending",
	entity.OutcomeCancelled:                    "Booking cancelled",
	entity.OutcomeAlreadySettled:               "Booking already settled",
	entity.OutcomeStaleOrUnknownSession:        "Nothing to settle for this session",
	entity.OutcomeSkipped:                      "Nothing to do yet",
	entity.OutcomeRefundRequired:               "Booking was cancelled, your payment will be refunded",
}

// SettlementHandler serves the return URLs the payment page redirects to.
// Both legs are public: the session reference is the only input.
type SettlementHandler struct {
	service usecase.SettlementService
	log     *zap.Logger
}

func NewSettlementHandler(service usecase.SettlementService, log *zap.Logger) *SettlementHandler {
	return &SettlementHandler{
		service: service,
		log:     log.With(zap.String("handler", "settlement")),
	}
}

// Success handles GET /settlement/success?sessionRef=
func (h *SettlementHandler) Success(w http.ResponseWriter, r *http.Request) {
	req, ok := parseReturnRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.OnSuccessReturn(r.Context(), req.SessionRef)
	if err != nil {
		handleServiceError(h.log, w, err, "settle success return")
		return
	}

	writeSettlement(w, result)
}

// Cancel handles GET /settlement/cancel?sessionRef=
func (h *SettlementHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	req, ok := parseReturnRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.OnCancelReturn(r.Context(), req.SessionRef)
	if err != nil {
		handleServiceError(h.log, w, err, "settle cancel return")
		return
	}

	writeSettlement(w, result)
}

func parseReturnRequest(w http.ResponseWriter, r *http.Request) (*request.SettlementReturnRequest, bool) {
	query := r.URL.Query()
	req := &request.SettlementReturnRequest{SessionRef: query.Get("sessionRef")}
	if req.SessionRef == "" {
		req.SessionRef = query.Get("session_id")
	}

	if validationErrors := utils.ValidateStruct(req); len(validationErrors) > 0 {
		utils.ResponseBadRequest(w, "Validation failed", validationErrors)
		return nil, false
	}
	return req, true
}

func writeSettlement(w http.ResponseWriter, result *entity.SettlementResult) {
	utils.ResponseSuccess(w, outcomeMessages[result.Outcome], response.SettlementToResponse(result))
}
