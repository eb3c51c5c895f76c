package response

import "tutoring-booking/internal/data/entity"

type SettlementResponse struct {
	Outcome entity.SettlementOutcome `json:"outcome"`
	Message string                   `json:"message,omitempty"`
	Booking *BookingResponse         `json:"booking,omitempty"`
}

func SettlementToResponse(r *entity.SettlementResult) *SettlementResponse {
	resp := &SettlementResponse{
		Outcome: r.Outcome,
		Message: r.Message,
	}
	if r.Booking != nil {
		b := BookingToResponse(r.Booking)
		resp.Booking = &b
	}
	return resp
}
