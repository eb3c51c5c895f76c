package response

import (
	"time"

	"tutoring-booking/internal/data/entity"
)

type BookingResponse struct {
	ID                 string              `json:"id"`
	Reference          string              `json:"reference"`
	Kind               entity.BookingKind  `json:"kind"`
	SubjectID          string              `json:"subject_id"`
	ActorID            string              `json:"actor_id"`
	SlotStart          *time.Time          `json:"slot_start,omitempty"`
	Topic              *string             `json:"topic,omitempty"`
	Amount             float64             `json:"amount"`
	State              entity.BookingState `json:"state"`
	ProvisionedRef     *string             `json:"provisioned_ref,omitempty"`
	ProvisioningFailed bool                `json:"provisioning_failed"`
	ProvisioningError  *string             `json:"provisioning_error,omitempty"`
	RefundRequired     bool                `json:"refund_required"`
	RefundSessionRef   *string             `json:"refund_session_ref,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	SettledAt          *time.Time          `json:"settled_at,omitempty"`
}

type CheckoutResponse struct {
	Booking     BookingResponse `json:"booking"`
	RedirectURL string          `json:"redirect_url"`
	SessionRef  string          `json:"session_ref"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

func BookingToResponse(b *entity.Booking) BookingResponse {
	return BookingResponse{
		ID:                 b.ID.String(),
		Reference:          b.Reference,
		Kind:               b.Kind,
		SubjectID:          b.SubjectID.String(),
		ActorID:            b.ActorID.String(),
		SlotStart:          b.SlotStart,
		Topic:              b.Topic,
		Amount:             b.Amount,
		State:              b.State,
		ProvisionedRef:     b.ProvisionedRef,
		ProvisioningFailed: b.ProvisioningFailed,
		ProvisioningError:  b.ProvisioningError,
		RefundRequired:     b.RefundRequired,
		RefundSessionRef:   b.RefundSessionRef,
		CreatedAt:          b.CreatedAt,
		SettledAt:          b.SettledAt,
	}
}
