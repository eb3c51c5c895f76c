package entity

import (
	"time"

	"github.com/google/uuid"
)

// PendingReference ties a pending booking to the checkout session the
// student was redirected to.
type PendingReference struct {
	BookingID  uuid.UUID `db:"booking_id" json:"booking_id"`
	SessionRef string    `db:"session_ref" json:"session_ref"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// AbandonedBooking is a pending booking picked up by the sweep, along with
// its checkout session when one was recorded.
type AbandonedBooking struct {
	Booking
	SessionRef *string
}
