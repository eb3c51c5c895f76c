package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type BookingKind string

const (
	BookingKindLesson           BookingKind = "lesson"
	BookingKindCourseEnrollment BookingKind = "course_enrollment"
)

// ReferencePrefix is the leading part of a booking's human readable reference.
func (k BookingKind) ReferencePrefix() string {
	switch k {
	case BookingKindLesson:
		return "LSN"
	case BookingKindCourseEnrollment:
		return "CRS"
	default:
		return "BKG"
	}
}

func (k BookingKind) Valid() bool {
	return k == BookingKindLesson || k == BookingKindCourseEnrollment
}

func ParseBookingKind(s string) (BookingKind, error) {
	k := BookingKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: unknown booking kind %q", ErrValidation, s)
	}
	return k, nil
}

type BookingState string

const (
	BookingStatePending   BookingState = "pending"
	BookingStateConfirmed BookingState = "confirmed"
	BookingStateCancelled BookingState = "cancelled"
)

// Booking is a lesson or a course seat reserved by a student. Pending and
// Confirmed bookings hold one unit of their subject's capacity.
type Booking struct {
	BaseNoDelete
	Reference          string       `db:"reference"`
	Kind               BookingKind  `db:"kind"`
	SubjectID          uuid.UUID    `db:"subject_id"` // mentor for lessons, course for enrollments
	ActorID            uuid.UUID    `db:"actor_id"`
	SlotStart          *time.Time   `db:"slot_start"`
	Topic              *string      `db:"topic"`
	Amount             float64      `db:"amount"`
	State              BookingState `db:"state"`
	CapacityHold       bool         `db:"capacity_hold"`
	ProvisionedRef     *string      `db:"provisioned_ref"`
	ProvisioningFailed bool         `db:"provisioning_failed"`
	ProvisioningError  *string      `db:"provisioning_error"`
	RefundRequired     bool         `db:"refund_required"`    // paid after it was cancelled
	RefundSessionRef   *string      `db:"refund_session_ref"` // the checkout session that captured it
	SettledAt          *time.Time   `db:"settled_at"`
}

func (b *Booking) IsTerminal() bool {
	return b.State == BookingStateCancelled ||
		(b.State == BookingStateConfirmed && (b.ProvisionedRef != nil || b.ProvisioningFailed))
}

// NewBooking carries what the store needs to open a pending booking.
type NewBooking struct {
	Kind      BookingKind
	SubjectID uuid.UUID
	ActorID   uuid.UUID
	Amount    float64
	SlotStart *time.Time
	Topic     *string
}

func (n NewBooking) Validate() error {
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: unknown booking kind %q", ErrValidation, n.Kind)
	}
	if n.SubjectID == uuid.Nil || n.ActorID == uuid.Nil {
		return fmt.Errorf("%w: subject and actor are required", ErrValidation)
	}
	if n.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if n.Kind == BookingKindLesson && n.SlotStart == nil {
		return fmt.Errorf("%w: lesson bookings need a slot start", ErrValidation)
	}
	return nil
}
