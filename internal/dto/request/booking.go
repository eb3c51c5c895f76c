package request

import "time"

type CreateBookingRequest struct {
	Kind      string     `json:"kind" validate:"required,oneof=lesson course_enrollment"`
	SubjectID string     `json:"subject_id" validate:"required,uuid"`
	SlotStart *time.Time `json:"slot_start,omitempty" validate:"required_if=Kind lesson"`
	Topic     *string    `json:"topic,omitempty" validate:"omitempty,max=255"`
}
