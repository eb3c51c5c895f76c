package entity

import "github.com/google/uuid"

type Course struct {
	BaseNoDelete
	MentorID      uuid.UUID `db:"mentor_id"`
	Title         string    `db:"title"`
	Price         float64   `db:"price"`
	MaxStudents   int       `db:"max_students"`
	HeldSeats     int       `db:"held_seats"`
	EnrolledCount int       `db:"enrolled_count"`
}

// SeatsTaken counts enrollments written by the catalog as taken even when
// no hold was recorded for them.
func (c *Course) SeatsTaken() int {
	return max(c.HeldSeats, c.EnrolledCount)
}

func (c *Course) SeatsLeft() int {
	if left := c.MaxStudents - c.SeatsTaken(); left > 0 {
		return left
	}
	return 0
}

type CourseEnrollment struct {
	BaseSimple
	BookingID uuid.UUID `db:"booking_id"`
	CourseID  uuid.UUID `db:"course_id"`
	StudentID uuid.UUID `db:"student_id"`
}
