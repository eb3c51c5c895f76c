package repository

import (
	"time"

	"tutoring-booking/pkg/database"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Repository struct {
	Session          SessionRepository
	Mentor           MentorRepository
	Course           CourseRepository
	Booking          BookingRepository
	PendingReference PendingReferenceRepository
}

// NewRepository wires the postgres repositories. When cache is non-nil the
// pending reference tracker is mirrored into it.
func NewRepository(db database.PgxIface, cache *redis.Client, cacheTTL time.Duration, log *zap.Logger) *Repository {
	var pending PendingReferenceRepository = NewPendingReferenceRepository(db, log)
	if cache != nil {
		pending = NewCachedPendingReferenceRepository(pending, cache, cacheTTL, log)
	}

	return &Repository{
		Session:          NewSessionRepository(db, log),
		Mentor:           NewMentorRepository(db, log),
		Course:           NewCourseRepository(db, log),
		Booking:          NewBookingRepository(db, log),
		PendingReference: pending,
	}
}
