package provisioning

import (
	"context"
	"fmt"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"

	"go.uber.org/zap"
)

// EnrollmentConnector turns a confirmed course booking into an enrollment row.
type EnrollmentConnector struct {
	courses repository.CourseRepository
	log     *zap.Logger
}

func NewEnrollmentConnector(courses repository.CourseRepository, log *zap.Logger) *EnrollmentConnector {
	return &EnrollmentConnector{
		courses: courses,
		log:     log.With(zap.String("connector", "enrollment")),
	}
}

func (c *EnrollmentConnector) Provision(ctx context.Context, booking *entity.Booking) (string, error) {
	enrollment, err := c.courses.Enroll(ctx, booking.ID, booking.SubjectID, booking.ActorID)
	if err != nil {
		return "", fmt.Errorf("%w: enroll booking %s: %v", entity.ErrProvisioningFailed, booking.Reference, err)
	}

	c.log.Info("Student enrolled",
		zap.String("booking_id", booking.ID.String()),
		zap.String("course_id", booking.SubjectID.String()),
		zap.String("enrollment_id", enrollment.ID.String()),
	)
	return enrollment.ID.String(), nil
}

func (c *EnrollmentConnector) Release(ctx context.Context, booking *entity.Booking) error {
	if err := c.courses.Unenroll(ctx, booking.ID); err != nil {
		return fmt.Errorf("unenroll booking %s: %w", booking.Reference, err)
	}
	return nil
}
