package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type CourseRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Course, error)
	// Enroll records the student on the course. Enrolling the same booking
	// twice is a no-op that returns the existing enrollment.
	Enroll(ctx context.Context, bookingID, courseID, studentID uuid.UUID) (*entity.CourseEnrollment, error)
	Unenroll(ctx context.Context, bookingID uuid.UUID) error
}

type courseRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewCourseRepository(db database.PgxIface, log *zap.Logger) CourseRepository {
	return &courseRepository{
		db:  db,
		log: log.With(zap.String("repository", "course")),
	}
}

func (r *courseRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Course, error) {
	query := `
		SELECT id, mentor_id, title, price, max_students, held_seats, enrolled_count,
		       created_at, updated_at
		FROM courses
		WHERE id = $1
	`

	var course entity.Course
	err := r.db.QueryRow(ctx, query, id).Scan(
		&course.ID,
		&course.MentorID,
		&course.Title,
		&course.Price,
		&course.MaxStudents,
		&course.HeldSeats,
		&course.EnrolledCount,
		&course.CreatedAt,
		&course.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("course %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to find course by ID",
			zap.Error(err),
			zap.String("course_id", id.String()),
		)
		return nil, fmt.Errorf("find course by ID %s: %w", id, err)
	}

	return &course, nil
}

func (r *courseRepository) Enroll(ctx context.Context, bookingID, courseID, studentID uuid.UUID) (*entity.CourseEnrollment, error) {
	enrollment := &entity.CourseEnrollment{
		BaseSimple: entity.BaseSimple{
			ID:        uuid.New(),
			CreatedAt: time.Now().UTC(),
		},
		BookingID: bookingID,
		CourseID:  courseID,
		StudentID: studentID,
	}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO course_enrollments (id, booking_id, course_id, student_id, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (booking_id) DO NOTHING
		`, enrollment.ID, bookingID, courseID, studentID, enrollment.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert enrollment: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return tx.QueryRow(ctx, `
				SELECT id, created_at FROM course_enrollments WHERE booking_id = $1
			`, bookingID).Scan(&enrollment.ID, &enrollment.CreatedAt)
		}

		_, err = tx.Exec(ctx, `
			UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = NOW() WHERE id = $1
		`, courseID)
		if err != nil {
			return fmt.Errorf("bump enrolled count: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to enroll student",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("course_id", courseID.String()),
		)
		return nil, fmt.Errorf("enroll booking %s on course %s: %w", bookingID, courseID, err)
	}

	return enrollment, nil
}

func (r *courseRepository) Unenroll(ctx context.Context, bookingID uuid.UUID) error {
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		var courseID uuid.UUID
		err := tx.QueryRow(ctx, `
			DELETE FROM course_enrollments WHERE booking_id = $1 RETURNING course_id
		`, bookingID).Scan(&courseID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("delete enrollment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE courses SET enrolled_count = enrolled_count - 1, updated_at = NOW()
			WHERE id = $1 AND enrolled_count > 0
		`, courseID)
		if err != nil {
			return fmt.Errorf("drop enrolled count: %w", err)
		}
		return nil
	})
	if err != nil {
		r.log.Error("Failed to unenroll student",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return fmt.Errorf("unenroll booking %s: %w", bookingID, err)
	}
	return nil
}
