package repository

import (
	"context"
	"errors"
	"fmt"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/database"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type MentorRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Mentor, error)
}

type mentorRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewMentorRepository(db database.PgxIface, log *zap.Logger) MentorRepository {
	return &mentorRepository{
		db:  db,
		log: log.With(zap.String("repository", "mentor")),
	}
}

func (r *mentorRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Mentor, error) {
	query := `
		SELECT id, display_name, hourly_rate, slot_capacity, is_active, created_at, updated_at
		FROM mentors
		WHERE id = $1
	`

	var mentor entity.Mentor
	err := r.db.QueryRow(ctx, query, id).Scan(
		&mentor.ID,
		&mentor.DisplayName,
		&mentor.HourlyRate,
		&mentor.SlotCapacity,
		&mentor.IsActive,
		&mentor.CreatedAt,
		&mentor.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mentor %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to find mentor by ID",
			zap.Error(err),
			zap.String("mentor_id", id.String()),
		)
		return nil, fmt.Errorf("find mentor by ID %s: %w", id, err)
	}

	return &mentor, nil
}
