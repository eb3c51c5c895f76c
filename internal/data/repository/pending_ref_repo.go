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

// PendingReferenceRepository tracks which checkout session belongs to which
// pending booking. A booking has at most one reference; recording again
// replaces the previous one.
type PendingReferenceRepository interface {
	Record(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.PendingReference, error)
	ResolveBySession(ctx context.Context, sessionRef string) (*entity.PendingReference, error)
	ResolveByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.PendingReference, error)
	Clear(ctx context.Context, bookingID uuid.UUID) error
}

type pendingReferenceRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewPendingReferenceRepository(db database.PgxIface, log *zap.Logger) PendingReferenceRepository {
	return &pendingReferenceRepository{
		db:  db,
		log: log.With(zap.String("repository", "pending_reference")),
	}
}

func (r *pendingReferenceRepository) Record(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.PendingReference, error) {
	ref := &entity.PendingReference{
		BookingID:  bookingID,
		SessionRef: sessionRef,
		CreatedAt:  time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO pending_references (booking_id, session_ref, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (booking_id)
		DO UPDATE SET session_ref = EXCLUDED.session_ref, created_at = EXCLUDED.created_at
	`, ref.BookingID, ref.SessionRef, ref.CreatedAt)
	if err != nil {
		r.log.Error("Failed to record pending reference",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
			zap.String("session_ref", sessionRef),
		)
		return nil, fmt.Errorf("record pending reference for booking %s: %w", bookingID, err)
	}

	return ref, nil
}

func (r *pendingReferenceRepository) ResolveBySession(ctx context.Context, sessionRef string) (*entity.PendingReference, error) {
	return r.resolve(ctx, "session_ref", sessionRef)
}

func (r *pendingReferenceRepository) ResolveByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.PendingReference, error) {
	return r.resolve(ctx, "booking_id", bookingID)
}

func (r *pendingReferenceRepository) resolve(ctx context.Context, column string, value any) (*entity.PendingReference, error) {
	var ref entity.PendingReference
	err := r.db.QueryRow(ctx, `
		SELECT booking_id, session_ref, created_at FROM pending_references WHERE `+column+` = $1
	`, value).Scan(&ref.BookingID, &ref.SessionRef, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("pending reference %v: %w", value, entity.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to resolve pending reference",
			zap.Error(err),
			zap.String("by", column),
			zap.Any("value", value),
		)
		return nil, fmt.Errorf("resolve pending reference by %s: %w", column, err)
	}
	return &ref, nil
}

// Clear is idempotent: clearing a booking without a reference succeeds.
func (r *pendingReferenceRepository) Clear(ctx context.Context, bookingID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM pending_references WHERE booking_id = $1`, bookingID)
	if err != nil {
		r.log.Error("Failed to clear pending reference",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
		return fmt.Errorf("clear pending reference for booking %s: %w", bookingID, err)
	}
	return nil
}
