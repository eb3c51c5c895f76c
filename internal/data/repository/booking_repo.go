package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/pkg/database"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// BookingRepository is the booking store: the single source of truth for
// whether a booking happened and how much capacity it holds.
type BookingRepository interface {
	CreatePending(ctx context.Context, nb entity.NewBooking) (*entity.Booking, error)
	Get(ctx context.Context, id uuid.UUID) (*entity.Booking, error)

	// Transitions report whether this call changed the state. A false
	// result with a nil error means the booking was already there.
	Confirm(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error)
	Cancel(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error)
	CancelPending(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error)

	MarkProvisioned(ctx context.Context, id uuid.UUID, ref string) (*entity.Booking, error)
	MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) (*entity.Booking, error)

	// MarkRefundRequired flags a cancelled booking whose checkout session
	// was paid anyway, so an operator can refund it.
	MarkRefundRequired(ctx context.Context, id uuid.UUID, sessionRef string) (*entity.Booking, error)

	ListProvisioningFailed(ctx context.Context, limit, offset int) ([]*entity.Booking, error)
	CountProvisioningFailed(ctx context.Context) (int64, error)
	ListRefundRequired(ctx context.Context, limit, offset int) ([]*entity.Booking, error)
	CountRefundRequired(ctx context.Context) (int64, error)
	ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*entity.AbandonedBooking, error)
}

type bookingRepository struct {
	db  database.PgxIface
	log *zap.Logger
}

func NewBookingRepository(db database.PgxIface, log *zap.Logger) BookingRepository {
	return &bookingRepository{
		db:  db,
		log: log.With(zap.String("repository", "booking")),
	}
}

const bookingColumns = `id, reference, kind, subject_id, actor_id, slot_start, topic, amount, state,
	capacity_hold, provisioned_ref, provisioning_failed, provisioning_error,
	refund_required, refund_session_ref, created_at, updated_at, settled_at`

const bookingColumnsQualified = `b.id, b.reference, b.kind, b.subject_id, b.actor_id, b.slot_start, b.topic,
	b.amount, b.state, b.capacity_hold, b.provisioned_ref, b.provisioning_failed, b.provisioning_error,
	b.refund_required, b.refund_session_ref, b.created_at, b.updated_at, b.settled_at`

func bookingScanTargets(b *entity.Booking) []any {
	return []any{
		&b.ID,
		&b.Reference,
		&b.Kind,
		&b.SubjectID,
		&b.ActorID,
		&b.SlotStart,
		&b.Topic,
		&b.Amount,
		&b.State,
		&b.CapacityHold,
		&b.ProvisionedRef,
		&b.ProvisioningFailed,
		&b.ProvisioningError,
		&b.RefundRequired,
		&b.RefundSessionRef,
		&b.CreatedAt,
		&b.UpdatedAt,
		&b.SettledAt,
	}
}

func scanBooking(row pgx.Row) (*entity.Booking, error) {
	var booking entity.Booking
	if err := row.Scan(bookingScanTargets(&booking)...); err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *bookingRepository) CreatePending(ctx context.Context, nb entity.NewBooking) (*entity.Booking, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	booking := &entity.Booking{
		BaseNoDelete: entity.BaseNoDelete{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
		Reference:    utils.GenerateBookingReference(nb.Kind.ReferencePrefix(), now),
		Kind:         nb.Kind,
		SubjectID:    nb.SubjectID,
		ActorID:      nb.ActorID,
		SlotStart:    nb.SlotStart,
		Topic:        nb.Topic,
		Amount:       nb.Amount,
		State:        entity.BookingStatePending,
		CapacityHold: true,
	}

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		switch nb.Kind {
		case entity.BookingKindCourseEnrollment:
			if err := r.holdCourseSeat(ctx, tx, nb.SubjectID); err != nil {
				return err
			}
		case entity.BookingKindLesson:
			if err := r.holdLessonSlot(ctx, tx, nb.SubjectID, *nb.SlotStart); err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (`+bookingColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`, bookingScanValues(booking)...)
		if err != nil {
			return fmt.Errorf("insert booking %s: %w", booking.Reference, err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, entity.ErrCapacityExceeded) && !errors.Is(err, entity.ErrNotFound) {
			r.log.Error("Failed to create pending booking",
				zap.Error(err),
				zap.String("kind", string(nb.Kind)),
				zap.String("subject_id", nb.SubjectID.String()),
				zap.String("actor_id", nb.ActorID.String()),
			)
		}
		return nil, fmt.Errorf("create pending %s booking for %s: %w", nb.Kind, nb.SubjectID, err)
	}

	return booking, nil
}

func bookingScanValues(b *entity.Booking) []any {
	return []any{
		b.ID,
		b.Reference,
		b.Kind,
		b.SubjectID,
		b.ActorID,
		b.SlotStart,
		b.Topic,
		b.Amount,
		b.State,
		b.CapacityHold,
		b.ProvisionedRef,
		b.ProvisioningFailed,
		b.ProvisioningError,
		b.RefundRequired,
		b.RefundSessionRef,
		b.CreatedAt,
		b.UpdatedAt,
		b.SettledAt,
	}
}

// holdCourseSeat takes one seat with a conditional increment, so two
// concurrent enrollments can never both pass the max_students check.
// Enrollments the catalog recorded without a hold count as taken seats.
func (r *bookingRepository) holdCourseSeat(ctx context.Context, tx pgx.Tx, courseID uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE courses
		SET held_seats = GREATEST(held_seats, enrolled_count) + 1, updated_at = NOW()
		WHERE id = $1 AND GREATEST(held_seats, enrolled_count) < max_students
	`, courseID)
	if err != nil {
		return fmt.Errorf("hold seat on course %s: %w", courseID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM courses WHERE id = $1)`, courseID).Scan(&exists); err != nil {
		return fmt.Errorf("check course %s: %w", courseID, err)
	}
	if !exists {
		return fmt.Errorf("course %s: %w", courseID, entity.ErrNotFound)
	}
	return fmt.Errorf("course %s has no seats left: %w", courseID, entity.ErrCapacityExceeded)
}

// holdLessonSlot locks the mentor row so slot counting is serialized per mentor.
func (r *bookingRepository) holdLessonSlot(ctx context.Context, tx pgx.Tx, mentorID uuid.UUID, slotStart time.Time) error {
	var capacity int
	var active bool
	err := tx.QueryRow(ctx, `
		SELECT slot_capacity, is_active FROM mentors WHERE id = $1 FOR UPDATE
	`, mentorID).Scan(&capacity, &active)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("mentor %s: %w", mentorID, entity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock mentor %s: %w", mentorID, err)
	}
	if !active {
		return fmt.Errorf("mentor %s is not taking bookings: %w", mentorID, entity.ErrCapacityExceeded)
	}

	var held int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings
		WHERE kind = 'lesson' AND subject_id = $1 AND slot_start = $2 AND capacity_hold
	`, mentorID, slotStart).Scan(&held)
	if err != nil {
		return fmt.Errorf("count holds for mentor %s: %w", mentorID, err)
	}
	if held >= capacity {
		return fmt.Errorf("mentor %s slot %s is taken: %w", mentorID, slotStart.Format(time.RFC3339), entity.ErrCapacityExceeded)
	}
	return nil
}

func (r *bookingRepository) Get(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, entity.ErrNotFound)
	}
	if err != nil {
		r.log.Error("Failed to find booking by ID",
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("find booking by ID %s: %w", id, err)
	}
	return booking, nil
}

// transition locks the booking row and lets apply decide what to write.
func (r *bookingRepository) transition(
	ctx context.Context,
	id uuid.UUID,
	op string,
	apply func(tx pgx.Tx, b *entity.Booking, now time.Time) (bool, error),
) (*entity.Booking, bool, error) {
	var booking *entity.Booking
	var changed bool

	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		b, err := scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("booking %s: %w", id, entity.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("lock booking %s: %w", id, err)
		}

		changed, err = apply(tx, b, time.Now().UTC())
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	if err != nil {
		if !errors.Is(err, entity.ErrNotFound) && !errors.Is(err, entity.ErrInvalidTransition) {
			r.log.Error("Failed to "+op+" booking",
				zap.Error(err),
				zap.String("booking_id", id.String()),
			)
		}
		return nil, false, fmt.Errorf("%s booking %s: %w", op, id, err)
	}

	return booking, changed, nil
}

func (r *bookingRepository) Confirm(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return r.transition(ctx, id, "confirm", func(tx pgx.Tx, b *entity.Booking, now time.Time) (bool, error) {
		switch b.State {
		case entity.BookingStateConfirmed:
			return false, nil
		case entity.BookingStateCancelled:
			return false, fmt.Errorf("booking is cancelled: %w", entity.ErrInvalidTransition)
		}

		_, err := tx.Exec(ctx, `
			UPDATE bookings SET state = 'confirmed', settled_at = $2, updated_at = $2 WHERE id = $1
		`, b.ID, now)
		if err != nil {
			return false, fmt.Errorf("update booking state: %w", err)
		}

		b.State = entity.BookingStateConfirmed
		b.SettledAt = &now
		b.UpdatedAt = now
		return true, nil
	})
}

func (r *bookingRepository) Cancel(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return r.cancel(ctx, id, true)
}

func (r *bookingRepository) CancelPending(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return r.cancel(ctx, id, false)
}

func (r *bookingRepository) cancel(ctx context.Context, id uuid.UUID, allowConfirmed bool) (*entity.Booking, bool, error) {
	return r.transition(ctx, id, "cancel", func(tx pgx.Tx, b *entity.Booking, now time.Time) (bool, error) {
		switch b.State {
		case entity.BookingStateCancelled:
			return false, nil
		case entity.BookingStateConfirmed:
			if !allowConfirmed {
				return false, fmt.Errorf("booking is already confirmed: %w", entity.ErrInvalidTransition)
			}
		}

		_, err := tx.Exec(ctx, `
			UPDATE bookings
			SET state = 'cancelled', capacity_hold = FALSE, settled_at = $2, updated_at = $2
			WHERE id = $1
		`, b.ID, now)
		if err != nil {
			return false, fmt.Errorf("update booking state: %w", err)
		}

		// Lesson slots are freed by capacity_hold alone; course seats are counted.
		if b.Kind == entity.BookingKindCourseEnrollment {
			_, err = tx.Exec(ctx, `
				UPDATE courses SET held_seats = held_seats - 1, updated_at = NOW()
				WHERE id = $1 AND held_seats > 0
			`, b.SubjectID)
			if err != nil {
				return false, fmt.Errorf("release seat on course %s: %w", b.SubjectID, err)
			}
		}

		b.State = entity.BookingStateCancelled
		b.CapacityHold = false
		b.SettledAt = &now
		b.UpdatedAt = now
		return true, nil
	})
}

func (r *bookingRepository) MarkProvisioned(ctx context.Context, id uuid.UUID, ref string) (*entity.Booking, error) {
	return r.markFlag(ctx, id, "mark provisioned", entity.BookingStateConfirmed, `
		UPDATE bookings
		SET provisioned_ref = $2, provisioning_failed = FALSE, provisioning_error = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'confirmed'
		RETURNING `+bookingColumns, ref)
}

func (r *bookingRepository) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) (*entity.Booking, error) {
	return r.markFlag(ctx, id, "mark provisioning failed", entity.BookingStateConfirmed, `
		UPDATE bookings
		SET provisioning_failed = TRUE, provisioning_error = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'confirmed'
		RETURNING `+bookingColumns, reason)
}

func (r *bookingRepository) MarkRefundRequired(ctx context.Context, id uuid.UUID, sessionRef string) (*entity.Booking, error) {
	return r.markFlag(ctx, id, "mark refund required", entity.BookingStateCancelled, `
		UPDATE bookings
		SET refund_required = TRUE, refund_session_ref = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'cancelled'
		RETURNING `+bookingColumns, sessionRef)
}

// markFlag runs an update guarded by the booking state.
func (r *bookingRepository) markFlag(ctx context.Context, id uuid.UUID, op string, want entity.BookingState, query string, arg string) (*entity.Booking, error) {
	booking, err := scanBooking(r.db.QueryRow(ctx, query, id, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or in another state; Get tells which.
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, getErr)
		}
		return nil, fmt.Errorf("%s booking %s: not %s: %w", op, id, want, entity.ErrInvalidTransition)
	}
	if err != nil {
		r.log.Error("Failed to "+op,
			zap.Error(err),
			zap.String("booking_id", id.String()),
		)
		return nil, fmt.Errorf("%s booking %s: %w", op, id, err)
	}
	return booking, nil
}

const (
	provisioningFailedFilter = `provisioning_failed AND state = 'confirmed'`
	refundRequiredFilter     = `refund_required AND state = 'cancelled'`
)

func (r *bookingRepository) ListProvisioningFailed(ctx context.Context, limit, offset int) ([]*entity.Booking, error) {
	return r.listWhere(ctx, "provisioning-failed", provisioningFailedFilter, "settled_at", limit, offset)
}

func (r *bookingRepository) CountProvisioningFailed(ctx context.Context) (int64, error) {
	return r.countWhere(ctx, "provisioning-failed", provisioningFailedFilter)
}

func (r *bookingRepository) ListRefundRequired(ctx context.Context, limit, offset int) ([]*entity.Booking, error) {
	return r.listWhere(ctx, "refund-required", refundRequiredFilter, "updated_at", limit, offset)
}

func (r *bookingRepository) CountRefundRequired(ctx context.Context) (int64, error) {
	return r.countWhere(ctx, "refund-required", refundRequiredFilter)
}

// listWhere pages operator queues; filter and orderBy are package constants.
func (r *bookingRepository) listWhere(ctx context.Context, queue, filter, orderBy string, limit, offset int) ([]*entity.Booking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE `+filter+`
		ORDER BY `+orderBy+`
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		r.log.Error("Failed to list "+queue+" bookings",
			zap.Error(err),
			zap.Int("limit", limit),
			zap.Int("offset", offset),
		)
		return nil, fmt.Errorf("list %s bookings: %w", queue, err)
	}
	defer rows.Close()

	var bookings []*entity.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			r.log.Error("Failed to scan booking row", zap.Error(err))
			return nil, fmt.Errorf("scan booking row: %w", err)
		}
		bookings = append(bookings, booking)
	}

	return bookings, rows.Err()
}

func (r *bookingRepository) countWhere(ctx context.Context, queue, filter string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM bookings WHERE `+filter).Scan(&count)
	if err != nil {
		r.log.Error("Failed to count "+queue+" bookings", zap.Error(err))
		return 0, fmt.Errorf("count %s bookings: %w", queue, err)
	}
	return count, nil
}

// ListAbandoned returns pending bookings whose checkout started before cutoff.
// A booking that never got a pending reference ages from its own creation.
func (r *bookingRepository) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*entity.AbandonedBooking, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bookingColumnsQualified+`, pr.session_ref
		FROM bookings b
		LEFT JOIN pending_references pr ON pr.booking_id = b.id
		WHERE b.state = 'pending' AND COALESCE(pr.created_at, b.created_at) < $1
		ORDER BY b.created_at
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		r.log.Error("Failed to list abandoned bookings",
			zap.Error(err),
			zap.Time("cutoff", cutoff),
		)
		return nil, fmt.Errorf("list abandoned bookings: %w", err)
	}
	defer rows.Close()

	var abandoned []*entity.AbandonedBooking
	for rows.Next() {
		var item entity.AbandonedBooking
		targets := append(bookingScanTargets(&item.Booking), &item.SessionRef)
		if err := rows.Scan(targets...); err != nil {
			r.log.Error("Failed to scan abandoned booking row", zap.Error(err))
			return nil, fmt.Errorf("scan abandoned booking row: %w", err)
		}
		abandoned = append(abandoned, &item)
	}

	return abandoned, rows.Err()
}
