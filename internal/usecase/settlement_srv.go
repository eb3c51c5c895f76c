package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/gateway"
	"tutoring-booking/internal/provisioning"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExpiryScheduler arranges for ExpireBooking to run once a checkout session
// has been open for the abandonment window.
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, bookingID uuid.UUID, sessionRef string, at time.Time) error
}

// SettlementService reconciles bookings with what happened at the payment
// processor. Every operation is safe to repeat and safe to run concurrently
// with any other; the booking row lock decides the winner.
type SettlementService interface {
	StartCheckout(ctx context.Context, booking *entity.Booking, description string) (*gateway.CheckoutSession, error)
	OnSuccessReturn(ctx context.Context, sessionRef string) (*entity.SettlementResult, error)
	OnCancelReturn(ctx context.Context, sessionRef string) (*entity.SettlementResult, error)
	ExpireBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (*entity.SettlementResult, error)
	SweepAbandoned(ctx context.Context, now time.Time) (*entity.SweepReport, error)
	RetryProvisioning(ctx context.Context, bookingID uuid.UUID) (*entity.SettlementResult, error)
	CancelBooking(ctx context.Context, bookingID uuid.UUID) (*entity.SettlementResult, error)
}

type settlementService struct {
	bookings   repository.BookingRepository
	pending    repository.PendingReferenceRepository
	gateway    gateway.CheckoutGateway
	connectors *provisioning.Registry
	scheduler  ExpiryScheduler
	cfg        utils.SettlementConfig
	baseURL    string
	now        func() time.Time
	log        *zap.Logger
}

// NewSettlementService wires the coordinator. scheduler may be nil, in which
// case abandoned checkouts are only picked up by the periodic sweep.
func NewSettlementService(
	repo *repository.Repository,
	gw gateway.CheckoutGateway,
	connectors *provisioning.Registry,
	scheduler ExpiryScheduler,
	config *utils.Config,
	log *zap.Logger,
) SettlementService {
	return &settlementService{
		bookings:   repo.Booking,
		pending:    repo.PendingReference,
		gateway:    gw,
		connectors: connectors,
		scheduler:  scheduler,
		cfg:        config.Settlement,
		baseURL:    strings.TrimSuffix(config.App.PublicBaseURL, "/"),
		now:        time.Now,
		log:        log.With(zap.String("service", "settlement")),
	}
}

func (s *settlementService) returnURL(leg string) string {
	return s.baseURL + "/settlement/" + leg + "?sessionRef=" + gateway.SessionRefPlaceholder
}

func (s *settlementService) StartCheckout(ctx context.Context, booking *entity.Booking, description string) (*gateway.CheckoutSession, error) {
	if booking.State != entity.BookingStatePending {
		return nil, fmt.Errorf("start checkout for %s booking %s: %w", booking.State, booking.ID, entity.ErrInvalidTransition)
	}

	if err := s.closePreviousSession(ctx, booking); err != nil {
		return nil, err
	}

	expiresAt := s.now().Add(s.cfg.AbandonmentWindow)
	session, err := s.gateway.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Reference:   booking.Reference,
		Amount:      booking.Amount,
		Description: description,
		SuccessURL:  s.returnURL("success"),
		CancelURL:   s.returnURL("cancel"),
		ExpiresAt:   expiresAt,
	})
	if err != nil {
		s.log.Warn("Checkout session could not be created, booking stays pending",
			zap.Error(err),
			zap.String("booking_id", booking.ID.String()),
		)
		return nil, err
	}

	if _, err := s.pending.Record(ctx, booking.ID, session.SessionRef); err != nil {
		// An untracked session could be paid and never settled, so close it.
		if expErr := s.gateway.ExpireCheckoutSession(ctx, session.SessionRef); expErr != nil {
			s.log.Error("Failed to expire untracked checkout session",
				zap.Error(expErr),
				zap.String("session_ref", session.SessionRef),
			)
		}
		return nil, fmt.Errorf("%w: track checkout session for booking %s: %v", entity.ErrGatewayUnavailable, booking.ID, err)
	}

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleExpiry(ctx, booking.ID, session.SessionRef, expiresAt); err != nil {
			s.log.Warn("Failed to schedule checkout expiry, relying on sweep",
				zap.Error(err),
				zap.String("booking_id", booking.ID.String()),
			)
		}
	}

	s.log.Info("Checkout started",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
		zap.String("session_ref", session.SessionRef),
	)
	return session, nil
}

// closePreviousSession expires the session a retried checkout replaces. A
// replaced session that was already paid settles the booking instead.
func (s *settlementService) closePreviousSession(ctx context.Context, booking *entity.Booking) error {
	prev, err := s.pending.ResolveByBooking(ctx, booking.ID)
	if errors.Is(err, entity.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve checkout session for booking %s: %w", booking.ID, err)
	}

	err = s.gateway.ExpireCheckoutSession(ctx, prev.SessionRef)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrSessionCompleted):
		s.log.Info("Previous checkout session was paid, settling instead of restarting",
			zap.String("booking_id", booking.ID.String()),
			zap.String("session_ref", prev.SessionRef),
		)
		result, settleErr := s.settleSuccess(ctx, booking.ID, prev.SessionRef)
		if settleErr != nil {
			return settleErr
		}
		return fmt.Errorf("booking %s is %s: payment already completed: %w",
			booking.Reference, result.Booking.State, entity.ErrInvalidTransition)
	default:
		s.log.Warn("Could not close previous checkout session, refusing to open another",
			zap.Error(err),
			zap.String("booking_id", booking.ID.String()),
			zap.String("session_ref", prev.SessionRef),
		)
		return fmt.Errorf("%w: close previous checkout session for booking %s: %v",
			entity.ErrGatewayUnavailable, booking.ID, err)
	}
}

func (s *settlementService) OnSuccessReturn(ctx context.Context, sessionRef string) (*entity.SettlementResult, error) {
	ref, err := s.pending.ResolveBySession(ctx, sessionRef)
	if errors.Is(err, entity.ErrNotFound) {
		s.log.Info("Success return for unknown session", zap.String("session_ref", sessionRef))
		return staleResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", sessionRef, err)
	}

	return s.settleSuccess(ctx, ref.BookingID, sessionRef)
}

func (s *settlementService) OnCancelReturn(ctx context.Context, sessionRef string) (*entity.SettlementResult, error) {
	ref, err := s.pending.ResolveBySession(ctx, sessionRef)
	if errors.Is(err, entity.ErrNotFound) {
		s.log.Info("Cancel return for unknown session", zap.String("session_ref", sessionRef))
		return staleResult(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session %s: %w", sessionRef, err)
	}

	// Close the session first so it cannot be paid after we release the hold.
	// While it stays open the booking stays pending for the sweep to retry.
	err = s.gateway.ExpireCheckoutSession(ctx, sessionRef)
	switch {
	case errors.Is(err, gateway.ErrSessionCompleted):
		return s.settleSuccess(ctx, ref.BookingID, sessionRef)
	case err != nil:
		s.log.Warn("Could not expire session on cancel return, booking stays pending",
			zap.Error(err),
			zap.String("session_ref", sessionRef),
		)
		return nil, fmt.Errorf("%w: close checkout session %s: %v", entity.ErrGatewayUnavailable, sessionRef, err)
	}

	return s.cancelPending(ctx, ref.BookingID)
}

// settleSuccess confirms the booking and provisions it if this call made
// the transition. Losers of a race get already_settled. A payment that lands
// on a cancelled booking flags it for a refund.
func (s *settlementService) settleSuccess(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.SettlementResult, error) {
	booking, transitioned, err := s.bookings.Confirm(ctx, bookingID)
	if errors.Is(err, entity.ErrInvalidTransition) {
		s.clearReference(ctx, bookingID)
		return s.flagRefund(ctx, bookingID, sessionRef)
	}
	if err != nil {
		return nil, err
	}

	s.clearReference(ctx, bookingID)

	if !transitioned {
		return &entity.SettlementResult{
			Outcome: entity.OutcomeAlreadySettled,
			Booking: booking,
			Message: "booking is already confirmed",
		}, nil
	}

	s.log.Info("Booking confirmed",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
	)
	return s.provision(ctx, booking), nil
}

// provision never fails the settlement: a confirmed booking stays confirmed
// and is flagged for an operator when the connector cannot deliver.
func (s *settlementService) provision(ctx context.Context, booking *entity.Booking) *entity.SettlementResult {
	ref, err := s.runConnector(ctx, booking)
	if err == nil {
		updated, markErr := s.bookings.MarkProvisioned(ctx, booking.ID, ref)
		if markErr == nil {
			return &entity.SettlementResult{Outcome: entity.OutcomeConfirmed, Booking: updated}
		}
		err = fmt.Errorf("record provisioned ref %q: %w", ref, markErr)
	}

	s.log.Error("Provisioning failed for confirmed booking",
		zap.Error(err),
		zap.String("booking_id", booking.ID.String()),
		zap.String("kind", string(booking.Kind)),
	)

	updated, markErr := s.bookings.MarkProvisioningFailed(ctx, booking.ID, err.Error())
	if markErr != nil {
		s.log.Error("Failed to flag booking for provisioning retry",
			zap.Error(markErr),
			zap.String("booking_id", booking.ID.String()),
		)
		updated = booking
	}

	return &entity.SettlementResult{
		Outcome: entity.OutcomeConfirmedProvisioningPending,
		Booking: updated,
		Message: "payment received; access will be set up shortly",
	}
}

func (s *settlementService) flagRefund(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.SettlementResult, error) {
	flagged, err := s.bookings.MarkRefundRequired(ctx, bookingID, sessionRef)
	if err != nil {
		return nil, fmt.Errorf("flag refund for booking %s: %w", bookingID, err)
	}

	s.log.Error("Payment captured for a cancelled booking, refund required",
		zap.String("booking_id", bookingID.String()),
		zap.String("reference", flagged.Reference),
		zap.String("session_ref", sessionRef),
	)
	return &entity.SettlementResult{
		Outcome: entity.OutcomeRefundRequired,
		Booking: flagged,
		Message: "booking was cancelled before the payment completed; it will be refunded",
	}, nil
}

func (s *settlementService) runConnector(ctx context.Context, booking *entity.Booking) (string, error) {
	connector, err := s.connectors.For(booking.Kind)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProvisionTimeout)
	defer cancel()

	return connector.Provision(ctx, booking)
}

func (s *settlementService) cancelPending(ctx context.Context, bookingID uuid.UUID) (*entity.SettlementResult, error) {
	booking, transitioned, err := s.bookings.CancelPending(ctx, bookingID)
	if errors.Is(err, entity.ErrInvalidTransition) {
		// Confirmed by a racing success leg; that leg owns the reference.
		current, getErr := s.bookings.Get(ctx, bookingID)
		if getErr != nil {
			return nil, getErr
		}
		return &entity.SettlementResult{
			Outcome: entity.OutcomeAlreadySettled,
			Booking: current,
			Message: "booking is already confirmed",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.clearReference(ctx, bookingID)

	if !transitioned {
		return &entity.SettlementResult{
			Outcome: entity.OutcomeAlreadySettled,
			Booking: booking,
			Message: "booking is already cancelled",
		}, nil
	}

	s.log.Info("Booking cancelled, capacity released",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
	)
	return &entity.SettlementResult{Outcome: entity.OutcomeCancelled, Booking: booking}, nil
}

func (s *settlementService) clearReference(ctx context.Context, bookingID uuid.UUID) {
	if err := s.pending.Clear(ctx, bookingID); err != nil {
		s.log.Warn("Failed to clear pending reference",
			zap.Error(err),
			zap.String("booking_id", bookingID.String()),
		)
	}
}

// ExpireBooking releases a single booking whose checkout has outlived the
// abandonment window. A booking whose checkout was restarted since the
// expiry was scheduled is left alone.
func (s *settlementService) ExpireBooking(ctx context.Context, bookingID uuid.UUID, now time.Time) (*entity.SettlementResult, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if errors.Is(err, entity.ErrNotFound) {
		return &entity.SettlementResult{Outcome: entity.OutcomeSkipped, Message: "booking no longer exists"}, nil
	}
	if err != nil {
		return nil, err
	}
	if booking.State != entity.BookingStatePending {
		return &entity.SettlementResult{Outcome: entity.OutcomeAlreadySettled, Booking: booking}, nil
	}

	var sessionRef *string
	startedAt := booking.CreatedAt
	ref, err := s.pending.ResolveByBooking(ctx, bookingID)
	switch {
	case err == nil:
		sessionRef = &ref.SessionRef
		startedAt = ref.CreatedAt
	case !errors.Is(err, entity.ErrNotFound):
		return nil, err
	}

	if startedAt.After(now.Add(-s.cfg.AbandonmentWindow)) {
		return &entity.SettlementResult{
			Outcome: entity.OutcomeSkipped,
			Booking: booking,
			Message: "checkout is still within its window",
		}, nil
	}

	return s.expire(ctx, booking, sessionRef)
}

func (s *settlementService) expire(ctx context.Context, booking *entity.Booking, sessionRef *string) (*entity.SettlementResult, error) {
	if sessionRef != nil {
		err := s.gateway.ExpireCheckoutSession(ctx, *sessionRef)
		switch {
		case errors.Is(err, gateway.ErrSessionCompleted):
			s.log.Info("Abandoned checkout turned out to be paid",
				zap.String("booking_id", booking.ID.String()),
				zap.String("session_ref", *sessionRef),
			)
			return s.settleSuccess(ctx, booking.ID, *sessionRef)
		case err != nil:
			s.log.Warn("Could not expire checkout session, will retry",
				zap.Error(err),
				zap.String("booking_id", booking.ID.String()),
			)
			return &entity.SettlementResult{
				Outcome: entity.OutcomeSkipped,
				Booking: booking,
				Message: "payment processor unavailable",
			}, nil
		}
	}

	return s.cancelPending(ctx, booking.ID)
}

func (s *settlementService) SweepAbandoned(ctx context.Context, now time.Time) (*entity.SweepReport, error) {
	cutoff := now.Add(-s.cfg.AbandonmentWindow)

	abandoned, err := s.bookings.ListAbandoned(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("sweep abandoned bookings: %w", err)
	}

	report := &entity.SweepReport{}
	for _, item := range abandoned {
		if ctx.Err() != nil {
			break
		}
		report.Examined++

		result, err := s.expire(ctx, &item.Booking, item.SessionRef)
		if err != nil {
			report.Failed++
			s.log.Error("Failed to expire abandoned booking",
				zap.Error(err),
				zap.String("booking_id", item.ID.String()),
			)
			continue
		}

		switch result.Outcome {
		case entity.OutcomeCancelled:
			report.Cancelled++
		case entity.OutcomeConfirmed, entity.OutcomeConfirmedProvisioningPending:
			report.Confirmed++
		case entity.OutcomeRefundRequired:
			report.Refunds++
		default:
			report.Skipped++
		}
	}

	if report.Examined > 0 {
		s.log.Info("Sweep finished",
			zap.Int("examined", report.Examined),
			zap.Int("cancelled", report.Cancelled),
			zap.Int("confirmed", report.Confirmed),
			zap.Int("skipped", report.Skipped),
			zap.Int("refunds", report.Refunds),
			zap.Int("failed", report.Failed),
		)
	}
	return report, nil
}

func (s *settlementService) RetryProvisioning(ctx context.Context, bookingID uuid.UUID) (*entity.SettlementResult, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.State != entity.BookingStateConfirmed {
		return nil, fmt.Errorf("provision %s booking %s: %w", booking.State, bookingID, entity.ErrInvalidTransition)
	}
	if booking.ProvisionedRef != nil {
		return &entity.SettlementResult{
			Outcome: entity.OutcomeAlreadySettled,
			Booking: booking,
			Message: "booking is already provisioned",
		}, nil
	}

	return s.provision(ctx, booking), nil
}

// CancelBooking is the operator cancel. A pending booking is expired like an
// abandoned one; if that reveals a payment, or the booking was already
// confirmed, the artifact is released before the booking is cancelled.
func (s *settlementService) CancelBooking(ctx context.Context, bookingID uuid.UUID) (*entity.SettlementResult, error) {
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.State {
	case entity.BookingStateCancelled:
		return &entity.SettlementResult{
			Outcome: entity.OutcomeAlreadySettled,
			Booking: booking,
			Message: "booking is already cancelled",
		}, nil

	case entity.BookingStatePending:
		var sessionRef *string
		ref, err := s.pending.ResolveByBooking(ctx, bookingID)
		switch {
		case err == nil:
			sessionRef = &ref.SessionRef
		case !errors.Is(err, entity.ErrNotFound):
			return nil, err
		}

		result, err := s.expire(ctx, booking, sessionRef)
		if err != nil {
			return nil, err
		}
		if result.Outcome == entity.OutcomeSkipped {
			return nil, fmt.Errorf("%w: could not close checkout for booking %s", entity.ErrGatewayUnavailable, bookingID)
		}
		if result.Booking.State != entity.BookingStateConfirmed {
			return result, nil
		}
		booking = result.Booking
	}

	if booking.ProvisionedRef != nil {
		if err := s.releaseArtifact(ctx, booking); err != nil {
			s.log.Error("Failed to release provisioned artifact, cancelling anyway",
				zap.Error(err),
				zap.String("booking_id", booking.ID.String()),
				zap.String("provisioned_ref", *booking.ProvisionedRef),
			)
		}
	}

	cancelled, transitioned, err := s.bookings.Cancel(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	s.clearReference(ctx, bookingID)

	if !transitioned {
		return &entity.SettlementResult{Outcome: entity.OutcomeAlreadySettled, Booking: cancelled}, nil
	}

	s.log.Info("Booking cancelled by operator",
		zap.String("booking_id", bookingID.String()),
		zap.String("reference", cancelled.Reference),
	)
	return &entity.SettlementResult{Outcome: entity.OutcomeCancelled, Booking: cancelled}, nil
}

func (s *settlementService) releaseArtifact(ctx context.Context, booking *entity.Booking) error {
	connector, err := s.connectors.For(booking.Kind)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ProvisionTimeout)
	defer cancel()

	return connector.Release(ctx, booking)
}

func staleResult() *entity.SettlementResult {
	return &entity.SettlementResult{
		Outcome: entity.OutcomeStaleOrUnknownSession,
		Message: entity.ErrStaleOrUnknownSession.Error(),
	}
}
