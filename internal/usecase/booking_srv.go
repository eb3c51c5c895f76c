package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/dto/request"
	"tutoring-booking/internal/dto/response"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutError reports a booking that was created (or is still pending)
// but could not be handed to the payment processor. The booking keeps its
// capacity hold so the client can retry checkout.
type CheckoutError struct {
	BookingID uuid.UUID
	Reference string
	Err       error
}

func (e *CheckoutError) Error() string {
	return fmt.Sprintf("checkout for booking %s: %v", e.Reference, e.Err)
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

type BookingService interface {
	// Student endpoints
	CreateBooking(ctx context.Context, actorID uuid.UUID, req *request.CreateBookingRequest) (*response.CheckoutResponse, error)
	RetryCheckout(ctx context.Context, actorID uuid.UUID, bookingID string) (*response.CheckoutResponse, error)
	GetBooking(ctx context.Context, actorID uuid.UUID, bookingID string) (*response.BookingResponse, error)

	// Admin endpoints
	GetBookingByID(ctx context.Context, bookingID string) (*response.BookingResponse, error)
	CancelBooking(ctx context.Context, bookingID string) (*response.SettlementResponse, error)
	RetryProvisioning(ctx context.Context, bookingID string) (*response.SettlementResponse, error)
	ListProvisioningFailed(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error)
	ListRefundRequired(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error)
}

type bookingService struct {
	repo           *repository.Repository
	settlement     SettlementService
	lessonDuration time.Duration
	now            func() time.Time
	log            *zap.Logger
}

func NewBookingService(repo *repository.Repository, settlement SettlementService, config *utils.Config, log *zap.Logger) BookingService {
	return &bookingService{
		repo:           repo,
		settlement:     settlement,
		lessonDuration: config.Settlement.LessonDuration,
		now:            time.Now,
		log:            log.With(zap.String("service", "booking")),
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, actorID uuid.UUID, req *request.CreateBookingRequest) (*response.CheckoutResponse, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		s.log.Warn("Create booking validation failed", zap.Any("errors", errs))
		return nil, fmt.Errorf("%w: %s", entity.ErrValidation, utils.FormatValidationErrors(errs))
	}

	kind, err := entity.ParseBookingKind(req.Kind)
	if err != nil {
		return nil, err
	}

	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid subject ID %s", entity.ErrValidation, req.SubjectID)
	}

	nb := entity.NewBooking{
		Kind:      kind,
		SubjectID: subjectID,
		ActorID:   actorID,
	}

	var description string
	switch kind {
	case entity.BookingKindLesson:
		slot := req.SlotStart.UTC().Truncate(time.Minute)
		if !slot.After(s.now()) {
			return nil, fmt.Errorf("%w: slot_start must be in the future", entity.ErrValidation)
		}

		mentor, err := s.repo.Mentor.FindByID(ctx, subjectID)
		if err != nil {
			return nil, err
		}

		nb.SlotStart = &slot
		nb.Topic = req.Topic
		nb.Amount = lessonPrice(mentor.HourlyRate, s.lessonDuration)
		description = "Lesson with " + mentor.DisplayName

	case entity.BookingKindCourseEnrollment:
		course, err := s.repo.Course.FindByID(ctx, subjectID)
		if err != nil {
			return nil, err
		}
		if course.SeatsLeft() == 0 {
			return nil, fmt.Errorf("course %s is full: %w", subjectID, entity.ErrCapacityExceeded)
		}

		nb.Amount = course.Price
		description = course.Title
	}

	booking, err := s.repo.Booking.CreatePending(ctx, nb)
	if err != nil {
		return nil, err
	}

	s.log.Info("Booking created",
		zap.String("booking_id", booking.ID.String()),
		zap.String("reference", booking.Reference),
		zap.String("kind", string(booking.Kind)),
		zap.String("actor_id", actorID.String()),
		zap.Float64("amount", booking.Amount),
	)

	return s.checkout(ctx, booking, description)
}

func (s *bookingService) checkout(ctx context.Context, booking *entity.Booking, description string) (*response.CheckoutResponse, error) {
	session, err := s.settlement.StartCheckout(ctx, booking, description)
	if errors.Is(err, entity.ErrGatewayUnavailable) {
		return nil, &CheckoutError{BookingID: booking.ID, Reference: booking.Reference, Err: err}
	}
	if err != nil {
		return nil, err
	}

	return &response.CheckoutResponse{
		Booking:     response.BookingToResponse(booking),
		RedirectURL: session.RedirectURL,
		SessionRef:  session.SessionRef,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

func (s *bookingService) RetryCheckout(ctx context.Context, actorID uuid.UUID, bookingID string) (*response.CheckoutResponse, error) {
	booking, err := s.ownedBooking(ctx, actorID, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.State != entity.BookingStatePending {
		return nil, fmt.Errorf("retry checkout for %s booking: %w", booking.State, entity.ErrInvalidTransition)
	}

	description, err := s.describe(ctx, booking)
	if err != nil {
		return nil, err
	}

	return s.checkout(ctx, booking, description)
}

func (s *bookingService) describe(ctx context.Context, booking *entity.Booking) (string, error) {
	switch booking.Kind {
	case entity.BookingKindLesson:
		mentor, err := s.repo.Mentor.FindByID(ctx, booking.SubjectID)
		if err != nil {
			return "", err
		}
		return "Lesson with " + mentor.DisplayName, nil
	default:
		course, err := s.repo.Course.FindByID(ctx, booking.SubjectID)
		if err != nil {
			return "", err
		}
		return course.Title, nil
	}
}

func (s *bookingService) GetBooking(ctx context.Context, actorID uuid.UUID, bookingID string) (*response.BookingResponse, error) {
	booking, err := s.ownedBooking(ctx, actorID, bookingID)
	if err != nil {
		return nil, err
	}

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

func (s *bookingService) ownedBooking(ctx context.Context, actorID uuid.UUID, bookingID string) (*entity.Booking, error) {
	id, err := parseBookingID(bookingID)
	if err != nil {
		return nil, err
	}

	booking, err := s.repo.Booking.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.ActorID != actorID {
		return nil, fmt.Errorf("booking %s belongs to another student: %w", id, entity.ErrForbidden)
	}
	return booking, nil
}

func (s *bookingService) GetBookingByID(ctx context.Context, bookingID string) (*response.BookingResponse, error) {
	id, err := parseBookingID(bookingID)
	if err != nil {
		return nil, err
	}

	booking, err := s.repo.Booking.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	resp := response.BookingToResponse(booking)
	return &resp, nil
}

func (s *bookingService) CancelBooking(ctx context.Context, bookingID string) (*response.SettlementResponse, error) {
	id, err := parseBookingID(bookingID)
	if err != nil {
		return nil, err
	}

	result, err := s.settlement.CancelBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	return response.SettlementToResponse(result), nil
}

func (s *bookingService) RetryProvisioning(ctx context.Context, bookingID string) (*response.SettlementResponse, error) {
	id, err := parseBookingID(bookingID)
	if err != nil {
		return nil, err
	}

	result, err := s.settlement.RetryProvisioning(ctx, id)
	if err != nil {
		return nil, err
	}
	return response.SettlementToResponse(result), nil
}

func (s *bookingService) ListProvisioningFailed(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	return s.page(ctx, req, s.repo.Booking.ListProvisioningFailed, s.repo.Booking.CountProvisioningFailed)
}

func (s *bookingService) ListRefundRequired(ctx context.Context, req *request.PaginatedRequest) (*response.PaginatedResponse[response.BookingResponse], error) {
	return s.page(ctx, req, s.repo.Booking.ListRefundRequired, s.repo.Booking.CountRefundRequired)
}

func (s *bookingService) page(
	ctx context.Context,
	req *request.PaginatedRequest,
	list func(ctx context.Context, limit, offset int) ([]*entity.Booking, error),
	count func(ctx context.Context) (int64, error),
) (*response.PaginatedResponse[response.BookingResponse], error) {
	limit := req.Limit()

	bookings, err := list(ctx, limit, req.Offset())
	if err != nil {
		return nil, err
	}

	total, err := count(ctx)
	if err != nil {
		return nil, err
	}

	data := make([]response.BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		data = append(data, response.BookingToResponse(b))
	}

	page := req.Page
	if page < 1 {
		page = 1
	}
	return response.NewPaginatedResponse(data, page, limit, total), nil
}

func parseBookingID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid booking ID %s", entity.ErrValidation, raw)
	}
	return id, nil
}

// lessonPrice rounds to cents so the stored amount matches what is charged.
func lessonPrice(hourlyRate float64, duration time.Duration) float64 {
	return math.Round(hourlyRate*duration.Hours()*100) / 100
}

// IsCheckoutError reports whether err carries a pending booking that is
// waiting for a checkout retry.
func IsCheckoutError(err error) (*CheckoutError, bool) {
	var checkoutErr *CheckoutError
	if errors.As(err, &checkoutErr) {
		return checkoutErr, true
	}
	return nil, false
}
