package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/gateway"
	"tutoring-booking/internal/provisioning"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
)

// memStore is an in-memory stand-in for the postgres tables. A single mutex
// plays the role of the row locks.
type memStore struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*entity.Booking
	courses   map[uuid.UUID]*entity.Course
	mentors   map[uuid.UUID]*entity.Mentor
	refs      map[uuid.UUID]*entity.PendingReference
	recordErr error
	clock     time.Time
}

func newMemStore() *memStore {
	return &memStore{
		bookings: map[uuid.UUID]*entity.Booking{},
		courses:  map[uuid.UUID]*entity.Course{},
		mentors:  map[uuid.UUID]*entity.Mentor{},
		refs:     map[uuid.UUID]*entity.PendingReference{},
		clock:    time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}
}

func (m *memStore) repository() *repository.Repository {
	return &repository.Repository{
		Mentor:           fakeMentors{m},
		Course:           fakeCourses{m},
		Booking:          fakeBookings{m},
		PendingReference: fakeRefs{m},
	}
}

func (m *memStore) addCourse(maxStudents int, price float64) *entity.Course {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := &entity.Course{
		BaseNoDelete: entity.BaseNoDelete{ID: uuid.New()},
		MentorID:     uuid.New(),
		Title:        "Intro to Go",
		Price:        price,
		MaxStudents:  maxStudents,
	}
	m.courses[c.ID] = c
	return c
}

func (m *memStore) addMentor(slotCapacity int, rate float64) *entity.Mentor {
	m.mu.Lock()
	defer m.mu.Unlock()

	mentor := &entity.Mentor{
		BaseNoDelete: entity.BaseNoDelete{ID: uuid.New()},
		DisplayName:  "Ada",
		HourlyRate:   rate,
		SlotCapacity: slotCapacity,
		IsActive:     true,
	}
	m.mentors[mentor.ID] = mentor
	return mentor
}

func (m *memStore) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = m.clock.Add(d)
}

func (m *memStore) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}

func (m *memStore) booking(id uuid.UUID) entity.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memStore) heldSeats(courseID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.courses[courseID].HeldSeats
}

func (m *memStore) hasReference(bookingID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.refs[bookingID]
	return ok
}

func clone(b *entity.Booking) *entity.Booking {
	c := *b
	return &c
}

type fakeBookings struct{ m *memStore }

func (f fakeBookings) CreatePending(ctx context.Context, nb entity.NewBooking) (*entity.Booking, error) {
	if err := nb.Validate(); err != nil {
		return nil, err
	}

	m := f.m
	m.mu.Lock()
	defer m.mu.Unlock()

	switch nb.Kind {
	case entity.BookingKindCourseEnrollment:
		c, ok := m.courses[nb.SubjectID]
		if !ok {
			return nil, entity.ErrNotFound
		}
		if c.SeatsTaken() >= c.MaxStudents {
			return nil, entity.ErrCapacityExceeded
		}
		c.HeldSeats = c.SeatsTaken() + 1
	case entity.BookingKindLesson:
		mentor, ok := m.mentors[nb.SubjectID]
		if !ok {
			return nil, entity.ErrNotFound
		}
		held := 0
		for _, b := range m.bookings {
			if b.Kind == entity.BookingKindLesson && b.SubjectID == nb.SubjectID &&
				b.CapacityHold && b.SlotStart.Equal(*nb.SlotStart) {
				held++
			}
		}
		if held >= mentor.SlotCapacity {
			return nil, entity.ErrCapacityExceeded
		}
	}

	b := &entity.Booking{
		BaseNoDelete: entity.BaseNoDelete{ID: uuid.New(), CreatedAt: m.clock, UpdatedAt: m.clock},
		Reference:    utils.GenerateBookingReference(nb.Kind.ReferencePrefix(), m.clock),
		Kind:         nb.Kind,
		SubjectID:    nb.SubjectID,
		ActorID:      nb.ActorID,
		SlotStart:    nb.SlotStart,
		Topic:        nb.Topic,
		Amount:       nb.Amount,
		State:        entity.BookingStatePending,
		CapacityHold: true,
	}
	m.bookings[b.ID] = b
	return clone(b), nil
}

func (f fakeBookings) Get(ctx context.Context, id uuid.UUID) (*entity.Booking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, entity.ErrNotFound)
	}
	return clone(b), nil
}

func (f fakeBookings) Confirm(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, false, entity.ErrNotFound
	}
	switch b.State {
	case entity.BookingStateConfirmed:
		return clone(b), false, nil
	case entity.BookingStateCancelled:
		return nil, false, entity.ErrInvalidTransition
	}
	now := f.m.clock
	b.State = entity.BookingStateConfirmed
	b.SettledAt = &now
	return clone(b), true, nil
}

func (f fakeBookings) Cancel(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return f.cancel(id, true)
}

func (f fakeBookings) CancelPending(ctx context.Context, id uuid.UUID) (*entity.Booking, bool, error) {
	return f.cancel(id, false)
}

func (f fakeBookings) cancel(id uuid.UUID, allowConfirmed bool) (*entity.Booking, bool, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, false, entity.ErrNotFound
	}
	switch b.State {
	case entity.BookingStateCancelled:
		return clone(b), false, nil
	case entity.BookingStateConfirmed:
		if !allowConfirmed {
			return nil, false, entity.ErrInvalidTransition
		}
	}

	now := f.m.clock
	b.State = entity.BookingStateCancelled
	b.CapacityHold = false
	b.SettledAt = &now
	if b.Kind == entity.BookingKindCourseEnrollment {
		f.m.courses[b.SubjectID].HeldSeats--
	}
	return clone(b), true, nil
}

func (f fakeBookings) MarkProvisioned(ctx context.Context, id uuid.UUID, ref string) (*entity.Booking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if b.State != entity.BookingStateConfirmed {
		return nil, entity.ErrInvalidTransition
	}
	b.ProvisionedRef = &ref
	b.ProvisioningFailed = false
	b.ProvisioningError = nil
	return clone(b), nil
}

func (f fakeBookings) MarkProvisioningFailed(ctx context.Context, id uuid.UUID, reason string) (*entity.Booking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if b.State != entity.BookingStateConfirmed {
		return nil, entity.ErrInvalidTransition
	}
	b.ProvisioningFailed = true
	b.ProvisioningError = &reason
	return clone(b), nil
}

func (f fakeBookings) MarkRefundRequired(ctx context.Context, id uuid.UUID, sessionRef string) (*entity.Booking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	b, ok := f.m.bookings[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	if b.State != entity.BookingStateCancelled {
		return nil, entity.ErrInvalidTransition
	}
	b.RefundRequired = true
	b.RefundSessionRef = &sessionRef
	return clone(b), nil
}

func (f fakeBookings) ListProvisioningFailed(ctx context.Context, limit, offset int) ([]*entity.Booking, error) {
	return f.listWhere(limit, offset, func(b *entity.Booking) bool {
		return b.ProvisioningFailed && b.State == entity.BookingStateConfirmed
	})
}

func (f fakeBookings) ListRefundRequired(ctx context.Context, limit, offset int) ([]*entity.Booking, error) {
	return f.listWhere(limit, offset, func(b *entity.Booking) bool {
		return b.RefundRequired && b.State == entity.BookingStateCancelled
	})
}

func (f fakeBookings) CountRefundRequired(ctx context.Context) (int64, error) {
	list, _ := f.ListRefundRequired(ctx, 1<<30, 0)
	return int64(len(list)), nil
}

func (f fakeBookings) listWhere(limit, offset int, match func(b *entity.Booking) bool) ([]*entity.Booking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	var out []*entity.Booking
	for _, b := range f.m.bookings {
		if match(b) {
			out = append(out, clone(b))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeBookings) CountProvisioningFailed(ctx context.Context) (int64, error) {
	list, _ := f.ListProvisioningFailed(ctx, 1<<30, 0)
	return int64(len(list)), nil
}

func (f fakeBookings) ListAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]*entity.AbandonedBooking, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	var out []*entity.AbandonedBooking
	for _, b := range f.m.bookings {
		if b.State != entity.BookingStatePending {
			continue
		}
		started := b.CreatedAt
		var sessionRef *string
		if ref, ok := f.m.refs[b.ID]; ok {
			started = ref.CreatedAt
			s := ref.SessionRef
			sessionRef = &s
		}
		if started.Before(cutoff) && len(out) < limit {
			out = append(out, &entity.AbandonedBooking{Booking: *clone(b), SessionRef: sessionRef})
		}
	}
	return out, nil
}

type fakeRefs struct{ m *memStore }

func (f fakeRefs) Record(ctx context.Context, bookingID uuid.UUID, sessionRef string) (*entity.PendingReference, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	if f.m.recordErr != nil {
		return nil, f.m.recordErr
	}
	ref := &entity.PendingReference{BookingID: bookingID, SessionRef: sessionRef, CreatedAt: f.m.clock}
	f.m.refs[bookingID] = ref
	c := *ref
	return &c, nil
}

func (f fakeRefs) ResolveBySession(ctx context.Context, sessionRef string) (*entity.PendingReference, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	for _, ref := range f.m.refs {
		if ref.SessionRef == sessionRef {
			c := *ref
			return &c, nil
		}
	}
	return nil, entity.ErrNotFound
}

func (f fakeRefs) ResolveByBooking(ctx context.Context, bookingID uuid.UUID) (*entity.PendingReference, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	ref, ok := f.m.refs[bookingID]
	if !ok {
		return nil, entity.ErrNotFound
	}
	c := *ref
	return &c, nil
}

func (f fakeRefs) Clear(ctx context.Context, bookingID uuid.UUID) error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	delete(f.m.refs, bookingID)
	return nil
}

type fakeCourses struct{ m *memStore }

func (f fakeCourses) FindByID(ctx context.Context, id uuid.UUID) (*entity.Course, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	c, ok := f.m.courses[id]
	if !ok {
		return nil, fmt.Errorf("course %s: %w", id, entity.ErrNotFound)
	}
	cc := *c
	return &cc, nil
}

func (f fakeCourses) Enroll(ctx context.Context, bookingID, courseID, studentID uuid.UUID) (*entity.CourseEnrollment, error) {
	return nil, errors.New("not used")
}

func (f fakeCourses) Unenroll(ctx context.Context, bookingID uuid.UUID) error {
	return errors.New("not used")
}

type fakeMentors struct{ m *memStore }

func (f fakeMentors) FindByID(ctx context.Context, id uuid.UUID) (*entity.Mentor, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()

	mentor, ok := f.m.mentors[id]
	if !ok {
		return nil, fmt.Errorf("mentor %s: %w", id, entity.ErrNotFound)
	}
	c := *mentor
	return &c, nil
}

// fakeGateway tracks hosted sessions by status the way the processor would.
type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	sessions  map[string]string
	createErr error
	expireErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]string{}}
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.createErr != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrGatewayUnavailable, g.createErr)
	}
	g.seq++
	ref := fmt.Sprintf("cs_test_%d", g.seq)
	g.sessions[ref] = "open"
	return &gateway.CheckoutSession{
		SessionRef:  ref,
		RedirectURL: "https://checkout.test/" + ref,
		ExpiresAt:   req.ExpiresAt,
	}, nil
}

func (g *fakeGateway) ExpireCheckoutSession(ctx context.Context, sessionRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.expireErr != nil {
		return fmt.Errorf("%w: %v", entity.ErrGatewayUnavailable, g.expireErr)
	}
	switch g.sessions[sessionRef] {
	case "complete":
		return gateway.ErrSessionCompleted
	default:
		g.sessions[sessionRef] = "expired"
		return nil
	}
}

func (g *fakeGateway) pay(sessionRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[sessionRef] = "complete"
}

func (g *fakeGateway) status(sessionRef string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessions[sessionRef]
}

type fakeConnector struct {
	provisions atomic.Int32
	releases   atomic.Int32
	fail       atomic.Bool
	delay      time.Duration
}

func (c *fakeConnector) Provision(ctx context.Context, booking *entity.Booking) (string, error) {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.provisions.Add(1)
	if c.fail.Load() {
		return "", fmt.Errorf("%w: upstream down", entity.ErrProvisioningFailed)
	}
	return "artifact-" + booking.Reference, nil
}

func (c *fakeConnector) Release(ctx context.Context, booking *entity.Booking) error {
	c.releases.Add(1)
	return nil
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
}

func (s *fakeScheduler) ScheduleExpiry(ctx context.Context, bookingID uuid.UUID, sessionRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scheduled[bookingID] = at
	return nil
}

func testConfig() *utils.Config {
	return &utils.Config{
		App: utils.AppConfig{PublicBaseURL: "http://localhost:8080/"},
		Settlement: utils.SettlementConfig{
			AbandonmentWindow: 45 * time.Minute,
			SweepInterval:     time.Minute,
			SweepBatchSize:    100,
			ProvisionTimeout:  time.Second,
			LessonDuration:    time.Hour,
		},
	}
}

func testRegistry(lessons, courses provisioning.Connector) *provisioning.Registry {
	return provisioning.NewRegistry().
		Register(entity.BookingKindLesson, lessons).
		Register(entity.BookingKindCourseEnrollment, courses)
}
