package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/gateway"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSettlement struct {
	mu        sync.Mutex
	sweeps    int
	expired   []uuid.UUID
	expireErr error
}

func (f *fakeSettlement) StartCheckout(ctx context.Context, b *entity.Booking, d string) (*gateway.CheckoutSession, error) {
	return nil, errors.New("not used")
}

func (f *fakeSettlement) OnSuccessReturn(ctx context.Context, ref string) (*entity.SettlementResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeSettlement) OnCancelReturn(ctx context.Context, ref string) (*entity.SettlementResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeSettlement) ExpireBooking(ctx context.Context, id uuid.UUID, now time.Time) (*entity.SettlementResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.expireErr != nil {
		return nil, f.expireErr
	}
	f.expired = append(f.expired, id)
	return &entity.SettlementResult{Outcome: entity.OutcomeCancelled}, nil
}

func (f *fakeSettlement) SweepAbandoned(ctx context.Context, now time.Time) (*entity.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return &entity.SweepReport{}, nil
}

func (f *fakeSettlement) RetryProvisioning(ctx context.Context, id uuid.UUID) (*entity.SettlementResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeSettlement) CancelBooking(ctx context.Context, id uuid.UUID) (*entity.SettlementResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeSettlement) sweepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sweeps
}

func TestSweeperRunsUntilCancelled(t *testing.T) {
	settlement := &fakeSettlement{}
	sweeper := NewSweeper(settlement, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return settlement.sweepCount() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestHandleExpiryTask(t *testing.T) {
	settlement := &fakeSettlement{}
	handler := HandleExpiryTask(settlement, zap.NewNop())
	bookingID := uuid.New()

	task, err := NewExpiryTask(bookingID, "cs_test_9")
	require.NoError(t, err)
	assert.Equal(t, TypeBookingExpire, task.Type())

	var p expiryPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, "cs_test_9", p.SessionRef)

	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, []uuid.UUID{bookingID}, settlement.expired)
}

func TestHandleExpiryTaskErrors(t *testing.T) {
	settlement := &fakeSettlement{}
	handler := HandleExpiryTask(settlement, zap.NewNop())

	err := handler(context.Background(), asynq.NewTask(TypeBookingExpire, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	settlement.expireErr = errors.New("db down")
	task, err := NewExpiryTask(uuid.New(), "cs_1")
	require.NoError(t, err)
	err = handler(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestExpiryTaskIDIsPerSession(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, expiryTaskID(id, "cs_1"), expiryTaskID(id, "cs_1"))
	assert.NotEqual(t, expiryTaskID(id, "cs_1"), expiryTaskID(id, "cs_2"))
}
