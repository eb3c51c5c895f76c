package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/utils"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const TypeBookingExpire = "booking:expire"

// The task fires a little after the window closes so the reference, which is
// recorded after the session is created, has aged past it.
const expiryGrace = time.Minute

type expiryPayload struct {
	BookingID  uuid.UUID `json:"booking_id"`
	SessionRef string    `json:"session_ref"`
}

func NewExpiryTask(bookingID uuid.UUID, sessionRef string) (*asynq.Task, error) {
	b, err := json.Marshal(expiryPayload{BookingID: bookingID, SessionRef: sessionRef})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeBookingExpire, b), nil
}

// expiryTaskID keys tasks by checkout session, so a retried checkout gets
// its own task and re-scheduling the same session is a no-op.
func expiryTaskID(bookingID uuid.UUID, sessionRef string) string {
	return fmt.Sprintf("%s:%s:%s", TypeBookingExpire, bookingID, sessionRef)
}

// ExpiryScheduler enqueues delayed expiry tasks.
type ExpiryScheduler struct {
	client *asynq.Client
	log    *zap.Logger
}

func NewExpiryScheduler(client *asynq.Client, log *zap.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		client: client,
		log:    log.With(zap.String("worker", "expiry_scheduler")),
	}
}

func (s *ExpiryScheduler) ScheduleExpiry(ctx context.Context, bookingID uuid.UUID, sessionRef string, at time.Time) error {
	task, err := NewExpiryTask(bookingID, sessionRef)
	if err != nil {
		return fmt.Errorf("build expiry task: %w", err)
	}

	info, err := s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at.Add(expiryGrace)),
		asynq.TaskID(expiryTaskID(bookingID, sessionRef)),
		asynq.MaxRetry(5),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("enqueue expiry for booking %s: %w", bookingID, err)
	}

	s.log.Debug("Expiry scheduled",
		zap.String("booking_id", bookingID.String()),
		zap.String("task_id", info.ID),
		zap.Time("process_at", info.NextProcessAt),
	)
	return nil
}

// ExpiryWorker consumes expiry tasks next to the HTTP server.
type ExpiryWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

func NewExpiryWorker(redisOpt asynq.RedisClientOpt, settlement usecase.SettlementService, log *zap.Logger) *ExpiryWorker {
	log = log.With(zap.String("worker", "expiry"))

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			"default": 1,
		},
		Logger:   log.Sugar(),
		LogLevel: asynq.WarnLevel,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeBookingExpire, HandleExpiryTask(settlement, log))

	return &ExpiryWorker{server: server, mux: mux, log: log}
}

func (w *ExpiryWorker) Start() error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("start expiry worker: %w", err)
	}
	w.log.Info("Expiry worker started")
	return nil
}

func (w *ExpiryWorker) Shutdown() {
	w.server.Shutdown()
	w.log.Info("Expiry worker stopped")
}

func HandleExpiryTask(settlement usecase.SettlementService, log *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p expiryPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			log.Error("Invalid expiry payload", zap.Error(err))
			return fmt.Errorf("decode expiry payload: %v: %w", err, asynq.SkipRetry)
		}

		result, err := settlement.ExpireBooking(ctx, p.BookingID, time.Now())
		if err != nil {
			log.Error("Failed to expire booking",
				zap.Error(err),
				zap.String("booking_id", p.BookingID.String()),
			)
			return err
		}

		log.Info("Expiry task processed",
			zap.String("booking_id", p.BookingID.String()),
			zap.String("session_ref", p.SessionRef),
			zap.String("outcome", string(result.Outcome)),
		)
		return nil
	}
}

// RedisClientOpt points asynq at the queue database.
func RedisClientOpt(cfg utils.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.QueueDB,
	}
}
