package worker

import (
	"context"
	"time"

	"tutoring-booking/internal/usecase"

	"go.uber.org/zap"
)

// Sweeper periodically releases bookings whose checkout was abandoned.
type Sweeper struct {
	settlement usecase.SettlementService
	interval   time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewSweeper(settlement usecase.SettlementService, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{
		settlement: settlement,
		interval:   interval,
		now:        time.Now,
		log:        log.With(zap.String("worker", "sweeper")),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.settlement.SweepAbandoned(ctx, s.now()); err != nil {
				s.log.Error("Sweep failed", zap.Error(err))
			}
		}
	}
}
