package usecase

import (
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/gateway"
	"tutoring-booking/internal/provisioning"
	"tutoring-booking/pkg/utils"

	"go.uber.org/zap"
)

type Service struct {
	Booking    BookingService
	Settlement SettlementService
}

func NewService(
	repo *repository.Repository,
	gw gateway.CheckoutGateway,
	connectors *provisioning.Registry,
	scheduler ExpiryScheduler,
	config *utils.Config,
	log *zap.Logger,
) *Service {
	settlement := NewSettlementService(repo, gw, connectors, scheduler, config, log)

	return &Service{
		Booking:    NewBookingService(repo, settlement, config, log),
		Settlement: settlement,
	}
}
