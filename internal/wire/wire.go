package wire

import (
	"net/http"

	"tutoring-booking/internal/adaptor"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/gateway"
	"tutoring-booking/internal/provisioning"
	"tutoring-booking/internal/usecase"
	"tutoring-booking/pkg/middleware"
	"tutoring-booking/pkg/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App holds the router plus the services background workers need.
type App struct {
	Router  *chi.Mux
	Service *usecase.Service
}

// Wiring builds services and handlers and mounts every route.
func Wiring(
	repo *repository.Repository,
	gw gateway.CheckoutGateway,
	connectors *provisioning.Registry,
	scheduler usecase.ExpiryScheduler,
	config *utils.Config,
	logger *zap.Logger,
) *App {
	service := usecase.NewService(repo, gw, connectors, scheduler, config, logger)
	handler := adaptor.NewHandler(service, logger)

	router := setupRouter(handler, repo, config, logger)

	return &App{
		Router:  router,
		Service: service,
	}
}

func setupRouter(
	handler *adaptor.Handler,
	repo *repository.Repository,
	config *utils.Config,
	logger *zap.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.CORS())

	wireBooking(r, handler.Booking, repo, logger)
	wireSettlement(r, handler.Settlement, config, logger)
	wireAdmin(r, handler.Admin, repo, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
