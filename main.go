package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"tutoring-booking/cmd"
	"tutoring-booking/internal/data/entity"
	"tutoring-booking/internal/data/repository"
	"tutoring-booking/internal/gateway"
	"tutoring-booking/internal/provisioning"
	"tutoring-booking/internal/wire"
	"tutoring-booking/internal/worker"
	"tutoring-booking/pkg/database"
	"tutoring-booking/pkg/utils"

	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// cacheGrace keeps mirrored references alive a little past the abandonment window.
const cacheGrace = 5 * time.Minute

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
		zap.Duration("abandonment_window", config.Settlement.AbandonmentWindow),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		logger.Fatal("Failed to apply schema", zap.Error(err))
	}
	logger.Info("Database connected successfully")

	// Redis only mirrors pending references; Postgres stays authoritative
	var cache *redis.Client
	if cache, err = database.InitRedis(config.Redis); err != nil {
		logger.Warn("Redis unavailable, pending references served from Postgres only", zap.Error(err))
	} else {
		defer cache.Close()
	}

	repos := repository.NewRepository(db, cache, config.Settlement.AbandonmentWindow+cacheGrace, logger)

	gw := gateway.NewStripeGateway(config.Stripe, logger)

	connectors := provisioning.NewRegistry().
		Register(entity.BookingKindLesson, provisioning.NewMeetingConnector(config.Meeting, config.Settlement.LessonDuration, config.Settlement.ProvisionTimeout, logger)).
		Register(entity.BookingKindCourseEnrollment, provisioning.NewEnrollmentConnector(repos.Course, logger))

	queue := asynq.NewClient(worker.RedisClientOpt(config.Redis))
	defer queue.Close()
	scheduler := worker.NewExpiryScheduler(queue, logger)

	// Wire all dependencies
	app := wire.Wiring(repos, gw, connectors, scheduler, config, logger)

	// The sweeper still releases abandoned bookings when the queue is down
	expiryWorker := worker.NewExpiryWorker(worker.RedisClientOpt(config.Redis), app.Service.Settlement, logger)
	if err := expiryWorker.Start(); err != nil {
		logger.Warn("Expiry worker not running, relying on sweeper", zap.Error(err))
	} else {
		defer expiryWorker.Shutdown()
	}

	go worker.NewSweeper(app.Service.Settlement, config.Settlement.SweepInterval, logger).Run(ctx)

	// Start server
	if err := cmd.APIServer(ctx, app.Router, config.App.Port, logger); err != nil {
		logger.Error("HTTP server stopped", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}
