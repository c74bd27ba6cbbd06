package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/wimi-app/wimi/internal/config"
	"github.com/wimi-app/wimi/internal/db"
	"github.com/wimi-app/wimi/internal/lock"
	"github.com/wimi-app/wimi/internal/repository"
	"github.com/wimi-app/wimi/internal/scheduler"
	"github.com/wimi-app/wimi/internal/service"
	"github.com/wimi-app/wimi/internal/storage"
)

type App struct {
	Cfg       *config.Config
	DB        *sqlx.DB
	Redis     *redis.Client
	Scheduler *scheduler.Gocron
	Storage   storage.Storage

	EmailService        *service.EmailService
	NotificationService *service.NotificationService
	JobRegistry         *service.JobRegistry
	CheckInService      *service.CheckInService
	EndorsementService  *service.EndorsementService
	AchievementService  *service.AchievementService
	ScheduleService     *service.ScheduleService
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// Run database migrations
	err = db.RunMigrations(ctx, database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	a := &App{Cfg: cfg, DB: database}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	challengeRepository := repository.NewChallengeRepository(database)
	participantRepository := repository.NewParticipantRepository(database)
	participantJobRepository := repository.NewParticipantJobRepository(database)
	postRepository := repository.NewPostRepository(database)
	endorsementRepository := repository.NewEndorsementRepository(database)
	checkInRepository := repository.NewCheckInRepository(database)
	achievementRepository := repository.NewAchievementRepository(database)
	notificationRepository := repository.NewNotificationRepository(database)

	// Locking
	var locker lock.Locker
	if cfg.RedisURL != "" {
		a.Redis, err = lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		locker = lock.NewRedis(a.Redis, "wimi:lock:", cfg.LockTTL)
	} else {
		slog.Info("using in-process locks (single worker only)")
		locker = lock.NewLocal()
	}

	// Storage
	if cfg.HasStorage() {
		a.Storage, err = storage.New(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %v", err)
		}
	} else {
		a.Storage = storage.NewMemory()
	}

	// Scheduler
	a.Scheduler, err = scheduler.NewGocron()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %v", err)
	}

	// Services
	a.EmailService = service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AppName,
		cfg.IsDevelopment(),
	)
	a.NotificationService = service.NewNotificationService(notificationRepository, userRepository, a.EmailService)
	a.JobRegistry = service.NewJobRegistry(
		participantJobRepository,
		userRepository,
		a.Scheduler,
		locker,
		service.RetryPolicy{
			MaxRetries:      cfg.SchedulerMaxRetries,
			InitialInterval: cfg.SchedulerInitialBackoff,
			MaxInterval:     cfg.SchedulerMaxBackoff,
		},
	)
	a.CheckInService = service.NewCheckInService(
		challengeRepository,
		participantRepository,
		userRepository,
		postRepository,
		checkInRepository,
		a.JobRegistry,
		a.NotificationService,
	)
	a.EndorsementService = service.NewEndorsementService(
		postRepository,
		endorsementRepository,
		userRepository,
		a.Storage,
		a.NotificationService,
		nil,
	)
	a.AchievementService = service.NewAchievementService(
		challengeRepository,
		participantRepository,
		userRepository,
		checkInRepository,
		achievementRepository,
		a.NotificationService,
	)
	a.ScheduleService = service.NewScheduleService(
		challengeRepository,
		participantRepository,
		userRepository,
		a.JobRegistry,
		a.CheckInService,
		a.AchievementService,
		cfg.ReconcileConcurrency,
	)

	a.Scheduler.Handle(a.ScheduleService.HandleJobFired)

	return a, nil
}

// Close stops the scheduler and releases connections.
func (a *App) Close() error {
	var firstErr error
	if a.Scheduler != nil {
		if err := a.Scheduler.Shutdown(); err != nil {
			firstErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
