package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"pumpbridge/common/database"
	mqttcommon "pumpbridge/common/mqtt"
	rediscommon "pumpbridge/common/redis"
	"pumpbridge/internal/aggregator"
	"pumpbridge/internal/alarm"
	"pumpbridge/internal/cache"
	"pumpbridge/internal/command"
	"pumpbridge/internal/config"
	"pumpbridge/internal/events"
	"pumpbridge/internal/httpapi"
	"pumpbridge/internal/ingest"
	"pumpbridge/internal/notify"
	"pumpbridge/internal/repository"
	"pumpbridge/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// BridgeService owns the long-lived connections and every component built on them.
type BridgeService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	logger      *zap.Logger

	consumer *ingest.Consumer
	runner   *scheduler.Runner
	server   *http.Server
}

// NewBridgeService connects to Postgres and Redis and wires the components. The broker
// connection is made in Start.
func NewBridgeService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*BridgeService, error) {
	// 1. state store
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}

	// 2. cache and event stream
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	mqttClient := mqttcommon.NewClient(&cfg.MQTT, logger)

	// 3. repositories
	deviceRepo := repository.NewDeviceRepository(db, logger)
	snapshotRepo := repository.NewSnapshotRepository(db, logger)
	historyRepo := repository.NewHistoryRepository(db, logger)
	eventLogRepo := repository.NewEventLogRepository(db, logger)
	alarmWorkRepo := repository.NewAlarmWorkRepository(db, logger)
	recipientRepo := repository.NewRecipientRepository(db, logger)
	reminderRepo := repository.NewReminderRepository(db, logger)

	snapshots := cache.NewSnapshotCache(
		cache.NewRedisKVStore(redisClient),
		snapshotRepo,
		cfg.Cache.SnapshotPrefix,
		cfg.Cache.SnapshotTTL,
		logger.Named("cache"),
	)
	publisher := events.NewPublisher(redisClient, cfg.Events.Stream, cfg.Events.MaxLen, logger)

	// 4. ingestion
	detector := alarm.NewDetector(alarmWorkRepo, logger.Named("alarm"))
	bridge := ingest.NewBridge(deviceRepo, snapshotRepo, historyRepo, eventLogRepo, detector, publisher, snapshots, logger.Named("bridge"))
	consumer := ingest.NewConsumer(mqttClient, bridge, ingest.ConsumerOptions{
		Workers:        cfg.Ingest.Workers,
		QueueSize:      cfg.Ingest.QueueSize,
		MessageTimeout: cfg.Ingest.MessageTimeout,
	}, logger)

	// 5. commands and charts
	dispatcher := command.NewDispatcher(mqttClient, eventLogRepo, publisher, logger.Named("command"))
	fields := command.NewFieldUpdater(dispatcher, snapshots, deviceRepo, eventLogRepo, logger.Named("command"))

	agg := aggregator.NewAggregator(historyRepo, aggregator.Options{
		RefillRatio:             cfg.Aggregator.RefillRatio,
		RefillFallbackThreshold: cfg.Aggregator.RefillFallbackThreshold,
	}, logger.Named("aggregator"))
	charts := aggregator.NewChartService(agg, snapshots, aggregator.ChartOptions{
		DefaultDays: cfg.Aggregator.DefaultDays,
		MaxDays:     cfg.Aggregator.MaxDays,
	}, logger.Named("aggregator"))

	// 6. scheduled notifications
	mail := notify.NewMailRelayClient(cfg.Mail.RelayURL, cfg.Mail.Token, cfg.Mail.From, logger.Named("notify"))
	runner := scheduler.NewRunner(cfg.Scheduler.Spec, cfg.Scheduler.TickTimeout, logger,
		scheduler.NewDisconnectSweep(deviceRepo, alarmWorkRepo, eventLogRepo,
			cfg.Scheduler.DisconnectMinAge, cfg.Scheduler.DisconnectMaxAge, logger.Named("scheduler")),
		scheduler.NewAlarmWorker(alarmWorkRepo, deviceRepo, snapshotRepo, recipientRepo, mail, eventLogRepo,
			scheduler.AlarmOptions{Cooldown: cfg.Scheduler.AlarmCooldown, SiteURL: cfg.Mail.SiteURL}, logger.Named("scheduler")),
		scheduler.NewReminderWorker(reminderRepo, recipientRepo, deviceRepo, mail, eventLogRepo,
			cfg.Mail.SiteURL, logger.Named("scheduler")),
	)

	// 7. HTTP surface
	router := httpapi.NewRouter(logger)
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(fields, charts, logger.Named("http")))
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(historyRepo, logger.Named("http")))
	router.RegisterHealthRoutes(httpapi.NewHealthHandler(map[string]httpapi.Check{
		"database": db.PingContext,
		"redis":    redisCheck(redisClient),
		"mqtt":     mqttCheck(mqttClient),
	}, logger.Named("http")))

	return &BridgeService{
		config:      cfg,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		logger:      logger,
		consumer:    consumer,
		runner:      runner,
		server: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

func redisCheck(client *redis.Client) httpapi.Check {
	return func(ctx context.Context) error {
		return rediscommon.Ping(ctx, client)
	}
}

func mqttCheck(client *mqttcommon.Client) httpapi.Check {
	return func(context.Context) error {
		if !client.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}
}

// Start connects to the broker, then starts ingestion, the scheduler and the HTTP server.
// It returns once everything is running; HTTP server failures are sent on the returned channel.
func (s *BridgeService) Start(ctx context.Context) (<-chan error, error) {
	s.logger.Info("Starting pump bridge", zap.String("http_addr", s.config.HTTP.Addr))

	if err := s.mqttClient.Connect(ctx); err != nil {
		return nil, err
	}
	if err := s.consumer.Start(ctx); err != nil {
		return nil, err
	}
	if err := s.runner.Start(); err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	return errCh, nil
}

// Stop shuts down in reverse order: HTTP, scheduler, ingestion, then the connections.
func (s *BridgeService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping pump bridge")

	var errs []error
	if err := s.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to shut down http server: %w", err))
	}
	if err := s.runner.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
	}
	if err := s.consumer.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop ingestion: %w", err))
	}
	s.mqttClient.Disconnect()

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	return errors.Join(errs...)
}
