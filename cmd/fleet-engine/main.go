package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rgazeredo/aztv-sub002/internal/alerts"
	"github.com/rgazeredo/aztv-sub002/internal/auth"
	"github.com/rgazeredo/aztv-sub002/internal/cache"
	"github.com/rgazeredo/aztv-sub002/internal/commands"
	"github.com/rgazeredo/aztv-sub002/internal/config"
	"github.com/rgazeredo/aztv-sub002/internal/database"
	"github.com/rgazeredo/aztv-sub002/internal/deltasync"
	"github.com/rgazeredo/aztv-sub002/internal/heartbeat"
	httpapi "github.com/rgazeredo/aztv-sub002/internal/http"
	"github.com/rgazeredo/aztv-sub002/internal/jobs"
	appLogger "github.com/rgazeredo/aztv-sub002/internal/logger"
	"github.com/rgazeredo/aztv-sub002/internal/repository"
	"github.com/rgazeredo/aztv-sub002/internal/scheduler"
	"github.com/rgazeredo/aztv-sub002/internal/service"
	"github.com/rgazeredo/aztv-sub002/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := appLogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "fleet-engine")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	kv := store.NewRedisKV(redisClient)

	// 存储层
	devicesRepo := repository.NewDevicesRepo(db, logger)
	schedulesRepo := repository.NewSchedulesRepo(db, logger)
	playlistsRepo := repository.NewPlaylistsRepo(db, logger)
	commandsRepo := repository.NewCommandsRepo(db, logger)
	alertsRepo := repository.NewAlertsRepo(db, logger)
	heartbeatLogsRepo := repository.NewHeartbeatLogsRepo(db, logger)
	changesRepo := repository.NewChangesRepo(db, logger)
	syncStatesRepo := repository.NewSyncStatesRepo(db, logger)

	// 核心组件
	syncCache := cache.NewSyncCache(kv, cfg.Cache.ActivePlaylistTTL, cfg.Cache.ConfigTTL, cfg.Cache.DeltaTTL, logger)
	evaluator := scheduler.NewEvaluator()
	detector := scheduler.NewConflictDetector(schedulesRepo)
	queue := commands.NewQueue(commandsRepo, logger)
	tracker := heartbeat.NewTracker(devicesRepo, heartbeatLogsRepo, queue, syncCache, cfg.Player.LivenessThreshold, logger)
	delta := deltasync.NewEngine(changesRepo, syncStatesRepo, syncCache, cfg.Sync.HistoryHorizon, logger)
	alertEngine := alerts.NewEngine(alertsRepo, devicesRepo, heartbeatLogsRepo, logger)
	authenticator := auth.NewAuthenticator(devicesRepo, kv, cfg.Player.TokenTTL, logger)

	// 服务层
	playerService := service.NewPlayerService(
		devicesRepo, schedulesRepo, playlistsRepo,
		evaluator, detector, syncCache, tracker, queue, delta, alertEngine, authenticator,
		cfg.Player.RequestTimeout, logger,
	)
	updateService := service.NewUpdateService(cfg.Update.FeedURL, cfg.Update.Timeout, logger)
	reportService := service.NewReportService(devicesRepo, alertsRepo, logger)

	// HTTP
	router := httpapi.NewRouter(logger)
	router.RegisterPlayerRoutes(httpapi.NewPlayerHandler(playerService, updateService, logger))
	router.RegisterApkRoutes(httpapi.NewApkHandler(updateService, logger))
	router.RegisterFleetRoutes(httpapi.NewFleetHandler(playerService, reportService, logger))

	srv := service.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 周期任务（多实例部署下由 Redis 租约锁保证单实例执行）
	runner := jobs.NewRunner(kv, cfg.Jobs.LockTTL, cfg.Jobs.SkipEscalateAfter, logger)
	runner.Start(ctx, []jobs.Job{
		jobs.NewScheduleSweep(devicesRepo, schedulesRepo, evaluator, syncCache, cfg.Jobs.ScheduleSweepInterval, logger),
		jobs.NewStatusSweep(tracker, cfg.Jobs.StatusSweepInterval, logger),
		jobs.NewAlertSweep(alertEngine, cfg.Jobs.AlertSweepInterval),
		jobs.NewCommandGC(queue, cfg.Jobs.CommandGCInterval, cfg.Jobs.CommandRetention, logger),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Shutdown signal received")
		cancel()
	case err := <-errCh:
		logger.Error("HTTP server stopped", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}
