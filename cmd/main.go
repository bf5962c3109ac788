package main

import (
	"context"
	"fmt"
	"go.uber.org/zap"
	"lifeboat/internal/backup"
	"lifeboat/internal/config"
	"lifeboat/internal/database"
	"lifeboat/internal/eventbus"
	"lifeboat/internal/httphandlers"
	"lifeboat/internal/integrations"
	dockerclient "lifeboat/internal/integrations/docker"
	"lifeboat/internal/manager"
	"lifeboat/internal/metrics"
	"lifeboat/internal/progress"
	"lifeboat/internal/service"
	"lifeboat/internal/storage"
	"lifeboat/logger"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	retentionCron    = "0 3 * * *"
	updateSweepCron  = "0 4 * * *"
	shutdownDeadline = 60 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitLogger(cfg.LogMode); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		return
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, teardown, err := setup(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	go func() {
		logger.Info("serving http on " + cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server closed: ", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := teardown(); err != nil {
		logger.Error("teardown failed", zap.Error(err))
	}
}

func setup(ctx context.Context, cfg config.Config) (*http.Server, func() error, error) {
	eventBus := eventbus.New()
	registry := progress.NewRegistry(eventBus)
	m := metrics.New()

	db, err := database.Open(cfg.StateDBPath)
	if err != nil {
		return nil, nil, err
	}

	layout := storage.NewLayout(cfg.BackupDir)
	if err := layout.EnsureLayout(); err != nil {
		return nil, nil, err
	}

	dumper, err := newDumper(cfg)
	if err != nil {
		return nil, nil, err
	}
	offsite, err := newOffsite(cfg)
	if err != nil {
		return nil, nil, err
	}

	var notifier integrations.Notifier = integrations.NewLogNotifier()
	if cfg.WebhookURL != "" {
		notifier = integrations.NewWebhookNotifier(cfg.WebhookURL)
	}

	backupRepo := database.NewBackupRepository(db)
	backupSvc := service.NewBackupService(service.BackupServiceParams{
		Config:     cfg,
		Repository: backupRepo,
		Layout:     layout,
		Dumper:     dumper,
		Offsite:    offsite,
		Progress:   registry,
		Metrics:    m,
	})
	restoreSvc := service.NewRestoreService(service.RestoreServiceParams{
		Config:           cfg,
		Repository:       database.NewRestoreRepository(db),
		BackupRepository: backupRepo,
		Layout:           layout,
		Dumper:           dumper,
		Progress:         registry,
		Metrics:          m,
	})
	scheduleSvc, err := service.NewScheduleService(service.ScheduleServiceParams{
		Repository:   database.NewScheduleRepository(db),
		Backups:      backupSvc,
		Notifier:     notifier,
		PollInterval: cfg.SchedulePollInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	updateSvc := service.NewUpdateService(service.UpdateServiceParams{
		Config:     cfg,
		Repository: database.NewUpdateRepository(db),
		Backups:    backupSvc,
		Restores:   restoreSvc,
		Downloader: integrations.NewDownloader(nil, bucketOpener(cfg)),
		Notifier:   notifier,
		Progress:   registry,
		Metrics:    m,
	})

	recoverStale := func(name string, fn func(context.Context) (int, error)) {
		n, err := fn(ctx)
		if err != nil {
			logger.Error("failed to recover interrupted operations", zap.String("kind", name), zap.Error(err))
			return
		}
		if n > 0 {
			logger.Warn("marked interrupted operations as failed", zap.String("kind", name), zap.Int("count", n))
		}
	}
	recoverStale("backup", backupSvc.RecoverInterrupted)
	recoverStale("restore", restoreSvc.RecoverInterrupted)
	recoverStale("update", updateSvc.RecoverInterrupted)

	err = scheduleSvc.Start(ctx,
		service.MaintenanceJob{
			Name: "retention-sweep",
			Cron: retentionCron,
			Run: func(ctx context.Context) error {
				_, err := backupSvc.CleanupExpired(ctx)
				return err
			},
		},
		service.MaintenanceJob{
			Name: "scheduled-updates",
			Cron: updateSweepCron,
			Run: func(ctx context.Context) error {
				_, err := updateSvc.ProcessScheduledUpdates(ctx)
				return err
			},
		},
	)
	if err != nil {
		return nil, nil, err
	}

	var pinger integrations.Pinger
	if cfg.DatabaseURL != "" {
		pinger = integrations.NewPinger(cfg.DatabaseURL)
	}
	mn := manager.New(manager.Params{
		AccessKey:        cfg.AccessKey,
		Backups:          backupSvc,
		Restores:         restoreSvc,
		Schedules:        scheduleSvc,
		Updates:          updateSvc,
		BackupRepository: backupRepo,
		Pinger:           pinger,
		Metrics:          m,
	})
	if cfg.AccessKey == "" {
		logger.Warn("ACCESS_KEY is not set, every admin API request will be rejected")
	}

	apiHandler := httphandlers.NewApiHandler(mn, eventBus, m.Handler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandlers.Routes(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, func() error {
		if err := scheduleSvc.Stop(); err != nil {
			logger.Warn("failed to stop scheduler", zap.Error(err))
		}
		backupSvc.Wait()
		restoreSvc.Wait()
		updateSvc.Wait()

		sqlDB, _ := db.DB()
		if sqlDB != nil {
			err := sqlDB.Close()
			logger.Info("DB Closed", zap.Error(err))
		}
		return nil
	}, nil
}

// newDumper returns nil when no datastore is configured; system backups
// still work without one.
func newDumper(cfg config.Config) (backup.Dumper, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set, database backups are disabled")
		return nil, nil
	}
	var dc dockerclient.Docker
	if cfg.DumpContainer != "" {
		c, err := dockerclient.NewClient()
		if err != nil {
			return nil, err
		}
		dc = c
	}
	return backup.New(cfg, dc)
}

func newOffsite(cfg config.Config) (storage.Storage, error) {
	switch {
	case cfg.HasObjectStorage():
		return storage.NewObjectStorage(cfg.ObjectStorage)
	case cfg.OffsiteDir != "":
		return storage.NewFSStorage(cfg.OffsiteDir)
	default:
		return nil, nil
	}
}

func bucketOpener(cfg config.Config) integrations.BucketOpener {
	if !cfg.HasObjectStorage() {
		return nil
	}
	return func(bucket string) (storage.Storage, error) {
		oc := cfg.ObjectStorage
		oc.Bucket = bucket
		return storage.NewObjectStorage(oc)
	}
}
