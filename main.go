package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	clts "botwatch/clients"
	"botwatch/config"
	"botwatch/internal/app"
	"botwatch/internal/recorder"

	"go.uber.org/zap"
)

const (
	// loadTimeout is the maximum time to wait for persisted settings
	loadTimeout = 30 * time.Second
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Defaults, optional YAML file, .env, then environment variables
	envConfig, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	if result := envConfig.Validate(); !result.Valid {
		logger.Fatal("invalid config", zap.Error(&config.ConfigValidationError{Errors: result.Errors}))
	}
	logger.Info("starting bot monitor",
		zap.Bool("isProd", envConfig.IsProd),
		zap.Strings("bots", envConfig.Monitor.Bots),
	)

	// Create LiveConfig with env config as initial value
	liveConfig := config.NewLiveConfig(envConfig)

	settingsManager := config.NewSettingsManager(logger, config.NewFileStore(envConfig.Settings.FileName), liveConfig)
	if settingsManager.IsEnabled() {
		loadCtx, loadCancel := context.WithTimeout(context.Background(), loadTimeout)
		cfg, err := settingsManager.LoadSettings(loadCtx, envConfig)
		loadCancel()
		if err != nil {
			logger.Warn("failed to load persisted settings, using env/defaults", zap.Error(err))
		} else if err := liveConfig.Update(cfg); err != nil {
			logger.Warn("failed to apply persisted settings", zap.Error(err))
		}
	}

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, liveConfig.Get())
	defer clients.Close()

	var rec recorder.Recorder = recorder.NewNoopRecorder()
	if path := envConfig.Recorder.SQLitePath; path != "" {
		sqliteRec, err := recorder.NewSQLiteRecorder(logger, path)
		if err != nil {
			logger.Fatal("failed to open report history", zap.String("path", path), zap.Error(err))
		}
		rec = sqliteRec
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(clients, liveConfig, settingsManager, rec)
	if err := runner.Run(ctx); err != nil {
		logger.Fatal("runner failed", zap.Error(err))
	}
}
