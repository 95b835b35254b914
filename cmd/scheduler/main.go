package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"medbrief/internal/app"
	"medbrief/internal/infra/config"
	applog "medbrief/internal/infra/log"
	"medbrief/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer stores.Close()

	pipeline, err := app.NewPipeline(cfg, stores, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать конвейер")
	}
	defer pipeline.Close()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	logger.Info().
		Dur("tick", cfg.Scheduler.Tick).
		Int("workers", cfg.Scheduler.Workers).
		Str("tz", cfg.Location().String()).
		Str("locks", cfg.LockBackend).
		Msg("scheduler: старт")
	pipeline.Scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка, ждём завершения циклов")
	pipeline.Scheduler.Stop()
	logger.Info().Msg("scheduler: остановлен")
}
