package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"medbrief/internal/adapters/httpapi"
	"medbrief/internal/app"
	"medbrief/internal/infra/config"
	httpinfra "medbrief/internal/infra/http"
	applog "medbrief/internal/infra/log"
	"medbrief/internal/infra/metrics"
	"medbrief/internal/usecase/insights"
	"medbrief/internal/usecase/topics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer stores.Close()

	catalog, err := app.Templates(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: каталог шаблонов")
	}

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	httpapi.NewHandler(
		topics.NewService(stores.Topics, catalog),
		insights.NewService(stores.Topics, stores.Snapshots, stores.History),
		logger,
	).Mount(srv.Router)

	go func() {
		logger.Info().Msg("api: старт")
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
