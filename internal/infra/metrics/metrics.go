package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topic_cycles_total",
		Help: "Завершённые циклы обновления тем по статусу",
	}, []string{"status"})

	CyclesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "topic_cycles_skipped_total",
		Help: "Пропущенные циклы по причине",
	}, []string{"reason"})

	CycleSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "topic_cycle_seconds",
		Help:    "Длительность цикла обновления темы",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	CyclesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "topic_cycles_in_flight",
		Help: "Циклы, выполняющиеся прямо сейчас",
	})

	LiteratureFetched = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "literature_records_fetched",
		Help:    "Количество публикаций, полученных за один цикл",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
	})

	PushOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "push_records_total",
		Help: "Итоги доставки отчётов по каналам",
	}, []string{"channel", "status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		CyclesTotal,
		CyclesSkipped,
		CycleSeconds,
		CyclesInFlight,
		LiteratureFetched,
		PushOutcomes,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
}

// ObserveCycle фиксирует завершённый цикл темы.
func ObserveCycle(status string, start time.Time) {
	CyclesTotal.WithLabelValues(status).Inc()
	CycleSeconds.Observe(time.Since(start).Seconds())
}

// IncSkipped увеличивает счётчик пропущенных циклов.
func IncSkipped(reason string) {
	CyclesSkipped.WithLabelValues(reason).Inc()
}

// IncPush фиксирует итог доставки по каналу.
func IncPush(channel, status string) {
	PushOutcomes.WithLabelValues(channel, status).Inc()
}
