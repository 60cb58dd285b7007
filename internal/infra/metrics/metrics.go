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
	FetchErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fetch_errors_total",
		Help: "Ошибки опроса каналов",
	}, []string{"channel"})

	ItemsFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_fetched_total",
		Help: "Выгруженные элементы контента",
	})

	ItemsScored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_scored_total",
		Help: "Оценённые элементы контента",
	})

	ItemsIndexed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "items_indexed_total",
		Help: "Элементы, прошедшие порог и попавшие в индекс",
	})

	EmbeddingErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "embedding_errors_total",
		Help: "Ошибки получения эмбеддингов",
	})

	EntriesExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "entries_expired_total",
		Help: "Записи индекса, удалённые по сроку",
	})

	SyncPhaseSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sync_phase_seconds",
		Help:    "Длительность фаз цикла синхронизации",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	IndexSearchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "index_search_seconds",
		Help:    "Длительность поиска по индексу",
		Buckets: prometheus.DefBuckets,
	})

	ChannelErrorCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "channel_error_count",
		Help: "Накопленные ошибки опроса по каналам",
	}, []string{"channel"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FetchErrors,
		ItemsFetched,
		ItemsScored,
		ItemsIndexed,
		EmbeddingErrors,
		EntriesExpired,
		SyncPhaseSeconds,
		IndexSearchSeconds,
		ChannelErrorCount,
		NetworkRequestDuration,
		NetworkRequestTotal,
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

// ObservePhase записывает длительность фазы цикла синхронизации.
func ObservePhase(phase string, start time.Time) {
	SyncPhaseSeconds.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
