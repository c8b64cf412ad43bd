package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	PostsTracked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "posts_tracked_total",
		Help: "Количество зафиксированных постов по типу",
	}, []string{"type"})

	RepostsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reposts_detected_total",
		Help: "Количество найденных репостов по типу",
	}, []string{"type"})

	RepostsWhitelisted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reposts_whitelisted_total",
		Help: "Совпадения, подавленные вайтлистом",
	})

	EvaluationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "repost_evaluation_seconds",
		Help:    "Время полной оценки одного события PostTracked",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	EvaluationRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repost_evaluation_retries_total",
		Help: "Сообщения, отправленные на повторную доставку",
	})

	EvaluationDeadLettered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "repost_evaluation_dead_lettered_total",
		Help: "Сообщения, выведенные в dead letter после всех попыток",
	})

	ContentUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "extraction_content_unavailable_total",
		Help: "Оценки, завершившиеся сбросом эмбеддинга из-за недоступного контента",
	})

	RefreshedImageURLs = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refreshed_image_urls_total",
		Help: "Обновлённые адреса вложений",
	})

	RefreshErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "refresh_errors_total",
		Help: "Ошибки обновления адресов вложений",
	})

	PostsMarkedUnavailable = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "posts_marked_unavailable_total",
		Help: "Посты, помеченные недоступными",
	})

	ReevaluationsPublished = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reevaluations_published_total",
		Help: "События переоценки, опубликованные сканером миграции",
	})

	BotCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_commands_total",
		Help: "Выполненные команды бота",
	}, []string{"command"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		PostsTracked,
		RepostsDetected,
		RepostsWhitelisted,
		EvaluationSeconds,
		EvaluationRetries,
		EvaluationDeadLettered,
		ContentUnavailable,
		RefreshedImageURLs,
		RefreshErrors,
		PostsMarkedUnavailable,
		ReevaluationsPublished,
		BotCommands,
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
	status := strconv.FormatBool(err == nil)
	elapsed := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(elapsed)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}
