package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"discord-repost-bot/internal/adapters/extractor"
	"discord-repost-bot/internal/adapters/repo"
	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/config"
	"discord-repost-bot/internal/infra/db"
	applog "discord-repost-bot/internal/infra/log"
	"discord-repost-bot/internal/infra/metrics"
	"discord-repost-bot/internal/infra/queue"
	"discord-repost-bot/internal/usecase/migration"
)

// Однократный запуск после смены модели эмбеддингов: находит посты
// со старой моделью, ставит их в очередь на переоценку и завершается.
func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("reevaluator: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	trackedQueue := buildQueue(cfg, logger)

	if cfg.Extractor.URL == "" {
		logger.Fatal().Msg("reevaluator: не указан адрес сервиса эмбеддингов (EXTRACTOR_URL)")
	}
	extractorClient := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Timeout)

	scanner := migration.NewScanner(logger, repoAdapter, extractorClient, trackedQueue, cfg.Migration.PageSize, cfg.Migration.Throttle)

	published, err := scanner.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Int("published", published).Msg("reevaluator: просмотр прерван")
	}
	logger.Info().Int("published", published).Msg("reevaluator: готово")
}

func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.PostTrackedQueue {
	switch cfg.QueueDriver {
	case "redis":
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("reevaluator: не указан адрес Redis (REDIS_ADDR)")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisPostTrackedQueue(client, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts)
	default:
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("reevaluator: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitPostTrackedQueue(cfg.RabbitURL, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts, cfg.Evaluator.RetryBackoff)
		if err != nil {
			logger.Fatal().Err(err).Msg("reevaluator: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
}
