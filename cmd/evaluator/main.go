package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"discord-repost-bot/internal/adapters/discord"
	"discord-repost-bot/internal/adapters/extractor"
	"discord-repost-bot/internal/adapters/repo"
	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/config"
	"discord-repost-bot/internal/infra/db"
	"discord-repost-bot/internal/infra/guard"
	applog "discord-repost-bot/internal/infra/log"
	"discord-repost-bot/internal/infra/metrics"
	"discord-repost-bot/internal/infra/queue"
	"discord-repost-bot/internal/usecase/repost"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	trackedQueue := buildQueue(cfg, logger)

	if cfg.Extractor.URL == "" {
		logger.Fatal().Msg("evaluator: не указан адрес сервиса эмбеддингов (EXTRACTOR_URL)")
	}
	extractorClient := extractor.NewClient(cfg.Extractor.URL, cfg.Extractor.Timeout)

	if cfg.Discord.Token == "" {
		logger.Fatal().Msg("evaluator: не указан токен Discord (DISCORD_BOT_TOKEN)")
	}
	// Оценщику гейтвей не нужен: хватает REST, сессия не открывается.
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("evaluator: не удалось создать клиента Discord")
	}
	chatClient := discord.NewClient(session)

	var onceGuard domain.OnceGuard = guard.NopOnceGuard{}
	if cfg.RedisAddr != "" {
		onceGuard = guard.NewRedisOnceGuard(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		logger.Warn().Msg("evaluator: Redis не настроен, реакции без ключа идемпотентности")
	}

	evaluator := repost.NewEvaluator(
		logger,
		repoAdapter, repoAdapter, repoAdapter, repoAdapter,
		extractorClient, chatClient, onceGuard,
		repost.Config{
			SimilarityThreshold: cfg.Repost.SimilarityThreshold,
			Reactions:           cfg.ReactionList(),
			ReactionDelay:       cfg.Repost.ReactionDelay,
			GuardTTL:            cfg.Repost.ReactionGuardTTL,
		},
	)

	logger.Info().Int("workers", cfg.Evaluator.Workers).Msg("evaluator: запуск обработки очереди")

	var wg sync.WaitGroup
	for i := 0; i < cfg.Evaluator.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runWorker(ctx, logger.With().Int("worker", id).Logger(), trackedQueue, evaluator)
		}(i)
	}
	wg.Wait()

	logger.Info().Msg("evaluator: остановлен")
}

func runWorker(ctx context.Context, log zerolog.Logger, q domain.PostTrackedQueue, evaluator *repost.Evaluator) {
	for {
		event, ack, err := q.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Msg("evaluator: ошибка чтения очереди")
			time.Sleep(time.Second)
			continue
		}

		eventLog := log.With().
			Str("event_id", event.EventID).
			Int64("post_id", event.PostID).
			Str("type", string(event.PostType)).
			Bool("reevaluation", event.IsReevaluation).
			Logger()

		evalErr := evaluator.Evaluate(ctx, event)
		switch {
		case evalErr == nil:
			if err := ack(true); err != nil {
				eventLog.Error().Err(err).Msg("evaluator: не удалось подтвердить событие")
			}
		case domain.IsRetryable(evalErr):
			eventLog.Warn().Err(evalErr).Msg("evaluator: оценка не удалась, вернём в очередь")
			if err := ack(false); err != nil {
				eventLog.Error().Err(err).Msg("evaluator: не удалось вернуть событие в очередь")
			}
		default:
			eventLog.Error().Err(evalErr).Msg("evaluator: неповторяемая ошибка, подтверждаем событие")
			if err := ack(true); err != nil {
				eventLog.Error().Err(err).Msg("evaluator: не удалось подтвердить событие")
			}
		}
	}
}

func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.PostTrackedQueue {
	switch cfg.QueueDriver {
	case "redis":
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("evaluator: не указан адрес Redis (REDIS_ADDR)")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisPostTrackedQueue(client, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts)
	default:
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("evaluator: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitPostTrackedQueue(cfg.RabbitURL, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts, cfg.Evaluator.RetryBackoff)
		if err != nil {
			logger.Fatal().Err(err).Msg("evaluator: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
}
