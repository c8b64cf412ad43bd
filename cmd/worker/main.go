package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"discord-repost-bot/internal/adapters/discord"
	"discord-repost-bot/internal/adapters/repo"
	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/config"
	"discord-repost-bot/internal/infra/db"
	infrahttp "discord-repost-bot/internal/infra/http"
	applog "discord-repost-bot/internal/infra/log"
	"discord-repost-bot/internal/infra/metrics"
	"discord-repost-bot/internal/infra/queue"
	"discord-repost-bot/internal/usecase/commands"
	"discord-repost-bot/internal/usecase/lifecycle"
	"discord-repost-bot/internal/usecase/tracking"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	migrateCtx, migrateCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := repoAdapter.Migrate(migrateCtx); err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось применить схему БД")
	}
	migrateCancel()

	trackedQueue := buildQueue(cfg, logger)

	if cfg.Discord.Token == "" {
		logger.Fatal().Msg("worker: не указан токен Discord (DISCORD_BOT_TOKEN)")
	}
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать клиента Discord")
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildMessageReactions |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось открыть сессию Discord")
	}
	defer session.Close()

	botUserID, err := strconv.ParseUint(session.State.User.ID, 10, 64)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: некорректный идентификатор бота")
	}

	chatClient := discord.NewClient(session)
	registry := commands.NewRegistry(logger, commands.Deps{
		Chat:        chatClient,
		ImagePosts:  repoAdapter,
		ImageSearch: repoAdapter,
		Whitelist:   repoAdapter,
		Stats:       repoAdapter,
		Threshold:   cfg.Repost.SimilarityThreshold,
	})
	trackingService := tracking.NewService(logger, repoAdapter, repoAdapter, trackedQueue, registry, cfg.MinImageSide)
	lifecycleService := lifecycle.NewService(logger, repoAdapter, chatClient, cfg.Refresher.RunInterval, cfg.Refresher.Throttle)

	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		handlerCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := trackingService.ProcessMessage(handlerCtx, discord.ConvertMessage(m, botUserID)); err != nil {
			logger.Error().Err(err).Str("message_id", m.ID).Msg("worker: не удалось обработать сообщение")
		}
	})
	session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
		messageID, err := strconv.ParseUint(m.ID, 10, 64)
		if err != nil {
			return
		}
		handlerCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if err := lifecycleService.HandleMessageDeleted(handlerCtx, messageID); err != nil {
			logger.Error().Err(err).Str("message_id", m.ID).Msg("worker: не удалось обработать удаление сообщения")
		}
	})

	httpServer := infrahttp.NewServer(logger)
	go func() {
		if err := httpServer.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("worker: HTTP сервер остановлен")
		}
	}()

	logger.Info().Uint64("bot_user", botUserID).Msg("worker: слушаем события чата")
	<-ctx.Done()

	logger.Info().Msg("worker: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

func buildQueue(cfg config.AppConfig, logger zerolog.Logger) domain.PostTrackedQueue {
	switch cfg.QueueDriver {
	case "redis":
		if cfg.RedisAddr == "" {
			logger.Fatal().Msg("worker: не указан адрес Redis (REDIS_ADDR)")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return queue.NewRedisPostTrackedQueue(client, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts)
	default:
		if cfg.RabbitURL == "" {
			logger.Fatal().Msg("worker: не указан адрес RabbitMQ (RABBITMQ_URL)")
		}
		q, err := queue.NewRabbitPostTrackedQueue(cfg.RabbitURL, cfg.Queues.PostTracked, cfg.Evaluator.MaxAttempts, cfg.Evaluator.RetryBackoff)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь RabbitMQ")
		}
		return q
	}
}
