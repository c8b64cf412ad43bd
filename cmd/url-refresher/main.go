package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"discord-repost-bot/internal/adapters/discord"
	"discord-repost-bot/internal/adapters/repo"
	"discord-repost-bot/internal/infra/config"
	"discord-repost-bot/internal/infra/db"
	applog "discord-repost-bot/internal/infra/log"
	"discord-repost-bot/internal/infra/metrics"
	"discord-repost-bot/internal/usecase/lifecycle"
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
		logger.Fatal().Err(err).Msg("url-refresher: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.Discord.Token == "" {
		logger.Fatal().Msg("url-refresher: не указан токен Discord (DISCORD_BOT_TOKEN)")
	}
	// Сообщения перечитываются через REST, гейтвей не нужен.
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("url-refresher: не удалось создать клиента Discord")
	}
	chatClient := discord.NewClient(session)

	service := lifecycle.NewService(logger, repoAdapter, chatClient, cfg.Refresher.RunInterval, cfg.Refresher.Throttle)

	run := func() {
		if err := service.RefreshImageURLs(ctx); err != nil {
			logger.Error().Err(err).Msg("url-refresher: проход завершился ошибкой")
		}
	}

	// Первый проход сразу, дальше по расписанию.
	run()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@every "+cfg.Refresher.RunInterval.String(), run); err != nil {
		logger.Fatal().Err(err).Msg("url-refresher: не удалось запланировать проходы")
	}
	scheduler.Start()
	logger.Info().Dur("interval", cfg.Refresher.RunInterval).Msg("url-refresher: расписание запущено")

	<-ctx.Done()
	logger.Info().Msg("url-refresher: остановка")
	<-scheduler.Stop().Done()
}
