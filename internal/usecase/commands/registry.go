package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
	"discord-repost-bot/internal/usecase/tracking"
)

// Handler — один обработчик команды. TryHandle возвращает true,
// если команда распознана, независимо от успеха выполнения.
type Handler interface {
	Name() string
	TryHandle(ctx context.Context, cmd tracking.Command) (bool, error)
}

// Deps — зависимости обработчиков команд.
type Deps struct {
	Chat        domain.ChatClient
	ImagePosts  domain.ImagePostRepo
	ImageSearch domain.ImagePostsReader
	Whitelist   domain.WhitelistRepo
	Stats       domain.StatsReader
	// Threshold показывается в ответах команд сравнения.
	Threshold float64
}

// Registry прогоняет команду через все обработчики по порядку.
type Registry struct {
	log      zerolog.Logger
	chat     domain.ChatClient
	handlers []Handler
}

// NewRegistry собирает реестр со стандартным набором команд.
func NewRegistry(log zerolog.Logger, deps Deps) *Registry {
	return &Registry{
		log:  log,
		chat: deps.Chat,
		handlers: []Handler{
			&helpHandler{chat: deps.Chat},
			&aboutHandler{chat: deps.Chat},
			&matchAllHandler{deps: deps},
			&matchHandler{deps: deps},
			&whereHandler{deps: deps},
			&whitelistHandler{deps: deps, remove: false},
			&whitelistHandler{deps: deps, remove: true},
			&statsHandler{deps: deps},
		},
	}
}

// Execute реализует tracking.CommandExecutor. Каждая команда проходит
// через все обработчики: совпадение в нескольких — ошибка конфигурации,
// она попадает в лог, но обработку не прерывает.
func (r *Registry) Execute(ctx context.Context, cmd tracking.Command) error {
	var handledBy []string
	for _, handler := range r.handlers {
		handled, err := handler.TryHandle(ctx, cmd)
		if err != nil {
			r.log.Error().Err(err).Str("handler", handler.Name()).Str("command", cmd.Text).Msg("команда завершилась ошибкой")
			if sendErr := r.chat.SendMessage(ctx, cmd.Message, "Не получилось выполнить команду, попробуйте позже."); sendErr != nil {
				r.log.Error().Err(sendErr).Msg("не удалось отправить ответ об ошибке")
			}
			return err
		}
		if handled {
			handledBy = append(handledBy, handler.Name())
			metrics.BotCommands.WithLabelValues(handler.Name()).Inc()
		}
	}

	if len(handledBy) == 0 {
		r.log.Info().Str("command", cmd.Text).Msg("неизвестная команда")
		return r.chat.SendMessage(ctx, cmd.Message, "Не знаю такой команды. Напишите `help`, чтобы увидеть список.")
	}
	if len(handledBy) > 1 {
		r.log.Error().Strs("handlers", handledBy).Str("command", cmd.Text).Msg("команду выполнили несколько обработчиков")
	}
	return nil
}

// jumpLink строит постоянную ссылку на сообщение.
func jumpLink(id domain.ChatMessageIdentifier) string {
	return fmt.Sprintf("https://discord.com/channels/%d/%d/%d", id.GuildID, id.ChannelID, id.MessageID)
}
