package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Command — распознанная команда бота, передаётся исполнителю.
type Command struct {
	Message    domain.ChatMessageIdentifier
	PosterID   uint64
	Referenced *domain.ChatMessageIdentifier
	Text       string
}

// CommandExecutor выполняет команды бота. Реализуется реестром команд.
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) error
}

// Service классифицирует входящие сообщения, фиксирует посты
// и публикует события для оценщика.
type Service struct {
	log          zerolog.Logger
	imagePosts   domain.ImagePostRepo
	linkPosts    domain.LinkPostRepo
	queue        domain.PostTrackedQueue
	commands     CommandExecutor
	minImageSide int
	now          func() time.Time
}

// NewService создаёт сервис отслеживания.
func NewService(
	log zerolog.Logger,
	imagePosts domain.ImagePostRepo,
	linkPosts domain.LinkPostRepo,
	queue domain.PostTrackedQueue,
	commands CommandExecutor,
	minImageSide int,
) *Service {
	return &Service{
		log:          log,
		imagePosts:   imagePosts,
		linkPosts:    linkPosts,
		queue:        queue,
		commands:     commands,
		minImageSide: minImageSide,
		now:          time.Now,
	}
}

// ProcessMessage обрабатывает одно входящее сообщение. Сообщения от ботов
// и пустые игнорируются молча; сбой фиксации не роняет обработчик.
func (s *Service) ProcessMessage(ctx context.Context, msg InboundMessage) error {
	switch Classify(msg, s.minImageSide) {
	case ClassCommand:
		return s.commands.Execute(ctx, Command{
			Message:    msg.ID,
			PosterID:   msg.PosterID,
			Referenced: msg.Referenced,
			Text:       ExtractCommand(msg.Content, msg.BotUserID),
		})
	case ClassImage:
		return s.trackImages(ctx, msg)
	case ClassLink:
		return s.trackLinks(ctx, msg)
	case ClassText, ClassNone:
		return nil
	}
	return nil
}

// trackImages фиксирует каждое подходящее вложение отдельным постом.
// Пост сначала сохраняется, событие публикуется после: необработанное
// событие безопаснее потерянного поста.
func (s *Service) trackImages(ctx context.Context, msg InboundMessage) error {
	now := s.now().UTC()
	for _, att := range qualifyingAttachments(msg.Attachments, s.minImageSide) {
		image := domain.NewImage(att.ID, att.URL, att.MediaType, now)
		if image == nil {
			s.log.Debug().Uint64("attachment_id", att.ID).Msg("вложение не подходит для отслеживания")
			continue
		}

		post := domain.NewImagePost(msg.PostedOn, msg.ID, msg.PosterID, now, *image)
		if err := s.imagePosts.CreateImagePost(ctx, post); err != nil {
			return fmt.Errorf("не удалось сохранить пост с картинкой: %w", err)
		}
		metrics.PostsTracked.WithLabelValues(string(domain.PostTypeImage)).Inc()

		if err := s.queue.Publish(ctx, domain.PostTracked{
			PostID:   post.ID,
			PostType: domain.PostTypeImage,
		}); err != nil {
			return fmt.Errorf("не удалось опубликовать событие о посте %d: %w", post.ID, err)
		}
		s.log.Info().Int64("post_id", post.ID).Uint64("message_id", msg.ID.MessageID).Msg("зафиксирован пост с картинкой")
	}
	return nil
}

// trackLinks фиксирует каждую интересную ссылку отдельным постом.
func (s *Service) trackLinks(ctx context.Context, msg InboundMessage) error {
	now := s.now().UTC()
	for _, raw := range candidateLinks(msg) {
		link := domain.ParseLink(raw)
		if link == nil {
			s.log.Debug().Str("url", raw).Msg("ссылка не подходит для отслеживания")
			continue
		}

		post := domain.NewLinkPost(msg.PostedOn, msg.ID, msg.PosterID, now, *link)
		if err := s.linkPosts.CreateLinkPost(ctx, post); err != nil {
			return fmt.Errorf("не удалось сохранить пост со ссылкой: %w", err)
		}
		metrics.PostsTracked.WithLabelValues(string(domain.PostTypeLink)).Inc()

		if err := s.queue.Publish(ctx, domain.PostTracked{
			PostID:   post.ID,
			PostType: domain.PostTypeLink,
		}); err != nil {
			return fmt.Errorf("не удалось опубликовать событие о посте %d: %w", post.ID, err)
		}
		s.log.Info().Int64("post_id", post.ID).Uint64("message_id", msg.ID.MessageID).Msg("зафиксирован пост со ссылкой")
	}
	return nil
}
