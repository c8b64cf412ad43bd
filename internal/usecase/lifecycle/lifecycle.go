package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Service следит за жизненным циклом постов после фиксации: помечает
// удалённые недоступными и обновляет протухающие адреса вложений.
type Service struct {
	log        zerolog.Logger
	imagePosts domain.ImagePostRepo
	chat       domain.ChatClient

	// maxURLAge — возраст адреса вложения, после которого его пора обновить.
	maxURLAge time.Duration
	// throttle — пауза между обращениями к чату при пакетном обновлении.
	throttle time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewService создаёт сервис жизненного цикла постов.
func NewService(log zerolog.Logger, imagePosts domain.ImagePostRepo, chat domain.ChatClient, maxURLAge, throttle time.Duration) *Service {
	return &Service{
		log:        log,
		imagePosts: imagePosts,
		chat:       chat,
		maxURLAge:  maxURLAge,
		throttle:   throttle,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// HandleMessageDeleted помечает все посты удалённого сообщения недоступными.
// Сообщение без отслеживаемых постов — не ошибка. Идемпотентно.
func (s *Service) HandleMessageDeleted(ctx context.Context, chatMessageID uint64) error {
	posts, err := s.imagePosts.ListImagePostsByChatMessageID(ctx, chatMessageID)
	if err != nil {
		return fmt.Errorf("не удалось найти посты сообщения %d: %w", chatMessageID, err)
	}

	for _, post := range posts {
		if !post.IsAvailable {
			continue
		}
		post.MarkUnavailable()
		if err := s.imagePosts.UpdateImagePost(ctx, post); err != nil {
			return fmt.Errorf("не удалось пометить пост %d недоступным: %w", post.ID, err)
		}
		metrics.PostsMarkedUnavailable.Inc()
		s.log.Info().Int64("post_id", post.ID).Uint64("message_id", chatMessageID).Msg("пост помечен недоступным после удаления сообщения")
	}
	return nil
}

// RefreshImageURLs перечитывает сообщения постов с устаревшими адресами
// вложений и сохраняет свежие адреса. Ошибка одного поста не прерывает
// остальные; эмбеддинг при обновлении адреса сохраняется.
func (s *Service) RefreshImageURLs(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-s.maxURLAge)
	posts, err := s.imagePosts.ListStaleImagePosts(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("не удалось получить посты с устаревшими адресами: %w", err)
	}

	s.log.Info().Int("count", len(posts)).Msg("обновление адресов вложений")

	for i, post := range posts {
		if i > 0 {
			s.sleep(ctx, s.throttle)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.refreshPost(ctx, post); err != nil {
			metrics.RefreshErrors.Inc()
			s.log.Error().Err(err).Int64("post_id", post.ID).Msg("не удалось обновить адрес вложения")
		}
	}
	return nil
}

func (s *Service) refreshPost(ctx context.Context, post *domain.ImagePost) error {
	fetched, err := s.chat.GetMessageWithAttachments(ctx, post.Message)
	if err != nil {
		return fmt.Errorf("не удалось перечитать сообщение: %w", err)
	}
	if fetched == nil {
		return s.markUnavailable(ctx, post)
	}

	attachment := findAttachment(fetched.Attachments, post.Image.ImageID)
	if attachment == nil {
		return s.markUnavailable(ctx, post)
	}

	post.RefreshImageURL(attachment.URL, attachment.MediaType, s.now().UTC())
	if err := s.imagePosts.UpdateImagePost(ctx, post); err != nil {
		return fmt.Errorf("не удалось сохранить обновлённый адрес: %w", err)
	}
	metrics.RefreshedImageURLs.Inc()
	return nil
}

func (s *Service) markUnavailable(ctx context.Context, post *domain.ImagePost) error {
	post.MarkUnavailable()
	if err := s.imagePosts.UpdateImagePost(ctx, post); err != nil {
		return fmt.Errorf("не удалось пометить пост недоступным: %w", err)
	}
	metrics.PostsMarkedUnavailable.Inc()
	s.log.Info().Int64("post_id", post.ID).Msg("исходное вложение пропало, пост помечен недоступным")
	return nil
}

func findAttachment(attachments []domain.FetchedAttachment, imageID uint64) *domain.FetchedAttachment {
	for i := range attachments {
		if attachments[i].ID == imageID {
			return &attachments[i]
		}
	}
	return nil
}
