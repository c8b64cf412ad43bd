package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Scanner находит посты, эмбеддинг которых посчитан устаревшей моделью,
// и публикует для них события переоценки. Запускается вручную после
// смены модели у сервиса извлечения признаков и завершается сам.
type Scanner struct {
	log        zerolog.Logger
	imagePosts domain.ImagePostRepo
	extractor  domain.ImageFeatureExtractor
	queue      domain.PostTrackedQueue

	pageSize int
	throttle time.Duration

	sleep func(context.Context, time.Duration)
}

// NewScanner создаёт сканер миграции модели.
func NewScanner(log zerolog.Logger, imagePosts domain.ImagePostRepo, extractor domain.ImageFeatureExtractor, queue domain.PostTrackedQueue, pageSize int, throttle time.Duration) *Scanner {
	return &Scanner{
		log:        log,
		imagePosts: imagePosts,
		extractor:  extractor,
		queue:      queue,
		pageSize:   pageSize,
		throttle:   throttle,
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

// Run просматривает посты постранично и публикует события переоценки.
// Возвращает число опубликованных событий. Страницы идут по id от
// последнего увиденного поста: оценщик работает параллельно, и строки
// уходят из выборки по мере пересчёта, поэтому смещение здесь пропускало
// бы посты. Пустая страница завершает просмотр.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	model, err := s.extractor.ModelName(ctx)
	if err != nil {
		return 0, fmt.Errorf("не удалось узнать текущую модель: %w", err)
	}
	s.log.Info().Str("model", model).Msg("поиск постов с устаревшей моделью")

	published := 0
	var lastID int64
	for page := 0; ; page++ {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}

		posts, err := s.imagePosts.ListImagePostsWithStaleModel(ctx, model, lastID, s.pageSize)
		if err != nil {
			return published, fmt.Errorf("не удалось получить страницу %d: %w", page, err)
		}
		if len(posts) == 0 {
			break
		}
		lastID = posts[len(posts)-1].ID

		for _, post := range posts {
			if published > 0 {
				s.sleep(ctx, s.throttle)
			}
			event := domain.PostTracked{
				PostID:         post.ID,
				PostType:       domain.PostTypeImage,
				IsReevaluation: true,
			}
			if err := s.queue.Publish(ctx, event); err != nil {
				return published, fmt.Errorf("не удалось опубликовать переоценку поста %d: %w", post.ID, err)
			}
			metrics.ReevaluationsPublished.Inc()
			published++
		}
		s.log.Info().Int("page", page).Int("published", published).Msg("страница обработана")
	}

	s.log.Info().Int("published", published).Msg("просмотр завершён")
	return published, nil
}
