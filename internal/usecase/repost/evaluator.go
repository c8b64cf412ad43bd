package repost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Config — параметры оценки репостов.
type Config struct {
	// SimilarityThreshold — минимальная косинусная похожесть,
	// при которой пост считается репостом.
	SimilarityThreshold float64
	// Reactions ставятся на найденный репост в заданном порядке.
	Reactions []string
	// ReactionDelay — пауза между реакциями.
	ReactionDelay time.Duration
	// GuardTTL — срок ключа идемпотентности реакций.
	GuardTTL time.Duration
}

// Evaluator выполняет полный цикл оценки одного события PostTracked:
// извлечение эмбеддинга, поиск похожих и реакция на репост.
type Evaluator struct {
	log         zerolog.Logger
	imagePosts  domain.ImagePostRepo
	linkPosts   domain.LinkPostRepo
	imageSearch domain.ImagePostsReader
	linkSearch  domain.LinkPostsReader
	extractor   domain.ImageFeatureExtractor
	chat        domain.ChatClient
	guard       domain.OnceGuard
	cfg         Config

	now   func() time.Time
	sleep func(context.Context, time.Duration)
}

// NewEvaluator создаёт оценщик репостов.
func NewEvaluator(
	log zerolog.Logger,
	imagePosts domain.ImagePostRepo,
	linkPosts domain.LinkPostRepo,
	imageSearch domain.ImagePostsReader,
	linkSearch domain.LinkPostsReader,
	extractor domain.ImageFeatureExtractor,
	chat domain.ChatClient,
	guard domain.OnceGuard,
	cfg Config,
) *Evaluator {
	return &Evaluator{
		log:         log,
		imagePosts:  imagePosts,
		linkPosts:   linkPosts,
		imageSearch: imageSearch,
		linkSearch:  linkSearch,
		extractor:   extractor,
		chat:        chat,
		guard:       guard,
		cfg:         cfg,
		now:         time.Now,
		sleep:       sleepCtx,
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

// Evaluate обрабатывает одно событие. Возвращаемая ошибка решает судьбу
// сообщения в шине: повторяемые уходят на передоставку.
func (e *Evaluator) Evaluate(ctx context.Context, event domain.PostTracked) error {
	start := time.Now()
	defer func() {
		metrics.EvaluationSeconds.WithLabelValues(string(event.PostType)).Observe(time.Since(start).Seconds())
	}()

	switch event.PostType {
	case domain.PostTypeImage:
		return e.evaluateImage(ctx, event)
	case domain.PostTypeLink:
		return e.evaluateLink(ctx, event)
	default:
		return domain.NonRetryable(fmt.Errorf("неизвестный тип поста %q", event.PostType))
	}
}

func (e *Evaluator) evaluateImage(ctx context.Context, event domain.PostTracked) error {
	post, err := e.imagePosts.GetImagePost(ctx, event.PostID)
	if err != nil {
		return fmt.Errorf("не удалось загрузить пост %d: %w", event.PostID, err)
	}

	features, err := e.extractor.ExtractImageFeatures(ctx, post.Image.ImageURI)
	switch {
	case errors.Is(err, domain.ErrContentUnavailable):
		// Картинка пропала до оценки. Сбрасываем эмбеддинг и выходим:
		// пост больше не участвует в поиске похожих.
		post.ClearImageFeatures(e.now().UTC())
		if err := e.imagePosts.UpdateImagePost(ctx, post); err != nil {
			return fmt.Errorf("не удалось сбросить эмбеддинг поста %d: %w", post.ID, err)
		}
		metrics.ContentUnavailable.Inc()
		e.log.Warn().Int64("post_id", post.ID).Msg("контент недоступен, эмбеддинг сброшен")
		return nil
	case err != nil:
		return fmt.Errorf("не удалось извлечь эмбеддинг поста %d: %w", post.ID, err)
	}

	post.SetImageFeatures(features, e.now().UTC())
	if err := e.imagePosts.UpdateImagePost(ctx, post); err != nil {
		return fmt.Errorf("не удалось сохранить эмбеддинг поста %d: %w", post.ID, err)
	}

	// Переоценка только обновляет эмбеддинг. Пост уже проверялся
	// на момент публикации, реагировать второй раз нельзя.
	if event.IsReevaluation {
		e.log.Info().Int64("post_id", post.ID).Msg("эмбеддинг пересчитан")
		return nil
	}

	vector := features.FeatureVector

	whitelisted, err := e.imageSearch.ClosestWhitelistedImagePosts(ctx, post.PostedOn, vector, domain.MetricCosine, 1)
	if err != nil {
		return fmt.Errorf("не удалось выполнить поиск по вайтлисту: %w", err)
	}
	if len(whitelisted) > 0 && whitelisted[0].CosineSimilarity() >= e.cfg.SimilarityThreshold {
		metrics.RepostsWhitelisted.Inc()
		e.log.Info().
			Int64("post_id", post.ID).
			Int64("matched_post_id", whitelisted[0].ImagePostID).
			Float64("similarity", whitelisted[0].CosineSimilarity()).
			Msg("совпадение подавлено вайтлистом")
		return nil
	}

	closest, err := e.imageSearch.ClosestImagePosts(ctx, post.PostedOn, vector, domain.MetricCosine, 1)
	if err != nil {
		return fmt.Errorf("не удалось выполнить поиск похожих постов: %w", err)
	}
	if len(closest) == 0 || closest[0].CosineSimilarity() < e.cfg.SimilarityThreshold {
		e.log.Info().Int64("post_id", post.ID).Msg("репост не найден")
		return nil
	}

	metrics.RepostsDetected.WithLabelValues(string(domain.PostTypeImage)).Inc()
	e.log.Info().
		Int64("post_id", post.ID).
		Int64("matched_post_id", closest[0].ImagePostID).
		Float64("similarity", closest[0].CosineSimilarity()).
		Msg("найден репост картинки")

	return e.react(ctx, guardKey(domain.PostTypeImage, post.ID), post.Message)
}

func (e *Evaluator) evaluateLink(ctx context.Context, event domain.PostTracked) error {
	post, err := e.linkPosts.GetLinkPost(ctx, event.PostID)
	if err != nil {
		return fmt.Errorf("не удалось загрузить пост %d: %w", event.PostID, err)
	}

	if event.IsReevaluation {
		// У ссылок нет эмбеддинга, пересчитывать нечего.
		return nil
	}

	closest, err := e.linkSearch.ClosestLinkPosts(ctx, post.PostedOn, post.Link, 1)
	if err != nil {
		return fmt.Errorf("не удалось выполнить поиск повторных ссылок: %w", err)
	}
	if len(closest) == 0 || closest[0].Similarity < 1 {
		e.log.Info().Int64("post_id", post.ID).Msg("репост не найден")
		return nil
	}

	metrics.RepostsDetected.WithLabelValues(string(domain.PostTypeLink)).Inc()
	e.log.Info().
		Int64("post_id", post.ID).
		Int64("matched_post_id", closest[0].LinkPostID).
		Msg("найден репост ссылки")

	return e.react(ctx, guardKey(domain.PostTypeLink, post.ID), post.Message)
}

// react ставит реакции по порядку с паузой между ними. Ключ идемпотентности
// защищает от повторных реакций при передоставке сообщения.
func (e *Evaluator) react(ctx context.Context, key string, message domain.ChatMessageIdentifier) error {
	err := e.guard.Once(ctx, key, e.cfg.GuardTTL, func() error {
		for i, emoji := range e.cfg.Reactions {
			if i > 0 {
				e.sleep(ctx, e.cfg.ReactionDelay)
			}
			if err := e.chat.React(ctx, message, emoji); err != nil {
				return fmt.Errorf("не удалось поставить реакцию %q: %w", emoji, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("не удалось отреагировать на репост: %w", err)
	}
	return nil
}

func guardKey(postType domain.PostType, postID int64) string {
	return fmt.Sprintf("repost-reaction:%s:%d", postType, postID)
}
