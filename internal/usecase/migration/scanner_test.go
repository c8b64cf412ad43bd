package migration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
)

type stubImagePosts struct {
	stale   []*domain.ImagePost
	queried []int64
}

func (s *stubImagePosts) CreateImagePost(context.Context, *domain.ImagePost) error { return nil }

func (s *stubImagePosts) GetImagePost(context.Context, int64) (*domain.ImagePost, error) {
	return nil, domain.ErrImagePostNotFound
}

func (s *stubImagePosts) UpdateImagePost(context.Context, *domain.ImagePost) error { return nil }

func (s *stubImagePosts) ListImagePostsByChatMessageID(context.Context, uint64) ([]*domain.ImagePost, error) {
	return nil, nil
}

func (s *stubImagePosts) ListStaleImagePosts(context.Context, time.Time) ([]*domain.ImagePost, error) {
	return nil, nil
}

func (s *stubImagePosts) ListImagePostsWithStaleModel(_ context.Context, _ string, afterID int64, limit int) ([]*domain.ImagePost, error) {
	s.queried = append(s.queried, afterID)
	var page []*domain.ImagePost
	for _, post := range s.stale {
		if post.ID <= afterID {
			continue
		}
		page = append(page, post)
		if len(page) == limit {
			break
		}
	}
	return page, nil
}

func (s *stubImagePosts) remove(id int64) {
	for i, post := range s.stale {
		if post.ID == id {
			s.stale = append(s.stale[:i], s.stale[i+1:]...)
			return
		}
	}
}

type stubExtractor struct {
	model string
	err   error
}

func (s *stubExtractor) ExtractImageFeatures(context.Context, string) (domain.ImageFeatures, error) {
	return domain.ImageFeatures{}, errors.New("не используется")
}

func (s *stubExtractor) ModelName(context.Context) (string, error) {
	return s.model, s.err
}

type stubQueue struct {
	published []domain.PostTracked
	err       error
	onPublish func(domain.PostTracked)
}

func (s *stubQueue) Publish(_ context.Context, event domain.PostTracked) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, event)
	if s.onPublish != nil {
		s.onPublish(event)
	}
	return nil
}

func (s *stubQueue) Receive(context.Context) (domain.PostTracked, domain.AckFunc, error) {
	return domain.PostTracked{}, nil, errors.New("не используется")
}

func post(id int64) *domain.ImagePost {
	return &domain.ImagePost{ID: id, IsAvailable: true}
}

func newScannerForTest(images *stubImagePosts, queue *stubQueue) *Scanner {
	s := NewScanner(zerolog.Nop(), images, &stubExtractor{model: "clip-vit-l-14"}, queue, 2, 75*time.Millisecond)
	s.sleep = func(context.Context, time.Duration) {}
	return s
}

func TestRunPublishesReevaluations(t *testing.T) {
	images := &stubImagePosts{stale: []*domain.ImagePost{post(1), post(2), post(3)}}
	queue := &stubQueue{}
	scanner := newScannerForTest(images, queue)

	published, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if published != 3 {
		t.Fatalf("ожидали 3 события, получили %d", published)
	}
	if len(queue.published) != 3 {
		t.Fatalf("ожидали 3 публикации, получили %d", len(queue.published))
	}
	for _, event := range queue.published {
		if !event.IsReevaluation {
			t.Fatalf("событие сканера должно быть переоценкой")
		}
		if event.PostType != domain.PostTypeImage {
			t.Fatalf("ожидали тип image, получили %q", event.PostType)
		}
	}
	// Граница страницы — последний увиденный id, не смещение.
	want := []int64{0, 2, 3}
	if len(images.queried) != len(want) {
		t.Fatalf("ожидали границы %v, получили %v", want, images.queried)
	}
	for i := range want {
		if images.queried[i] != want[i] {
			t.Fatalf("ожидали границы %v, получили %v", want, images.queried)
		}
	}
}

func TestRunDoesNotSkipPostsReevaluatedMidScan(t *testing.T) {
	// Оценщик работает параллельно со сканером: пересчитанный пост
	// сразу уходит из выборки. Страницы по последнему id должны
	// дойти до всех постов без пропусков.
	images := &stubImagePosts{stale: []*domain.ImagePost{post(1), post(2), post(3), post(4)}}
	queue := &stubQueue{}
	queue.onPublish = func(event domain.PostTracked) {
		images.remove(event.PostID)
	}
	scanner := newScannerForTest(images, queue)

	published, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if published != 4 {
		t.Fatalf("сканер должен переоценить все 4 поста, опубликовано %d", published)
	}
	seen := map[int64]bool{}
	for _, event := range queue.published {
		seen[event.PostID] = true
	}
	for id := int64(1); id <= 4; id++ {
		if !seen[id] {
			t.Fatalf("пост %d остался без переоценки, опубликованы %v", id, queue.published)
		}
	}
}

func TestRunEmptyDatabase(t *testing.T) {
	images := &stubImagePosts{}
	queue := &stubQueue{}
	scanner := newScannerForTest(images, queue)

	published, err := scanner.Run(context.Background())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if published != 0 {
		t.Fatalf("в пустой базе нечего публиковать, получили %d", published)
	}
}

func TestRunStopsOnPublishError(t *testing.T) {
	images := &stubImagePosts{stale: []*domain.ImagePost{post(1)}}
	queue := &stubQueue{err: errors.New("шина недоступна")}
	scanner := newScannerForTest(images, queue)

	published, err := scanner.Run(context.Background())
	if err == nil {
		t.Fatalf("ожидали ошибку публикации")
	}
	if published != 0 {
		t.Fatalf("счётчик не должен учитывать неудачную публикацию")
	}
}

func TestRunModelNameFailure(t *testing.T) {
	scanner := NewScanner(zerolog.Nop(), &stubImagePosts{}, &stubExtractor{err: errors.New("сервис недоступен")}, &stubQueue{}, 2, 0)

	if _, err := scanner.Run(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку запроса модели")
	}
}
