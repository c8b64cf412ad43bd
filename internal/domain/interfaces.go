package domain

import (
	"context"
	"time"
)

// ImagePostRepo управляет постами с картинками.
type ImagePostRepo interface {
	CreateImagePost(ctx context.Context, post *ImagePost) error
	// GetImagePost возвращает доступный пост или ErrImagePostNotFound.
	GetImagePost(ctx context.Context, id int64) (*ImagePost, error)
	// UpdateImagePost перезаписывает изменяемые поля поста: эмбеддинг,
	// время оценки, доступность, адрес вложения. Идемпотентно.
	UpdateImagePost(ctx context.Context, post *ImagePost) error
	ListImagePostsByChatMessageID(ctx context.Context, chatMessageID uint64) ([]*ImagePost, error)
	// ListStaleImagePosts возвращает доступные посты с эмбеддингом,
	// чей адрес вложения не обновлялся с cutoff, от самых старых.
	ListStaleImagePosts(ctx context.Context, cutoff time.Time) ([]*ImagePost, error)
	// ListImagePostsWithStaleModel возвращает доступные посты,
	// эмбеддинг которых посчитан не текущей моделью, с идентификатором
	// больше afterID, по возрастанию идентификатора.
	ListImagePostsWithStaleModel(ctx context.Context, currentModel string, afterID int64, limit int) ([]*ImagePost, error)
}

// LinkPostRepo управляет постами со ссылками.
type LinkPostRepo interface {
	CreateLinkPost(ctx context.Context, post *LinkPost) error
	// GetLinkPost возвращает пост или ErrLinkPostNotFound.
	GetLinkPost(ctx context.Context, id int64) (*LinkPost, error)
}

// ImagePostsReader выполняет поиск ближайших постов по эмбеддингу.
// Кандидаты отдаются по возрастанию расстояния, при равенстве — по PostedOn.
// Участвуют только доступные посты с непустым эмбеддингом; верхняя граница
// по времени строгая.
type ImagePostsReader interface {
	ClosestImagePosts(ctx context.Context, postedOnBefore time.Time, vector []float32, metric DistanceMetric, limit int) ([]ClosestImagePost, error)
	// ClosestWhitelistedImagePosts ищет среди вайтлистнутых постов,
	// добавленных в вайтлист строго раньше границы.
	ClosestWhitelistedImagePosts(ctx context.Context, postedOnBefore time.Time, vector []float32, metric DistanceMetric, limit int) ([]ClosestImagePost, error)
}

// LinkPostsReader ищет более ранние посты с той же ссылкой.
type LinkPostsReader interface {
	ClosestLinkPosts(ctx context.Context, postedOnBefore time.Time, link Link, limit int) ([]ClosestLinkPost, error)
}

// WhitelistRepo управляет вайтлистом модераторов.
type WhitelistRepo interface {
	CreateWhitelistedPost(ctx context.Context, post *WhitelistedPost) error
	GetWhitelistedPost(ctx context.Context, postID int64) (*WhitelistedPost, error)
	DeleteWhitelistedPost(ctx context.Context, postID int64) error
}

// PosterStats — счётчики постов по автору для команды stats.
type PosterStats struct {
	PosterID   uint64
	ImagePosts int64
	LinkPosts  int64
}

// StatsReader отдаёт агрегаты по отслеживаемым постам.
type StatsReader interface {
	TopPosters(ctx context.Context, limit int) ([]PosterStats, error)
}

// FetchedAttachment — вложение из заново прочитанного сообщения.
type FetchedAttachment struct {
	ID        uint64
	URL       string
	MediaType string
}

// FetchedMessage — сообщение, перечитанное из чата.
type FetchedMessage struct {
	Attachments []FetchedAttachment
}

// ChatClient — непрозрачный клиент чат-платформы.
type ChatClient interface {
	SendMessage(ctx context.Context, to ChatMessageIdentifier, text string) error
	React(ctx context.Context, to ChatMessageIdentifier, emoji string) error
	// GetMessageWithAttachments возвращает (nil, nil), если сообщение
	// или канал больше не существуют: это ожидаемый исход, не ошибка.
	GetMessageWithAttachments(ctx context.Context, id ChatMessageIdentifier) (*FetchedMessage, error)
}

// ImageFeatureExtractor — клиент внешнего сервиса эмбеддингов.
type ImageFeatureExtractor interface {
	// ExtractImageFeatures возвращает ErrContentUnavailable, если сервис
	// не смог скачать картинку по адресу.
	ExtractImageFeatures(ctx context.Context, imageURL string) (ImageFeatures, error)
	ModelName(ctx context.Context) (string, error)
}

// OnceGuard выполняет функцию не чаще одного раза на ключ в пределах TTL.
// Используется как ключ идемпотентности реакций при передоставке.
type OnceGuard interface {
	Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}
