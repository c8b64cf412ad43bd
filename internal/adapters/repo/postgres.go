package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Postgres реализует репозитории и читатели на основе pgxpool.
// Векторные колонки и операторы расстояния обеспечивает расширение pgvector.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ImagePostRepo    = (*Postgres)(nil)
	_ domain.LinkPostRepo     = (*Postgres)(nil)
	_ domain.ImagePostsReader = (*Postgres)(nil)
	_ domain.LinkPostsReader  = (*Postgres)(nil)
	_ domain.WhitelistRepo    = (*Postgres)(nil)
	_ domain.StatsReader      = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return p.connCtx()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// CreateImagePost сохраняет новый пост и проставляет ему идентификатор.
func (p *Postgres) CreateImagePost(ctx context.Context, post *domain.ImagePost) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO image_posts (posted_on, tracked_on, chat_guild_id, chat_channel_id, chat_message_id, poster_id,
                         image_id, image_uri, media_type, image_uri_fetched_at, is_post_available)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
RETURNING id
`,
		post.PostedOn, post.TrackedOn,
		int64(post.Message.GuildID), int64(post.Message.ChannelID), int64(post.Message.MessageID), int64(post.PosterID),
		int64(post.Image.ImageID), post.Image.ImageURI, post.Image.MediaType, post.Image.URIFetchedAt, post.IsAvailable,
	).Scan(&post.ID)
	metrics.ObserveNetworkRequest("postgres", "image_posts_insert", "image_posts", start, err)
	if err != nil {
		return fmt.Errorf("создание image post: %w", err)
	}
	return nil
}

const imagePostColumns = `
id, posted_on, tracked_on, evaluated_on,
chat_guild_id, chat_channel_id, chat_message_id, poster_id,
image_id, image_uri, COALESCE(media_type, ''), image_uri_fetched_at,
model_name, feature_vector, is_post_available`

func scanImagePost(row pgx.Row) (*domain.ImagePost, error) {
	var (
		post      domain.ImagePost
		guildID   int64
		channelID int64
		messageID int64
		posterID  int64
		imageID   int64
		modelName sql.NullString
		vector    *pgvector.Vector
	)
	err := row.Scan(
		&post.ID, &post.PostedOn, &post.TrackedOn, &post.EvaluatedOn,
		&guildID, &channelID, &messageID, &posterID,
		&imageID, &post.Image.ImageURI, &post.Image.MediaType, &post.Image.URIFetchedAt,
		&modelName, &vector, &post.IsAvailable,
	)
	if err != nil {
		return nil, err
	}
	post.Message = domain.ChatMessageIdentifier{
		GuildID:   uint64(guildID),
		ChannelID: uint64(channelID),
		MessageID: uint64(messageID),
	}
	post.PosterID = uint64(posterID)
	post.Image.ImageID = uint64(imageID)
	if modelName.Valid && vector != nil {
		post.Image.Features = &domain.ImageFeatures{
			ModelName:     modelName.String,
			FeatureVector: vector.Slice(),
		}
	}
	return &post, nil
}

// GetImagePost возвращает доступный пост по идентификатору.
func (p *Postgres) GetImagePost(ctx context.Context, id int64) (*domain.ImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	post, err := scanImagePost(p.pool.QueryRow(ctx, `
SELECT `+imagePostColumns+`
FROM image_posts
WHERE id = $1 AND is_post_available
`, id))
	metrics.ObserveNetworkRequest("postgres", "image_posts_get", "image_posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrImagePostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение image post: %w", err)
	}
	return post, nil
}

// UpdateImagePost перезаписывает изменяемые поля поста. Повторное
// применение с теми же данными даёт то же состояние.
func (p *Postgres) UpdateImagePost(ctx context.Context, post *domain.ImagePost) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		modelName sql.NullString
		vector    *pgvector.Vector
	)
	if post.Image.Features != nil {
		modelName = sql.NullString{String: post.Image.Features.ModelName, Valid: true}
		v := pgvector.NewVector(post.Image.Features.FeatureVector)
		vector = &v
	}

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE image_posts
SET evaluated_on = $2,
    image_uri = $3,
    media_type = NULLIF($4, ''),
    image_uri_fetched_at = $5,
    model_name = $6,
    feature_vector = $7,
    is_post_available = $8
WHERE id = $1
`, post.ID, post.EvaluatedOn, post.Image.ImageURI, post.Image.MediaType, post.Image.URIFetchedAt,
		modelName, vector, post.IsAvailable)
	metrics.ObserveNetworkRequest("postgres", "image_posts_update", "image_posts", start, err)
	if err != nil {
		return fmt.Errorf("обновление image post: %w", err)
	}
	return nil
}

// ListImagePostsByChatMessageID возвращает все посты сообщения:
// вложений в одном сообщении может быть несколько.
func (p *Postgres) ListImagePostsByChatMessageID(ctx context.Context, chatMessageID uint64) ([]*domain.ImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+imagePostColumns+`
FROM image_posts
WHERE chat_message_id = $1
ORDER BY id
`, int64(chatMessageID))
	metrics.ObserveNetworkRequest("postgres", "image_posts_by_message", "image_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("посты сообщения: %w", err)
	}
	defer rows.Close()
	return collectImagePosts(rows)
}

// ListStaleImagePosts возвращает посты с устаревшим адресом вложения.
func (p *Postgres) ListStaleImagePosts(ctx context.Context, cutoff time.Time) ([]*domain.ImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+imagePostColumns+`
FROM image_posts
WHERE is_post_available
  AND feature_vector IS NOT NULL
  AND (image_uri_fetched_at IS NULL OR image_uri_fetched_at < $1)
ORDER BY image_uri_fetched_at ASC NULLS FIRST
`, cutoff)
	metrics.ObserveNetworkRequest("postgres", "image_posts_stale", "image_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("устаревшие посты: %w", err)
	}
	defer rows.Close()
	return collectImagePosts(rows)
}

// Страницы идут по возрастанию id от последнего увиденного: переоценка
// убирает строку из выборки, и смещение пропускало бы ещё не обработанные
// посты. Недоступные посты не переоцениваются.
const staleModelQuery = `
SELECT ` + imagePostColumns + `
FROM image_posts
WHERE is_post_available
  AND feature_vector IS NOT NULL
  AND model_name IS DISTINCT FROM $1
  AND id > $2
ORDER BY id
LIMIT $3
`

// ListImagePostsWithStaleModel возвращает очередную страницу постов
// с эмбеддингом не от текущей модели.
func (p *Postgres) ListImagePostsWithStaleModel(ctx context.Context, currentModel string, afterID int64, limit int) ([]*domain.ImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, staleModelQuery, currentModel, afterID, limit)
	metrics.ObserveNetworkRequest("postgres", "image_posts_stale_model", "image_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("посты с устаревшей моделью: %w", err)
	}
	defer rows.Close()
	return collectImagePosts(rows)
}

func collectImagePosts(rows pgx.Rows) ([]*domain.ImagePost, error) {
	var posts []*domain.ImagePost
	for rows.Next() {
		post, err := scanImagePost(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение строки image post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}
