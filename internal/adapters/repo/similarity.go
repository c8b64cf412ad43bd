package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// distanceOrder возвращает SQL-выражение сортировки для метрики.
// Оператор <=> — косинусное расстояние, <-> — евклидово.
func distanceOrder(metric domain.DistanceMetric, column string) string {
	if metric == domain.MetricL2 {
		return column + " <-> $2"
	}
	return column + " <=> $2"
}

// ClosestImagePosts ищет ближайшие по эмбеддингу посты, размещённые
// строго раньше границы. Кандидаты без эмбеддинга и недоступные посты
// в выдачу не попадают.
func (p *Postgres) ClosestImagePosts(ctx context.Context, postedOnBefore time.Time, vector []float32, metric domain.DistanceMetric, limit int) ([]domain.ClosestImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT id, posted_on, chat_guild_id, chat_channel_id, chat_message_id, poster_id,
       feature_vector <-> $2 AS l2_distance,
       feature_vector <=> $2 AS cosine_distance,
       image_uri
FROM image_posts
WHERE is_post_available
  AND feature_vector IS NOT NULL
  AND posted_on < $1
ORDER BY ` + distanceOrder(metric, "feature_vector") + `, posted_on
LIMIT $3
`
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, postedOnBefore, pgvector.NewVector(vector), limit)
	metrics.ObserveNetworkRequest("postgres", "closest_image_posts", "image_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("поиск ближайших постов: %w", err)
	}
	defer rows.Close()

	return collectClosest(rows)
}

// ClosestWhitelistedImagePosts — тот же контракт расстояния и порядка,
// но через таблицу вайтлиста: граница по времени добавления в вайтлист.
func (p *Postgres) ClosestWhitelistedImagePosts(ctx context.Context, postedOnBefore time.Time, vector []float32, metric domain.DistanceMetric, limit int) ([]domain.ClosestImagePost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	query := `
SELECT ip.id, ip.posted_on, ip.chat_guild_id, ip.chat_channel_id, ip.chat_message_id, ip.poster_id,
       ip.feature_vector <-> $2 AS l2_distance,
       ip.feature_vector <=> $2 AS cosine_distance,
       ip.image_uri
FROM whitelisted_posts wp
JOIN image_posts ip ON ip.id = wp.post_id
WHERE ip.is_post_available
  AND ip.feature_vector IS NOT NULL
  AND wp.whitelisted_on < $1
ORDER BY ` + distanceOrder(metric, "ip.feature_vector") + `, ip.posted_on
LIMIT $3
`
	start := time.Now()
	rows, err := p.pool.Query(ctx, query, postedOnBefore, pgvector.NewVector(vector), limit)
	metrics.ObserveNetworkRequest("postgres", "closest_whitelisted_posts", "whitelisted_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("поиск по вайтлисту: %w", err)
	}
	defer rows.Close()

	return collectClosest(rows)
}

func collectClosest(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]domain.ClosestImagePost, error) {
	var result []domain.ClosestImagePost
	for rows.Next() {
		var (
			c         domain.ClosestImagePost
			guildID   int64
			channelID int64
			messageID int64
			posterID  int64
		)
		if err := rows.Scan(&c.ImagePostID, &c.PostedOn, &guildID, &channelID, &messageID, &posterID,
			&c.L2Distance, &c.CosineDistance, &c.ImageURI); err != nil {
			return nil, fmt.Errorf("чтение кандидата: %w", err)
		}
		c.Message = domain.ChatMessageIdentifier{
			GuildID:   uint64(guildID),
			ChannelID: uint64(channelID),
			MessageID: uint64(messageID),
		}
		c.PosterID = uint64(posterID)
		result = append(result, c)
	}
	return result, rows.Err()
}

// ClosestLinkPosts ищет более ранние посты с той же ссылкой.
// Совпадение провайдера и идентификатора — похожесть 1.
func (p *Postgres) ClosestLinkPosts(ctx context.Context, postedOnBefore time.Time, link domain.Link, limit int) ([]domain.ClosestLinkPost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, posted_on, chat_guild_id, chat_channel_id, chat_message_id, poster_id
FROM link_posts
WHERE posted_on < $1
  AND link_provider = $2
  AND link_id = $3
ORDER BY posted_on
LIMIT $4
`, postedOnBefore, string(link.Provider), link.LinkID, limit)
	metrics.ObserveNetworkRequest("postgres", "closest_link_posts", "link_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("поиск повторных ссылок: %w", err)
	}
	defer rows.Close()

	var result []domain.ClosestLinkPost
	for rows.Next() {
		var (
			c         domain.ClosestLinkPost
			guildID   int64
			channelID int64
			messageID int64
			posterID  int64
		)
		if err := rows.Scan(&c.LinkPostID, &c.PostedOn, &guildID, &channelID, &messageID, &posterID); err != nil {
			return nil, fmt.Errorf("чтение кандидата ссылки: %w", err)
		}
		c.Message = domain.ChatMessageIdentifier{
			GuildID:   uint64(guildID),
			ChannelID: uint64(channelID),
			MessageID: uint64(messageID),
		}
		c.PosterID = uint64(posterID)
		c.Similarity = 1
		result = append(result, c)
	}
	return result, rows.Err()
}
