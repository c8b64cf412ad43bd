package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// CreateWhitelistedPost добавляет пост в вайтлист. Повторное добавление
// того же поста не создаёт дубликата.
func (p *Postgres) CreateWhitelistedPost(ctx context.Context, post *domain.WhitelistedPost) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO whitelisted_posts (post_id, whitelisted_on, whitelisted_by_id)
VALUES ($1, $2, $3)
ON CONFLICT (post_id) DO UPDATE SET post_id = EXCLUDED.post_id
RETURNING id
`, post.PostID, post.WhitelistedOn, int64(post.WhitelistedByID)).Scan(&post.ID)
	metrics.ObserveNetworkRequest("postgres", "whitelist_insert", "whitelisted_posts", start, err)
	if err != nil {
		return fmt.Errorf("добавление в вайтлист: %w", err)
	}
	return nil
}

// GetWhitelistedPost возвращает запись вайтлиста или nil, если её нет.
func (p *Postgres) GetWhitelistedPost(ctx context.Context, postID int64) (*domain.WhitelistedPost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		post domain.WhitelistedPost
		by   int64
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, post_id, whitelisted_on, whitelisted_by_id
FROM whitelisted_posts
WHERE post_id = $1
`, postID).Scan(&post.ID, &post.PostID, &post.WhitelistedOn, &by)
	metrics.ObserveNetworkRequest("postgres", "whitelist_get", "whitelisted_posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("чтение вайтлиста: %w", err)
	}
	post.WhitelistedByID = uint64(by)
	return &post, nil
}

// DeleteWhitelistedPost убирает пост из вайтлиста. Идемпотентно.
func (p *Postgres) DeleteWhitelistedPost(ctx context.Context, postID int64) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM whitelisted_posts WHERE post_id = $1`, postID)
	metrics.ObserveNetworkRequest("postgres", "whitelist_delete", "whitelisted_posts", start, err)
	if err != nil {
		return fmt.Errorf("удаление из вайтлиста: %w", err)
	}
	return nil
}

// TopPosters возвращает авторов с наибольшим числом отслеженных постов.
func (p *Postgres) TopPosters(ctx context.Context, limit int) ([]domain.PosterStats, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT poster_id,
       SUM(image_posts) AS image_posts,
       SUM(link_posts)  AS link_posts
FROM (
    SELECT poster_id, COUNT(*) AS image_posts, 0 AS link_posts
    FROM image_posts GROUP BY poster_id
    UNION ALL
    SELECT poster_id, 0, COUNT(*)
    FROM link_posts GROUP BY poster_id
) counts
GROUP BY poster_id
ORDER BY SUM(image_posts) + SUM(link_posts) DESC
LIMIT $1
`, limit)
	metrics.ObserveNetworkRequest("postgres", "top_posters", "image_posts", start, err)
	if err != nil {
		return nil, fmt.Errorf("статистика по авторам: %w", err)
	}
	defer rows.Close()

	var stats []domain.PosterStats
	for rows.Next() {
		var (
			s        domain.PosterStats
			posterID int64
		)
		if err := rows.Scan(&posterID, &s.ImagePosts, &s.LinkPosts); err != nil {
			return nil, fmt.Errorf("чтение статистики: %w", err)
		}
		s.PosterID = uint64(posterID)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}
