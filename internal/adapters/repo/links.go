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

// CreateLinkPost сохраняет новый пост со ссылкой.
func (p *Postgres) CreateLinkPost(ctx context.Context, post *domain.LinkPost) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO link_posts (posted_on, tracked_on, chat_guild_id, chat_channel_id, chat_message_id, poster_id,
                        link_provider, link_id, link_uri)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id
`,
		post.PostedOn, post.TrackedOn,
		int64(post.Message.GuildID), int64(post.Message.ChannelID), int64(post.Message.MessageID), int64(post.PosterID),
		string(post.Link.Provider), post.Link.LinkID, post.Link.LinkURI,
	).Scan(&post.ID)
	metrics.ObserveNetworkRequest("postgres", "link_posts_insert", "link_posts", start, err)
	if err != nil {
		return fmt.Errorf("создание link post: %w", err)
	}
	return nil
}

// GetLinkPost возвращает пост со ссылкой по идентификатору.
func (p *Postgres) GetLinkPost(ctx context.Context, id int64) (*domain.LinkPost, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var (
		post      domain.LinkPost
		guildID   int64
		channelID int64
		messageID int64
		posterID  int64
		provider  string
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT id, posted_on, tracked_on, chat_guild_id, chat_channel_id, chat_message_id, poster_id,
       link_provider, link_id, link_uri
FROM link_posts
WHERE id = $1
`, id).Scan(&post.ID, &post.PostedOn, &post.TrackedOn, &guildID, &channelID, &messageID, &posterID,
		&provider, &post.Link.LinkID, &post.Link.LinkURI)
	metrics.ObserveNetworkRequest("postgres", "link_posts_get", "link_posts", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLinkPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("чтение link post: %w", err)
	}
	post.Message = domain.ChatMessageIdentifier{
		GuildID:   uint64(guildID),
		ChannelID: uint64(channelID),
		MessageID: uint64(messageID),
	}
	post.PosterID = uint64(posterID)
	post.Link.Provider = domain.LinkProvider(provider)
	return &post, nil
}
