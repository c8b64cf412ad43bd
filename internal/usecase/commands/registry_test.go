package commands

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/usecase/tracking"
)

type stubChat struct {
	sent []string
}

func (s *stubChat) SendMessage(_ context.Context, _ domain.ChatMessageIdentifier, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

func (s *stubChat) React(context.Context, domain.ChatMessageIdentifier, string) error { return nil }

func (s *stubChat) GetMessageWithAttachments(context.Context, domain.ChatMessageIdentifier) (*domain.FetchedMessage, error) {
	return nil, nil
}

type stubImagePosts struct {
	byMessage map[uint64][]*domain.ImagePost
}

func (s *stubImagePosts) CreateImagePost(context.Context, *domain.ImagePost) error { return nil }

func (s *stubImagePosts) GetImagePost(context.Context, int64) (*domain.ImagePost, error) {
	return nil, domain.ErrImagePostNotFound
}

func (s *stubImagePosts) UpdateImagePost(context.Context, *domain.ImagePost) error { return nil }

func (s *stubImagePosts) ListImagePostsByChatMessageID(_ context.Context, id uint64) ([]*domain.ImagePost, error) {
	return s.byMessage[id], nil
}

func (s *stubImagePosts) ListStaleImagePosts(context.Context, time.Time) ([]*domain.ImagePost, error) {
	return nil, nil
}

func (s *stubImagePosts) ListImagePostsWithStaleModel(context.Context, string, int64, int) ([]*domain.ImagePost, error) {
	return nil, nil
}

type stubImageSearch struct {
	closest []domain.ClosestImagePost
}

func (s *stubImageSearch) ClosestImagePosts(context.Context, time.Time, []float32, domain.DistanceMetric, int) ([]domain.ClosestImagePost, error) {
	return s.closest, nil
}

func (s *stubImageSearch) ClosestWhitelistedImagePosts(context.Context, time.Time, []float32, domain.DistanceMetric, int) ([]domain.ClosestImagePost, error) {
	return nil, nil
}

type stubWhitelist struct {
	created []*domain.WhitelistedPost
	deleted []int64
	entries map[int64]*domain.WhitelistedPost
}

func (s *stubWhitelist) CreateWhitelistedPost(_ context.Context, post *domain.WhitelistedPost) error {
	s.created = append(s.created, post)
	return nil
}

func (s *stubWhitelist) GetWhitelistedPost(_ context.Context, postID int64) (*domain.WhitelistedPost, error) {
	return s.entries[postID], nil
}

func (s *stubWhitelist) DeleteWhitelistedPost(_ context.Context, postID int64) error {
	s.deleted = append(s.deleted, postID)
	return nil
}

type stubStats struct {
	top []domain.PosterStats
}

func (s *stubStats) TopPosters(context.Context, int) ([]domain.PosterStats, error) {
	return s.top, nil
}

var commandTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type commandFixture struct {
	chat      *stubChat
	images    *stubImagePosts
	search    *stubImageSearch
	whitelist *stubWhitelist
	stats     *stubStats
	registry  *Registry
}

func newCommandFixture() *commandFixture {
	f := &commandFixture{
		chat:      &stubChat{},
		images:    &stubImagePosts{byMessage: map[uint64][]*domain.ImagePost{}},
		search:    &stubImageSearch{},
		whitelist: &stubWhitelist{},
		stats:     &stubStats{},
	}
	f.registry = NewRegistry(zerolog.Nop(), Deps{
		Chat:        f.chat,
		ImagePosts:  f.images,
		ImageSearch: f.search,
		Whitelist:   f.whitelist,
		Stats:       f.stats,
		Threshold:   0.8,
	})
	return f
}

func (f *commandFixture) addEvaluatedPost(messageID uint64, postID int64) {
	image := domain.NewImage(1, "https://cdn.example.com/a.png", "image/png", commandTime)
	post := domain.NewImagePost(commandTime, domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: messageID}, 7, commandTime, *image)
	post.ID = postID
	post.SetImageFeatures(domain.ImageFeatures{ModelName: "clip-vit-b-32", FeatureVector: []float32{0.5}}, commandTime)
	f.images.byMessage[messageID] = append(f.images.byMessage[messageID], post)
}

func command(text string, referenced *domain.ChatMessageIdentifier) tracking.Command {
	return tracking.Command{
		Message:    domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 500},
		PosterID:   7,
		Referenced: referenced,
		Text:       text,
	}
}

func TestExecuteHelp(t *testing.T) {
	f := newCommandFixture()

	if err := f.registry.Execute(context.Background(), command("help", nil)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "`help`") {
		t.Fatalf("ожидали список команд, получили %v", f.chat.sent)
	}
}

func TestExecuteUnknownCommand(t *testing.T) {
	f := newCommandFixture()

	if err := f.registry.Execute(context.Background(), command("dance", nil)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "Не знаю такой команды") {
		t.Fatalf("ожидали ответ о неизвестной команде, получили %v", f.chat.sent)
	}
}

func TestExecuteMatch(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)
	f.search.closest = []domain.ClosestImagePost{{
		ImagePostID:    3,
		Message:        domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 30},
		CosineDistance: 0.05,
	}}

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost match", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(f.chat.sent) != 1 {
		t.Fatalf("ожидали один ответ, получили %d", len(f.chat.sent))
	}
	if !strings.Contains(f.chat.sent[0], "0.9500") {
		t.Fatalf("ответ должен содержать похожесть, получили %q", f.chat.sent[0])
	}
	if !strings.Contains(f.chat.sent[0], "https://discord.com/channels/1/2/30") {
		t.Fatalf("ответ должен содержать ссылку на пост, получили %q", f.chat.sent[0])
	}
}

func TestExecuteMatchMentionsWhitelist(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)
	f.whitelist.entries = map[int64]*domain.WhitelistedPost{
		10: {ID: 1, PostID: 10, WhitelistedByID: 9},
	}
	f.search.closest = []domain.ClosestImagePost{{
		ImagePostID:    3,
		Message:        domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 30},
		CosineDistance: 0.05,
	}}

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost match", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "Пост в вайтлисте") {
		t.Fatalf("ответ должен упоминать вайтлист, получили %v", f.chat.sent)
	}
}

func TestExecuteMatchWithoutReply(t *testing.T) {
	f := newCommandFixture()

	if err := f.registry.Execute(context.Background(), command("repost match", nil)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "Ответьте командой") {
		t.Fatalf("ожидали подсказку про ответ, получили %v", f.chat.sent)
	}
}

func TestExecuteMatchAllDoesNotCollideWithMatch(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)
	f.search.closest = []domain.ClosestImagePost{
		{ImagePostID: 3, Message: domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 30}, CosineDistance: 0.05},
		{ImagePostID: 4, Message: domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 40}, CosineDistance: 0.3},
	}

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost match all", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// Ровно один обработчик должен ответить.
	if len(f.chat.sent) != 1 {
		t.Fatalf("ожидали один ответ, получили %d", len(f.chat.sent))
	}
	if !strings.Contains(f.chat.sent[0], "1.") || !strings.Contains(f.chat.sent[0], "2.") {
		t.Fatalf("ответ должен содержать нумерованный список, получили %q", f.chat.sent[0])
	}
}

func TestExecuteWhereBelowThreshold(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)
	f.search.closest = []domain.ClosestImagePost{{
		ImagePostID:    3,
		Message:        domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 30},
		CosineDistance: 0.5,
	}}

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost where", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "Оригинал не найден") {
		t.Fatalf("слабое совпадение не должно выдаваться за оригинал, получили %v", f.chat.sent)
	}
}

func TestExecuteWhitelist(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost whitelist", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(f.whitelist.created) != 1 {
		t.Fatalf("ожидали одну запись в вайтлисте, получили %d", len(f.whitelist.created))
	}
	entry := f.whitelist.created[0]
	if entry.PostID != 10 || entry.WhitelistedByID != 7 {
		t.Fatalf("запись вайтлиста заполнена неверно: %+v", entry)
	}
}

func TestExecuteUnwhitelist(t *testing.T) {
	f := newCommandFixture()
	f.addEvaluatedPost(100, 10)

	ref := domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: 100}
	if err := f.registry.Execute(context.Background(), command("repost unwhitelist", &ref)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(f.whitelist.deleted) != 1 || f.whitelist.deleted[0] != 10 {
		t.Fatalf("ожидали удаление поста 10 из вайтлиста, получили %v", f.whitelist.deleted)
	}
	if len(f.whitelist.created) != 0 {
		t.Fatalf("unwhitelist не должен ничего создавать")
	}
}

func TestExecuteStats(t *testing.T) {
	f := newCommandFixture()
	f.stats.top = []domain.PosterStats{
		{PosterID: 7, ImagePosts: 12, LinkPosts: 3},
		{PosterID: 8, ImagePosts: 5, LinkPosts: 9},
	}

	if err := f.registry.Execute(context.Background(), command("stats", nil)); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(f.chat.sent) != 1 || !strings.Contains(f.chat.sent[0], "<@7>") {
		t.Fatalf("ответ должен упоминать авторов, получили %v", f.chat.sent)
	}
}
