package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"discord-repost-bot/internal/domain"
)

type stubImagePosts struct {
	created []*domain.ImagePost
	err     error
}

func (s *stubImagePosts) CreateImagePost(_ context.Context, post *domain.ImagePost) error {
	if s.err != nil {
		return s.err
	}
	post.ID = int64(len(s.created) + 1)
	s.created = append(s.created, post)
	return nil
}

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

func (s *stubImagePosts) ListImagePostsWithStaleModel(context.Context, string, int64, int) ([]*domain.ImagePost, error) {
	return nil, nil
}

type stubLinkPosts struct {
	created []*domain.LinkPost
}

func (s *stubLinkPosts) CreateLinkPost(_ context.Context, post *domain.LinkPost) error {
	post.ID = int64(len(s.created) + 1)
	s.created = append(s.created, post)
	return nil
}

func (s *stubLinkPosts) GetLinkPost(context.Context, int64) (*domain.LinkPost, error) {
	return nil, domain.ErrLinkPostNotFound
}

type stubQueue struct {
	published []domain.PostTracked
	err       error
}

func (s *stubQueue) Publish(_ context.Context, event domain.PostTracked) error {
	if s.err != nil {
		return s.err
	}
	s.published = append(s.published, event)
	return nil
}

func (s *stubQueue) Receive(context.Context) (domain.PostTracked, domain.AckFunc, error) {
	return domain.PostTracked{}, nil, errors.New("не используется")
}

type stubExecutor struct {
	commands []Command
}

func (s *stubExecutor) Execute(_ context.Context, cmd Command) error {
	s.commands = append(s.commands, cmd)
	return nil
}

func newTestService(images *stubImagePosts, links *stubLinkPosts, queue *stubQueue, exec *stubExecutor) *Service {
	svc := NewService(zerolog.Nop(), images, links, queue, exec, 299)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func msgID(id uint64) domain.ChatMessageIdentifier {
	return domain.ChatMessageIdentifier{GuildID: 1, ChannelID: 2, MessageID: id}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		msg  InboundMessage
		want MessageClass
	}{
		{
			name: "сообщение от бота игнорируется",
			msg:  InboundMessage{FromBot: true, Content: "<@42> help"},
			want: ClassNone,
		},
		{
			name: "упоминание бота — команда",
			msg:  InboundMessage{BotUserID: 42, Content: "<@42> help"},
			want: ClassCommand,
		},
		{
			name: "упоминание через ник — тоже команда",
			msg:  InboundMessage{BotUserID: 42, Content: "<@!42> about"},
			want: ClassCommand,
		},
		{
			name: "команда сильнее картинки",
			msg: InboundMessage{
				BotUserID: 42,
				Content:   "<@42> help",
				Attachments: []Attachment{
					{ID: 1, URL: "https://cdn.example.com/a.png", MediaType: "image/png", Width: 500, Height: 500},
				},
			},
			want: ClassCommand,
		},
		{
			name: "картинка сильнее ссылки",
			msg: InboundMessage{
				Content: "смотрите https://example.com/page",
				Attachments: []Attachment{
					{ID: 1, URL: "https://cdn.example.com/a.png", MediaType: "image/png", Width: 500, Height: 500},
				},
			},
			want: ClassImage,
		},
		{
			name: "маленькая картинка не считается",
			msg: InboundMessage{
				Attachments: []Attachment{
					{ID: 1, URL: "https://cdn.example.com/a.png", MediaType: "image/png", Width: 298, Height: 500},
				},
			},
			want: ClassNone,
		},
		{
			name: "не картинка и не видео не считается",
			msg: InboundMessage{
				Attachments: []Attachment{
					{ID: 1, URL: "https://cdn.example.com/a.pdf", MediaType: "application/pdf", Width: 500, Height: 500},
				},
			},
			want: ClassNone,
		},
		{
			name: "ссылка в тексте",
			msg:  InboundMessage{Content: "https://youtube.com/watch?v=abc"},
			want: ClassLink,
		},
		{
			name: "просто текст",
			msg:  InboundMessage{Content: "привет"},
			want: ClassText,
		},
		{
			name: "пустое сообщение",
			msg:  InboundMessage{},
			want: ClassNone,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.msg, 299)
			if got != tc.want {
				t.Fatalf("ожидали класс %q, получили %q", tc.want, got)
			}
		})
	}
}

func TestExtractCommand(t *testing.T) {
	if got := ExtractCommand("  <@42>   repost match  ", 42); got != "repost match" {
		t.Fatalf("ожидали %q, получили %q", "repost match", got)
	}
	if got := ExtractCommand("текст с <@42> внутри", 42); got != "" {
		t.Fatalf("упоминание не в начале не должно быть командой, получили %q", got)
	}
	if got := ExtractCommand("<@42> help", 0); got != "" {
		t.Fatalf("без идентификатора бота команда невозможна, получили %q", got)
	}
}

func TestProcessMessageTracksImages(t *testing.T) {
	images := &stubImagePosts{}
	queue := &stubQueue{}
	svc := newTestService(images, &stubLinkPosts{}, queue, &stubExecutor{})

	postedOn := time.Date(2024, 4, 30, 10, 0, 0, 0, time.UTC)
	err := svc.ProcessMessage(context.Background(), InboundMessage{
		ID:       msgID(100),
		PosterID: 7,
		PostedOn: postedOn,
		Attachments: []Attachment{
			{ID: 1, URL: "https://cdn.example.com/a.png", MediaType: "image/png", Width: 500, Height: 400},
			{ID: 2, URL: "https://cdn.example.com/b.png", MediaType: "image/png", Width: 100, Height: 100},
			{ID: 3, URL: "https://cdn.example.com/c.mp4", MediaType: "video/mp4", Width: 600, Height: 600},
		},
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(images.created) != 2 {
		t.Fatalf("ожидали 2 поста, получили %d", len(images.created))
	}
	if images.created[0].PostedOn != postedOn {
		t.Fatalf("время публикации должно браться из сообщения")
	}
	if len(queue.published) != 2 {
		t.Fatalf("ожидали 2 события, получили %d", len(queue.published))
	}
	for _, event := range queue.published {
		if event.PostType != domain.PostTypeImage {
			t.Fatalf("ожидали тип image, получили %q", event.PostType)
		}
		if event.IsReevaluation {
			t.Fatalf("обычная фиксация не должна помечаться переоценкой")
		}
	}
}

func TestProcessMessagePersistsBeforePublishing(t *testing.T) {
	images := &stubImagePosts{err: errors.New("база недоступна")}
	queue := &stubQueue{}
	svc := newTestService(images, &stubLinkPosts{}, queue, &stubExecutor{})

	err := svc.ProcessMessage(context.Background(), InboundMessage{
		ID: msgID(100),
		Attachments: []Attachment{
			{ID: 1, URL: "https://cdn.example.com/a.png", MediaType: "image/png", Width: 500, Height: 400},
		},
	})
	if err == nil {
		t.Fatalf("ожидали ошибку сохранения")
	}
	if len(queue.published) != 0 {
		t.Fatalf("событие не должно публиковаться без сохранённого поста")
	}
}

func TestProcessMessageTracksLinks(t *testing.T) {
	links := &stubLinkPosts{}
	queue := &stubQueue{}
	svc := newTestService(&stubImagePosts{}, links, queue, &stubExecutor{})

	err := svc.ProcessMessage(context.Background(), InboundMessage{
		ID:        msgID(101),
		PosterID:  7,
		Content:   "видео",
		EmbedURLs: []string{"https://youtu.be/abc123", "https://tenor.com/view/funny"},
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(links.created) != 1 {
		t.Fatalf("ожидали 1 пост со ссылкой, получили %d", len(links.created))
	}
	if links.created[0].Link.Provider != domain.LinkProviderYouTube {
		t.Fatalf("ожидали провайдера youtube, получили %q", links.created[0].Link.Provider)
	}
	if len(queue.published) != 1 || queue.published[0].PostType != domain.PostTypeLink {
		t.Fatalf("ожидали одно событие типа link")
	}
}

func TestProcessMessageRoutesCommands(t *testing.T) {
	exec := &stubExecutor{}
	queue := &stubQueue{}
	svc := newTestService(&stubImagePosts{}, &stubLinkPosts{}, queue, exec)

	ref := msgID(50)
	err := svc.ProcessMessage(context.Background(), InboundMessage{
		ID:         msgID(102),
		PosterID:   7,
		BotUserID:  42,
		Content:    "<@42> repost match",
		Referenced: &ref,
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if len(exec.commands) != 1 {
		t.Fatalf("ожидали одну команду, получили %d", len(exec.commands))
	}
	cmd := exec.commands[0]
	if cmd.Text != "repost match" {
		t.Fatalf("ожидали текст %q, получили %q", "repost match", cmd.Text)
	}
	if cmd.Referenced == nil || cmd.Referenced.MessageID != 50 {
		t.Fatalf("команда должна сохранять ссылку на отвечаемое сообщение")
	}
	if len(queue.published) != 0 {
		t.Fatalf("команда не должна порождать события отслеживания")
	}
}
