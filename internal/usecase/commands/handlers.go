package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/usecase/tracking"
)

const helpText = "Команды:\n" +
	"`help` — этот список\n" +
	"`about` — что я умею\n" +
	"`repost match` — похожесть поста, на который вы ответили\n" +
	"`repost match all` — ближайшие совпадения списка\n" +
	"`repost where` — ссылка на оригинал\n" +
	"`repost whitelist` / `repost unwhitelist` — исключить пост из проверок и вернуть обратно\n" +
	"`stats` — самые активные авторы"

const aboutText = "Я слежу за картинками и ссылками в чате и помечаю репосты реакциями. " +
	"Похожесть картинок считается по эмбеддингам, ссылки сравниваются по нормализованному идентификатору."

type helpHandler struct {
	chat domain.ChatClient
}

func (h *helpHandler) Name() string { return "help" }

func (h *helpHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "help" {
		return false, nil
	}
	return true, h.chat.SendMessage(ctx, cmd.Message, helpText)
}

type aboutHandler struct {
	chat domain.ChatClient
}

func (h *aboutHandler) Name() string { return "about" }

func (h *aboutHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "about" {
		return false, nil
	}
	return true, h.chat.SendMessage(ctx, cmd.Message, aboutText)
}

// referencedImagePost находит пост с эмбеддингом по сообщению,
// на которое ответили командой. Возвращает (nil, "") с текстом подсказки,
// когда поста нет или он ещё не оценён.
func referencedImagePost(ctx context.Context, deps Deps, cmd tracking.Command) (*domain.ImagePost, string, error) {
	if cmd.Referenced == nil {
		return nil, "Ответьте командой на сообщение с картинкой.", nil
	}
	posts, err := deps.ImagePosts.ListImagePostsByChatMessageID(ctx, cmd.Referenced.MessageID)
	if err != nil {
		return nil, "", fmt.Errorf("не удалось найти посты сообщения: %w", err)
	}
	for _, post := range posts {
		if post.Image.Features != nil {
			return post, "", nil
		}
	}
	if len(posts) == 0 {
		return nil, "Это сообщение не отслеживается.", nil
	}
	return nil, "Пост ещё не оценён, попробуйте чуть позже.", nil
}

type matchHandler struct {
	deps Deps
}

func (h *matchHandler) Name() string { return "repost match" }

func (h *matchHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "repost match" {
		return false, nil
	}

	post, hint, err := referencedImagePost(ctx, h.deps, cmd)
	if err != nil {
		return true, err
	}
	if post == nil {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, hint)
	}

	closest, err := h.deps.ImageSearch.ClosestImagePosts(ctx, post.PostedOn, post.Image.Features.FeatureVector, domain.MetricCosine, 1)
	if err != nil {
		return true, fmt.Errorf("не удалось выполнить поиск похожих постов: %w", err)
	}
	if len(closest) == 0 {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Более ранних похожих постов нет.")
	}

	best := closest[0]
	text := fmt.Sprintf("Ближайший пост: %s\nПохожесть: %.4f (порог %.2f)", jumpLink(best.Message), best.CosineSimilarity(), h.deps.Threshold)

	entry, err := h.deps.Whitelist.GetWhitelistedPost(ctx, post.ID)
	if err != nil {
		return true, fmt.Errorf("не удалось проверить вайтлист: %w", err)
	}
	if entry != nil {
		text += "\nПост в вайтлисте: его репосты не помечаются."
	}
	return true, h.deps.Chat.SendMessage(ctx, cmd.Message, text)
}

type matchAllHandler struct {
	deps Deps
}

const matchAllLimit = 5

func (h *matchAllHandler) Name() string { return "repost match all" }

func (h *matchAllHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "repost match all" {
		return false, nil
	}

	post, hint, err := referencedImagePost(ctx, h.deps, cmd)
	if err != nil {
		return true, err
	}
	if post == nil {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, hint)
	}

	closest, err := h.deps.ImageSearch.ClosestImagePosts(ctx, post.PostedOn, post.Image.Features.FeatureVector, domain.MetricCosine, matchAllLimit)
	if err != nil {
		return true, fmt.Errorf("не удалось выполнить поиск похожих постов: %w", err)
	}
	if len(closest) == 0 {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Более ранних похожих постов нет.")
	}

	var sb strings.Builder
	sb.WriteString("Ближайшие посты:\n")
	for i, c := range closest {
		fmt.Fprintf(&sb, "%d. %s — %.4f\n", i+1, jumpLink(c.Message), c.CosineSimilarity())
	}
	return true, h.deps.Chat.SendMessage(ctx, cmd.Message, sb.String())
}

type whereHandler struct {
	deps Deps
}

func (h *whereHandler) Name() string { return "repost where" }

func (h *whereHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "repost where" {
		return false, nil
	}

	post, hint, err := referencedImagePost(ctx, h.deps, cmd)
	if err != nil {
		return true, err
	}
	if post == nil {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, hint)
	}

	closest, err := h.deps.ImageSearch.ClosestImagePosts(ctx, post.PostedOn, post.Image.Features.FeatureVector, domain.MetricCosine, 1)
	if err != nil {
		return true, fmt.Errorf("не удалось выполнить поиск похожих постов: %w", err)
	}
	if len(closest) == 0 || closest[0].CosineSimilarity() < h.deps.Threshold {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Оригинал не найден: похожих постов выше порога нет.")
	}
	return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Оригинал здесь: "+jumpLink(closest[0].Message))
}

type whitelistHandler struct {
	deps   Deps
	remove bool
}

func (h *whitelistHandler) Name() string {
	if h.remove {
		return "repost unwhitelist"
	}
	return "repost whitelist"
}

func (h *whitelistHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != h.Name() {
		return false, nil
	}

	if cmd.Referenced == nil {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Ответьте командой на сообщение с картинкой.")
	}
	posts, err := h.deps.ImagePosts.ListImagePostsByChatMessageID(ctx, cmd.Referenced.MessageID)
	if err != nil {
		return true, fmt.Errorf("не удалось найти посты сообщения: %w", err)
	}
	if len(posts) == 0 {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Это сообщение не отслеживается.")
	}

	if h.remove {
		for _, post := range posts {
			if err := h.deps.Whitelist.DeleteWhitelistedPost(ctx, post.ID); err != nil {
				return true, fmt.Errorf("не удалось убрать пост %d из вайтлиста: %w", post.ID, err)
			}
		}
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Пост снова участвует в проверках.")
	}

	now := time.Now().UTC()
	for _, post := range posts {
		entry := &domain.WhitelistedPost{
			PostID:          post.ID,
			WhitelistedOn:   now,
			WhitelistedByID: cmd.PosterID,
		}
		if err := h.deps.Whitelist.CreateWhitelistedPost(ctx, entry); err != nil {
			return true, fmt.Errorf("не удалось добавить пост %d в вайтлист: %w", post.ID, err)
		}
	}
	return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Пост добавлен в вайтлист: его репосты не будут помечаться.")
}

type statsHandler struct {
	deps Deps
}

const statsLimit = 10

func (h *statsHandler) Name() string { return "stats" }

func (h *statsHandler) TryHandle(ctx context.Context, cmd tracking.Command) (bool, error) {
	if cmd.Text != "stats" {
		return false, nil
	}

	top, err := h.deps.Stats.TopPosters(ctx, statsLimit)
	if err != nil {
		return true, fmt.Errorf("не удалось собрать статистику: %w", err)
	}
	if len(top) == 0 {
		return true, h.deps.Chat.SendMessage(ctx, cmd.Message, "Пока нечего считать.")
	}

	var sb strings.Builder
	sb.WriteString("Самые активные авторы:\n")
	for i, poster := range top {
		fmt.Fprintf(&sb, "%d. <@%d> — картинок: %d, ссылок: %d\n", i+1, poster.PosterID, poster.ImagePosts, poster.LinkPosts)
	}
	return true, h.deps.Chat.SendMessage(ctx, cmd.Message, sb.String())
}
