package tracking

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"discord-repost-bot/internal/domain"
)

// MessageClass — результат классификации входящего сообщения.
type MessageClass string

const (
	// ClassCommand — сообщение начинается с упоминания бота и содержит команду.
	ClassCommand MessageClass = "command"
	// ClassImage — сообщение с подходящими вложениями.
	ClassImage MessageClass = "image"
	// ClassLink — сообщение со ссылками.
	ClassLink MessageClass = "link"
	// ClassText — обычный текст, не отслеживается.
	ClassText MessageClass = "text"
	// ClassNone — нечего обрабатывать.
	ClassNone MessageClass = "none"
)

// Attachment — вложение входящего сообщения до нормализации.
type Attachment struct {
	ID        uint64
	URL       string
	FileName  string
	MediaType string
	Width     int
	Height    int
}

// InboundMessage — сырое сообщение из чата.
type InboundMessage struct {
	ID          domain.ChatMessageIdentifier
	PosterID    uint64
	PostedOn    time.Time
	Content     string
	FromBot     bool
	BotUserID   uint64
	Referenced  *domain.ChatMessageIdentifier
	Attachments []Attachment
	EmbedURLs   []string
}

var linkPattern = regexp.MustCompile(`(?:http(s)?://)?[\w.-]+(?:\.[\w.-]+)+[\w\-._~:/?#\[\]@!$&'()*+,;=%]+`)

// Classify относит сообщение к одному из классов. Порядок важен:
// команда сильнее картинки, картинка сильнее ссылки.
func Classify(msg InboundMessage, minImageSide int) MessageClass {
	if msg.FromBot {
		return ClassNone
	}
	if ExtractCommand(msg.Content, msg.BotUserID) != "" {
		return ClassCommand
	}
	if len(qualifyingAttachments(msg.Attachments, minImageSide)) > 0 {
		return ClassImage
	}
	if len(candidateLinks(msg)) > 0 {
		return ClassLink
	}
	if strings.TrimSpace(msg.Content) != "" {
		return ClassText
	}
	return ClassNone
}

// ExtractCommand возвращает текст команды, если сообщение начинается
// с упоминания бота. Пустая строка — не команда.
func ExtractCommand(content string, botUserID uint64) string {
	if botUserID == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(content)
	mentions := []string{
		fmt.Sprintf("<@%d>", botUserID),
		fmt.Sprintf("<@!%d>", botUserID),
	}
	for _, mention := range mentions {
		if strings.HasPrefix(trimmed, mention) {
			return strings.TrimSpace(strings.TrimPrefix(trimmed, mention))
		}
	}
	return ""
}

// qualifyingAttachments отбирает вложения, достойные отслеживания:
// картинки и видео с обеими сторонами не меньше минимума.
func qualifyingAttachments(attachments []Attachment, minSide int) []Attachment {
	var result []Attachment
	for _, a := range attachments {
		if !isImageOrVideo(a.MediaType) {
			continue
		}
		if a.Width < minSide || a.Height < minSide {
			continue
		}
		result = append(result, a)
	}
	return result
}

func isImageOrVideo(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || strings.HasPrefix(mediaType, "video/")
}

// candidateLinks собирает адреса из эмбедов, при их отсутствии —
// из текста сообщения регулярным выражением.
func candidateLinks(msg InboundMessage) []string {
	if len(msg.EmbedURLs) > 0 {
		return msg.EmbedURLs
	}
	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	var urls []string
	for _, match := range linkPattern.FindAllString(msg.Content, -1) {
		urls = append(urls, match)
	}
	return urls
}
