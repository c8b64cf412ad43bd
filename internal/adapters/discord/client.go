package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// Client реализует domain.ChatClient поверх discordgo.
type Client struct {
	session *discordgo.Session
}

var _ domain.ChatClient = (*Client)(nil)

// NewClient оборачивает активную сессию Discord.
func NewClient(session *discordgo.Session) *Client {
	return &Client{session: session}
}

// SendMessage отправляет ответ в канал, ссылаясь на исходное сообщение.
func (c *Client) SendMessage(ctx context.Context, to domain.ChatMessageIdentifier, text string) error {
	reference := &discordgo.MessageReference{
		GuildID:   formatID(to.GuildID),
		ChannelID: formatID(to.ChannelID),
		MessageID: formatID(to.MessageID),
	}
	start := time.Now()
	_, err := c.session.ChannelMessageSendReply(formatID(to.ChannelID), text, reference, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "send_message", formatID(to.ChannelID), start, err)
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// React ставит реакцию на сообщение.
func (c *Client) React(ctx context.Context, to domain.ChatMessageIdentifier, emoji string) error {
	start := time.Now()
	err := c.session.MessageReactionAdd(formatID(to.ChannelID), formatID(to.MessageID), emoji, discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "react", formatID(to.ChannelID), start, err)
	if err != nil {
		return fmt.Errorf("discord: add reaction: %w", err)
	}
	return nil
}

// GetMessageWithAttachments перечитывает сообщение. Отсутствие сообщения
// или канала — ожидаемый исход, возвращается (nil, nil).
func (c *Client) GetMessageWithAttachments(ctx context.Context, id domain.ChatMessageIdentifier) (*domain.FetchedMessage, error) {
	start := time.Now()
	message, err := c.session.ChannelMessage(formatID(id.ChannelID), formatID(id.MessageID), discordgo.WithContext(ctx))
	metrics.ObserveNetworkRequest("discord", "get_message", formatID(id.ChannelID), start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("discord: get message: %w", err)
	}

	fetched := &domain.FetchedMessage{}
	for _, attachment := range message.Attachments {
		fetched.Attachments = append(fetched.Attachments, domain.FetchedAttachment{
			ID:        parseID(attachment.ID),
			URL:       attachment.URL,
			MediaType: attachment.ContentType,
		})
	}
	return fetched, nil
}

func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild:
		return true
	}
	return false
}

func formatID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func parseID(id string) uint64 {
	parsed, _ := strconv.ParseUint(id, 10, 64)
	return parsed
}
