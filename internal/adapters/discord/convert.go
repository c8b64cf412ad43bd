package discord

import (
	"time"

	"github.com/bwmarrin/discordgo"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/usecase/tracking"
)

// ConvertMessage переводит событие создания сообщения во входную форму
// сервиса отслеживания.
func ConvertMessage(m *discordgo.MessageCreate, botUserID uint64) tracking.InboundMessage {
	msg := tracking.InboundMessage{
		ID: domain.ChatMessageIdentifier{
			GuildID:   parseID(m.GuildID),
			ChannelID: parseID(m.ChannelID),
			MessageID: parseID(m.ID),
		},
		Content:   m.Content,
		BotUserID: botUserID,
		PostedOn:  messageTimestamp(m.Message),
	}
	if m.Author != nil {
		msg.PosterID = parseID(m.Author.ID)
		msg.FromBot = m.Author.Bot
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		guildID := parseID(ref.GuildID)
		if guildID == 0 {
			guildID = msg.ID.GuildID
		}
		channelID := parseID(ref.ChannelID)
		if channelID == 0 {
			channelID = msg.ID.ChannelID
		}
		msg.Referenced = &domain.ChatMessageIdentifier{
			GuildID:   guildID,
			ChannelID: channelID,
			MessageID: parseID(ref.MessageID),
		}
	}

	for _, attachment := range m.Attachments {
		if attachment == nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, tracking.Attachment{
			ID:        parseID(attachment.ID),
			URL:       attachment.URL,
			FileName:  attachment.Filename,
			MediaType: attachment.ContentType,
			Width:     attachment.Width,
			Height:    attachment.Height,
		})
	}

	for _, embed := range m.Embeds {
		if embed == nil || embed.URL == "" {
			continue
		}
		msg.EmbedURLs = append(msg.EmbedURLs, embed.URL)
	}

	return msg
}

// messageTimestamp берёт время публикации из сообщения; при пустом
// значении остаётся текущее время.
func messageTimestamp(m *discordgo.Message) time.Time {
	if m != nil && !m.Timestamp.IsZero() {
		return m.Timestamp.UTC()
	}
	return time.Now().UTC()
}
