package discord

import (
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

func TestConvertMessage(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	event := &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "300",
		GuildID:   "100",
		ChannelID: "200",
		Content:   "смотрите картинку",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "7", Bot: false},
		MessageReference: &discordgo.MessageReference{
			MessageID: "250",
		},
		Attachments: []*discordgo.MessageAttachment{
			{ID: "11", URL: "https://cdn.example.com/a.png", Filename: "a.png", ContentType: "image/png", Width: 500, Height: 400},
		},
		Embeds: []*discordgo.MessageEmbed{
			{URL: "https://youtu.be/abc"},
			{URL: ""},
		},
	}}

	msg := ConvertMessage(event, 42)

	if msg.ID.GuildID != 100 || msg.ID.ChannelID != 200 || msg.ID.MessageID != 300 {
		t.Fatalf("идентификатор сообщения разобран неверно: %+v", msg.ID)
	}
	if msg.PosterID != 7 || msg.FromBot {
		t.Fatalf("автор разобран неверно: poster=%d fromBot=%v", msg.PosterID, msg.FromBot)
	}
	if msg.BotUserID != 42 {
		t.Fatalf("идентификатор бота потерян")
	}
	if !msg.PostedOn.Equal(ts) {
		t.Fatalf("время публикации должно браться из сообщения")
	}
	if msg.Referenced == nil || msg.Referenced.MessageID != 250 {
		t.Fatalf("ссылка на отвечаемое сообщение потеряна: %+v", msg.Referenced)
	}
	// Пустые guild и channel в ссылке наследуются от самого сообщения.
	if msg.Referenced.GuildID != 100 || msg.Referenced.ChannelID != 200 {
		t.Fatalf("ссылка должна наследовать guild и channel: %+v", msg.Referenced)
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].ID != 11 || msg.Attachments[0].Width != 500 {
		t.Fatalf("вложение разобрано неверно: %+v", msg.Attachments)
	}
	if len(msg.EmbedURLs) != 1 || msg.EmbedURLs[0] != "https://youtu.be/abc" {
		t.Fatalf("эмбеды разобраны неверно: %v", msg.EmbedURLs)
	}
}

func TestConvertMessageWithoutAuthor(t *testing.T) {
	msg := ConvertMessage(&discordgo.MessageCreate{Message: &discordgo.Message{ID: "1", ChannelID: "2"}}, 42)
	if msg.PosterID != 0 || msg.FromBot {
		t.Fatalf("сообщение без автора должно давать нулевого автора")
	}
	if msg.PostedOn.IsZero() {
		t.Fatalf("время публикации не должно быть нулевым")
	}
}
