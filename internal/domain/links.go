package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// LinkProvider различает источники ссылок с собственным форматом идентификатора.
type LinkProvider string

const (
	// LinkProviderGeneric — произвольная ссылка, идентификатор = путь.
	LinkProviderGeneric LinkProvider = "generic"
	// LinkProviderYouTube — видео на YouTube, идентификатор = id ролика.
	LinkProviderYouTube LinkProvider = "youtube"
	// LinkProviderSteamWorkshop — предмет мастерской Steam.
	LinkProviderSteamWorkshop LinkProvider = "steam_workshop"
)

// Link — неизменяемое значение отслеживаемой ссылки.
type Link struct {
	Provider LinkProvider
	LinkID   string
	LinkURI  string
}

// ParseLink нормализует ссылку и решает, интересна ли она.
// Возвращает nil для шумных хостов (гифки, эмодзи) и ссылок без пути.
func ParseLink(raw string) *Link {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return nil
	}

	host := strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")

	var provider LinkProvider
	var linkID string
	switch host {
	case "cdn.7tv.app", "tenor.com":
		return nil
	case "media.discordapp.net":
		if path.Ext(parsed.Path) == ".gif" {
			return nil
		}
		provider = LinkProviderGeneric
		linkID = strings.TrimPrefix(parsed.Path, "/")
	case "github.com":
		return nil
	case "youtube.com":
		provider = LinkProviderYouTube
		linkID = parsed.Query().Get("v")
	case "youtu.be":
		provider = LinkProviderYouTube
		linkID = strings.TrimPrefix(parsed.Path, "/")
	case "steamcommunity.com":
		if parsed.Path != "/sharedfiles/filedetails/" {
			provider = LinkProviderGeneric
			linkID = strings.TrimPrefix(parsed.Path, "/")
			break
		}
		provider = LinkProviderSteamWorkshop
		linkID = parsed.Query().Get("id")
	default:
		provider = LinkProviderGeneric
		linkID = strings.TrimPrefix(parsed.Path, "/")
	}

	if strings.TrimSpace(linkID) == "" {
		return nil
	}

	return &Link{Provider: provider, LinkID: linkID, LinkURI: raw}
}

// GetSimilarityTo сравнивает две ссылки: 1 при совпадении провайдера
// и идентификатора, иначе 0. Порога похожести для ссылок нет.
func (l Link) GetSimilarityTo(other Link) float64 {
	if l.Provider == other.Provider && l.LinkID == other.LinkID {
		return 1
	}
	return 0
}

// LinkPost — отслеживаемый пост со ссылкой. Эмбеддинга у него нет.
type LinkPost struct {
	ID        int64
	PostedOn  time.Time
	TrackedOn time.Time
	Message   ChatMessageIdentifier
	PosterID  uint64
	Link      Link
}

// NewLinkPost создаёт пост со ссылкой.
func NewLinkPost(postedOn time.Time, message ChatMessageIdentifier, posterID uint64, trackedOn time.Time, link Link) *LinkPost {
	return &LinkPost{
		PostedOn:  postedOn,
		TrackedOn: trackedOn,
		Message:   message,
		PosterID:  posterID,
		Link:      link,
	}
}
