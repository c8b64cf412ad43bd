package domain

import (
	"fmt"
	"math"
	"time"
)

// PostType различает виды отслеживаемых постов.
type PostType string

const (
	// PostTypeImage — пост с картинкой или видео.
	PostTypeImage PostType = "image"
	// PostTypeLink — пост со ссылкой.
	PostTypeLink PostType = "link"
)

// ChatMessageIdentifier однозначно определяет сообщение в Discord.
type ChatMessageIdentifier struct {
	GuildID   uint64
	ChannelID uint64
	MessageID uint64
}

// ImageFeatures хранит эмбеддинг картинки вместе с именем модели.
// Эмбеддинги разных моделей никогда не равны, даже при одинаковых числах:
// на этом держится поиск устаревших эмбеддингов при смене модели.
type ImageFeatures struct {
	ModelName     string
	FeatureVector []float32
}

// Equal сравнивает эмбеддинги покомпонентно, включая имя модели.
func (f ImageFeatures) Equal(other ImageFeatures) bool {
	if f.ModelName != other.ModelName {
		return false
	}
	if len(f.FeatureVector) != len(other.FeatureVector) {
		return false
	}
	for i := range f.FeatureVector {
		if f.FeatureVector[i] != other.FeatureVector[i] {
			return false
		}
	}
	return true
}

// Image — неизменяемое значение вложения. "Мутации" возвращают копию.
type Image struct {
	ImageID      uint64
	ImageURI     string
	MediaType    string
	URIFetchedAt *time.Time
	Features     *ImageFeatures
}

// NewImage строит значение вложения. Возвращает nil, если вложение
// не интересно для отслеживания.
func NewImage(imageID uint64, imageURI, mediaType string, fetchedAt time.Time) *Image {
	if imageID == 0 || imageURI == "" {
		return nil
	}
	at := fetchedAt
	return &Image{ImageID: imageID, ImageURI: imageURI, MediaType: mediaType, URIFetchedAt: &at}
}

// WithFeatures возвращает копию с новым эмбеддингом.
func (i Image) WithFeatures(features *ImageFeatures) Image {
	next := i
	next.Features = features
	return next
}

// WithRefreshedURI возвращает копию с обновлённым адресом вложения.
// Эмбеддинг сохраняется без изменений.
func (i Image) WithRefreshedURI(uri, mediaType string, fetchedAt time.Time) Image {
	next := i
	next.ImageURI = uri
	next.MediaType = mediaType
	at := fetchedAt
	next.URIFetchedAt = &at
	return next
}

// ImagePost — отслеживаемый пост с картинкой.
type ImagePost struct {
	ID          int64
	PostedOn    time.Time
	TrackedOn   time.Time
	EvaluatedOn *time.Time
	Message     ChatMessageIdentifier
	PosterID    uint64
	Image       Image
	IsAvailable bool
}

// NewImagePost создаёт пост для отслеживания.
func NewImagePost(postedOn time.Time, message ChatMessageIdentifier, posterID uint64, trackedOn time.Time, image Image) *ImagePost {
	return &ImagePost{
		PostedOn:    postedOn,
		TrackedOn:   trackedOn,
		Message:     message,
		PosterID:    posterID,
		Image:       image,
		IsAvailable: true,
	}
}

// SetImageFeatures сохраняет эмбеддинг и отмечает время оценки.
// Повторный вызов просто перезаписывает значение.
func (p *ImagePost) SetImageFeatures(features ImageFeatures, now time.Time) {
	p.Image = p.Image.WithFeatures(&features)
	p.EvaluatedOn = &now
}

// ClearImageFeatures сбрасывает эмбеддинг, когда контент недоступен.
// Пост остаётся, но перестаёт участвовать в поиске похожих.
func (p *ImagePost) ClearImageFeatures(now time.Time) {
	p.Image = p.Image.WithFeatures(nil)
	p.EvaluatedOn = &now
}

// MarkUnavailable помечает пост недоступным. Идемпотентно.
func (p *ImagePost) MarkUnavailable() {
	p.IsAvailable = false
}

// RefreshImageURL обновляет адрес вложения и возвращает пост в строй.
func (p *ImagePost) RefreshImageURL(uri, mediaType string, now time.Time) {
	p.Image = p.Image.WithRefreshedURI(uri, mediaType, now)
	p.IsAvailable = true
}

func (p *ImagePost) String() string {
	return fmt.Sprintf("ImagePost{id: %d, message: %d/%d/%d, poster: %d, postedOn: %s}",
		p.ID, p.Message.GuildID, p.Message.ChannelID, p.Message.MessageID, p.PosterID, p.PostedOn.Format(time.RFC3339))
}

// WhitelistedPost исключает пост (и его будущие репосты) из проверок.
type WhitelistedPost struct {
	ID              int64
	PostID          int64
	WhitelistedOn   time.Time
	WhitelistedByID uint64
}

// DistanceMetric выбирает метрику близости в векторном поиске.
type DistanceMetric string

const (
	// MetricCosine — косинусное расстояние.
	MetricCosine DistanceMetric = "cosine"
	// MetricL2 — евклидово расстояние.
	MetricL2 DistanceMetric = "l2"
)

// ClosestImagePost — кандидат из поиска ближайших постов.
type ClosestImagePost struct {
	ImagePostID    int64
	PostedOn       time.Time
	Message        ChatMessageIdentifier
	PosterID       uint64
	L2Distance     float64
	CosineDistance float64
	ImageURI       string
}

// CosineSimilarity переводит косинусное расстояние в похожесть.
func (c ClosestImagePost) CosineSimilarity() float64 {
	return Round8(1 - c.CosineDistance)
}

// ClosestLinkPost — кандидат из поиска повторных ссылок.
// Похожесть бинарная: точное совпадение провайдера и идентификатора.
type ClosestLinkPost struct {
	LinkPostID int64
	PostedOn   time.Time
	Message    ChatMessageIdentifier
	PosterID   uint64
	Similarity float64
}

// Round8 округляет до восьми знаков, чтобы сравнения похожести
// были стабильны между запросами и в тестах.
func Round8(x float64) float64 {
	return math.Round(x*1e8) / 1e8
}
