package domain

import "context"

// PostTracked публикуется после фиксации нового поста и потребляется
// только оценщиком репостов. IsReevaluation поднимается сканером миграции:
// такая доставка обновляет эмбеддинг, но никогда не ставит реакции.
type PostTracked struct {
	EventID        string   `json:"event_id,omitempty"`
	PostID         int64    `json:"post_id"`
	PostType       PostType `json:"post_type"`
	IsReevaluation bool     `json:"is_reevaluation,omitempty"`
}

// AckFunc подтверждает обработку сообщения или просит повторную доставку.
type AckFunc func(success bool) error

// PostTrackedQueue — шина событий PostTracked с доставкой хотя бы один раз.
type PostTrackedQueue interface {
	Publish(ctx context.Context, event PostTracked) error
	Receive(ctx context.Context) (PostTracked, AckFunc, error)
}
