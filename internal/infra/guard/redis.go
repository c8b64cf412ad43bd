package guard

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOnceGuard реализует domain.OnceGuard через Redis SetNX.
// Ключ живёт ограниченное время: передоставка того же события
// в пределах TTL не приводит к повторным реакциям.
type RedisOnceGuard struct {
	client *redis.Client
}

// NewRedisOnceGuard создаёт ключ идемпотентности.
func NewRedisOnceGuard(client *redis.Client) *RedisOnceGuard {
	return &RedisOnceGuard{client: client}
}

// Once выполняет функцию, если ключ ещё не был взят.
func (g *RedisOnceGuard) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	ok, err := g.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := fn(); err != nil {
		_ = g.client.Del(ctx, key).Err()
		return err
	}
	return nil
}

// NopOnceGuard всегда выполняет функцию. Используется, когда Redis
// не настроен и дубликаты реакций при передоставке допустимы.
type NopOnceGuard struct{}

// Once выполняет функцию без проверки ключа.
func (NopOnceGuard) Once(_ context.Context, _ string, _ time.Duration, fn func() error) error {
	return fn()
}
