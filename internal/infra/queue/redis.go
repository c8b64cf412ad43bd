package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

// RedisPostTrackedQueue реализует шину PostTracked на Redis lists.
// Запасной вариант для окружений без RabbitMQ; семантика доставки
// хотя бы один раз сохраняется за счёт возврата в очередь при неудаче.
type RedisPostTrackedQueue struct {
	client      *redis.Client
	key         string
	maxAttempts int
}

type redisEnvelope struct {
	Attempts int                `json:"attempts"`
	Event    domain.PostTracked `json:"event"`
}

// NewRedisPostTrackedQueue создаёт очередь по указанному ключу.
func NewRedisPostTrackedQueue(client *redis.Client, key string, maxAttempts int) *RedisPostTrackedQueue {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &RedisPostTrackedQueue{client: client, key: key, maxAttempts: maxAttempts}
}

// Publish отправляет событие в очередь.
func (q *RedisPostTrackedQueue) Publish(ctx context.Context, event domain.PostTracked) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(redisEnvelope{Event: event})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}

// Receive блокирующе читает событие из очереди.
func (q *RedisPostTrackedQueue) Receive(ctx context.Context) (domain.PostTracked, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.PostTracked{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.PostTracked{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.PostTracked{}, nil, err
		}
		if len(res) != 2 {
			return domain.PostTracked{}, nil, errors.New("redis queue: unexpected response")
		}

		var envelope redisEnvelope
		if err := json.Unmarshal([]byte(res[1]), &envelope); err != nil {
			// Нечитаемое сообщение уводим в dead letter для разбора,
			// вместо того чтобы молча потерять после BRPop.
			if dlqErr := q.client.LPush(context.Background(), q.key+":dlq", res[1]).Err(); dlqErr != nil {
				return domain.PostTracked{}, nil, fmt.Errorf("dead letter poison event: %w", dlqErr)
			}
			metrics.EvaluationDeadLettered.Inc()
			return domain.PostTracked{}, nil, fmt.Errorf("decode event: %w", err)
		}

		ack := func(success bool) error {
			if success {
				return nil
			}
			envelope.Attempts++
			payload, err := json.Marshal(envelope)
			if err != nil {
				return fmt.Errorf("marshal requeue: %w", err)
			}
			target := q.key
			if envelope.Attempts >= q.maxAttempts {
				target = q.key + ":dlq"
				metrics.EvaluationDeadLettered.Inc()
			} else {
				metrics.EvaluationRetries.Inc()
			}
			if err := q.client.LPush(context.Background(), target, payload).Err(); err != nil {
				return fmt.Errorf("requeue event: %w", err)
			}
			return nil
		}
		return envelope.Event, ack, nil
	}
}
