package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"discord-repost-bot/internal/domain"
	"discord-repost-bot/internal/infra/metrics"
)

const attemptsHeader = "x-attempts"

// RabbitPostTrackedQueue реализует шину PostTracked поверх AMQP.
// Повторная доставка идёт через retry-очередь с растущим TTL,
// после превышения лимита попыток сообщение уходит в dead letter.
type RabbitPostTrackedQueue struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	maxAttempts int
	baseBackoff time.Duration

	// Один consumer на очередь: Receive зовут несколько воркеров,
	// инициализация защищена мьютексом.
	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitPostTrackedQueue подключается к RabbitMQ и объявляет топологию.
func NewRabbitPostTrackedQueue(amqpURL, queueName string, maxAttempts int, baseBackoff time.Duration) (*RabbitPostTrackedQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if baseBackoff <= 0 {
		baseBackoff = time.Second
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queueName,
	}
	if _, err := ch.QueueDeclare(queueName+".retry", true, false, false, false, retryArgs); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare retry queue: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName+".dlq", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare dead letter queue: %w", err)
	}

	return &RabbitPostTrackedQueue{
		conn:        conn,
		ch:          ch,
		queue:       queueName,
		maxAttempts: maxAttempts,
		baseBackoff: baseBackoff,
	}, nil
}

// Publish отправляет событие в очередь.
func (q *RabbitPostTrackedQueue) Publish(ctx context.Context, event domain.PostTracked) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.EventID,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (q *RabbitPostTrackedQueue) consumeChannel() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("start consume: %w", err)
		}
		q.deliveries = deliveries
	}
	return q.deliveries, nil
}

// Receive блокирующе читает событие. Возвращённый ack подтверждает
// обработку либо планирует повторную доставку с нарастающей задержкой.
func (q *RabbitPostTrackedQueue) Receive(ctx context.Context) (domain.PostTracked, domain.AckFunc, error) {
	deliveries, err := q.consumeChannel()
	if err != nil {
		return domain.PostTracked{}, nil, err
	}

	select {
	case <-ctx.Done():
		return domain.PostTracked{}, nil, ctx.Err()
	case delivery, ok := <-deliveries:
		if !ok {
			return domain.PostTracked{}, nil, errors.New("delivery channel closed")
		}
		var event domain.PostTracked
		if err := json.Unmarshal(delivery.Body, &event); err != nil {
			// Нечитаемое сообщение повторять бессмысленно, но терять
			// нельзя: уводим его в dead letter для разбора.
			q.deadLetter(delivery)
			return domain.PostTracked{}, nil, fmt.Errorf("decode event: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return delivery.Ack(false)
			}
			return q.scheduleRetry(delivery)
		}
		return event, ack, nil
	}
}

func (q *RabbitPostTrackedQueue) deadLetter(delivery amqp.Delivery) {
	start := time.Now()
	err := q.ch.PublishWithContext(context.Background(), "", q.queue+".dlq", false, false, amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    delivery.MessageId,
		Headers:      delivery.Headers,
		Body:         delivery.Body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "dead_letter", q.queue+".dlq", start, err)
	if err != nil {
		// Не смогли увести в dead letter — вернём в очередь, чтобы
		// сообщение не пропало между рестартами.
		_ = delivery.Nack(false, true)
		return
	}
	metrics.EvaluationDeadLettered.Inc()
	_ = delivery.Ack(false)
}

func (q *RabbitPostTrackedQueue) scheduleRetry(delivery amqp.Delivery) error {
	attempts := deliveryAttempts(delivery) + 1

	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[attemptsHeader] = int32(attempts)

	target := q.queue + ".retry"
	publishing := amqp.Publishing{
		ContentType:  delivery.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    delivery.MessageId,
		Headers:      headers,
		Body:         delivery.Body,
	}

	if attempts >= q.maxAttempts {
		target = q.queue + ".dlq"
		metrics.EvaluationDeadLettered.Inc()
	} else {
		backoff := q.baseBackoff << (attempts - 1)
		publishing.Expiration = strconv.FormatInt(backoff.Milliseconds(), 10)
		metrics.EvaluationRetries.Inc()
	}

	start := time.Now()
	err := q.ch.PublishWithContext(context.Background(), "", target, false, false, publishing)
	metrics.ObserveNetworkRequest("rabbitmq", "retry_publish", target, start, err)
	if err != nil {
		// Не удалось перепланировать — вернём сообщение в очередь как есть.
		return delivery.Nack(false, true)
	}
	return delivery.Ack(false)
}

func deliveryAttempts(delivery amqp.Delivery) int {
	raw, ok := delivery.Headers[attemptsHeader]
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// Close закрывает канал и подключение.
func (q *RabbitPostTrackedQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		q.conn.Close()
		return err
	}
	return q.conn.Close()
}
