package repo

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"discord-repost-bot/internal/infra/metrics"
)

//go:embed schema.sql
var schema string

// Migrate приводит схему БД к актуальному виду. Все выражения
// идемпотентны, повторный запуск безопасен.
func (p *Postgres) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, schema)
	metrics.ObserveNetworkRequest("postgres", "migrate", "schema", start, err)
	if err != nil {
		return fmt.Errorf("миграция схемы: %w", err)
	}
	return nil
}
