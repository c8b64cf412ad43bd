package config

import (
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Discord struct {
		Token string `envconfig:"DISCORD_BOT_TOKEN"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	QueueDriver string `envconfig:"QUEUE_DRIVER" default:"rabbitmq"`
	RabbitURL   string `envconfig:"RABBITMQ_URL"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`

	Queues struct {
		PostTracked string `envconfig:"POST_TRACKED_QUEUE" default:"post_tracked"`
	} `envconfig:""`

	Extractor struct {
		URL     string        `envconfig:"EXTRACTOR_URL"`
		Timeout time.Duration `envconfig:"EXTRACTOR_TIMEOUT" default:"60s"`
	} `envconfig:""`

	Repost struct {
		SimilarityThreshold float64       `envconfig:"REPOST_SIMILARITY_THRESHOLD" default:"0.8"`
		Reactions           string        `envconfig:"REPOST_REACTIONS" default:"🚓,🚨"`
		ReactionDelay       time.Duration `envconfig:"REPOST_REACTION_DELAY" default:"500ms"`
		ReactionGuardTTL    time.Duration `envconfig:"REPOST_REACTION_GUARD_TTL" default:"24h"`
	} `envconfig:""`

	Evaluator struct {
		Workers      int           `envconfig:"EVALUATOR_WORKERS" default:"4"`
		MaxAttempts  int           `envconfig:"EVALUATOR_MAX_ATTEMPTS" default:"5"`
		RetryBackoff time.Duration `envconfig:"EVALUATOR_RETRY_BACKOFF" default:"1s"`
	} `envconfig:""`

	Refresher struct {
		RunInterval time.Duration `envconfig:"REFRESHER_RUN_INTERVAL" default:"6h"`
		Throttle    time.Duration `envconfig:"REFRESHER_THROTTLE" default:"500ms"`
	} `envconfig:""`

	Migration struct {
		PageSize int           `envconfig:"MIGRATION_PAGE_SIZE" default:"100"`
		Throttle time.Duration `envconfig:"MIGRATION_THROTTLE" default:"75ms"`
	} `envconfig:""`

	MinImageSide int `envconfig:"MIN_IMAGE_SIDE" default:"299"`
}

// ReactionList разбирает список эмодзи реакций из конфига.
func (c AppConfig) ReactionList() []string {
	parts := strings.Split(c.Repost.Reactions, ",")
	reactions := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			reactions = append(reactions, trimmed)
		}
	}
	return reactions
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
