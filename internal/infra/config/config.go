package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов конвейера.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	Telegram struct {
		APIID       int    `envconfig:"TG_API_ID"`
		APIHash     string `envconfig:"TG_API_HASH"`
		SessionFile string `envconfig:"TG_SESSION_FILE"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	Embedding struct {
		BaseURL string        `envconfig:"EMBEDDING_BASE_URL" default:"https://api.openai.com/v1"`
		APIKey  string        `envconfig:"EMBEDDING_API_KEY"`
		Model   string        `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
		Timeout time.Duration `envconfig:"EMBEDDING_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Sync struct {
		TickInterval      time.Duration `envconfig:"SYNC_TICK_INTERVAL" default:"30s"`
		HousekeepingTicks int           `envconfig:"SYNC_HOUSEKEEPING_TICKS" default:"20"`
		MaxBatchPerTick   int           `envconfig:"SYNC_MAX_BATCH_PER_TICK" default:"20"`
		FetchLimit        int           `envconfig:"SYNC_FETCH_LIMIT" default:"50"`
		MaxLookback       time.Duration `envconfig:"SYNC_MAX_LOOKBACK" default:"168h"`
		Workers           int           `envconfig:"SYNC_WORKERS" default:"4"`
		ShutdownGrace     time.Duration `envconfig:"SYNC_SHUTDOWN_GRACE" default:"15s"`
	} `envconfig:""`

	Tiers struct {
		High   time.Duration `envconfig:"POLL_INTERVAL_TIER_HIGH" default:"15m"`
		Normal time.Duration `envconfig:"POLL_INTERVAL_TIER_NORMAL" default:"1h"`
		Low    time.Duration `envconfig:"POLL_INTERVAL_TIER_LOW" default:"6h"`
	} `envconfig:""`

	Quality struct {
		IngestionThreshold float64       `envconfig:"INGESTION_THRESHOLD" default:"6.0"`
		AvgViewsTTL        time.Duration `envconfig:"AVG_VIEWS_TTL" default:"1h"`
		AvgViewsSample     int           `envconfig:"AVG_VIEWS_SAMPLE" default:"50"`
	} `envconfig:""`

	Chunking struct {
		MaxSize int `envconfig:"CHUNK_MAX_SIZE" default:"2000"`
		Overlap int `envconfig:"CHUNK_OVERLAP" default:"300"`
	} `envconfig:""`

	Index struct {
		MinSimilarity     float64        `envconfig:"MIN_SIMILARITY" default:"0.4"`
		FreshnessCap      float64        `envconfig:"FRESHNESS_BONUS_CAP" default:"0.1"`
		ExpiryDays        map[string]int `envconfig:"EXPIRY_DAYS_BY_CATEGORY" default:"promo:30,cases:365,faq:730"`
		DefaultExpiryDays int            `envconfig:"EXPIRY_DAYS_DEFAULT" default:"180"`
	} `envconfig:""`

	Retrieval struct {
		TopK int `envconfig:"RETRIEVAL_TOP_K" default:"5"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}

// PollInterval возвращает минимальный интервал опроса для уровня приоритета.
func (c AppConfig) PollInterval(tier int) time.Duration {
	switch tier {
	case 1:
		return c.Tiers.High
	case 3:
		return c.Tiers.Low
	default:
		return c.Tiers.Normal
	}
}

// ExpiryFor возвращает срок жизни записей категории.
func (c AppConfig) ExpiryFor(category string) time.Duration {
	days, ok := c.Index.ExpiryDays[category]
	if !ok {
		days = c.Index.DefaultExpiryDays
	}
	return time.Duration(days) * 24 * time.Hour
}
