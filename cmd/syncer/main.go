package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/adapters/embedder"
	"tg-content-pipeline/internal/adapters/index"
	"tg-content-pipeline/internal/adapters/mtproto"
	"tg-content-pipeline/internal/adapters/repo"
	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/cache"
	"tg-content-pipeline/internal/infra/config"
	"tg-content-pipeline/internal/infra/db"
	applog "tg-content-pipeline/internal/infra/log"
	"tg-content-pipeline/internal/infra/metrics"
	"tg-content-pipeline/internal/usecase/chunking"
	"tg-content-pipeline/internal/usecase/quality"
	syncusecase "tg-content-pipeline/internal/usecase/sync"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), ":9090")

	pool, err := db.Connect(cfg.PGDSN, index.RegisterVectorTypes)
	if err != nil {
		logger.Fatal().Err(err).Msg("syncer: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)
	clock := domain.SystemClock()

	var statsCache domain.Cache
	if cfg.RedisAddr != "" {
		statsCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
	} else {
		logger.Warn().Msg("syncer: REDIS_ADDR не задан, кэш статистики в памяти")
		statsCache = cache.NewMemory(clock)
	}

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("syncer: не заданы TG_API_ID / TG_API_HASH")
	}
	fetcher := mtproto.NewFetcher(cfg.Telegram.APIID, cfg.Telegram.APIHash, cfg.Telegram.SessionFile,
		logger.With().Str("component", "mtproto").Logger())

	// каналы из окружения регистрируются при старте: alias:tier:category
	if seeds := os.Getenv("SEED_CHANNELS"); seeds != "" {
		seedChannels(ctx, logger, fetcher, repoAdapter, seeds)
	}

	emb, err := embedder.NewOpenAI(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Timeout)
	if err != nil {
		logger.Fatal().Err(err).Msg("syncer: не удалось создать эмбеддер")
	}

	scorer := quality.NewScorer(repoAdapter, statsCache, clock, quality.NewKeywordToneDetector(),
		cfg.Quality.AvgViewsTTL, cfg.Quality.AvgViewsSample)
	chunker := chunking.NewEngine(cfg.Chunking.MaxSize, cfg.Chunking.Overlap)
	vectorIndex := index.NewPgvector(pool, clock)

	orchestrator := syncusecase.NewOrchestrator(
		syncusecase.Config{
			TickInterval:      cfg.Sync.TickInterval,
			HousekeepingTicks: cfg.Sync.HousekeepingTicks,
			MaxBatchPerTick:   cfg.Sync.MaxBatchPerTick,
			FetchLimit:        cfg.Sync.FetchLimit,
			MaxLookback:       cfg.Sync.MaxLookback,
			Workers:           cfg.Sync.Workers,
			ShutdownGrace:     cfg.Sync.ShutdownGrace,

			IngestionThreshold: cfg.Quality.IngestionThreshold,
			PollIntervals: map[domain.Tier]time.Duration{
				domain.TierHigh:   cfg.Tiers.High,
				domain.TierNormal: cfg.Tiers.Normal,
				domain.TierLow:    cfg.Tiers.Low,
			},
			ExpiryFor: cfg.ExpiryFor,
		},
		repoAdapter,
		repoAdapter,
		fetcher,
		scorer,
		chunker,
		emb,
		vectorIndex,
		clock,
		logger.With().Str("component", "sync").Logger(),
	)

	logger.Info().Msg("syncer: запуск цикла синхронизации")
	orchestrator.Run(ctx)
	logger.Info().Msg("syncer: остановлен")
}

// seedChannels регистрирует каналы из строки вида "alias:tier:category,...".
// Ошибка одного алиаса не мешает регистрации остальных.
func seedChannels(ctx context.Context, logger zerolog.Logger, resolver domain.ChannelResolver, channels domain.ChannelRepo, seeds string) {
	for _, entry := range strings.Split(seeds, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		alias := strings.TrimPrefix(parts[0], "@")

		tier := domain.TierNormal
		if len(parts) > 1 {
			n, err := strconv.Atoi(parts[1])
			if err != nil || n < int(domain.TierHigh) || n > int(domain.TierLow) {
				logger.Warn().Str("alias", alias).Str("tier", parts[1]).Msg("seed: некорректный приоритет, используется обычный")
			} else {
				tier = domain.Tier(n)
			}
		}
		category := ""
		if len(parts) > 2 {
			category = strings.TrimSpace(parts[2])
		}

		record, err := resolver.ResolvePublic(ctx, alias)
		if err != nil {
			logger.Warn().Err(err).Str("alias", alias).Msg("seed: канал не зарегистрирован")
			continue
		}
		record.Tier = tier
		record.Category = category
		if _, err := channels.UpsertChannel(ctx, record); err != nil {
			logger.Warn().Err(err).Str("alias", alias).Msg("seed: не удалось сохранить канал")
			continue
		}
		logger.Info().Str("alias", alias).Int("tier", int(tier)).Str("category", category).Msg("seed: канал зарегистрирован")
	}
}
