package sync

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/metrics"
	"tg-content-pipeline/internal/usecase/chunking"
	"tg-content-pipeline/internal/usecase/quality"
)

// Config задаёт параметры цикла синхронизации.
type Config struct {
	TickInterval      time.Duration
	HousekeepingTicks int
	MaxBatchPerTick   int
	FetchLimit        int
	MaxLookback       time.Duration
	Workers           int
	ShutdownGrace     time.Duration

	IngestionThreshold float64
	PollIntervals      map[domain.Tier]time.Duration
	ExpiryFor          func(category string) time.Duration
}

func (c *Config) defaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.HousekeepingTicks <= 0 {
		c.HousekeepingTicks = 20
	}
	if c.MaxBatchPerTick <= 0 {
		c.MaxBatchPerTick = 20
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 50
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 15 * time.Second
	}
	if c.PollIntervals == nil {
		c.PollIntervals = map[domain.Tier]time.Duration{
			domain.TierHigh:   15 * time.Minute,
			domain.TierNormal: time.Hour,
			domain.TierLow:    6 * time.Hour,
		}
	}
	if c.ExpiryFor == nil {
		c.ExpiryFor = func(string) time.Duration { return 180 * 24 * time.Hour }
	}
}

// Orchestrator — единственный координирующий цикл конвейера: каждый тик
// последовательно выполняет фазы Fetch, Score, Sync и Housekeeping.
// Всё состояние между фазами хранится во внешнем хранилище, поэтому
// перезапуск процесса продолжает работу без повторной обработки.
type Orchestrator struct {
	cfg      Config
	channels domain.ChannelRepo
	items    domain.ItemRepo
	source   domain.ChannelSource
	scorer   *quality.Scorer
	chunker  *chunking.Engine
	embedder domain.Embedder
	index    domain.VectorIndex
	clock    domain.Clock
	log      zerolog.Logger

	ticks int

	mu         sync.Mutex
	categories map[int64]string
}

// NewOrchestrator создаёт оркестратор.
func NewOrchestrator(
	cfg Config,
	channels domain.ChannelRepo,
	items domain.ItemRepo,
	source domain.ChannelSource,
	scorer *quality.Scorer,
	chunker *chunking.Engine,
	embedder domain.Embedder,
	index domain.VectorIndex,
	clock domain.Clock,
	log zerolog.Logger,
) *Orchestrator {
	cfg.defaults()
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Orchestrator{
		cfg:      cfg,
		channels: channels,
		items:    items,
		source:   source,
		scorer:   scorer,
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		clock:    clock,
		log:      log,
	}
}

// Run крутит цикл до отмены контекста. Между тиками цикл спит;
// незавершённая фаза получает ограниченное время на завершение.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	o.log.Info().Dur("tick", o.cfg.TickInterval).Msg("sync: цикл запущен")
	for {
		select {
		case <-ctx.Done():
			o.log.Info().Msg("sync: остановка цикла")
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(context.Background(), o.cfg.TickInterval+o.cfg.ShutdownGrace)
			o.Tick(tickCtx)
			cancel()
		}
	}
}

// Tick выполняет один полный проход фаз. Вынесен отдельно для тестов.
func (o *Orchestrator) Tick(ctx context.Context) {
	o.ticks++
	o.refreshCategories(ctx)
	o.runFetch(ctx)
	o.runScore(ctx)
	o.runSync(ctx)
	if o.ticks%o.cfg.HousekeepingTicks == 0 {
		o.runHousekeeping(ctx)
	}
}

// runFetch опрашивает каналы, чей интервал опроса истёк. Ошибка одного
// канала логируется и не прерывает опрос остальных.
func (o *Orchestrator) runFetch(ctx context.Context) {
	start := o.clock.Now()
	defer metrics.ObservePhase("fetch", time.Now())

	channels, err := o.channels.ListChannels(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("fetch: не удалось получить список каналов")
		return
	}

	for _, channel := range channels {
		if !o.pollDue(channel, start) {
			continue
		}
		items, err := o.source.Poll(ctx, channel, o.cfg.FetchLimit, o.cfg.MaxLookback)
		if err != nil {
			metrics.FetchErrors.WithLabelValues(channel.Alias).Inc()
			if incErr := o.channels.IncrementErrorCount(ctx, channel.ID); incErr != nil {
				o.log.Error().Err(incErr).Int64("channel", channel.ID).Msg("fetch: не удалось записать счётчик ошибок")
			}
			metrics.ChannelErrorCount.WithLabelValues(channel.Alias).Set(float64(channel.ErrorCount + 1))
			level := o.log.Warn()
			if errors.Is(err, domain.ErrPermanentFetch) {
				level = o.log.Error()
			}
			level.Err(err).Int64("channel", channel.ID).Str("alias", channel.Alias).Msg("fetch: ошибка опроса канала")
			continue
		}

		saved := 0
		if len(items) > 0 {
			saved, err = o.items.SaveItems(ctx, channel.ID, items)
			if err != nil {
				o.log.Error().Err(err).Int64("channel", channel.ID).Msg("fetch: не удалось сохранить элементы")
				continue
			}
			metrics.ItemsFetched.Add(float64(saved))
		}

		// водяной знак двигается и при пустой выборке: факт опроса фиксируется
		lastMsgID := channel.LastMsgID
		for _, item := range items {
			if item.TGMsgID > lastMsgID {
				lastMsgID = item.TGMsgID
			}
		}
		if err := o.channels.AdvanceWatermark(ctx, channel.ID, lastMsgID, o.clock.Now()); err != nil {
			o.log.Error().Err(err).Int64("channel", channel.ID).Msg("fetch: не удалось сдвинуть водяной знак")
			continue
		}
		o.log.Debug().Int64("channel", channel.ID).Int("new_items", saved).Msg("fetch: канал опрошен")
	}
}

func (o *Orchestrator) pollDue(channel domain.ChannelRecord, now time.Time) bool {
	if channel.LastFetchedAt == nil {
		return true
	}
	interval, ok := o.cfg.PollIntervals[channel.Tier]
	if !ok {
		interval = o.cfg.PollIntervals[domain.TierNormal]
	}
	return now.Sub(*channel.LastFetchedAt) >= interval
}

// runScore оценивает неоценённые элементы, ограниченно по пакету на тик.
// Ошибка оценки одного элемента не блокирует остальные.
func (o *Orchestrator) runScore(ctx context.Context) {
	defer metrics.ObservePhase("score", time.Now())

	items, err := o.items.ListUnscored(ctx, o.cfg.MaxBatchPerTick)
	if err != nil {
		o.log.Error().Err(err).Msg("score: не удалось получить элементы")
		return
	}
	for _, item := range items {
		qa, err := o.scorer.Score(ctx, item)
		if err != nil {
			o.log.Warn().Err(err).Int64("channel", item.ChannelID).Int64("item", item.ID).Msg("score: элемент пропущен")
			continue
		}
		if err := o.items.SaveAssessment(ctx, item.ID, qa); err != nil {
			o.log.Error().Err(err).Int64("item", item.ID).Msg("score: не удалось сохранить оценку")
			continue
		}
		metrics.ItemsScored.Inc()
		if qa.Score < o.cfg.IngestionThreshold {
			if err := o.items.MarkSkipped(ctx, item.ID); err != nil {
				o.log.Error().Err(err).Int64("item", item.ID).Msg("score: не удалось пометить пропуск")
			}
		}
	}
}

// runSync превращает прошедшие порог элементы в записи индекса:
// разбиение, эмбеддинг и запись идут на ограниченном пуле воркеров,
// записи одного ключа дедупликации сериализует само хранилище.
func (o *Orchestrator) runSync(ctx context.Context) {
	defer metrics.ObservePhase("sync", time.Now())

	items, err := o.items.ListScoredUnindexed(ctx, o.cfg.IngestionThreshold, o.cfg.MaxBatchPerTick)
	if err != nil {
		o.log.Error().Err(err).Msg("sync: не удалось получить элементы")
		return
	}
	if len(items) == 0 {
		return
	}

	pool, err := ants.NewPool(o.cfg.Workers)
	if err != nil {
		o.log.Error().Err(err).Msg("sync: не удалось создать пул воркеров")
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, item := range items {
		item := item
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			o.syncItem(ctx, item)
		})
		if submitErr != nil {
			wg.Done()
			o.log.Error().Err(submitErr).Int64("item", item.ID).Msg("sync: задача не поставлена в пул")
		}
	}
	wg.Wait()
}

// syncItem обрабатывает один элемент: недоступность индекса прерывает только
// его, ошибка эмбеддинга оставляет элемент на повтор в следующем тике.
func (o *Orchestrator) syncItem(ctx context.Context, item domain.ContentItem) {
	chunks := o.chunker.Split(item.Text)
	if len(chunks) == 0 {
		if err := o.items.MarkSkipped(ctx, item.ID); err != nil {
			o.log.Error().Err(err).Int64("item", item.ID).Msg("sync: не удалось пометить пустой элемент")
		}
		return
	}

	category := o.categoryFor(item)
	now := o.clock.Now()
	expiry := now.Add(o.cfg.ExpiryFor(category))

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		metrics.EmbeddingErrors.Inc()
		o.log.Warn().Err(err).Int64("channel", item.ChannelID).Int64("item", item.ID).Msg("sync: эмбеддинг не получен, повтор в следующем тике")
		return
	}

	score := 0.0
	if item.Assessment != nil {
		score = item.Assessment.Score
	}
	meta := domain.EntryMetadata{
		ChannelID: item.ChannelID,
		TGMsgID:   item.TGMsgID,
		Views:     item.Views,
		Reactions: item.Reactions,
		Forwards:  item.Forwards,
		Score:     score,
	}

	for i, chunk := range chunks {
		chunk.SourceID = item.ChannelID
		chunk.TGMsgID = item.TGMsgID
		chunk.Category = category
		chunk.CreatedAt = now
		chunk.ExpiresAt = expiry
		if _, err := o.index.Upsert(ctx, chunk, vectors[i], meta); err != nil {
			o.log.Error().Err(err).
				Int64("channel", item.ChannelID).
				Int64("item", item.ID).
				Int("chunk", chunk.Ordinal).
				Msg("sync: запись в индекс не удалась")
			return
		}
	}

	if err := o.items.MarkIndexed(ctx, item.ID); err != nil {
		o.log.Error().Err(err).Int64("item", item.ID).Msg("sync: не удалось пометить элемент")
		return
	}
	metrics.ItemsIndexed.Inc()
}

// refreshCategories обновляет соответствие канал-категория; категория
// записи индекса наследуется от канала.
func (o *Orchestrator) refreshCategories(ctx context.Context) {
	channels, err := o.channels.ListChannels(ctx)
	if err != nil {
		o.log.Warn().Err(err).Msg("sync: не удалось обновить категории каналов")
		return
	}
	categories := make(map[int64]string, len(channels))
	for _, channel := range channels {
		categories[channel.ID] = channel.Category
	}
	o.mu.Lock()
	o.categories = categories
	o.mu.Unlock()
}

func (o *Orchestrator) categoryFor(item domain.ContentItem) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if category, ok := o.categories[item.ChannelID]; ok && category != "" {
		return category
	}
	return "channel:" + strconv.FormatInt(item.ChannelID, 10)
}

// runHousekeeping чистит просроченные записи и пересчитывает агрегаты
// каналов. Выполняется раз в несколько тиков, вне пути чтения.
func (o *Orchestrator) runHousekeeping(ctx context.Context) {
	defer metrics.ObservePhase("housekeeping", time.Now())

	removed, err := o.index.Expire(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("housekeeping: ошибка очистки индекса")
	} else if removed > 0 {
		o.log.Info().Int("removed", removed).Msg("housekeeping: удалены просроченные записи")
	}

	channels, err := o.channels.ListChannels(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("housekeeping: не удалось получить каналы")
		return
	}
	for _, channel := range channels {
		avg, err := o.items.ChannelAvgViews(ctx, channel.ID, 50)
		if err != nil {
			o.log.Warn().Err(err).Int64("channel", channel.ID).Msg("housekeeping: не удалось посчитать среднее")
			continue
		}
		if err := o.channels.UpdateChannelStats(ctx, channel.ID, avg); err != nil {
			o.log.Warn().Err(err).Int64("channel", channel.ID).Msg("housekeeping: не удалось сохранить агрегаты")
		}
	}
}
