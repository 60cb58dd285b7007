package domain

import (
	"context"
	"time"
)

// Clock отдаёт текущее время; внедряется для детерминированных тестов.
type Clock interface {
	Now() time.Time
}

// ClockFunc адаптирует функцию к интерфейсу Clock.
type ClockFunc func() time.Time

// Now реализует Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock возвращает часы на основе time.Now (UTC).
func SystemClock() Clock {
	return ClockFunc(func() time.Time { return time.Now().UTC() })
}

// ChannelSource выгружает новые сообщения канала начиная с водяного знака.
type ChannelSource interface {
	Poll(ctx context.Context, channel ChannelRecord, limit int, maxAge time.Duration) ([]ContentItem, error)
}

// ChannelResolver получает метаданные публичного канала по алиасу.
type ChannelResolver interface {
	ResolvePublic(ctx context.Context, alias string) (ChannelRecord, error)
}

// Embedder превращает текст в вектор фиксированной размерности.
// Ошибка возвращается явно, нулевой вектор недопустим.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex хранит записи знаний и отвечает за гибридный поиск.
type VectorIndex interface {
	// Upsert дедуплицирует по хешу содержимого, затем по паре (канал, сообщение);
	// при совпадении обновляет метаданные и не создаёт вторую запись.
	Upsert(ctx context.Context, chunk Chunk, vector []float32, meta EntryMetadata) (string, error)
	// Search отбрасывает записи ниже порога похожести, просроченные и слишком
	// старые, затем ранжирует по сумме похожести и бонуса за свежесть.
	Search(ctx context.Context, vector []float32, opts SearchOptions) ([]SearchResult, error)
	// Expire удаляет записи с истёкшим сроком и возвращает их число.
	Expire(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
	DeleteBySource(ctx context.Context, channelID int64) error
}

// ChannelRepo управляет записями каналов.
type ChannelRepo interface {
	UpsertChannel(ctx context.Context, record ChannelRecord) (ChannelRecord, error)
	ListChannels(ctx context.Context) ([]ChannelRecord, error)
	AdvanceWatermark(ctx context.Context, channelID, lastMsgID int64, fetchedAt time.Time) error
	IncrementErrorCount(ctx context.Context, channelID int64) error
	UpdateChannelStats(ctx context.Context, channelID int64, avgViews float64) error
}

// ItemRepo хранит элементы контента и их оценки между фазами обработки.
type ItemRepo interface {
	SaveItems(ctx context.Context, channelID int64, items []ContentItem) (int, error)
	ListUnscored(ctx context.Context, limit int) ([]ContentItem, error)
	SaveAssessment(ctx context.Context, itemID int64, qa QualityAssessment) error
	ListScoredUnindexed(ctx context.Context, minScore float64, limit int) ([]ContentItem, error)
	MarkIndexed(ctx context.Context, itemID int64) error
	MarkSkipped(ctx context.Context, itemID int64) error
	ChannelAvgViews(ctx context.Context, channelID int64, sample int) (float64, error)
}

// Cache — простое TTL-хранилище.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// ToneDetector классифицирует тональность нормализованного текста.
// Таблицы ключевых слов остаются чистыми функциями за этим интерфейсом.
type ToneDetector interface {
	Detect(text string) string
}

// RelevanceFilter решает, пригоден ли фрагмент для выдачи потребителю.
// Архив остаётся полным, фильтр работает только на чтении.
type RelevanceFilter interface {
	Relevant(text string) bool
}
