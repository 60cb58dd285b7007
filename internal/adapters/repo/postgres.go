package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/metrics"
)

// Postgres реализует репозитории каналов и элементов контента на pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ChannelRepo = (*Postgres)(nil)
	_ domain.ItemRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if _, ok := parent.Deadline(); ok {
		return parent, func() {}
	}
	return context.WithTimeout(parent, 5*time.Second)
}

// UpsertChannel регистрирует канал в наблюдаемом наборе или обновляет его
// уровень приоритета и категорию.
func (p *Postgres) UpsertChannel(ctx context.Context, record domain.ChannelRecord) (domain.ChannelRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO channels (tg_channel_id, access_hash, alias, title, tier, category)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tg_channel_id) DO UPDATE SET
    access_hash = EXCLUDED.access_hash,
    alias = EXCLUDED.alias,
    title = EXCLUDED.title,
    tier = EXCLUDED.tier,
    category = EXCLUDED.category
RETURNING id, created_at
`, record.TGChannelID, record.AccessHash, record.Alias, record.Title, int(record.Tier), record.Category).
		Scan(&record.ID, &record.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_upsert", "channels", start, err)
	if err != nil {
		return domain.ChannelRecord{}, err
	}
	return record, nil
}

// ListChannels возвращает все наблюдаемые каналы с их водяными знаками.
func (p *Postgres) ListChannels(ctx context.Context) ([]domain.ChannelRecord, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, tg_channel_id, access_hash, alias, title, tier, category,
       last_msg_id, last_fetched_at, avg_views, error_count, created_at
FROM channels
ORDER BY tier, id
`)
	metrics.ObserveNetworkRequest("postgres", "channels_list", "channels", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.ChannelRecord
	for rows.Next() {
		var (
			ch        domain.ChannelRecord
			tier      int
			fetchedAt sql.NullTime
		)
		if err := rows.Scan(&ch.ID, &ch.TGChannelID, &ch.AccessHash, &ch.Alias, &ch.Title, &tier,
			&ch.Category, &ch.LastMsgID, &fetchedAt, &ch.AvgViews, &ch.ErrorCount, &ch.CreatedAt); err != nil {
			return nil, err
		}
		ch.Tier = domain.Tier(tier)
		if fetchedAt.Valid {
			ts := fetchedAt.Time
			ch.LastFetchedAt = &ts
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// AdvanceWatermark сдвигает водяной знак канала после успешного опроса.
// Вызывается и при пустой выборке: сам факт опроса фиксируется всегда.
func (p *Postgres) AdvanceWatermark(ctx context.Context, channelID, lastMsgID int64, fetchedAt time.Time) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE channels
SET last_msg_id = GREATEST(last_msg_id, $2), last_fetched_at = $3, error_count = 0
WHERE id = $1
`, channelID, lastMsgID, fetchedAt)
	metrics.ObserveNetworkRequest("postgres", "channels_advance_watermark", "channels", start, err)
	return err
}

// IncrementErrorCount накапливает ошибки опроса; канал при этом
// не отключается автоматически.
func (p *Postgres) IncrementErrorCount(ctx context.Context, channelID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE channels SET error_count = error_count + 1 WHERE id = $1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "channels_increment_errors", "channels", start, err)
	return err
}

// UpdateChannelStats сохраняет пересчитанное среднее просмотров канала.
func (p *Postgres) UpdateChannelStats(ctx context.Context, channelID int64, avgViews float64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE channels SET avg_views = $2 WHERE id = $1`, channelID, avgViews)
	metrics.ObserveNetworkRequest("postgres", "channels_update_stats", "channels", start, err)
	return err
}

// SaveItems сохраняет выгруженные элементы; повторная вставка той же пары
// (канал, сообщение) игнорируется. Возвращает число новых строк.
func (p *Postgres) SaveItems(ctx context.Context, channelID int64, items []domain.ContentItem) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	inserted := 0
	for _, item := range items {
		start := time.Now()
		res, err := p.pool.Exec(ctx, `
INSERT INTO content_items
(channel_id, tg_msg_id, body, published_at, views, reactions, forwards, has_media, media_kind, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'fetched')
ON CONFLICT (channel_id, tg_msg_id) DO UPDATE SET
    views = EXCLUDED.views, reactions = EXCLUDED.reactions, forwards = EXCLUDED.forwards
WHERE content_items.status = 'fetched'
`, channelID, item.TGMsgID, item.Text, item.PublishedAt,
			item.Views, item.Reactions, item.Forwards, item.HasMedia, string(item.MediaKind))
		metrics.ObserveNetworkRequest("postgres", "items_insert", "content_items", start, err)
		if err != nil {
			return inserted, err
		}
		if res.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// ListUnscored возвращает элементы, ожидающие оценки, старые раньше новых.
func (p *Postgres) ListUnscored(ctx context.Context, limit int) ([]domain.ContentItem, error) {
	return p.listItems(ctx, `
SELECT id, channel_id, tg_msg_id, body, published_at, views, reactions, forwards,
       has_media, media_kind, status, score, created_at
FROM content_items
WHERE status = 'fetched'
ORDER BY published_at
LIMIT $1
`, "items_list_unscored", limit)
}

// ListScoredUnindexed возвращает элементы, прошедшие порог качества,
// но ещё не попавшие в индекс.
func (p *Postgres) ListScoredUnindexed(ctx context.Context, minScore float64, limit int) ([]domain.ContentItem, error) {
	return p.listItems(ctx, `
SELECT id, channel_id, tg_msg_id, body, published_at, views, reactions, forwards,
       has_media, media_kind, status, score, created_at
FROM content_items
WHERE status = 'scored' AND score >= $2
ORDER BY published_at
LIMIT $1
`, "items_list_scored_unindexed", limit, minScore)
}

// SaveAssessment сохраняет оценку качества и переводит элемент в scored.
func (p *Postgres) SaveAssessment(ctx context.Context, itemID int64, qa domain.QualityAssessment) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE content_items
SET status = 'scored', score = $2,
    score_views = $3, score_engagement = $4, score_length = $5,
    score_readability = $6, score_freshness = $7,
    tone = $8, length_class = $9, emoji_count = $10,
    has_cta = $11, has_formatting = $12, scored_at = $13
WHERE id = $1
`, itemID, qa.Score,
		qa.Views, qa.Engagement, qa.Length, qa.Readability, qa.Freshness,
		qa.Style.Tone, qa.Style.LengthClass, qa.Style.EmojiCount,
		qa.Style.HasCallToAction, qa.Style.HasFormatting, qa.ScoredAt)
	metrics.ObserveNetworkRequest("postgres", "items_save_assessment", "content_items", start, err)
	return err
}

// MarkIndexed фиксирует завершение индексации элемента.
func (p *Postgres) MarkIndexed(ctx context.Context, itemID int64) error {
	return p.setStatus(ctx, itemID, domain.ItemStatusIndexed, "items_mark_indexed")
}

// MarkSkipped помечает элемент не прошедшим порог; сырой текст
// после этого не участвует в дальнейшей обработке.
func (p *Postgres) MarkSkipped(ctx context.Context, itemID int64) error {
	return p.setStatus(ctx, itemID, domain.ItemStatusSkipped, "items_mark_skipped")
}

func (p *Postgres) setStatus(ctx context.Context, itemID int64, status domain.ItemStatus, op string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `UPDATE content_items SET status = $2 WHERE id = $1`, itemID, string(status))
	metrics.ObserveNetworkRequest("postgres", op, "content_items", start, err)
	return err
}

// ChannelAvgViews считает скользящее среднее просмотров по последним
// sample элементам канала.
func (p *Postgres) ChannelAvgViews(ctx context.Context, channelID int64, sample int) (float64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var avg sql.NullFloat64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT AVG(views) FROM (
    SELECT views FROM content_items
    WHERE channel_id = $1
    ORDER BY published_at DESC
    LIMIT $2
) recent
`, channelID, sample).Scan(&avg)
	metrics.ObserveNetworkRequest("postgres", "items_channel_avg_views", "content_items", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (p *Postgres) listItems(ctx context.Context, query, op string, args ...any) ([]domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", op, "content_items", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.ContentItem
	for rows.Next() {
		var (
			item      domain.ContentItem
			mediaKind string
			status    string
			score     sql.NullFloat64
		)
		if err := rows.Scan(&item.ID, &item.ChannelID, &item.TGMsgID, &item.Text, &item.PublishedAt,
			&item.Views, &item.Reactions, &item.Forwards, &item.HasMedia, &mediaKind, &status,
			&score, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.MediaKind = domain.MediaKind(mediaKind)
		item.Status = domain.ItemStatus(status)
		if score.Valid {
			item.Assessment = &domain.QualityAssessment{Score: score.Float64}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
