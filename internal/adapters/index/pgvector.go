package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/metrics"
)

// candidateFactor определяет, во сколько раз больше кандидатов запрашивается
// у Postgres перед переранжированием по свежести.
const candidateFactor = 4

// Pgvector реализует domain.VectorIndex поверх Postgres с расширением pgvector.
type Pgvector struct {
	pool  *pgxpool.Pool
	clock domain.Clock
}

var _ domain.VectorIndex = (*Pgvector)(nil)

// NewPgvector создаёт адаптер индекса.
func NewPgvector(pool *pgxpool.Pool, clock domain.Clock) *Pgvector {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Pgvector{pool: pool, clock: clock}
}

// RegisterVectorTypes подключает кодек pgvector к каждому соединению пула.
func RegisterVectorTypes(cfg *pgxpool.Config) {
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
}

func (p *Pgvector) connCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if _, ok := parent.Deadline(); ok {
		return parent, func() {}
	}
	return context.WithTimeout(parent, 5*time.Second)
}

// Upsert реализует domain.VectorIndex. Дедупликация идёт сначала по хешу
// содержимого, затем по тройке (канал, сообщение, номер фрагмента); блокировка
// строки сериализует конкурирующие записи одного ключа.
func (p *Pgvector) Upsert(ctx context.Context, chunk domain.Chunk, vector []float32, meta domain.EntryMetadata) (string, error) {
	hash := ContentHash(chunk.Text)

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "knowledge_entries", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var existingID string
	start = time.Now()
	err = tx.QueryRow(ctx, `
SELECT id FROM knowledge_entries
WHERE content_hash = $1 OR (channel_id = $2 AND tg_msg_id = $3 AND ordinal = $4)
LIMIT 1
FOR UPDATE
`, hash, meta.ChannelID, meta.TGMsgID, chunk.Ordinal).Scan(&existingID)
	metrics.ObserveNetworkRequest("postgres", "entries_dedup_lookup", "knowledge_entries", start, err)

	switch {
	case err == nil:
		// повторная загрузка: обновляем метаданные, второй строки не создаём
		start = time.Now()
		_, err = tx.Exec(ctx, `
UPDATE knowledge_entries
SET content_hash = $2, body = $3, embedding = $4,
    views = $5, reactions = $6, forwards = $7, score = $8,
    updated_at = now()
WHERE id = $1
`, existingID, hash, chunk.Text, pgvector.NewVector(vector),
			meta.Views, meta.Reactions, meta.Forwards, meta.Score)
		metrics.ObserveNetworkRequest("postgres", "entries_refresh", "knowledge_entries", start, err)
		if err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", err
		}
		return existingID, nil

	case errors.Is(err, pgx.ErrNoRows):
		id := uuid.NewString()
		start = time.Now()
		_, err = tx.Exec(ctx, `
INSERT INTO knowledge_entries
(id, content_hash, channel_id, tg_msg_id, ordinal, section_title, category, body, embedding,
 views, reactions, forwards, score, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now(), $14)
`, id, hash, meta.ChannelID, meta.TGMsgID, chunk.Ordinal, chunk.SectionTitle, chunk.Category,
			chunk.Text, pgvector.NewVector(vector),
			meta.Views, meta.Reactions, meta.Forwards, meta.Score, chunk.ExpiresAt)
		metrics.ObserveNetworkRequest("postgres", "entries_insert", "knowledge_entries", start, err)
		if err != nil {
			return "", err
		}
		if err := tx.Commit(ctx); err != nil {
			return "", err
		}
		return id, nil

	default:
		return "", fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
}

// Search реализует domain.VectorIndex. Кандидаты отбираются по косинусной
// дистанции в Postgres, фильтры и бонус за свежесть применяются при
// переранжировании.
func (p *Pgvector) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, content_hash, channel_id, tg_msg_id, ordinal, section_title, category, body,
       views, reactions, forwards, score, created_at, updated_at, expires_at,
       1 - (embedding <=> $1) AS similarity
FROM knowledge_entries
WHERE ($2 = '' OR category = $2)
ORDER BY embedding <=> $1
LIMIT $3
`, pgvector.NewVector(vector), opts.Category, topK*candidateFactor)
	metrics.ObserveNetworkRequest("postgres", "entries_search", "knowledge_entries", start, err)
	metrics.IndexSearchSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var candidates []domain.SearchResult
	for rows.Next() {
		var (
			entry     domain.KnowledgeEntry
			expiresAt *time.Time
			result    domain.SearchResult
		)
		if err := rows.Scan(
			&entry.ID, &entry.ContentHash,
			&entry.Meta.ChannelID, &entry.Meta.TGMsgID,
			&entry.Chunk.Ordinal, &entry.Chunk.SectionTitle, &entry.Chunk.Category, &entry.Chunk.Text,
			&entry.Meta.Views, &entry.Meta.Reactions, &entry.Meta.Forwards, &entry.Meta.Score,
			&entry.Chunk.CreatedAt, &entry.Chunk.UpdatedAt, &expiresAt,
			&result.Similarity,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
		}
		entry.Chunk.SourceID = entry.Meta.ChannelID
		entry.Chunk.TGMsgID = entry.Meta.TGMsgID
		if expiresAt != nil {
			entry.Chunk.ExpiresAt = *expiresAt
		}
		result.Entry = entry
		candidates = append(candidates, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}

	return rank(candidates, opts, p.clock.Now()), nil
}

// Expire реализует domain.VectorIndex.
func (p *Pgvector) Expire(ctx context.Context) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.pool.Exec(ctx, `DELETE FROM knowledge_entries WHERE expires_at IS NOT NULL AND expires_at < now()`)
	metrics.ObserveNetworkRequest("postgres", "entries_expire", "knowledge_entries", start, err)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	removed := int(res.RowsAffected())
	metrics.EntriesExpired.Add(float64(removed))
	return removed, nil
}

// Delete реализует domain.VectorIndex.
func (p *Pgvector) Delete(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_entries WHERE id = $1`, id)
	metrics.ObserveNetworkRequest("postgres", "entries_delete", "knowledge_entries", start, err)
	return err
}

// DeleteBySource реализует domain.VectorIndex.
func (p *Pgvector) DeleteBySource(ctx context.Context, channelID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_entries WHERE channel_id = $1`, channelID)
	metrics.ObserveNetworkRequest("postgres", "entries_delete_by_source", "knowledge_entries", start, err)
	return err
}
