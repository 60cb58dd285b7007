package index

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"tg-content-pipeline/internal/domain"
)

// Memory — индекс в памяти с полным перебором по косинусной близости.
// Используется в тестах и в dev-запусках без Postgres; семантика
// дедупликации и ранжирования совпадает с pgvector-реализацией.
type Memory struct {
	mu      sync.RWMutex
	clock   domain.Clock
	entries map[string]*domain.KnowledgeEntry // по id
	byHash  map[string]string                 // content hash -> id
	byMsg   map[msgKey]string                 // (канал, сообщение, номер фрагмента) -> id
}

type msgKey struct {
	channelID int64
	tgMsgID   int64
	ordinal   int
}

// NewMemory создаёт пустой индекс.
func NewMemory(clock domain.Clock) *Memory {
	if clock == nil {
		clock = domain.SystemClock()
	}
	return &Memory{
		clock:   clock,
		entries: make(map[string]*domain.KnowledgeEntry),
		byHash:  make(map[string]string),
		byMsg:   make(map[msgKey]string),
	}
}

// Upsert реализует domain.VectorIndex.
func (m *Memory) Upsert(ctx context.Context, chunk domain.Chunk, vector []float32, meta domain.EntryMetadata) (string, error) {
	hash := ContentHash(chunk.Text)
	key := msgKey{meta.ChannelID, meta.TGMsgID, chunk.Ordinal}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		// второй рубеж дедупликации: тот же фрагмент того же сообщения,
		// даже если текст был отредактирован
		if candidate, found := m.byMsg[key]; found {
			id, ok = candidate, true
		}
	}
	if ok {
		entry := m.entries[id]
		if entry.ContentHash != hash {
			delete(m.byHash, entry.ContentHash)
			entry.ContentHash = hash
			entry.Chunk.Text = chunk.Text
			m.byHash[hash] = id
		}
		entry.Vector = append([]float32(nil), vector...)
		entry.Meta = meta
		entry.Chunk.UpdatedAt = m.clock.Now()
		return id, nil
	}

	now := m.clock.Now()
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = now
	}
	chunk.UpdatedAt = now
	entry := &domain.KnowledgeEntry{
		ID:          uuid.NewString(),
		ContentHash: hash,
		Chunk:       chunk,
		Vector:      append([]float32(nil), vector...),
		Meta:        meta,
	}
	m.entries[entry.ID] = entry
	m.byHash[hash] = entry.ID
	m.byMsg[key] = entry.ID
	return entry.ID, nil
}

// Search реализует domain.VectorIndex.
func (m *Memory) Search(ctx context.Context, vector []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	m.mu.RLock()
	candidates := make([]domain.SearchResult, 0, len(m.entries))
	for _, entry := range m.entries {
		if opts.Category != "" && entry.Chunk.Category != opts.Category {
			continue
		}
		candidates = append(candidates, domain.SearchResult{
			Entry:      *entry,
			Similarity: CosineSimilarity(vector, entry.Vector),
		})
	}
	m.mu.RUnlock()
	return rank(candidates, opts, m.clock.Now()), nil
}

// Expire реализует domain.VectorIndex.
func (m *Memory) Expire(ctx context.Context) (int, error) {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.entries {
		if !entry.Chunk.ExpiresAt.IsZero() && entry.Chunk.ExpiresAt.Before(now) {
			m.remove(id, entry)
			removed++
		}
	}
	return removed, nil
}

// Delete реализует domain.VectorIndex.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[id]; ok {
		m.remove(id, entry)
	}
	return nil
}

// DeleteBySource реализует domain.VectorIndex.
func (m *Memory) DeleteBySource(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.entries {
		if entry.Meta.ChannelID == channelID {
			m.remove(id, entry)
		}
	}
	return nil
}

func (m *Memory) remove(id string, entry *domain.KnowledgeEntry) {
	delete(m.entries, id)
	delete(m.byHash, entry.ContentHash)
	delete(m.byMsg, msgKey{entry.Meta.ChannelID, entry.Meta.TGMsgID, entry.Chunk.Ordinal})
}

// Len возвращает число записей; используется в тестах.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
