package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/domain"
)

// Service — фасад поиска для потребителя генерации: эмбеддинг запроса,
// гибридный поиск по индексу и второй рубеж фильтрации нерелевантного.
type Service struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	filter   domain.RelevanceFilter
	clock    domain.Clock
	log      zerolog.Logger

	topK          int
	minSimilarity float64
	freshnessCap  float64
}

// NewService создаёт сервис выдачи.
func NewService(embedder domain.Embedder, index domain.VectorIndex, filter domain.RelevanceFilter, clock domain.Clock, log zerolog.Logger, topK int, minSimilarity, freshnessCap float64) *Service {
	if filter == nil {
		filter = NewDenylistFilter()
	}
	if clock == nil {
		clock = domain.SystemClock()
	}
	if topK <= 0 {
		topK = 5
	}
	return &Service{
		embedder:      embedder,
		index:         index,
		filter:        filter,
		clock:         clock,
		log:           log,
		topK:          topK,
		minSimilarity: minSimilarity,
		freshnessCap:  freshnessCap,
	}
}

// Query возвращает ранжированные фрагменты с атрибуцией источника.
// Недоступность индекса — явная ошибка, а не пустая выдача.
func (s *Service) Query(ctx context.Context, text, category string, topK int) ([]domain.Snippet, error) {
	if topK <= 0 {
		topK = s.topK
	}

	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("эмбеддинг запроса: %w", err)
	}

	// запрашиваем с запасом: часть кандидатов отсеет фильтр выдачи
	results, err := s.index.Search(ctx, vector, domain.SearchOptions{
		TopK:           topK * 2,
		Category:       category,
		ExcludeExpired: true,
		PreferRecent:   true,
		MinSimilarity:  s.minSimilarity,
		FreshnessCap:   s.freshnessCap,
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	snippets := make([]domain.Snippet, 0, topK)
	for _, result := range results {
		if !s.filter.Relevant(result.Entry.Chunk.Text) {
			s.log.Debug().Str("entry", result.Entry.ID).Msg("retrieval: фрагмент отсеян фильтром выдачи")
			continue
		}
		snippets = append(snippets, domain.Snippet{
			Text:         result.Entry.Chunk.Text,
			SectionTitle: result.Entry.Chunk.SectionTitle,
			Category:     result.Entry.Chunk.Category,
			ChannelID:    result.Entry.Meta.ChannelID,
			TGMsgID:      result.Entry.Meta.TGMsgID,
			Similarity:   result.Similarity,
			Freshness:    FreshnessLabel(result.Entry.Chunk.UpdatedAt, now),
			UpdatedAt:    result.Entry.Chunk.UpdatedAt,
		})
		if len(snippets) == topK {
			break
		}
	}
	return snippets, nil
}

// FreshnessLabel описывает давность обновления записи человеку.
func FreshnessLabel(updatedAt, now time.Time) string {
	age := now.Sub(updatedAt)
	switch {
	case age < 24*time.Hour:
		return "сегодня"
	case age < 48*time.Hour:
		return "вчера"
	case age < 7*24*time.Hour:
		return fmt.Sprintf("%d дн. назад", int(age.Hours()/24))
	case age < 30*24*time.Hour:
		return fmt.Sprintf("%d нед. назад", int(age.Hours()/(24*7)))
	default:
		return fmt.Sprintf("%d мес. назад", int(age.Hours()/(24*30)))
	}
}
