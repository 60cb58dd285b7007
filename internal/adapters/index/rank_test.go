package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-content-pipeline/internal/domain"
)

func TestContentHashNormalization(t *testing.T) {
	assert.Equal(t, ContentHash("Привет  Мир"), ContentHash("привет мир\n"),
		"регистр и пробелы не должны влиять на хеш")
	assert.NotEqual(t, ContentHash("привет мир"), ContentHash("привет мир!"),
		"разные тексты не должны давать одинаковый хеш")
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	assert.InDelta(t, 1, CosineSimilarity(a, a), 1e-9)
	assert.Zero(t, CosineSimilarity(a, []float32{0, 1, 0}))
	assert.Zero(t, CosineSimilarity(a, []float32{0, 0, 0}), "нулевой вектор не даёт похожести")
}

func TestFreshnessBonus(t *testing.T) {
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 0.1, FreshnessBonus(now, now, 0.1), 1e-9, "сегодняшняя запись получает полный бонус")
	assert.Zero(t, FreshnessBonus(now.AddDate(-2, 0, 0), now, 0.1), "запись старше года бонуса не получает")
	assert.Zero(t, FreshnessBonus(now, now, 0), "нулевой потолок отключает бонус")

	half := FreshnessBonus(now.AddDate(0, 0, -183), now, 0.1)
	assert.Greater(t, half, 0.0)
	assert.Less(t, half, 0.1)
}

func candidate(sim float64, updatedAt, expiresAt time.Time) domain.SearchResult {
	return domain.SearchResult{
		Similarity: sim,
		Entry: domain.KnowledgeEntry{
			Chunk: domain.Chunk{UpdatedAt: updatedAt, ExpiresAt: expiresAt},
		},
	}
}

func TestRankFiltersBelowThreshold(t *testing.T) {
	now := time.Now()
	results := rank([]domain.SearchResult{
		candidate(0.9, now, time.Time{}),
		candidate(0.2, now, time.Time{}),
	}, domain.SearchOptions{TopK: 5, MinSimilarity: 0.4}, now)
	require.Len(t, results, 1, "ниже порога похожести записи отбрасываются")
	assert.Equal(t, 0.9, results[0].Similarity)
}

func TestRankExcludesExpired(t *testing.T) {
	now := time.Now()
	results := rank([]domain.SearchResult{
		candidate(0.9, now, now.Add(-time.Hour)),
		candidate(0.8, now, now.Add(time.Hour)),
	}, domain.SearchOptions{TopK: 5, ExcludeExpired: true}, now)
	require.Len(t, results, 1, "просроченная запись не попадает в выдачу")
	assert.Equal(t, 0.8, results[0].Similarity)
}

func TestRankPrefersFresherOnTie(t *testing.T) {
	now := time.Now()
	old := candidate(0.8, now.AddDate(0, -6, 0), time.Time{})
	fresh := candidate(0.8, now, time.Time{})
	results := rank([]domain.SearchResult{old, fresh}, domain.SearchOptions{TopK: 2, PreferRecent: true}, now)
	require.Len(t, results, 2)
	assert.True(t, results[0].Entry.Chunk.UpdatedAt.Equal(fresh.Entry.Chunk.UpdatedAt),
		"при равной похожести свежая запись стоит выше")
	assert.Greater(t, results[0].Combined, results[1].Combined,
		"бонус за свежесть поднимает комбинированную оценку")
}

func TestRankMaxAgeFilter(t *testing.T) {
	now := time.Now()
	results := rank([]domain.SearchResult{
		candidate(0.9, now.AddDate(0, 0, -40), time.Time{}),
		candidate(0.8, now.AddDate(0, 0, -5), time.Time{}),
	}, domain.SearchOptions{TopK: 5, MaxAgeDays: 30}, now)
	require.Len(t, results, 1, "ожидали только записи моложе месяца")
}

func TestRankTrimsToTopK(t *testing.T) {
	now := time.Now()
	var candidates []domain.SearchResult
	for i := 0; i < 10; i++ {
		candidates = append(candidates, candidate(0.5+float64(i)*0.01, now, time.Time{}))
	}
	results := rank(candidates, domain.SearchOptions{TopK: 3}, now)
	require.Len(t, results, 3)
}
