package index

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"time"

	"tg-content-pipeline/internal/domain"
)

const (
	// DefaultMinSimilarity — порог похожести ниже которого записи отбрасываются.
	DefaultMinSimilarity = 0.4
	// DefaultFreshnessCap — максимальный бонус за свежесть.
	DefaultFreshnessCap = 0.1

	freshnessHorizonDays = 365
)

// ContentHash — ключ дедупликации: sha256 нормализованного текста фрагмента.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// CosineSimilarity считает косинусную близость двух векторов.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FreshnessBonus — аддитивный бонус за свежесть: максимум для записей,
// обновлённых сегодня, ноль для записей старше года.
func FreshnessBonus(updatedAt, now time.Time, cap float64) float64 {
	if cap <= 0 {
		return 0
	}
	ageDays := now.Sub(updatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	bonus := cap * (1 - ageDays/freshnessHorizonDays)
	if bonus < 0 {
		return 0
	}
	return bonus
}

// rank применяет фильтры поиска и ранжирует кандидатов по комбинированной
// оценке. Кандидаты приходят уже с вычисленной похожестью.
func rank(candidates []domain.SearchResult, opts domain.SearchOptions, now time.Time) []domain.SearchResult {
	minSim := opts.MinSimilarity
	if minSim <= 0 {
		minSim = DefaultMinSimilarity
	}
	cap := opts.FreshnessCap
	if cap <= 0 {
		cap = DefaultFreshnessCap
	}

	results := candidates[:0]
	for _, c := range candidates {
		if c.Similarity < minSim {
			continue
		}
		if opts.ExcludeExpired && !c.Entry.Chunk.ExpiresAt.IsZero() && c.Entry.Chunk.ExpiresAt.Before(now) {
			continue
		}
		if opts.MaxAgeDays > 0 {
			age := now.Sub(c.Entry.Chunk.UpdatedAt).Hours() / 24
			if age > float64(opts.MaxAgeDays) {
				continue
			}
		}
		c.Combined = c.Similarity
		if opts.PreferRecent {
			c.Combined += FreshnessBonus(c.Entry.Chunk.UpdatedAt, now, cap)
		}
		results = append(results, c)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Combined != results[j].Combined {
			return results[i].Combined > results[j].Combined
		}
		return results[i].Entry.Chunk.UpdatedAt.After(results[j].Entry.Chunk.UpdatedAt)
	})

	topK := opts.TopK
	if topK <= 0 {
		topK = 5
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
