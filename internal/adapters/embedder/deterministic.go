package embedder

import (
	"context"
	"hash/fnv"
	"math"

	"tg-content-pipeline/internal/domain"
)

// Deterministic — эмбеддер без внешнего сервиса: вектор строится из хеша
// текста. Одинаковый текст всегда даёт одинаковый вектор, поэтому
// дедупликация и ранжирование проверяются без сети. Используется в тестах
// и в dev-окружении.
type Deterministic struct {
	Dim int
}

var _ domain.Embedder = (*Deterministic)(nil)

// NewDeterministic создаёт эмбеддер указанной размерности.
func NewDeterministic(dim int) *Deterministic {
	if dim <= 0 {
		dim = 384
	}
	return &Deterministic{Dim: dim}
}

// EmbedText реализует domain.Embedder.
func (d *Deterministic) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return d.vector(text), nil
}

// EmbedTexts реализует domain.Embedder.
func (d *Deterministic) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = d.vector(text)
	}
	return vectors, nil
}

func (d *Deterministic) vector(text string) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, d.Dim)
	var sumSquares float64
	for i := range vector {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000) / 1000.0
		sumSquares += float64(vector[i]) * float64(vector[i])
	}
	if norm := math.Sqrt(sumSquares); norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector
}
