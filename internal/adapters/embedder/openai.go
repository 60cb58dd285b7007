package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/infra/metrics"
)

// OpenAI реализует domain.Embedder через OpenAI-совместимый эндпоинт.
// Экземпляр создаётся один раз при старте и разделяется воркерами.
type OpenAI struct {
	embedder embeddings.Embedder
	model    string
	timeout  time.Duration
}

var _ domain.Embedder = (*OpenAI)(nil)

// NewOpenAI создаёт эмбеддер.
func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("создание клиента эмбеддингов: %w", err)
	}
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("создание эмбеддера: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{embedder: emb, model: model, timeout: timeout}, nil
}

// EmbedText возвращает вектор для одного текста. Пустой результат —
// это ошибка, а не нулевой вектор.
func (e *OpenAI) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts возвращает векторы для пакета текстов в исходном порядке.
func (e *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	metrics.ObserveNetworkRequest("embedder", "embed_documents", e.model, start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEmbedding, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: получили %d векторов на %d текстов", domain.ErrEmbedding, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: пустой вектор для текста %d", domain.ErrEmbedding, i)
		}
	}
	return vectors, nil
}
