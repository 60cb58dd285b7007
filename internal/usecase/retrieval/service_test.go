package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/domain"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

type stubIndex struct {
	results []domain.SearchResult
	err     error
	gotOpts domain.SearchOptions
}

func (s *stubIndex) Upsert(context.Context, domain.Chunk, []float32, domain.EntryMetadata) (string, error) {
	return "", nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, opts domain.SearchOptions) ([]domain.SearchResult, error) {
	s.gotOpts = opts
	return s.results, s.err
}

func (s *stubIndex) Expire(context.Context) (int, error)         { return 0, nil }
func (s *stubIndex) Delete(context.Context, string) error        { return nil }
func (s *stubIndex) DeleteBySource(context.Context, int64) error { return nil }

func entryResult(text string, updatedAt time.Time, sim float64) domain.SearchResult {
	return domain.SearchResult{
		Similarity: sim,
		Entry: domain.KnowledgeEntry{
			ID: text,
			Chunk: domain.Chunk{
				Text:      text,
				UpdatedAt: updatedAt,
			},
			Meta: domain.EntryMetadata{ChannelID: 1, TGMsgID: 5},
		},
	}
}

func testClock() domain.Clock {
	return domain.ClockFunc(func() time.Time {
		return time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	})
}

func TestQueryFiltersDenylisted(t *testing.T) {
	now := testClock().Now()
	idx := &stubIndex{results: []domain.SearchResult{
		entryResult("Полезный кейс о внедрении.", now, 0.9),
		entryResult("https://only.link/here", now, 0.85),
		entryResult("Ещё один содержательный фрагмент.", now, 0.8),
	}}
	service := NewService(stubEmbedder{}, idx, nil, testClock(), zerolog.Nop(), 2, 0.4, 0.1)

	snippets, err := service.Query(context.Background(), "кейс внедрения", "", 2)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(snippets) != 2 {
		t.Fatalf("ожидали 2 фрагмента, получили %d", len(snippets))
	}
	for _, s := range snippets {
		if s.Text == "https://only.link/here" {
			t.Fatalf("голая ссылка не должна попадать в выдачу")
		}
	}
	if idx.gotOpts.TopK != 4 {
		t.Fatalf("поиск должен запрашивать кандидатов с запасом, получили %d", idx.gotOpts.TopK)
	}
	if !idx.gotOpts.ExcludeExpired || !idx.gotOpts.PreferRecent {
		t.Fatalf("выдача должна исключать просроченное и предпочитать свежее")
	}
}

func TestQueryIndexUnavailable(t *testing.T) {
	idx := &stubIndex{err: domain.ErrIndexUnavailable}
	service := NewService(stubEmbedder{}, idx, nil, testClock(), zerolog.Nop(), 5, 0.4, 0.1)

	_, err := service.Query(context.Background(), "вопрос", "", 0)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("недоступность индекса должна быть различимой ошибкой, получили %v", err)
	}
}

func TestQueryAttributesSource(t *testing.T) {
	now := testClock().Now()
	idx := &stubIndex{results: []domain.SearchResult{entryResult("Фрагмент с атрибуцией.", now, 0.9)}}
	service := NewService(stubEmbedder{}, idx, nil, testClock(), zerolog.Nop(), 5, 0.4, 0.1)

	snippets, err := service.Query(context.Background(), "вопрос", "", 0)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(snippets) != 1 {
		t.Fatalf("ожидали 1 фрагмент, получили %d", len(snippets))
	}
	s := snippets[0]
	if s.ChannelID != 1 || s.TGMsgID != 5 {
		t.Fatalf("атрибуция источника потеряна: канал %d, сообщение %d", s.ChannelID, s.TGMsgID)
	}
	if s.Freshness != "сегодня" {
		t.Fatalf("ожидали метку свежести «сегодня», получили %q", s.Freshness)
	}
}

func TestFreshnessLabel(t *testing.T) {
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		age  time.Duration
		want string
	}{
		{2 * time.Hour, "сегодня"},
		{30 * time.Hour, "вчера"},
		{3 * 24 * time.Hour, "3 дн. назад"},
		{14 * 24 * time.Hour, "2 нед. назад"},
		{70 * 24 * time.Hour, "2 мес. назад"},
	}
	for _, tc := range cases {
		if got := FreshnessLabel(now.Add(-tc.age), now); got != tc.want {
			t.Fatalf("возраст %v: ожидали %q, получили %q", tc.age, tc.want, got)
		}
	}
}
