package sync

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tg-content-pipeline/internal/adapters/embedder"
	"tg-content-pipeline/internal/adapters/index"
	"tg-content-pipeline/internal/domain"
	"tg-content-pipeline/internal/usecase/chunking"
	"tg-content-pipeline/internal/usecase/quality"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

type fakeChannels struct {
	mu       sync.Mutex
	channels []domain.ChannelRecord
}

func (f *fakeChannels) UpsertChannel(_ context.Context, record domain.ChannelRecord) (domain.ChannelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record.ID = int64(len(f.channels) + 1)
	f.channels = append(f.channels, record)
	return record, nil
}

func (f *fakeChannels) ListChannels(context.Context) ([]domain.ChannelRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ChannelRecord(nil), f.channels...), nil
}

func (f *fakeChannels) AdvanceWatermark(_ context.Context, channelID, lastMsgID int64, fetchedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.channels {
		if f.channels[i].ID == channelID {
			if lastMsgID > f.channels[i].LastMsgID {
				f.channels[i].LastMsgID = lastMsgID
			}
			ts := fetchedAt
			f.channels[i].LastFetchedAt = &ts
			f.channels[i].ErrorCount = 0
		}
	}
	return nil
}

func (f *fakeChannels) IncrementErrorCount(_ context.Context, channelID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.channels {
		if f.channels[i].ID == channelID {
			f.channels[i].ErrorCount++
		}
	}
	return nil
}

func (f *fakeChannels) UpdateChannelStats(_ context.Context, channelID int64, avgViews float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.channels {
		if f.channels[i].ID == channelID {
			f.channels[i].AvgViews = avgViews
		}
	}
	return nil
}

func (f *fakeChannels) get(channelID int64) domain.ChannelRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.ID == channelID {
			return ch
		}
	}
	return domain.ChannelRecord{}
}

type fakeItems struct {
	mu    sync.Mutex
	seq   int64
	order []int64
	items map[int64]*domain.ContentItem
	avg   float64
}

func newFakeItems(avg float64) *fakeItems {
	return &fakeItems{items: map[int64]*domain.ContentItem{}, avg: avg}
}

func (f *fakeItems) SaveItems(_ context.Context, channelID int64, items []domain.ContentItem) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, item := range items {
		exists := false
		for _, stored := range f.items {
			if stored.ChannelID == channelID && stored.TGMsgID == item.TGMsgID {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		f.seq++
		item.ID = f.seq
		item.ChannelID = channelID
		item.Status = domain.ItemStatusFetched
		stored := item
		f.items[item.ID] = &stored
		f.order = append(f.order, item.ID)
		inserted++
	}
	return inserted, nil
}

func (f *fakeItems) seed(item domain.ContentItem) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	item.ID = f.seq
	stored := item
	f.items[item.ID] = &stored
	f.order = append(f.order, item.ID)
	return item.ID
}

func (f *fakeItems) ListUnscored(_ context.Context, limit int) ([]domain.ContentItem, error) {
	return f.listByStatus(domain.ItemStatusFetched, limit, 0), nil
}

func (f *fakeItems) ListScoredUnindexed(_ context.Context, minScore float64, limit int) ([]domain.ContentItem, error) {
	return f.listByStatus(domain.ItemStatusScored, limit, minScore), nil
}

func (f *fakeItems) listByStatus(status domain.ItemStatus, limit int, minScore float64) []domain.ContentItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ContentItem
	for _, id := range f.order {
		item := f.items[id]
		if item.Status != status {
			continue
		}
		if minScore > 0 && (item.Assessment == nil || item.Assessment.Score < minScore) {
			continue
		}
		out = append(out, *item)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (f *fakeItems) SaveAssessment(_ context.Context, itemID int64, qa domain.QualityAssessment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.Assessment = &qa
		item.Status = domain.ItemStatusScored
	}
	return nil
}

func (f *fakeItems) MarkIndexed(_ context.Context, itemID int64) error {
	return f.setStatus(itemID, domain.ItemStatusIndexed)
}

func (f *fakeItems) MarkSkipped(_ context.Context, itemID int64) error {
	return f.setStatus(itemID, domain.ItemStatusSkipped)
}

func (f *fakeItems) setStatus(itemID int64, status domain.ItemStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.items[itemID]; ok {
		item.Status = status
	}
	return nil
}

func (f *fakeItems) ChannelAvgViews(context.Context, int64, int) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avg, nil
}

func (f *fakeItems) countByStatus(status domain.ItemStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, item := range f.items {
		if item.Status == status {
			n++
		}
	}
	return n
}

type fakeSource struct {
	mu    sync.Mutex
	queue map[int64][]domain.ContentItem
	fail  map[int64]error
	polls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{queue: map[int64][]domain.ContentItem{}, fail: map[int64]error{}}
}

func (f *fakeSource) Poll(_ context.Context, channel domain.ChannelRecord, limit int, _ time.Duration) ([]domain.ContentItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if err := f.fail[channel.ID]; err != nil {
		return nil, err
	}
	var out []domain.ContentItem
	for _, item := range f.queue[channel.ID] {
		if item.TGMsgID > channel.LastMsgID {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func goodText() string {
	return strings.TrimSpace(strings.Repeat("Это содержательное предложение о продукте и команде. ", 10))
}

func newTestOrchestrator(t *testing.T, channels *fakeChannels, items *fakeItems, source *fakeSource, clock *fakeClock, cfg Config) (*Orchestrator, *index.Memory) {
	t.Helper()
	idx := index.NewMemory(clock)
	scorer := quality.NewScorer(items, nil, clock, nil, time.Hour, 50)
	o := NewOrchestrator(cfg,
		channels, items, source, scorer,
		chunking.NewEngine(2000, 300),
		embedder.NewDeterministic(32),
		idx, clock, zerolog.Nop(),
	)
	return o, idx
}

func seedChannel(channels *fakeChannels, tier domain.Tier) domain.ChannelRecord {
	record, _ := channels.UpsertChannel(context.Background(), domain.ChannelRecord{
		TGChannelID: 100,
		Alias:       "demo",
		Tier:        tier,
		Category:    "cases",
	})
	return record
}

func TestTickProcessesItemEndToEnd(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()

	ch := seedChannel(channels, domain.TierNormal)
	source.queue[ch.ID] = []domain.ContentItem{{
		TGMsgID:     10,
		Text:        goodText(),
		Views:       1000,
		Reactions:   20,
		PublishedAt: clock.Now(),
	}}

	o, idx := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	if got := items.countByStatus(domain.ItemStatusIndexed); got != 1 {
		t.Fatalf("ожидали 1 проиндексированный элемент, получили %d", got)
	}
	if idx.Len() != 1 {
		t.Fatalf("ожидали 1 запись в индексе, получили %d", idx.Len())
	}
	stored := channels.get(ch.ID)
	if stored.LastMsgID != 10 {
		t.Fatalf("водяной знак должен сдвинуться до 10, получили %d", stored.LastMsgID)
	}
	if stored.LastFetchedAt == nil {
		t.Fatalf("время последнего опроса должно фиксироваться")
	}

	queryVector, err := embedder.NewDeterministic(32).EmbedText(context.Background(), goodText())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	results, err := idx.Search(context.Background(), queryVector, domain.SearchOptions{TopK: 1})
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(results) != 1 || results[0].Entry.Chunk.Category != "cases" {
		t.Fatalf("запись должна наследовать категорию канала")
	}
	if results[0].Entry.Chunk.ExpiresAt.IsZero() {
		t.Fatalf("записи должен назначаться срок жизни")
	}
}

func TestWatermarkPreventsRefetch(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()

	ch := seedChannel(channels, domain.TierNormal)
	source.queue[ch.ID] = []domain.ContentItem{{
		TGMsgID:     10,
		Text:        goodText(),
		Views:       1000,
		Reactions:   20,
		PublishedAt: clock.Now(),
	}}

	o, idx := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	indexedAfterFirst := idx.Len()

	// перезапуск процесса: состояние только во внешних фейках
	o2, _ := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	clock.Advance(2 * time.Hour)
	o2.Tick(context.Background())

	if got := items.countByStatus(domain.ItemStatusIndexed); got != 1 {
		t.Fatalf("повторная обработка не должна дублировать элементы, получили %d", got)
	}
	if idx.Len() != indexedAfterFirst {
		t.Fatalf("повторный опрос не должен добавлять записи в индекс")
	}
}

func TestRestartResumesScoredItems(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()
	seedChannel(channels, domain.TierNormal)

	// элемент был оценён до перезапуска, но не успел попасть в индекс
	items.seed(domain.ContentItem{
		ChannelID:   1,
		TGMsgID:     7,
		Text:        goodText(),
		Status:      domain.ItemStatusScored,
		Assessment:  &domain.QualityAssessment{Score: 8},
		PublishedAt: clock.Now(),
	})

	o, idx := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	if got := items.countByStatus(domain.ItemStatusIndexed); got != 1 {
		t.Fatalf("оценённый элемент должен доиндексироваться после перезапуска, получили %d", got)
	}
	if idx.Len() != 1 {
		t.Fatalf("ожидали 1 запись в индексе, получили %d", idx.Len())
	}
}

func TestFetchErrorDoesNotBlockOtherChannels(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()

	broken, _ := channels.UpsertChannel(context.Background(), domain.ChannelRecord{TGChannelID: 1, Alias: "broken", Tier: domain.TierNormal})
	healthy, _ := channels.UpsertChannel(context.Background(), domain.ChannelRecord{TGChannelID: 2, Alias: "healthy", Tier: domain.TierNormal})

	source.fail[broken.ID] = domain.ErrTransientFetch
	source.queue[healthy.ID] = []domain.ContentItem{{
		TGMsgID:     5,
		Text:        goodText(),
		Views:       1000,
		Reactions:   20,
		PublishedAt: clock.Now(),
	}}

	o, _ := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	if got := channels.get(broken.ID).ErrorCount; got != 1 {
		t.Fatalf("ошибка опроса должна накапливаться, получили %d", got)
	}
	if channels.get(broken.ID).LastFetchedAt != nil {
		t.Fatalf("неудачный опрос не должен сдвигать водяной знак")
	}
	if got := channels.get(healthy.ID).LastMsgID; got != 5 {
		t.Fatalf("здоровый канал должен обработаться, водяной знак %d", got)
	}
	if got := items.countByStatus(domain.ItemStatusIndexed); got != 1 {
		t.Fatalf("элемент здорового канала должен дойти до индекса, получили %d", got)
	}
}

func TestEmptyPollStillAdvancesFetchTime(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()
	ch := seedChannel(channels, domain.TierNormal)

	o, _ := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	stored := channels.get(ch.ID)
	if stored.LastFetchedAt == nil {
		t.Fatalf("пустая выборка тоже фиксирует факт опроса")
	}
	if stored.LastMsgID != 0 {
		t.Fatalf("водяной знак без новых сообщений не меняется, получили %d", stored.LastMsgID)
	}
}

func TestPollIntervalRespectsTier(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()
	seedChannel(channels, domain.TierLow)

	o, _ := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())
	if source.polls != 1 {
		t.Fatalf("первый опрос выполняется сразу, получили %d", source.polls)
	}

	// для низкого приоритета интервал ещё не истёк
	clock.Advance(time.Hour)
	o.Tick(context.Background())
	if source.polls != 1 {
		t.Fatalf("канал низкого приоритета не должен опрашиваться раньше срока, получили %d", source.polls)
	}

	clock.Advance(6 * time.Hour)
	o.Tick(context.Background())
	if source.polls != 2 {
		t.Fatalf("после истечения интервала канал опрашивается снова, получили %d", source.polls)
	}
}

func TestLowQualityItemSkipped(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(1000)
	source := newFakeSource()
	ch := seedChannel(channels, domain.TierNormal)

	source.queue[ch.ID] = []domain.ContentItem{{
		TGMsgID:     3,
		Text:        "ок",
		Views:       0,
		PublishedAt: clock.Now().AddDate(0, -2, 0),
	}}

	o, idx := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6})
	o.Tick(context.Background())

	if got := items.countByStatus(domain.ItemStatusSkipped); got != 1 {
		t.Fatalf("слабый элемент должен помечаться пропущенным, получили %d", got)
	}
	if idx.Len() != 0 {
		t.Fatalf("слабый элемент не должен попадать в индекс")
	}
}

func TestBatchBoundPerTick(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()
	seedChannel(channels, domain.TierNormal)

	for i := 0; i < 5; i++ {
		items.seed(domain.ContentItem{
			ChannelID:   1,
			TGMsgID:     int64(i + 1),
			Text:        goodText(),
			Views:       1000,
			Reactions:   20,
			Status:      domain.ItemStatusFetched,
			PublishedAt: clock.Now(),
		})
	}

	o, _ := newTestOrchestrator(t, channels, items, source, clock, Config{IngestionThreshold: 6, MaxBatchPerTick: 2})
	o.Tick(context.Background())

	if got := items.countByStatus(domain.ItemStatusIndexed); got != 2 {
		t.Fatalf("за тик обрабатывается не больше пакета, получили %d", got)
	}
	if got := items.countByStatus(domain.ItemStatusFetched); got != 3 {
		t.Fatalf("остаток должен ждать следующего тика, получили %d", got)
	}
}

func TestHousekeepingExpiresEntries(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
	channels := &fakeChannels{}
	items := newFakeItems(100)
	source := newFakeSource()
	ch := seedChannel(channels, domain.TierNormal)

	source.queue[ch.ID] = []domain.ContentItem{{
		TGMsgID:     10,
		Text:        goodText(),
		Views:       1000,
		Reactions:   20,
		PublishedAt: clock.Now(),
	}}

	cfg := Config{
		IngestionThreshold: 6,
		HousekeepingTicks:  1,
		ExpiryFor:          func(string) time.Duration { return time.Hour },
	}
	o, idx := newTestOrchestrator(t, channels, items, source, clock, cfg)
	o.Tick(context.Background())
	if idx.Len() != 1 {
		t.Fatalf("ожидали 1 запись после первого тика, получили %d", idx.Len())
	}

	clock.Advance(2 * time.Hour)
	o.Tick(context.Background())
	if idx.Len() != 0 {
		t.Fatalf("просроченная запись должна удаляться при обслуживании, получили %d", idx.Len())
	}
	if got := channels.get(ch.ID).AvgViews; got != 100 {
		t.Fatalf("обслуживание должно пересчитывать среднее канала, получили %v", got)
	}
}
