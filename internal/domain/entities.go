package domain

import "time"

// Tier определяет приоритет канала и минимальный интервал повторного опроса.
type Tier int

const (
	// TierHigh — ключевые каналы, опрашиваются чаще всего.
	TierHigh Tier = 1
	// TierNormal — обычные каналы.
	TierNormal Tier = 2
	// TierLow — фоновые каналы, опрашиваются реже всего.
	TierLow Tier = 3
)

// ItemStatus описывает стадию обработки элемента контента.
type ItemStatus string

const (
	ItemStatusFetched ItemStatus = "fetched"
	ItemStatusScored  ItemStatus = "scored"
	ItemStatusIndexed ItemStatus = "indexed"
	ItemStatusSkipped ItemStatus = "skipped"
)

// ChannelRecord хранит состояние наблюдаемого канала-источника.
type ChannelRecord struct {
	ID            int64
	TGChannelID   int64
	AccessHash    int64
	Alias         string
	Title         string
	Tier          Tier
	Category      string
	LastMsgID     int64
	LastFetchedAt *time.Time
	AvgViews      float64
	ErrorCount    int
	CreatedAt     time.Time
}

// ContentItem представляет сообщение канала до квалификации.
type ContentItem struct {
	ID          int64
	ChannelID   int64
	TGMsgID     int64
	Text        string
	PublishedAt time.Time
	Views       int
	Reactions   int
	Forwards    int
	HasMedia    bool
	MediaKind   MediaKind
	Status      ItemStatus
	Assessment  *QualityAssessment
	CreatedAt   time.Time
}

// StyleTags описывает стилевые признаки текста.
type StyleTags struct {
	Tone            string
	LengthClass     string
	EmojiCount      int
	HasCallToAction bool
	HasFormatting   bool
}

// QualityAssessment содержит итоговую оценку качества и её составляющие.
type QualityAssessment struct {
	Score       float64
	Views       float64
	Engagement  float64
	Length      float64
	Readability float64
	Freshness   float64
	Style       StyleTags
	ScoredAt    time.Time
}

// Chunk — фрагмент текста, подготовленный к эмбеддингу и индексации.
type Chunk struct {
	Ordinal      int
	SourceID     int64
	TGMsgID      int64
	SectionTitle string
	Category     string
	Text         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ExpiresAt    time.Time
}

// EntryMetadata — метаданные записи индекса, обновляемые при повторной загрузке.
type EntryMetadata struct {
	ChannelID int64
	TGMsgID   int64
	Views     int
	Reactions int
	Forwards  int
	Score     float64
}

// KnowledgeEntry — сохранённая единица индекса: фрагмент, вектор и метаданные.
type KnowledgeEntry struct {
	ID          string
	ContentHash string
	Chunk       Chunk
	Vector      []float32
	Meta        EntryMetadata
}

// SearchOptions управляют гибридным поиском по индексу.
type SearchOptions struct {
	TopK           int
	Category       string
	ExcludeExpired bool
	PreferRecent   bool
	MaxAgeDays     int
	MinSimilarity  float64
	FreshnessCap   float64
}

// SearchResult — результат поиска: запись, похожесть и комбинированная оценка.
type SearchResult struct {
	Entry      KnowledgeEntry
	Similarity float64
	Combined   float64
}

// Snippet — готовый к выдаче фрагмент с атрибуцией источника.
type Snippet struct {
	Text         string
	SectionTitle string
	Category     string
	ChannelID    int64
	TGMsgID      int64
	Similarity   float64
	Freshness    string
	UpdatedAt    time.Time
}
