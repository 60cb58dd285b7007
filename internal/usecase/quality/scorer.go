package quality

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"tg-content-pipeline/internal/domain"
)

// Весовые коэффициенты составляющих оценки, в сумме дают 1.
const (
	weightViews       = 0.30
	weightEngagement  = 0.25
	weightLength      = 0.15
	weightReadability = 0.15
	weightFreshness   = 0.15

	// Оптимальная длина продающего поста в рунах.
	optimalLengthMin = 300
	optimalLengthMax = 800

	// Свежесть затухает линейно до нуля за месяц.
	freshnessHorizonDays = 30
)

var (
	linkRegex  = regexp.MustCompile(`https?://\S+`)
	ctaRegex   = regexp.MustCompile(`(?i)(пиши(те)? в (лс|директ)|записывайся|оставь заявку|жми|переходи по ссылке|забронируй|успей|регистрируйся|купи|закажи)`)
	emojiRange = []*unicode.RangeTable{unicode.So, unicode.Sk}
)

// Scorer вычисляет детерминированную оценку качества и стилевые теги.
// Скользящее среднее просмотров канала кэшируется с ограниченным TTL.
type Scorer struct {
	items domain.ItemRepo
	cache domain.Cache
	clock domain.Clock
	tone  domain.ToneDetector

	avgTTL    time.Duration
	avgSample int
}

// NewScorer создаёт скорер.
func NewScorer(items domain.ItemRepo, cache domain.Cache, clock domain.Clock, tone domain.ToneDetector, avgTTL time.Duration, avgSample int) *Scorer {
	if clock == nil {
		clock = domain.SystemClock()
	}
	if tone == nil {
		tone = NewKeywordToneDetector()
	}
	if avgTTL <= 0 {
		avgTTL = time.Hour
	}
	if avgSample <= 0 {
		avgSample = 50
	}
	return &Scorer{items: items, cache: cache, clock: clock, tone: tone, avgTTL: avgTTL, avgSample: avgSample}
}

// Score оценивает элемент контента. Оценка — чистая функция пяти
// составляющих и среднего по каналу на момент вычисления.
func (s *Scorer) Score(ctx context.Context, item domain.ContentItem) (domain.QualityAssessment, error) {
	avg, err := s.channelAvgViews(ctx, item.ChannelID)
	if err != nil {
		return domain.QualityAssessment{}, fmt.Errorf("%w: среднее по каналу %d: %v", domain.ErrScoring, item.ChannelID, err)
	}
	qa := Assess(item, avg, s.clock.Now())
	qa.Style.Tone = s.tone.Detect(strings.ToLower(item.Text))
	return qa, nil
}

// Assess — чистая функция оценки. Вынесена отдельно, чтобы свойства
// детерминированности проверялись без репозитория и кэша.
func Assess(item domain.ContentItem, channelAvgViews float64, now time.Time) domain.QualityAssessment {
	views := viewsScore(item.Views, channelAvgViews)
	engagement := engagementScore(item)
	length := lengthScore(item.Text)
	readability := readabilityScore(item.Text)
	freshness := freshnessScore(item.PublishedAt, now)

	score := weightViews*views +
		weightEngagement*engagement +
		weightLength*length +
		weightReadability*readability +
		weightFreshness*freshness
	score = clamp(score, 0, 10)

	return domain.QualityAssessment{
		Score:       score,
		Views:       views,
		Engagement:  engagement,
		Length:      length,
		Readability: readability,
		Freshness:   freshness,
		Style:       styleTags(item.Text),
		ScoredAt:    now,
	}
}

// viewsScore нормирует просмотры относительно среднего по каналу:
// двукратное превышение среднего даёт максимум.
func viewsScore(views int, avg float64) float64 {
	if views <= 0 {
		return 0
	}
	if avg <= 0 {
		return 5
	}
	return clamp(float64(views)/avg*5, 0, 10)
}

// engagementScore — доля реакций и пересылок от просмотров.
// Две сотых считаются отличным показателем.
func engagementScore(item domain.ContentItem) float64 {
	if item.Views <= 0 {
		return 0
	}
	ratio := float64(item.Reactions+item.Forwards) / float64(item.Views)
	return clamp(ratio/0.02*10, 0, 10)
}

// lengthScore — близость длины к оптимальной полосе.
func lengthScore(text string) float64 {
	n := len([]rune(strings.TrimSpace(text)))
	switch {
	case n == 0:
		return 0
	case n >= optimalLengthMin && n <= optimalLengthMax:
		return 10
	case n < optimalLengthMin:
		return clamp(float64(n)/optimalLengthMin*10, 1, 10)
	default:
		over := float64(n-optimalLengthMax) / optimalLengthMax
		return clamp(10-over*5, 1, 10)
	}
}

// readabilityScore — эвристика читабельности: длина предложений,
// доля капса и ссылочный шум.
func readabilityScore(text string) float64 {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	score := 10.0

	sentences := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
	words := strings.Fields(trimmed)
	if len(sentences) > 0 {
		avgWords := float64(len(words)) / float64(len(sentences))
		if avgWords > 25 {
			score -= 3
		} else if avgWords > 15 {
			score -= 1
		}
	}

	upper, letters := 0, 0
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters > 0 && float64(upper)/float64(letters) > 0.3 {
		score -= 3
	}

	links := len(linkRegex.FindAllString(trimmed, -1))
	if links > 2 {
		score -= 2
	}

	return clamp(score, 0, 10)
}

// freshnessScore — линейное затухание от 10 сегодня до 0 через горизонт.
func freshnessScore(publishedAt, now time.Time) float64 {
	if publishedAt.IsZero() || publishedAt.After(now) {
		return 10
	}
	ageDays := now.Sub(publishedAt).Hours() / 24
	return clamp(10*(1-ageDays/freshnessHorizonDays), 0, 10)
}

func styleTags(text string) domain.StyleTags {
	n := len([]rune(strings.TrimSpace(text)))
	lengthClass := "medium"
	switch {
	case n < 200:
		lengthClass = "short"
	case n > 1200:
		lengthClass = "long"
	}
	return domain.StyleTags{
		LengthClass:     lengthClass,
		EmojiCount:      countEmoji(text),
		HasCallToAction: ctaRegex.MatchString(text),
		HasFormatting:   strings.Contains(text, "**") || strings.Contains(text, "__") || strings.Contains(text, "\n-") || strings.Contains(text, "\n•"),
	}
}

func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsOneOf(emojiRange, r) || (r >= 0x1F300 && r <= 0x1FAFF) {
			n++
		}
	}
	return n
}

// channelAvgViews возвращает скользящее среднее просмотров канала,
// кэшированное с TTL, чтобы не пересчитывать на каждом элементе.
func (s *Scorer) channelAvgViews(ctx context.Context, channelID int64) (float64, error) {
	key := "channel_avg_views:" + strconv.FormatInt(channelID, 10)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			if avg, err := strconv.ParseFloat(string(raw), 64); err == nil {
				return avg, nil
			}
		}
	}
	avg, err := s.items.ChannelAvgViews(ctx, channelID, s.avgSample)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		value := strconv.FormatFloat(avg, 'f', -1, 64)
		_ = s.cache.Set(ctx, key, []byte(value), s.avgTTL)
	}
	return avg, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
