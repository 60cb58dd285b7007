package quality

import "strings"

// Классы тональности.
const (
	ToneSelling      = "selling"
	ToneExpert       = "expert"
	ToneMotivational = "motivational"
	ToneNeutral      = "neutral"
)

// KeywordToneDetector — табличная эвристика тональности. Чистая функция над
// нормализованным (нижний регистр) текстом; таблицы подменяются в тестах
// через domain.ToneDetector.
type KeywordToneDetector struct {
	tables map[string][]string
}

// NewKeywordToneDetector создаёт детектор со встроенными таблицами.
func NewKeywordToneDetector() *KeywordToneDetector {
	return &KeywordToneDetector{tables: map[string][]string{
		ToneSelling: {
			"скидка", "акция", "только сегодня", "успей", "осталось", "цена",
			"запись открыта", "бонус", "бесплатно", "предложение",
		},
		ToneExpert: {
			"разберём", "инструкция", "пошагово", "ошибк", "кейс", "аналитика",
			"исследование", "на практике", "алгоритм", "пример",
		},
		ToneMotivational: {
			"мечта", "цель", "поверь", "у тебя получится", "начни", "измени",
			"вдохнов", "результат", "путь",
		},
	}}
}

// Detect возвращает класс тональности с наибольшим числом совпадений,
// при отсутствии совпадений — neutral.
func (d *KeywordToneDetector) Detect(text string) string {
	best := ToneNeutral
	bestHits := 0
	// фиксированный порядок обхода ради детерминизма при равенстве
	for _, tone := range []string{ToneSelling, ToneExpert, ToneMotivational} {
		hits := 0
		for _, kw := range d.tables[tone] {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best = tone
			bestHits = hits
		}
	}
	return best
}
