package retrieval

import (
	"regexp"
	"strings"
)

// DenylistFilter отсекает фрагменты, структурно непригодные для генерации:
// рецептурные тексты, голые ссылки без подписи, внутренние служебные фразы.
// Архив при этом остаётся полным — фильтр работает только на выдаче.
type DenylistFilter struct {
	recipeMarkers  []string
	routingMarkers []string
}

// NewDenylistFilter создаёт фильтр со встроенными таблицами.
func NewDenylistFilter() *DenylistFilter {
	return &DenylistFilter{
		recipeMarkers: []string{
			"ингредиенты", "рецепт", "смешайте", "духовк", "грамм", "ст. ложк",
		},
		routingMarkers: []string{
			"репост из", "переслано из", "смотри закреп", "пост выше",
			"читать продолжение в следующем посте", "голосование в комментариях",
		},
	}
}

var bareLinkRegex = regexp.MustCompile(`^\s*(?:https?://\S+\s*)+$`)

// Relevant реализует domain.RelevanceFilter.
func (f *DenylistFilter) Relevant(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if bareLinkRegex.MatchString(trimmed) {
		return false
	}
	lower := strings.ToLower(trimmed)
	hits := 0
	for _, marker := range f.recipeMarkers {
		if strings.Contains(lower, marker) {
			hits++
		}
	}
	// одно кулинарное слово ещё не делает текст рецептом
	if hits >= 2 {
		return false
	}
	for _, marker := range f.routingMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
