package domain

import "errors"

// Таксономия ошибок конвейера. Ошибки отдельных элементов логируются и не
// прерывают обработку остальных; только недоступность хранилища и фатальная
// конфигурация останавливают цикл оркестратора.
var (
	// ErrTransientFetch — временная ошибка опроса, повтор на следующем тике.
	ErrTransientFetch = errors.New("transient fetch error")
	// ErrPermanentFetch — канал недоступен, требуется внимание оператора.
	ErrPermanentFetch = errors.New("permanent fetch error")
	// ErrScoring — элемент пропущен при оценке.
	ErrScoring = errors.New("scoring error")
	// ErrEmbedding — фрагмент остался без индексации, повтор в следующей фазе Sync.
	ErrEmbedding = errors.New("embedding error")
	// ErrIndexUnavailable — индекс недоступен; отличается от «ничего не найдено».
	ErrIndexUnavailable = errors.New("vector index unavailable")
)
