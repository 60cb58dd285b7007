package chunking

import (
	"regexp"
	"strings"

	"tg-content-pipeline/internal/domain"
)

const (
	// DefaultMaxSize — предел размера фрагмента в рунах.
	DefaultMaxSize = 2000
	// DefaultOverlap — перекрытие соседних фрагментов в рунах.
	DefaultOverlap = 300

	minQAUnits = 3
)

var (
	headerRegex    = regexp.MustCompile(`^\s{0,3}#{1,6}\s+(.+?)\s*$`)
	boldLineRegex  = regexp.MustCompile(`^\*\*(.+)\*\*\s*$`)
	numberedRegex  = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	questionRegex  = regexp.MustCompile(`(?i)^\s*(?:вопрос|q)\s*[:.]`)
	answerRegex    = regexp.MustCompile(`(?i)^\s*(?:ответ|a)\s*[:.]`)
	sentenceRegex  = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?]+)`)
	paragraphSplit = regexp.MustCompile(`\n\s*\n`)
)

// Engine разбивает текст на фрагменты с учётом структуры:
// секции по заголовкам, атомарные вопрос-ответные блоки,
// затем жадная упаковка абзацев с перекрытием.
type Engine struct {
	maxSize int
	overlap int
}

// NewEngine создаёт движок разбиения. Нулевые параметры заменяются умолчаниями.
func NewEngine(maxSize, overlap int) *Engine {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= maxSize {
		overlap = maxSize / 4
	}
	return &Engine{maxSize: maxSize, overlap: overlap}
}

// Split возвращает упорядоченные фрагменты текста. Фрагменты не бывают
// пустыми; конкатенация их содержимого без заголовочных префиксов
// воспроизводит исходный текст с точностью до пробелов и перекрытия.
func (e *Engine) Split(text string) []domain.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	sections := splitSections(trimmed)
	var chunks []domain.Chunk
	for _, sec := range sections {
		capacity := e.maxSize
		prefix := ""
		if sec.title != "" && len(sections) > 1 {
			prefix = "[" + sec.title + "]\n"
			capacity -= len([]rune(prefix))
			if capacity < e.maxSize/4 {
				// слишком длинный заголовок не должен съедать весь бюджет
				prefix = ""
				capacity = e.maxSize
			}
		}

		var parts []string
		if units := detectQAUnits(sec.body); len(units) >= minQAUnits {
			parts = packUnits(units, capacity)
		} else {
			parts = e.packParagraphs(sec.body, capacity)
		}

		for _, part := range parts {
			chunks = append(chunks, domain.Chunk{
				Ordinal:      len(chunks),
				SectionTitle: sec.title,
				Text:         prefix + part,
			})
		}
	}
	return chunks
}

type section struct {
	title string
	body  string
}

// splitSections режет текст по распознаваемым заголовкам секций.
// Если заголовок один или их нет, возвращается единственная секция без титула.
func splitSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var current section
	var body []string

	flush := func() {
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if joined != "" || current.title != "" {
			current.body = joined
			sections = append(sections, current)
		}
		body = body[:0]
	}

	for _, line := range lines {
		title := headerTitle(line)
		if title != "" {
			flush()
			current = section{title: title}
			continue
		}
		body = append(body, line)
	}
	flush()

	withTitles := 0
	for _, sec := range sections {
		if sec.title != "" {
			withTitles++
		}
	}
	if withTitles < 2 {
		return []section{{body: text}}
	}
	// секции без тела пропускаем
	out := sections[:0]
	for _, sec := range sections {
		if sec.body != "" {
			out = append(out, sec)
		}
	}
	return out
}

func headerTitle(line string) string {
	if m := headerRegex.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	if m := boldLineRegex.FindStringSubmatch(line); m != nil {
		// жирная строка считается заголовком только если она короткая
		if len([]rune(m[1])) <= 80 {
			return m[1]
		}
	}
	return ""
}

// detectQAUnits ищет последовательность вопрос-ответных блоков:
// нумерованные пункты с вопросительным знаком либо явные пары
// «Вопрос:/Ответ:». Каждый блок атомарен и не режется между фрагментами.
func detectQAUnits(body string) []string {
	lines := strings.Split(body, "\n")

	if units := collectUnits(lines, func(line string) bool {
		return questionRegex.MatchString(line)
	}); countQuestionUnits(units, func(first string) bool { return true }) >= minQAUnits {
		if hasAnswers(units) {
			return units
		}
	}

	units := collectUnits(lines, func(line string) bool {
		return numberedRegex.MatchString(line)
	})
	questioned := countQuestionUnits(units, func(first string) bool {
		return strings.HasSuffix(strings.TrimSpace(first), "?")
	})
	if questioned >= minQAUnits {
		return units
	}
	return nil
}

// collectUnits группирует строки в блоки, начинающиеся со строк-маркеров.
func collectUnits(lines []string, isStart func(string) bool) []string {
	var units []string
	var current []string
	started := false
	for _, line := range lines {
		if isStart(line) {
			if started {
				units = append(units, strings.TrimSpace(strings.Join(current, "\n")))
			}
			current = []string{line}
			started = true
			continue
		}
		if started {
			current = append(current, line)
		}
	}
	if started {
		units = append(units, strings.TrimSpace(strings.Join(current, "\n")))
	}
	return units
}

func countQuestionUnits(units []string, firstLineOK func(string) bool) int {
	n := 0
	for _, unit := range units {
		first, _, _ := strings.Cut(unit, "\n")
		if firstLineOK(first) {
			n++
		}
	}
	return n
}

func hasAnswers(units []string) bool {
	for _, unit := range units {
		for _, line := range strings.Split(unit, "\n") {
			if answerRegex.MatchString(line) {
				return true
			}
		}
	}
	return false
}

// packUnits жадно укладывает атомарные блоки в фрагменты. Блок, который
// сам по себе превышает предел, обрезается, но не делится между фрагментами.
func packUnits(units []string, capacity int) []string {
	var parts []string
	var buf []string
	size := 0
	flush := func() {
		if len(buf) > 0 {
			parts = append(parts, strings.Join(buf, "\n\n"))
			buf = buf[:0]
			size = 0
		}
	}
	for _, unit := range units {
		runes := []rune(unit)
		if len(runes) > capacity {
			flush()
			parts = append(parts, string(runes[:capacity]))
			continue
		}
		sep := 0
		if len(buf) > 0 {
			sep = 2
		}
		if size+sep+len(runes) > capacity {
			flush()
			sep = 0
		}
		buf = append(buf, unit)
		size += sep + len(runes)
	}
	flush()
	return parts
}

// packParagraphs жадно укладывает абзацы; абзац сверх предела дорезается
// по границам предложений. Новый фрагмент начинается с хвоста предыдущего.
func (e *Engine) packParagraphs(body string, capacity int) []string {
	paragraphs := paragraphSplit.Split(body, -1)
	var blocks []string
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len([]rune(p)) <= capacity {
			blocks = append(blocks, p)
			continue
		}
		blocks = append(blocks, splitSentences(p, capacity)...)
	}
	if len(blocks) == 0 {
		return nil
	}

	var parts []string
	var buf []string
	size := 0
	seeded := false // буфер содержит только хвост перекрытия

	emit := func() {
		part := strings.Join(buf, "\n\n")
		parts = append(parts, part)
		buf = buf[:0]
		size = 0
		seeded = false
		if e.overlap > 0 {
			tail := overlapTail(part, e.overlap)
			if tail != "" && len([]rune(tail)) < capacity {
				buf = append(buf, tail)
				size = len([]rune(tail))
				seeded = true
			}
		}
	}
	for _, block := range blocks {
		runes := len([]rune(block))
		sep := 0
		if len(buf) > 0 {
			sep = 2
		}
		if size+sep+runes > capacity {
			if seeded {
				// хвост перекрытия сам по себе фрагментом не становится:
				// если блок не помещается рядом с ним, хвост отбрасывается
				buf = buf[:0]
				size = 0
				seeded = false
			} else if len(buf) > 0 {
				emit()
				if len(buf) > 0 && size+2+runes > capacity {
					buf = buf[:0]
					size = 0
					seeded = false
				}
			}
			sep = 0
			if len(buf) > 0 {
				sep = 2
			}
		}
		buf = append(buf, block)
		size += sep + runes
		seeded = false
	}
	if len(buf) > 0 && !seeded {
		parts = append(parts, strings.Join(buf, "\n\n"))
	}
	return parts
}

// splitSentences режет абзац на куски не длиннее capacity по границам
// предложений; предложение сверх предела режется жёстко.
func splitSentences(paragraph string, capacity int) []string {
	sentences := sentenceRegex.FindAllString(paragraph, -1)
	if len(sentences) == 0 {
		return hardSplit(paragraph, capacity)
	}
	// остаток после последнего знака препинания тоже нужно сохранить
	consumed := 0
	for _, s := range sentences {
		consumed += len(s)
	}
	if rest := strings.TrimSpace(paragraph[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}

	var parts []string
	var buf strings.Builder
	size := 0
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		runes := []rune(sentence)
		if len(runes) > capacity {
			if size > 0 {
				parts = append(parts, buf.String())
				buf.Reset()
				size = 0
			}
			parts = append(parts, hardSplit(sentence, capacity)...)
			continue
		}
		sep := 0
		if size > 0 {
			sep = 1
		}
		if size+sep+len(runes) > capacity {
			parts = append(parts, buf.String())
			buf.Reset()
			size = 0
			sep = 0
		}
		if sep == 1 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
		size += sep + len(runes)
	}
	if size > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}

func hardSplit(text string, capacity int) []string {
	runes := []rune(text)
	var parts []string
	for start := 0; start < len(runes); start += capacity {
		end := start + capacity
		if end > len(runes) {
			end = len(runes)
		}
		part := strings.TrimSpace(string(runes[start:end]))
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}

// overlapTail возвращает последние overlap рун текста, выровненные
// по началу слова.
func overlapTail(text string, overlap int) string {
	runes := []rune(text)
	if len(runes) <= overlap {
		return ""
	}
	tail := runes[len(runes)-overlap:]
	s := string(tail)
	if idx := strings.IndexAny(s, " \n"); idx >= 0 {
		s = strings.TrimSpace(s[idx:])
	}
	return s
}
