// Package chunker режет текст документа на перекрывающиеся фрагменты
// фиксированного размера (в символах), стараясь резать по смысловым границам.
package chunker

import "strings"

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Группы разделителей по убыванию приоритета: абзац, строка, предложение, слово.
var separators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? "},
	{" "},
}

type Splitter struct {
	size    int
	overlap int
}

// New создаёт сплиттер. Перекрытие не меньше размера чанка урезается до четверти размера.
func New(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Splitter{size: size, overlap: overlap}
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split возвращает чанки, каждый из которых является непрерывным срезом text.
// Следующий чанк начинается ровно за overlap символов до конца предыдущего.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	n := len(runes)
	if n <= s.size {
		return []string{text}
	}

	chunks := make([]string, 0, n/(s.size-s.overlap)+1)
	start := 0
	for {
		if n-start <= s.size {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end := s.boundary(runes, start)
		chunks = append(chunks, string(runes[start:end]))
		start = end - s.overlap
	}
	return chunks
}

// boundary ищет конец чанка в (start+overlap, start+size], предпочитая
// разделители с более высоким приоритетом. Без разделителей режем по размеру.
func (s *Splitter) boundary(runes []rune, start int) int {
	lo := start + s.overlap + 1
	hi := start + s.size

	for _, group := range separators {
		best := -1
		for _, sep := range group {
			if end := lastEndOf(runes, lo, hi, []rune(sep)); end > best {
				best = end
			}
		}
		if best != -1 {
			return best
		}
	}
	return hi
}

// lastEndOf возвращает наибольший e в [lo, hi], для которого runes[e-len(sep):e] == sep, или -1.
func lastEndOf(runes []rune, lo, hi int, sep []rune) int {
	for e := hi; e >= lo; e-- {
		if e < len(sep) {
			break
		}
		if equalRunes(runes[e-len(sep):e], sep) {
			return e
		}
	}
	return -1
}

func equalRunes(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
