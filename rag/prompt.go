package rag

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"altavo/model"
	"altavo/types"
)

const (
	DefaultMaxContextChars = 20000

	humanPrefix     = "Human: "
	assistantPrefix = "Assistant: "
)

// PromptBuilder собирает промпт: системная инструкция, контекст (только RAG), история и вопрос
type PromptBuilder struct {
	systemPrompt    string
	maxContextChars int
	maxTokens       int
	counter         model.TokenCounter
}

// NewPromptBuilder maxTokens <= 0 отключает ограничение по токенам
func NewPromptBuilder(systemPrompt string, maxContextChars, maxTokens int, counter model.TokenCounter) *PromptBuilder {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	if counter == nil {
		counter = model.ApproxCounter{}
	}
	return &PromptBuilder{
		systemPrompt:    systemPrompt,
		maxContextChars: maxContextChars,
		maxTokens:       maxTokens,
		counter:         counter,
	}
}

func (b *PromptBuilder) Build(question string, history []types.Turn, decision Decision) string {
	var context string
	if decision.Mode == types.ModeRAG {
		context = b.buildContext(decision.Results)
	}

	lines := historyLines(history)
	prompt := b.render(context, lines, question)

	// Старые реплики выбрасываем первыми, пока промпт не влезет в бюджет
	for b.maxTokens > 0 && len(lines) > 0 && b.counter.Count(prompt) > b.maxTokens {
		lines = lines[1:]
		prompt = b.render(context, lines, question)
	}
	return prompt
}

func (b *PromptBuilder) render(context string, history []string, question string) string {
	var sb strings.Builder
	sb.WriteString(b.systemPrompt)
	if context != "" {
		sb.WriteString("\n\nContext:\n")
		sb.WriteString(context)
	}
	sb.WriteString("\n\nHistory:\n")
	for _, line := range history {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(humanPrefix)
	sb.WriteString(question)
	sb.WriteString("\nAssistant:")
	return sb.String()
}

// historyLines оставляет только реплики пользователя и ассистента
func historyLines(history []types.Turn) []string {
	lines := make([]string, 0, len(history))
	for _, turn := range history {
		switch strings.ToLower(strings.TrimSpace(turn.Role)) {
		case "user", "human":
			lines = append(lines, humanPrefix+turn.Text)
		case "assistant", "ai":
			lines = append(lines, assistantPrefix+turn.Text)
		}
	}
	return lines
}

// buildContext склеивает тексты найденных чанков.
// Документы идут в порядке релевантности, чанки внутри документа по позиции;
// у соседних чанков одного документа общий overlap выкидывается.
func (b *PromptBuilder) buildContext(results []types.ScoredChunk) string {
	var order []uuid.UUID
	grouped := make(map[uuid.UUID][]types.Chunk)
	for _, sc := range results {
		if _, ok := grouped[sc.DocID]; !ok {
			order = append(order, sc.DocID)
		}
		grouped[sc.DocID] = append(grouped[sc.DocID], sc.Chunk)
	}

	var sb strings.Builder
	used := 0
	for _, docID := range order {
		for _, part := range mergeChunks(grouped[docID]) {
			sep := 0
			if used > 0 {
				sep = 2
			}
			size := len([]rune(part))
			if used+sep+size > b.maxContextChars {
				// Первый кусок обрезаем, чтобы контекст не оказался пустым
				if used == 0 {
					sb.WriteString(string([]rune(part)[:b.maxContextChars]))
				}
				return sb.String()
			}
			if sep > 0 {
				sb.WriteString("\n\n")
			}
			sb.WriteString(part)
			used += sep + size
		}
	}
	return sb.String()
}

// mergeChunks сортирует чанки документа по позиции и сливает соседние, убирая перекрытие
func mergeChunks(chunks []types.Chunk) []string {
	sorted := append([]types.Chunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})

	var parts []string
	var cur strings.Builder
	for i, ch := range sorted {
		if i > 0 && ch.Position == sorted[i-1].Position {
			continue
		}
		if i > 0 && ch.Position == sorted[i-1].Position+1 {
			cur.WriteString(trimOverlap(ch.Content, ch.Overlap))
			continue
		}
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		cur.WriteString(ch.Content)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

func trimOverlap(content string, overlap int) string {
	if overlap <= 0 {
		return content
	}
	runes := []rune(content)
	if overlap >= len(runes) {
		return ""
	}
	return string(runes[overlap:])
}
