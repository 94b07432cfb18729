package rag

import (
	"context"
	"errors"
	"strings"
	"sync"

	"altavo/model"
)

var vocabulary = []string{"paris", "france", "capital", "dog", "cat", "car"}

// keywordEmbedder вектор = счётчики слов словаря плюс небольшая константа
type keywordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}

	vec := make([]float32, len(vocabulary)+1)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z')
	}) {
		for i, v := range vocabulary {
			if w == v {
				vec[i]++
			}
		}
	}
	vec[len(vocabulary)] = 0.1
	return vec, nil
}

// scriptedGenerator отдаёт заранее заданные токены и запоминает промпт
type scriptedGenerator struct {
	mu      sync.Mutex
	prompts []string
	tokens  []string
	err     error
	failAt  int
	block   bool
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt string) (<-chan model.Token, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.err != nil && g.failAt < 0 {
		return nil, g.err
	}

	ch := make(chan model.Token)
	go func() {
		defer close(ch)
		for i, t := range g.tokens {
			tok := model.Token{Content: t}
			if g.err != nil && i == g.failAt {
				tok = model.Token{Err: g.err}
			}
			select {
			case ch <- tok:
			case <-ctx.Done():
				return
			}
			if tok.Err != nil {
				return
			}
		}
		if g.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

var errBoom = errors.New("boom")
