package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Token очередной фрагмент ответа модели. Err != nil завершает поток.
type Token struct {
	Content string
	Done    bool
	Err     error
}

// TextGenerator генерирует ответ на промпт потоком токенов
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (<-chan Token, error)
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

type OllamaGenerator struct {
	url     string
	model   string
	options GenerateOptions
	client  *http.Client
}

// NewOllamaGenerator без таймаута клиента: длительность ограничивает контекст вызова
func NewOllamaGenerator(url, model string, temperature float64, maxTokens int) *OllamaGenerator {
	return &OllamaGenerator{
		url:   url,
		model: model,
		options: GenerateOptions{
			Temperature: temperature,
			NumPredict:  maxTokens,
			TopK:        40,
			TopP:        0.9,
		},
		client: &http.Client{},
	}
}

const tokenBuffer = 16

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (<-chan Token, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:   g.model,
		Prompt:  prompt,
		Stream:  true,
		Options: g.options,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call LLM: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("LLM API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	ch := make(chan Token, tokenBuffer)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		send := func(t Token) bool {
			select {
			case ch <- t:
				return true
			case <-ctx.Done():
				return false
			}
		}

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk GenerateResponse
			if err := decoder.Decode(&chunk); err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				if ctx.Err() != nil {
					err = ctx.Err()
				}
				send(Token{Err: fmt.Errorf("decode response: %w", err)})
				return
			}
			if chunk.Error != "" {
				send(Token{Err: fmt.Errorf("LLM error: %s", chunk.Error)})
				return
			}
			if !send(Token{Content: chunk.Response, Done: chunk.Done}) {
				return
			}
			if chunk.Done {
				return
			}
		}
	}()

	return ch, nil
}
