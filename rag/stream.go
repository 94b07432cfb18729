package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"altavo/model"
	"altavo/types"
)

const eventBuffer = 16

// Request вопрос пользователя с уже принятым решением гейта
type Request struct {
	UserID   int64
	Question string
	History  []types.Turn
	Decision Decision
}

// Streamer отдаёт ответ модели потоком событий: mode, token..., done | error
type Streamer struct {
	gen     model.TextGenerator
	prompts *PromptBuilder
	logger  *slog.Logger
}

func NewStreamer(gen model.TextGenerator, prompts *PromptBuilder) *Streamer {
	return &Streamer{
		gen:     gen,
		prompts: prompts,
		logger:  slog.Default().With("component", "streamer"),
	}
}

// Stream канал закрывается после done/error или при отмене ctx
func (s *Streamer) Stream(ctx context.Context, req Request) <-chan types.StreamEvent {
	out := make(chan types.StreamEvent, eventBuffer)
	go s.run(ctx, req, out)
	return out
}

func (s *Streamer) run(ctx context.Context, req Request, out chan<- types.StreamEvent) {
	defer close(out)

	start := time.Now()
	log := s.logger.With("user_id", req.UserID, "mode", req.Decision.Mode)

	send := func(ev types.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(types.StreamEvent{Type: types.EventMode, Value: string(req.Decision.Mode)}) {
		return
	}

	prompt := s.prompts.Build(req.Question, req.History, req.Decision)
	tokens, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		log.Error("generate", "err", err)
		send(types.StreamEvent{Type: types.EventError, Value: types.Upstream("generate", err).Error()})
		return
	}

	var full strings.Builder
	for tok := range tokens {
		if tok.Err != nil {
			log.Error("generation stream", "err", tok.Err)
			send(types.StreamEvent{Type: types.EventError, Value: types.Upstream("generate", tok.Err).Error()})
			return
		}
		if tok.Content == "" {
			continue
		}
		full.WriteString(tok.Content)
		if !send(types.StreamEvent{Type: types.EventToken, Value: tok.Content}) {
			log.Info("client gone, stream stopped", "took", time.Since(start))
			return
		}
	}

	if err := ctx.Err(); err != nil {
		log.Info("stream cancelled", "err", err)
		return
	}

	log.Info("answer streamed", "chars", full.Len(), "took", time.Since(start))
	send(types.StreamEvent{Type: types.EventDone, FullResponse: full.String()})
}
