package rag

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"altavo/model"
	"altavo/store"
	"altavo/types"
)

const (
	DefaultTopK              = 3
	DefaultDistanceThreshold = 1.0
)

// Decision результат проверки релевантности: режим ответа и прошедшие фильтр чанки
type Decision struct {
	Mode    types.Mode
	Results []types.ScoredChunk
}

func FallbackDecision() Decision {
	return Decision{Mode: types.ModeFallback}
}

// Gate решает, отвечать ли с контекстом из коллекции пользователя.
// Метрика везде одна: косинусное расстояние, меньше = ближе.
type Gate struct {
	embedder  model.Embedder
	index     store.VectorIndex
	topK      int
	threshold float64
	logger    *slog.Logger
}

func NewGate(embedder model.Embedder, index store.VectorIndex, topK int, threshold float64) *Gate {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if threshold <= 0 {
		threshold = DefaultDistanceThreshold
	}
	return &Gate{
		embedder:  embedder,
		index:     index,
		topK:      topK,
		threshold: threshold,
		logger:    slog.Default().With("component", "gate"),
	}
}

func (g *Gate) Decide(ctx context.Context, userID int64, query string) (Decision, error) {
	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		return FallbackDecision(), types.Upstream("embed query", err)
	}

	found, err := g.index.Search(ctx, types.CollectionName(userID), vec, g.topK)
	if errors.Is(err, types.ErrCollectionNotFound) {
		g.logger.Debug("no collection yet", "user_id", userID)
		return FallbackDecision(), nil
	}
	if err != nil {
		return FallbackDecision(), types.Upstream("similarity search", err)
	}

	results := g.filter(found)
	if len(results) == 0 {
		g.logger.Debug("nothing below threshold", "user_id", userID, "candidates", len(found), "threshold", g.threshold)
		return FallbackDecision(), nil
	}

	g.logger.Debug("context found", "user_id", userID, "chunks", len(results), "best", results[0].Distance)
	return Decision{Mode: types.ModeRAG, Results: results}, nil
}

func (g *Gate) filter(found []types.ScoredChunk) []types.ScoredChunk {
	results := make([]types.ScoredChunk, 0, len(found))
	for _, sc := range found {
		if sc.Distance < g.threshold {
			results = append(results, sc)
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results
}
