package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"altavo/types"
)

func (p *PostgresStore) AddChunks(ctx context.Context, collection string, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO vector_collections (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
			collection,
		); err != nil {
			return fmt.Errorf("create collection %s: %w", collection, err)
		}

		batch := &pgx.Batch{}
		for _, c := range chunks {
			if c.ID == uuid.Nil {
				c.ID = uuid.New()
			}
			batch.Queue(`
			INSERT INTO chunks (id, collection, doc_id, position, overlap, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, collection, c.DocID, c.Position, c.Overlap, c.Content, pgvector.NewVector(c.Embedding),
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (p *PostgresStore) collectionExists(ctx context.Context, collection string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM vector_collections WHERE name = $1)`, collection,
	).Scan(&exists)
	return exists, err
}

func (p *PostgresStore) Search(ctx context.Context, collection string, queryVec []float32, k int) ([]types.ScoredChunk, error) {
	if len(queryVec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	exists, err := p.collectionExists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}

	// Точный перебор внутри коллекции. Общий ANN-индекс фильтрует по коллекции
	// уже после обхода и при чужих соседях возвращает меньше k строк.
	query := `
		WITH c AS MATERIALIZED (
			SELECT id, doc_id, position, overlap, content, embedding
			FROM chunks
			WHERE collection = $1
		)
		SELECT id, doc_id, position, overlap, content, embedding <=> $2 AS distance
		FROM c
		ORDER BY distance
		LIMIT $3
	`
	rows, err := p.pool.Query(ctx, query, collection, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []types.ScoredChunk
	for rows.Next() {
		var sc types.ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocID, &sc.Position, &sc.Overlap, &sc.Content, &sc.Distance); err != nil {
			return nil, err
		}
		results = append(results, sc)
	}
	return results, rows.Err()
}

func (p *PostgresStore) DropCollection(ctx context.Context, collection string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM vector_collections WHERE name = $1`, collection)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}
	return nil
}

func (p *PostgresStore) DeleteChunksByDocID(ctx context.Context, collection string, docID uuid.UUID) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE collection = $1 AND doc_id = $2`, collection, docID)
	return err
}

func (p *PostgresStore) CountChunks(ctx context.Context, collection string) (int, error) {
	exists, err := p.collectionExists(ctx, collection)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}

	var n int
	err = p.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE collection = $1`, collection).Scan(&n)
	return n, err
}
