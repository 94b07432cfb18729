package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"altavo/types"
)

const documentColumns = "id, user_id, filename, filepath, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	doc := &types.Document{}
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Filename, &doc.Path, &doc.CreatedAt); err != nil {
		return nil, err
	}
	return doc, nil
}

func (p *PostgresStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	_, err := p.pool.Exec(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.UserID, doc.Filename, doc.Path, doc.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("document %q: %w", doc.Filename, types.ErrConflict)
	}
	return err
}

func (p *PostgresStore) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document")
	}
	return doc, nil
}

func (p *PostgresStore) FindDocumentByName(ctx context.Context, userID int64, filename string) (*types.Document, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 AND filename = $2`,
		userID, filename,
	)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, notFound(err, "document")
	}
	return doc, nil
}

func (p *PostgresStore) ListDocuments(ctx context.Context, userID int64) ([]types.Document, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY created_at, filename`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close() // Обязательно закрываем rows для освобождения соединения

	var docs []types.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s %w", id, types.ErrNotFound)
	}
	return nil
}
