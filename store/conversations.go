package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"altavo/types"
)

const conversationColumns = "id, user_id, title, is_pinned, created_at"

func scanConversation(row rowScanner) (*types.Conversation, error) {
	c := &types.Conversation{}
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.IsPinned, &c.CreatedAt); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) ListConversations(ctx context.Context, userID int64) ([]types.Conversation, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = $1
		ORDER BY is_pinned DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []types.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *c)
	}
	return convs, rows.Err()
}

func (p *PostgresStore) CreateConversation(ctx context.Context, conv *types.Conversation, msgs ...types.Message) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}

	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conversations (`+conversationColumns+`) VALUES ($1, $2, $3, $4, $5)`,
			conv.ID, conv.UserID, conv.Title, conv.IsPinned, conv.CreatedAt,
		); err != nil {
			return err
		}
		return insertMessages(ctx, tx, conv.ID, msgs)
	})
}

func (p *PostgresStore) GetConversation(ctx context.Context, userID int64, id uuid.UUID) (*types.Conversation, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return c, nil
}

func (p *PostgresStore) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, conversation_id, sender, content, created_at FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (p *PostgresStore) AddMessages(ctx context.Context, conversationID uuid.UUID, msgs ...types.Message) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return insertMessages(ctx, tx, conversationID, msgs)
	})
}

// insertMessages сохраняет сообщения с возрастающим created_at, чтобы порядок пары user/ai не терялся
func insertMessages(ctx context.Context, tx pgx.Tx, conversationID uuid.UUID, msgs []types.Message) error {
	now := time.Now().UTC()
	for i := range msgs {
		m := &msgs[i]
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.ConversationID = conversationID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, sender, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
			m.ID, m.ConversationID, m.Sender, m.Content, m.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) RenameConversation(ctx context.Context, userID int64, id uuid.UUID, title string) (*types.Conversation, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE conversations SET title = $3 WHERE id = $1 AND user_id = $2 RETURNING `+conversationColumns,
		id, userID, title,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return c, nil
}

func (p *PostgresStore) TogglePin(ctx context.Context, userID int64, id uuid.UUID) (*types.Conversation, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE conversations SET is_pinned = NOT is_pinned WHERE id = $1 AND user_id = $2 RETURNING `+conversationColumns,
		id, userID,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, notFound(err, "conversation")
	}
	return c, nil
}

func (p *PostgresStore) DeleteConversation(ctx context.Context, userID int64, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("conversation %s %w", id, types.ErrNotFound)
	}
	return nil
}
