package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"altavo/types"
)

// DocumentStorer учёт загруженных файлов пользователей
type DocumentStorer interface {
	CreateDocument(context.Context, *types.Document) error
	GetDocument(context.Context, uuid.UUID) (*types.Document, error)
	FindDocumentByName(ctx context.Context, userID int64, filename string) (*types.Document, error)
	ListDocuments(ctx context.Context, userID int64) ([]types.Document, error)
	DeleteDocument(context.Context, uuid.UUID) error
}

// VectorIndex набор изолированных векторных коллекций, по одной на пользователя.
// Search возвращает пары (чанк, косинусное расстояние) по возрастанию расстояния.
type VectorIndex interface {
	AddChunks(ctx context.Context, collection string, chunks []types.Chunk) error
	Search(ctx context.Context, collection string, vec []float32, k int) ([]types.ScoredChunk, error)
	DropCollection(ctx context.Context, collection string) error
	DeleteChunksByDocID(ctx context.Context, collection string, docID uuid.UUID) error
	CountChunks(ctx context.Context, collection string) (int, error)
}

type ConversationStorer interface {
	ListConversations(ctx context.Context, userID int64) ([]types.Conversation, error)
	CreateConversation(ctx context.Context, conv *types.Conversation, msgs ...types.Message) error
	GetConversation(ctx context.Context, userID int64, id uuid.UUID) (*types.Conversation, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]types.Message, error)
	AddMessages(ctx context.Context, conversationID uuid.UUID, msgs ...types.Message) error
	RenameConversation(ctx context.Context, userID int64, id uuid.UUID, title string) (*types.Conversation, error)
	TogglePin(ctx context.Context, userID int64, id uuid.UUID) (*types.Conversation, error)
	DeleteConversation(ctx context.Context, userID int64, id uuid.UUID) error
}

type DBStorer interface {
	DocumentStorer
	VectorIndex
	ConversationStorer
	Init(context.Context) error
	Close() error
}

type PostgresStore struct {
	pool         *pgxpool.Pool
	embeddingDim int
	logger       *slog.Logger
}

func NewPostgresStore(ctx context.Context, connStr string, embeddingDim int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:         pool,
		embeddingDim: embeddingDim,
		logger:       slog.Default().With("component", "postgres"),
	}, nil
}

func (p *PostgresStore) createTables(ctx context.Context) error {
	query := fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		filename TEXT NOT NULL,
		filepath TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now(),
		UNIQUE (user_id, filename)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id);

	CREATE TABLE IF NOT EXISTS vector_collections (
		name TEXT PRIMARY KEY,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS chunks (
		id UUID PRIMARY KEY,
		collection TEXT NOT NULL REFERENCES vector_collections(name) ON DELETE CASCADE,
		doc_id UUID NOT NULL,
		position INT NOT NULL,
		overlap INT NOT NULL DEFAULT 0,
		content TEXT NOT NULL,
		embedding vector(%d) NOT NULL
	);

	-- Поиск идёт точным перебором внутри коллекции, общий hnsw-индекс не нужен
	DROP INDEX IF EXISTS idx_chunks_embedding;

	-- Индексы для фильтрации
	CREATE INDEX IF NOT EXISTS idx_chunks_collection ON chunks(collection);
	CREATE INDEX IF NOT EXISTS idx_chunks_doc_id ON chunks(collection, doc_id);

	CREATE TABLE IF NOT EXISTS conversations (
		id UUID PRIMARY KEY,
		user_id BIGINT NOT NULL,
		title TEXT NOT NULL,
		is_pinned BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_pinned ON conversations(is_pinned);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY,
		conversation_id UUID NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender TEXT NOT NULL CHECK (sender IN ('user','ai')),
		content TEXT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
	`, p.embeddingDim)

	_, err := p.pool.Exec(ctx, query)
	return err
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return p.createTables(ctx)
}

// Close закрывает пул подключений
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Info("postgres connection pool is closed")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %w", what, types.ErrNotFound)
	}
	return err
}

// Open создаёт хранилище выбранного бэкенда и готовит схему
func Open(ctx context.Context, backend, connStr string, embeddingDim int) (DBStorer, error) {
	var s DBStorer
	switch backend {
	case "memory":
		s = NewMemoryStore()
	case "postgres", "":
		pg, err := NewPostgresStore(ctx, connStr, embeddingDim)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		s = pg
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}

	if err := s.Init(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("init store: %w", err)
	}
	return s, nil
}
