package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"altavo/types"
)

// MemoryStore хранилище в памяти процесса. Используется в тестах и при STORE_BACKEND=memory
type MemoryStore struct {
	mu            sync.RWMutex
	docs          map[uuid.UUID]types.Document
	collections   map[string][]types.Chunk
	conversations map[uuid.UUID]types.Conversation
	messages      map[uuid.UUID][]types.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:          make(map[uuid.UUID]types.Document),
		collections:   make(map[string][]types.Chunk),
		conversations: make(map[uuid.UUID]types.Conversation),
		messages:      make(map[uuid.UUID][]types.Message),
	}
}

func (s *MemoryStore) Init(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateDocument(_ context.Context, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.docs {
		if (d.UserID == doc.UserID && d.Filename == doc.Filename) || d.Path == doc.Path {
			return fmt.Errorf("document %q: %w", doc.Filename, types.ErrConflict)
		}
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %w", types.ErrNotFound)
	}
	return &d, nil
}

func (s *MemoryStore) FindDocumentByName(_ context.Context, userID int64, filename string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, d := range s.docs {
		if d.UserID == userID && d.Filename == filename {
			return &d, nil
		}
	}
	return nil, fmt.Errorf("document %w", types.ErrNotFound)
}

func (s *MemoryStore) ListDocuments(_ context.Context, userID int64) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []types.Document
	for _, d := range s.docs {
		if d.UserID == userID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].Filename < docs[j].Filename
	})
	return docs, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("document %s %w", id, types.ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}

func (s *MemoryStore) AddChunks(_ context.Context, collection string, chunks []types.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.Embedding = append([]float32(nil), c.Embedding...)
		s.collections[collection] = append(s.collections[collection], c)
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, collection string, vec []float32, k int) ([]types.ScoredChunk, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("empty query vector")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}

	results := make([]types.ScoredChunk, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, types.ScoredChunk{Chunk: c, Distance: cosineDistance(vec, c.Embedding)})
	}

	// По возрастанию расстояния
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if k >= 0 && len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *MemoryStore) DropCollection(_ context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; !ok {
		return fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}
	delete(s.collections, collection)
	return nil
}

func (s *MemoryStore) DeleteChunksByDocID(_ context.Context, collection string, docID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, ok := s.collections[collection]
	if !ok {
		return nil
	}
	kept := chunks[:0]
	for _, c := range chunks {
		if c.DocID != docID {
			kept = append(kept, c)
		}
	}
	s.collections[collection] = kept
	return nil
}

func (s *MemoryStore) CountChunks(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%s: %w", collection, types.ErrCollectionNotFound)
	}
	return len(chunks), nil
}

func (s *MemoryStore) ListConversations(_ context.Context, userID int64) ([]types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []types.Conversation
	for _, c := range s.conversations {
		if c.UserID == userID {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if convs[i].IsPinned != convs[j].IsPinned {
			return convs[i].IsPinned
		}
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

func (s *MemoryStore) CreateConversation(_ context.Context, conv *types.Conversation, msgs ...types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if _, ok := s.conversations[conv.ID]; ok {
		return fmt.Errorf("conversation %s: %w", conv.ID, types.ErrConflict)
	}
	s.conversations[conv.ID] = *conv
	s.appendMessages(conv.ID, msgs)
	return nil
}

func (s *MemoryStore) GetConversation(_ context.Context, userID int64, id uuid.UUID) (*types.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("conversation %w", types.ErrNotFound)
	}
	return &c, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, conversationID uuid.UUID) ([]types.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]types.Message(nil), s.messages[conversationID]...), nil
}

func (s *MemoryStore) AddMessages(_ context.Context, conversationID uuid.UUID, msgs ...types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return fmt.Errorf("conversation %w", types.ErrNotFound)
	}
	s.appendMessages(conversationID, msgs)
	return nil
}

func (s *MemoryStore) appendMessages(conversationID uuid.UUID, msgs []types.Message) {
	now := time.Now().UTC()
	for i, m := range msgs {
		if m.ID == uuid.Nil {
			m.ID = uuid.New()
		}
		m.ConversationID = conversationID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		s.messages[conversationID] = append(s.messages[conversationID], m)
	}
}

func (s *MemoryStore) RenameConversation(_ context.Context, userID int64, id uuid.UUID, title string) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("conversation %w", types.ErrNotFound)
	}
	c.Title = title
	s.conversations[id] = c
	return &c, nil
}

func (s *MemoryStore) TogglePin(_ context.Context, userID int64, id uuid.UUID) (*types.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return nil, fmt.Errorf("conversation %w", types.ErrNotFound)
	}
	c.IsPinned = !c.IsPinned
	s.conversations[id] = c
	return &c, nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, userID int64, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok || c.UserID != userID {
		return fmt.Errorf("conversation %s %w", id, types.ErrNotFound)
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

// cosineDistance 1 - cos(a, b), та же метрика, что и оператор <=> в pgvector
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}
