package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Mode string

const (
	ModeRAG      Mode = "RAG"
	ModeFallback Mode = "fallback"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

type Chunk struct {
	ID        uuid.UUID
	DocID     uuid.UUID
	Position  int
	Overlap   int // символов, общих с предыдущим чанком документа
	Content   string
	Embedding []float32
}

// ScoredChunk чанк с косинусным расстоянием до запроса (меньше = ближе)
type ScoredChunk struct {
	Chunk
	Distance float64
}

type Document struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Filename  string    `json:"filename"`
	Path      string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

type Conversation struct {
	ID        uuid.UUID `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	IsPinned  bool      `json:"is_pinned"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn одна реплика истории диалога: (role, text)
type Turn struct {
	Role string
	Text string
}

type EventType string

const (
	EventMode  EventType = "mode"
	EventToken EventType = "token"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent событие SSE-потока ответа
type StreamEvent struct {
	Type         EventType `json:"type"`
	Value        string    `json:"value,omitempty"`
	FullResponse string    `json:"full_response,omitempty"`
}

// CollectionName детерминированное имя векторной коллекции пользователя
func CollectionName(userID int64) string {
	return fmt.Sprintf("user_%d_collection", userID)
}

// UserDir имя каталога загрузок пользователя
func UserDir(userID int64) string {
	return fmt.Sprintf("user_%d", userID)
}
