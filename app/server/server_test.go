package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altavo/app/middleware"
	"altavo/config"
	"altavo/model"
	"altavo/store"
	"altavo/types"
)

const (
	testSecret = "test-secret"
	parisText  = "Paris is the capital of France."
)

var vocabulary = []string{"paris", "france", "capital", "dog", "cat", "car"}

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, len(vocabulary)+1)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r < 'a' || r > 'z'
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

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	tokens  []string
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt string) (<-chan model.Token, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	ch := make(chan model.Token)
	go func() {
		defer close(ch)
		for _, t := range g.tokens {
			select {
			case ch <- model.Token{Content: t}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (g *fakeGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type testServer struct {
	app   *fiber.App
	gen   *fakeGenerator
	store *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		ServerAddr:   ":0",
		StoreBackend: config.BackendMemory,
		Embedding:    config.EmbeddingConfig{Dim: len(vocabulary) + 1},
		LLM:          config.LLMConfig{SystemPrompt: "SYSTEM"},
		RAG: config.RAGConfig{
			ChunkSize:         1000,
			ChunkOverlap:      200,
			DirChunkSize:      500,
			DirChunkOverlap:   100,
			TopK:              3,
			DistanceThreshold: 1.0,
			MaxContextChars:   20000,
		},
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
		JWTSecret:      testSecret,
		AskTimeout:     5 * time.Second,
	}
	require.NoError(t, cfg.Validate())

	s := store.NewMemoryStore()
	gen := &fakeGenerator{tokens: []string{"Paris", " is", " the answer."}}
	app := NewApp(cfg, Deps{Store: s, Embedder: wordEmbedder{}, Generator: gen, Counter: model.ApproxCounter{}})
	return &testServer{app: app, gen: gen, store: s}
}

func bearer(t *testing.T, userID int64) string {
	t.Helper()
	tok, err := middleware.SignToken(userID, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (ts *testServer) do(t *testing.T, req *http.Request, userID int64) (*http.Response, []byte) {
	t.Helper()
	if userID != 0 {
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, userID))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (ts *testServer) doJSON(t *testing.T, method, path string, userID int64, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return ts.do(t, req, userID)
}

func (ts *testServer) upload(t *testing.T, userID int64, files map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set(fiber.HeaderContentType, w.FormDataContentType())
	return ts.do(t, req, userID)
}

func parseSSE(t *testing.T, body []byte) []types.StreamEvent {
	t.Helper()
	var events []types.StreamEvent
	for _, block := range strings.Split(strings.TrimSpace(string(body)), "\n\n") {
		require.True(t, strings.HasPrefix(block, "data: "), "unexpected block %q", block)
		var ev types.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(block, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestHealthy(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.doJSON(t, fiber.MethodGet, "/check/healthy", 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"result":"ok"`)
}

func TestAPIRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.doJSON(t, fiber.MethodGet, "/api/v1/documents", 0, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"code":401,"error":"missing token"}`, string(body))
}

func TestUploadListAndConflict(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(body))

	var up types.UploadResponse
	require.NoError(t, json.Unmarshal(body, &up))
	assert.True(t, up.Success)
	require.Len(t, up.Files, 1)
	assert.Equal(t, "notes.txt", up.Files[0].Filename)
	assert.Equal(t, 1, up.Files[0].Chunks)

	resp, _ = ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	resp, body = ts.doJSON(t, fiber.MethodGet, "/api/v1/documents", 1, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var list types.DocumentsResponse
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list.Files, 1)
	assert.Equal(t, up.Files[0].ID, list.Files[0].ID)

	// Документы другого пользователя не видны
	_, body = ts.doJSON(t, fiber.MethodGet, "/api/v1/documents", 2, nil)
	assert.JSONEq(t, `{"files":[]}`, string(body))
}

func TestUploadRejects(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.upload(t, 1, map[string]string{"notes.docx": "x"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.upload(t, 1, map[string]string{"big.txt": strings.Repeat("a", 1<<20+1)})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.upload(t, 1, map[string]string{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestUploadBrokenPDF(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.upload(t, 1, map[string]string{"broken.pdf": "not a pdf at all"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode, string(body))

	// После отказа сервер обслуживает запросы, записей не осталось
	resp, body = ts.doJSON(t, fiber.MethodGet, "/api/v1/documents", 1, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"files":[]}`, string(body))

	resp, _ = ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestPanicInHandlerIsRecovered(t *testing.T) {
	ts := newTestServer(t)
	ts.app.Get("/boom", func(c *fiber.Ctx) error {
		panic("boom")
	})

	resp, body := ts.doJSON(t, fiber.MethodGet, "/boom", 0, nil)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"code":500,"error":"internal server error"}`, string(body))

	resp, _ = ts.doJSON(t, fiber.MethodGet, "/check/healthy", 0, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAskFallbackWithoutDocuments(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{
		"question": "What is the capital of France?",
		"history":  [][]string{{"user", "Hi"}, {"assistant", "Hello!"}},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(fiber.HeaderContentType))

	events := parseSSE(t, body)
	require.Len(t, events, 5)
	assert.Equal(t, types.StreamEvent{Type: types.EventMode, Value: "fallback"}, events[0])
	assert.Equal(t, types.EventDone, events[4].Type)
	assert.Equal(t, "Paris is the answer.", events[4].FullResponse)

	prompt := ts.gen.lastPrompt()
	assert.NotContains(t, prompt, "Context:")
	assert.Contains(t, prompt, "Human: Hi\nAssistant: Hello!\nHuman: What is the capital of France?\nAssistant:")
}

func TestAskRAGAfterUpload(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{
		"question": "What is the capital of France?",
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	events := parseSSE(t, body)
	assert.Equal(t, "RAG", events[0].Value)
	assert.Contains(t, ts.gen.lastPrompt(), parisText)

	// Другой пользователь не получает чужой контекст
	_, body = ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 2, map[string]any{
		"question": "What is the capital of France?",
	})
	assert.Equal(t, "fallback", parseSSE(t, body)[0].Value)
	assert.NotContains(t, ts.gen.lastPrompt(), parisText)
}

func TestAskValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{"question": ""})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(body), "Question")

	// Пробелы вместо вопроса
	resp, _ = ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{"question": "  \n\t "})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	req := httptest.NewRequest(fiber.MethodPost, "/api/v1/ask", strings.NewReader("{broken"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, _ = ts.do(t, req, 1)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{
		"question":        "q",
		"conversation_id": "5d9c6b0e-43c5-4a3e-9d55-1f3e7c0c9a11",
	})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestDeleteDocument(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	var up types.UploadResponse
	require.NoError(t, json.Unmarshal(body, &up))
	path := "/api/v1/documents/" + up.Files[0].ID.String()

	resp, _ := ts.doJSON(t, fiber.MethodDelete, "/api/v1/documents/not-a-uuid", 1, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.doJSON(t, fiber.MethodDelete, path, 2, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, body = ts.doJSON(t, fiber.MethodDelete, path, 1, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"success":true`)

	resp, _ = ts.doJSON(t, fiber.MethodDelete, path, 1, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// Имя снова свободно
	resp, _ = ts.upload(t, 1, map[string]string{"notes.txt": parisText})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRebuild(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/documents/rebuild", 1, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var report types.RebuildResponse
	require.NoError(t, json.Unmarshal(body, &report))
	assert.True(t, report.NoOp)

	ts.upload(t, 1, map[string]string{"notes.txt": parisText, "dogs.txt": "The dog and the cat."})

	for i := 0; i < 2; i++ {
		_, body = ts.doJSON(t, fiber.MethodPost, "/api/v1/documents/rebuild", 1, nil)
		require.NoError(t, json.Unmarshal(body, &report))
		assert.False(t, report.NoOp)
		assert.Equal(t, 2, report.Documents)
		assert.Equal(t, 2, report.Chunks)
	}
}

func TestConversations(t *testing.T) {
	ts := newTestServer(t)
	longMessage := strings.Repeat("x", 50)

	resp, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/conversations", 1, map[string]any{
		"message":     longMessage,
		"ai_response": "answer",
	})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(body))
	var conv types.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))
	assert.Equal(t, strings.Repeat("x", 40)+"...", conv.Title)
	base := fmt.Sprintf("/api/v1/conversations/%s", conv.ID)

	resp, _ = ts.doJSON(t, fiber.MethodPost, "/api/v1/conversations", 1, map[string]any{"message": ""})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp, _ = ts.doJSON(t, fiber.MethodPost, base+"/messages", 1, map[string]any{
		"user_message": "follow up",
		"ai_response":  "sure",
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	_, body = ts.doJSON(t, fiber.MethodGet, base+"/messages", 1, nil)
	var msgs []types.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 4)
	assert.Equal(t, longMessage, msgs[0].Content)
	assert.Equal(t, "sure", msgs[3].Content)

	resp, body = ts.doJSON(t, fiber.MethodPut, base+"/rename", 1, map[string]any{"title": "  Trip  "})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &conv))
	assert.Equal(t, "Trip", conv.Title)

	resp, _ = ts.doJSON(t, fiber.MethodPut, base+"/rename", 1, map[string]any{"title": "   "})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)

	_, body = ts.doJSON(t, fiber.MethodPut, base+"/pin", 1, nil)
	require.NoError(t, json.Unmarshal(body, &conv))
	assert.True(t, conv.IsPinned)

	_, body = ts.doJSON(t, fiber.MethodGet, "/api/v1/conversations", 1, nil)
	var convs []types.Conversation
	require.NoError(t, json.Unmarshal(body, &convs))
	require.Len(t, convs, 1)

	// Чужой диалог выглядит как несуществующий
	resp, _ = ts.doJSON(t, fiber.MethodGet, base+"/messages", 2, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	resp, _ = ts.doJSON(t, fiber.MethodDelete, base, 2, nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = ts.doJSON(t, fiber.MethodDelete, base, 1, nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	_, body = ts.doJSON(t, fiber.MethodGet, "/api/v1/conversations", 1, nil)
	assert.JSONEq(t, `[]`, string(body))
}

func TestAskPersistsToConversation(t *testing.T) {
	ts := newTestServer(t)

	_, body := ts.doJSON(t, fiber.MethodPost, "/api/v1/conversations", 1, map[string]any{"message": "Hi"})
	var conv types.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	resp, _ := ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 1, map[string]any{
		"question":        "Who?",
		"conversation_id": conv.ID,
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	msgs, err := ts.store.ListMessages(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Who?", msgs[1].Content)
	assert.Equal(t, types.SenderAI, msgs[2].Sender)
	assert.Equal(t, "Paris is the answer.", msgs[2].Content)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.upload(t, 1, map[string]string{"notes.txt": "Paris is the capital of France."})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp, _ = ts.doJSON(t, fiber.MethodPost, "/api/v1/ask", 2, map[string]any{"question": "hello"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := ts.doJSON(t, fiber.MethodGet, "/metrics", 0, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `altavo_answers_total{mode="fallback"} 1`)
	assert.Contains(t, string(body), `altavo_ingested_files_total{result="ok"} 1`)
	assert.Contains(t, string(body), `altavo_indexed_chunks_total 1`)
	assert.Contains(t, string(body), `route="/api/v1/upload",status="200"`)
}
