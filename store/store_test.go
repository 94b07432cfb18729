package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"altavo/types"
)

var _ DBStorer = (*MemoryStore)(nil)
var _ DBStorer = (*PostgresStore)(nil)

// runStoreSuite общие проверки для всех реализаций DBStorer.
// open должен отдавать пустое хранилище.
func runStoreSuite(t *testing.T, open func(t *testing.T) DBStorer) {
	cases := []struct {
		name string
		fn   func(*testing.T, DBStorer)
	}{
		{"Documents", testDocuments},
		{"SearchOrdersByDistance", testSearchOrdersByDistance},
		{"CollectionsIsolated", testCollectionsIsolated},
		{"SearchAmongCrowdedCollections", testSearchAmongCrowdedCollections},
		{"DeleteChunksAndDrop", testDeleteChunksAndDrop},
		{"Conversations", testConversations},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func testDocuments(t *testing.T, s DBStorer) {
	ctx := context.Background()

	doc := &types.Document{UserID: 1, Filename: "a.txt", Path: "/u/user_1/a.txt"}
	require.NoError(t, s.CreateDocument(ctx, doc))
	assert.NotEqual(t, uuid.Nil, doc.ID)

	err := s.CreateDocument(ctx, &types.Document{UserID: 1, Filename: "a.txt", Path: "/other"})
	assert.ErrorIs(t, err, types.ErrConflict)

	// Другой пользователь может загрузить файл с тем же именем
	require.NoError(t, s.CreateDocument(ctx, &types.Document{UserID: 2, Filename: "a.txt", Path: "/u/user_2/a.txt"}))

	found, err := s.FindDocumentByName(ctx, 1, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, found.ID)

	docs, err := s.ListDocuments(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))
	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(ctx, doc.ID), types.ErrNotFound)
}

func testSearchOrdersByDistance(t *testing.T, s DBStorer) {
	ctx := context.Background()
	col := types.CollectionName(1)

	_, err := s.Search(ctx, col, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	assert.ErrorIs(t, err, types.ErrNotFound)

	require.NoError(t, s.AddChunks(ctx, col, []types.Chunk{
		{Content: "far", Embedding: []float32{0, 1}},
		{Content: "near", Embedding: []float32{1, 0}},
		{Content: "mid", Embedding: []float32{1, 1}},
		{Content: "opposite", Embedding: []float32{-1, 0}},
	}))

	res, err := s.Search(ctx, col, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "near", res[0].Content)
	assert.Equal(t, "mid", res[1].Content)
	assert.Equal(t, "far", res[2].Content)
	assert.InDelta(t, 0, res[0].Distance, 1e-6)
	assert.InDelta(t, 1, res[2].Distance, 1e-6)
	for i := 1; i < len(res); i++ {
		assert.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
	}
}

func testCollectionsIsolated(t *testing.T, s DBStorer) {
	ctx := context.Background()

	require.NoError(t, s.AddChunks(ctx, types.CollectionName(1), []types.Chunk{{Content: "one", Embedding: []float32{1, 0}}}))
	require.NoError(t, s.AddChunks(ctx, types.CollectionName(2), []types.Chunk{{Content: "two", Embedding: []float32{1, 0}}}))

	res, err := s.Search(ctx, types.CollectionName(2), []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "two", res[0].Content)
}

func testSearchAmongCrowdedCollections(t *testing.T, s DBStorer) {
	ctx := context.Background()

	// У чужих коллекций сотни чанков ближе к запросу, чем свои
	for user := int64(2); user <= 4; user++ {
		crowd := make([]types.Chunk, 100)
		for i := range crowd {
			crowd[i] = types.Chunk{Content: "other", Position: i, Embedding: []float32{1, float32(i) / 1000}}
		}
		require.NoError(t, s.AddChunks(ctx, types.CollectionName(user), crowd))
	}
	require.NoError(t, s.AddChunks(ctx, types.CollectionName(1), []types.Chunk{
		{Content: "own-a", Position: 0, Embedding: []float32{0, 1}},
		{Content: "own-b", Position: 1, Embedding: []float32{-1, 1}},
		{Content: "own-c", Position: 2, Embedding: []float32{-1, 0}},
	}))

	res, err := s.Search(ctx, types.CollectionName(1), []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "own-a", res[0].Content)
	assert.Equal(t, "own-b", res[1].Content)
	assert.Equal(t, "own-c", res[2].Content)
}

func testDeleteChunksAndDrop(t *testing.T, s DBStorer) {
	ctx := context.Background()
	col := types.CollectionName(1)
	a, b := uuid.New(), uuid.New()

	require.NoError(t, s.AddChunks(ctx, col, []types.Chunk{
		{DocID: a, Content: "a1", Embedding: []float32{1, 0}},
		{DocID: b, Content: "b1", Embedding: []float32{0, 1}},
		{DocID: a, Content: "a2", Embedding: []float32{1, 1}},
	}))

	require.NoError(t, s.DeleteChunksByDocID(ctx, col, a))
	n, err := s.CountChunks(ctx, col)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.DropCollection(ctx, col))
	_, err = s.CountChunks(ctx, col)
	assert.ErrorIs(t, err, types.ErrCollectionNotFound)
	assert.ErrorIs(t, s.DropCollection(ctx, col), types.ErrCollectionNotFound)
}

func testConversations(t *testing.T, s DBStorer) {
	ctx := context.Background()

	old := &types.Conversation{UserID: 1, Title: "old", CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.CreateConversation(ctx, old))
	recent := &types.Conversation{UserID: 1, Title: "recent"}
	require.NoError(t, s.CreateConversation(ctx, recent,
		types.Message{Sender: types.SenderUser, Content: "hi"},
		types.Message{Sender: types.SenderAI, Content: "hello"},
	))
	require.NoError(t, s.CreateConversation(ctx, &types.Conversation{UserID: 2, Title: "foreign"}))

	convs, err := s.ListConversations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "recent", convs[0].Title)

	pinned, err := s.TogglePin(ctx, 1, old.ID)
	require.NoError(t, err)
	assert.True(t, pinned.IsPinned)

	convs, err = s.ListConversations(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "old", convs[0].Title)

	msgs, err := s.ListMessages(ctx, recent.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, types.SenderUser, msgs[0].Sender)
	assert.Equal(t, types.SenderAI, msgs[1].Sender)

	_, err = s.GetConversation(ctx, 2, recent.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)

	renamed, err := s.RenameConversation(ctx, 1, recent.ID, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "renamed", renamed.Title)

	assert.ErrorIs(t, s.DeleteConversation(ctx, 2, recent.ID), types.ErrNotFound)
	require.NoError(t, s.DeleteConversation(ctx, 1, recent.ID))
	msgs, err = s.ListMessages(ctx, recent.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
