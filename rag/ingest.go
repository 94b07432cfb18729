package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"altavo/chunker"
	"altavo/loader"
	"altavo/model"
	"altavo/store"
	"altavo/types"
)

// Ingestor загружает файлы пользователя в его векторную коллекцию
type Ingestor struct {
	docs      store.DocumentStorer
	index     store.VectorIndex
	embedder  model.Embedder
	splitter  *chunker.Splitter
	uploadDir string
	maxBytes  int64
	logger    *slog.Logger
}

func NewIngestor(
	docs store.DocumentStorer,
	index store.VectorIndex,
	embedder model.Embedder,
	splitter *chunker.Splitter,
	uploadDir string,
	maxBytes int64,
) *Ingestor {
	return &Ingestor{
		docs:      docs,
		index:     index,
		embedder:  embedder,
		splitter:  splitter,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
		logger:    slog.Default().With("component", "ingest"),
	}
}

// WithChunker копия ingestor с другой политикой нарезки
func (i *Ingestor) WithChunker(s *chunker.Splitter) *Ingestor {
	cp := *i
	cp.splitter = s
	return &cp
}

// Ingest сохраняет файл, индексирует его и создаёт запись документа.
// При любой ошибке после резервирования файла всё созданное откатывается.
func (i *Ingestor) Ingest(ctx context.Context, userID int64, filename string, data []byte) (doc *types.Document, n int, err error) {
	name := baseName(filename)
	if name == "" {
		return nil, 0, fmt.Errorf("%w: empty filename", types.ErrValidation)
	}
	if !loader.Supported(name) {
		return nil, 0, fmt.Errorf("%q: %w", name, types.ErrUnsupportedType)
	}
	if int64(len(data)) > i.maxBytes {
		return nil, 0, fmt.Errorf("%q is %d bytes, limit %d: %w", name, len(data), i.maxBytes, types.ErrTooLarge)
	}

	if _, err := i.docs.FindDocumentByName(ctx, userID, name); err == nil {
		return nil, 0, fmt.Errorf("document %q: %w", name, types.ErrConflict)
	} else if !errors.Is(err, types.ErrNotFound) {
		return nil, 0, err
	}

	dir := filepath.Join(i.uploadDir, types.UserDir(userID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, 0, fmt.Errorf("create upload dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, 0, fmt.Errorf("file %q: %w", name, types.ErrConflict)
		}
		return nil, 0, fmt.Errorf("reserve %s: %w", path, err)
	}

	// Откат работает с собственной копией: именованный doc обнуляется при return
	created := &types.Document{
		ID:       uuid.New(),
		UserID:   userID,
		Filename: name,
		Path:     path,
	}
	collection := types.CollectionName(userID)
	var recorded, indexed bool

	defer func() {
		if err == nil {
			return
		}
		i.rollback(context.WithoutCancel(ctx), created, collection, recorded, indexed)
		doc, n = nil, 0
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("write %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return nil, 0, fmt.Errorf("close %s: %w", path, err)
	}

	text, err := loader.Extract(name, data)
	if err != nil {
		if !errors.Is(err, types.ErrValidation) {
			err = fmt.Errorf("%w: %s: %v", types.ErrValidation, name, err)
		}
		return nil, 0, err
	}

	chunks, err := i.embedChunks(ctx, created.ID, text)
	if err != nil {
		return nil, 0, err
	}
	if len(chunks) == 0 {
		i.logger.Warn("no text extracted", "user_id", userID, "filename", name)
	}

	if err = i.docs.CreateDocument(ctx, created); err != nil {
		return nil, 0, err
	}
	recorded = true

	indexed = true
	if err = i.index.AddChunks(ctx, collection, chunks); err != nil {
		return nil, 0, types.Upstream("add chunks", err)
	}

	i.logger.Info("document ingested", "user_id", userID, "filename", name, "doc_id", created.ID, "chunks", len(chunks))
	return created, len(chunks), nil
}

func (i *Ingestor) rollback(ctx context.Context, doc *types.Document, collection string, recorded, indexed bool) {
	log := i.logger.With("user_id", doc.UserID, "filename", doc.Filename)

	if indexed {
		if err := i.index.DeleteChunksByDocID(ctx, collection, doc.ID); err != nil {
			log.Error("rollback chunks", "err", err)
		}
	}
	if recorded {
		if err := i.docs.DeleteDocument(ctx, doc.ID); err != nil {
			log.Error("rollback document record", "err", err)
		}
	}
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Error("rollback file", "path", doc.Path, "err", err)
	}
}

// embedChunks режет текст и считает эмбеддинг каждого чанка
func (i *Ingestor) embedChunks(ctx context.Context, docID uuid.UUID, text string) ([]types.Chunk, error) {
	parts := i.splitter.Split(text)
	chunks := make([]types.Chunk, 0, len(parts))

	for pos, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := i.embedder.Embed(ctx, part)
		if err != nil {
			return nil, types.Upstream("embed chunk", err)
		}

		overlap := 0
		if pos > 0 {
			overlap = i.splitter.Overlap()
		}
		chunks = append(chunks, types.Chunk{
			ID:        uuid.New(),
			DocID:     docID,
			Position:  pos,
			Overlap:   overlap,
			Content:   part,
			Embedding: vec,
		})
	}
	return chunks, nil
}

// RebuildReport итог переиндексации коллекции пользователя
type RebuildReport struct {
	Documents int
	Chunks    int
	Results   []types.DocResult
}

// NoOp нечего было индексировать: нет документов или ни одного чанка
func (r RebuildReport) NoOp() bool {
	return r.Documents == 0 || r.Chunks == 0
}

func (r RebuildReport) Response() *types.RebuildResponse {
	return &types.RebuildResponse{
		Documents: r.Documents,
		Chunks:    r.Chunks,
		NoOp:      r.NoOp(),
		Results:   r.Results,
		Timestamp: time.Now(),
	}
}

// Rebuild пересоздаёт коллекцию пользователя из его документов.
// Ошибки отдельных документов попадают в отчёт и не прерывают процесс.
func (i *Ingestor) Rebuild(ctx context.Context, userID int64) (*RebuildReport, error) {
	collection := types.CollectionName(userID)
	log := i.logger.With("user_id", userID)

	if err := i.index.DropCollection(ctx, collection); err != nil && !errors.Is(err, types.ErrCollectionNotFound) {
		return nil, types.Upstream("drop collection", err)
	}

	docs, err := i.docs.ListDocuments(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &RebuildReport{Documents: len(docs)}
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := i.rebuildDocument(ctx, collection, doc)
		switch res.Status {
		case types.DocIndexed:
			report.Chunks += res.Chunks
			log.Info("document reindexed", "filename", doc.Filename, "chunks", res.Chunks)
		case types.DocSkipped:
			log.Warn("document skipped", "filename", doc.Filename, "reason", res.Reason)
		case types.DocFailed:
			log.Error("document failed", "filename", doc.Filename, "reason", res.Reason)
		}
		report.Results = append(report.Results, res)
	}

	log.Info("rebuild finished", "documents", report.Documents, "chunks", report.Chunks, "noop", report.NoOp())
	return report, nil
}

func (i *Ingestor) rebuildDocument(ctx context.Context, collection string, doc types.Document) types.DocResult {
	res := types.DocResult{DocID: doc.ID, Filename: doc.Filename}

	if _, err := os.Stat(doc.Path); err != nil {
		res.Status = types.DocSkipped
		if errors.Is(err, fs.ErrNotExist) {
			res.Reason = "file not found"
		} else {
			res.Reason = err.Error()
		}
		return res
	}
	if !loader.Supported(doc.Filename) {
		res.Status, res.Reason = types.DocSkipped, "unsupported file type"
		return res
	}

	text, err := loader.ExtractFile(doc.Path)
	if err != nil {
		res.Status, res.Reason = types.DocFailed, err.Error()
		return res
	}

	chunks, err := i.embedChunks(ctx, doc.ID, text)
	if err == nil {
		err = i.index.AddChunks(ctx, collection, chunks)
	}
	if err != nil {
		res.Status, res.Reason = types.DocFailed, err.Error()
		return res
	}

	res.Status, res.Chunks = types.DocIndexed, len(chunks)
	return res
}

// DeleteDocument удаляет чанки документа, запись о нём и сам файл
func (i *Ingestor) DeleteDocument(ctx context.Context, userID int64, id uuid.UUID) error {
	doc, err := i.docs.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.UserID != userID {
		return fmt.Errorf("document %s: %w", id, types.ErrForbidden)
	}

	if err := i.index.DeleteChunksByDocID(ctx, types.CollectionName(userID), id); err != nil {
		return types.Upstream("delete chunks", err)
	}
	if err := i.docs.DeleteDocument(ctx, id); err != nil {
		return err
	}
	if err := os.Remove(doc.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		i.logger.Warn("remove document file", "path", doc.Path, "err", err)
	}

	i.logger.Info("document deleted", "user_id", userID, "doc_id", id, "filename", doc.Filename)
	return nil
}

// baseName имя файла без пути; учитывает и windows-разделители из multipart
func baseName(filename string) string {
	name := strings.TrimSpace(filename)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "." || name == ".." {
		return ""
	}
	return name
}
