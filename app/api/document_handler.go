package api

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"altavo/app/metrics"
	"altavo/rag"
	"altavo/store"
	"altavo/types"
)

type DocumentHandler struct {
	ingestor *rag.Ingestor
	docs     store.DocumentStorer
	maxBytes int64
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewDocumentHandler(ingestor *rag.Ingestor, docs store.DocumentStorer, maxBytes int64, m *metrics.Metrics) *DocumentHandler {
	return &DocumentHandler{
		ingestor: ingestor,
		docs:     docs,
		maxBytes: maxBytes,
		metrics:  m,
		logger:   slog.Default().With("component", "documents"),
	}
}

// HandleUpload принимает один или несколько файлов в поле files.
// Обработка останавливается на первой ошибке, уже загруженные файлы остаются.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return NewError(fiber.StatusBadRequest, "multipart form with files expected")
	}
	files := form.File["files"]
	if len(files) == 0 {
		return NewError(fiber.StatusBadRequest, "no files given")
	}

	resp := types.UploadResponse{Success: true, Files: make([]types.UploadedFile, 0, len(files))}
	for _, fh := range files {
		if fh.Size > h.maxBytes {
			return fmt.Errorf("%q: %w", fh.Filename, types.ErrTooLarge)
		}

		f, err := fh.Open()
		if err != nil {
			return err
		}
		data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
		f.Close()
		if err != nil {
			return err
		}

		doc, n, err := h.ingestor.Ingest(c.UserContext(), userID, fh.Filename, data)
		h.metrics.ObserveIngest(n, err)
		if err != nil {
			return err
		}
		resp.Files = append(resp.Files, types.UploadedFile{Filename: doc.Filename, ID: doc.ID, Chunks: n})
	}

	return c.JSON(resp)
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	docs, err := h.docs.ListDocuments(c.UserContext(), userID)
	if err != nil {
		return err
	}

	resp := types.DocumentsResponse{Files: make([]types.DocumentItem, 0, len(docs))}
	for _, d := range docs {
		resp.Files = append(resp.Files, types.DocumentItem{Filename: d.Filename, ID: d.ID})
	}
	return c.JSON(resp)
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := uuidParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.ingestor.DeleteDocument(c.UserContext(), userID, id); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "document deleted"})
}

// HandleRebuild пересобирает векторную коллекцию пользователя из его документов
func (h *DocumentHandler) HandleRebuild(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}

	report, err := h.ingestor.Rebuild(c.UserContext(), userID)
	if err != nil {
		return err
	}
	return c.JSON(report.Response())
}
