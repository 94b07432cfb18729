package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"altavo/app/api"
	"altavo/app/metrics"
	"altavo/app/middleware"
	"altavo/chunker"
	"altavo/config"
	"altavo/model"
	"altavo/rag"
	"altavo/store"
)

const (
	tokenizerModel  = "gpt-3.5-turbo"
	shutdownTimeout = 10 * time.Second
)

// Deps внешние зависимости приложения; в тестах подменяются
type Deps struct {
	Store     store.DBStorer
	Embedder  model.Embedder
	Generator model.TextGenerator
	Counter   model.TokenCounter
}

type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	mu    sync.Mutex
	app   *fiber.App
	store store.DBStorer
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default().With("component", "server"),
	}
}

// Run поднимает хранилище и слушает адрес; блокирует до остановки
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET_KEY is not set")
	}

	db, err := store.Open(ctx, s.cfg.StoreBackend, s.cfg.PG.ConnString(), s.cfg.Embedding.Dim)
	if err != nil {
		return err
	}

	var counter model.TokenCounter = model.ApproxCounter{}
	if tc, err := model.NewTiktokenCounter(tokenizerModel); err != nil {
		s.logger.Warn("tiktoken unavailable, using approximate token count", "err", err)
	} else {
		counter = tc
	}

	app := NewApp(s.cfg, Deps{
		Store:     db,
		Embedder:  model.NewOllamaEmbedder(s.cfg.Embedding.URL, s.cfg.Embedding.Model),
		Generator: model.NewOllamaGenerator(s.cfg.LLM.Url, s.cfg.LLM.Model, s.cfg.LLM.Temperature, s.cfg.LLM.MaxTokens),
		Counter:   counter,
	})

	s.mu.Lock()
	s.app, s.store = app, db
	s.mu.Unlock()

	s.logger.Info("server starting", "addr", s.cfg.ServerAddr, "store", s.cfg.StoreBackend)
	if err := app.Listen(s.cfg.ServerAddr); err != nil {
		s.logger.Error("error to start server", "error", err.Error())
		return err
	}
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.app != nil {
		if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			s.logger.Error("shutdown", "err", err)
		}
	}
	if s.store != nil {
		s.store.Close()
	}
	s.logger.Info("server stopped")
}

// NewApp собирает компоненты и регистрирует маршруты
func NewApp(cfg *config.Config, deps Deps) *fiber.App {
	ingestor := rag.NewIngestor(
		deps.Store, deps.Store, deps.Embedder,
		chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		cfg.UploadDir, cfg.MaxUploadBytes,
	)
	gate := rag.NewGate(deps.Embedder, deps.Store, cfg.RAG.TopK, cfg.RAG.DistanceThreshold)
	streamer := rag.NewStreamer(deps.Generator,
		rag.NewPromptBuilder(cfg.LLM.SystemPrompt, cfg.RAG.MaxContextChars, cfg.RAG.MaxPromptTokens, deps.Counter),
	)

	m := metrics.New()

	app := fiber.New(fiber.Config{
		ErrorHandler: api.ErrorHandler,
		// Несколько файлов по MaxUploadBytes плюс заголовки multipart
		BodyLimit: int(cfg.MaxUploadBytes)*5 + 1<<20,
	})
	app.Use(m.Middleware())
	// паника в обработчике превращается в 500, процесс продолжает работу
	app.Use(recover.New())

	var (
		checkHandler        = api.NewCheckHandler(cfg.StoreBackend)
		documentHandler     = api.NewDocumentHandler(ingestor, deps.Store, cfg.MaxUploadBytes, m)
		askHandler          = api.NewAskHandler(gate, streamer, deps.Store, cfg.AskTimeout, m)
		conversationHandler = api.NewConversationHandler(deps.Store)
		check               = app.Group("/check")
		apiv1               = app.Group("/api/v1", middleware.JWTAuth([]byte(cfg.JWTSecret)))
	)

	check.Get("/healthy", checkHandler.HandleHealthy)
	app.Get("/metrics", m.Handler())

	apiv1.Post("/upload", documentHandler.HandleUpload)
	apiv1.Get("/documents", documentHandler.HandleList)
	apiv1.Delete("/documents/:id", documentHandler.HandleDelete)
	apiv1.Post("/documents/rebuild", documentHandler.HandleRebuild)

	apiv1.Post("/ask", askHandler.HandleAsk)

	conversations := apiv1.Group("/conversations")
	conversations.Get("/", conversationHandler.HandleList)
	conversations.Post("/", conversationHandler.HandleCreate)
	conversations.Get("/:id/messages", conversationHandler.HandleGetMessages)
	conversations.Post("/:id/messages", conversationHandler.HandleAddMessages)
	conversations.Delete("/:id", conversationHandler.HandleDelete)
	conversations.Put("/:id/rename", conversationHandler.HandleRename)
	conversations.Put("/:id/pin", conversationHandler.HandleTogglePin)

	return app
}
