package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"altavo/chunker"
	"altavo/config"
	"altavo/loader/service"
	"altavo/model"
	"altavo/rag"
	"altavo/store"
)

func init() {
	config.LoadEnv()
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.StoreBackend, cfg.PG.ConnString(), cfg.Embedding.Dim)
	if err != nil {
		log.Fatal("error to open store: ", err)
	}
	defer func() {
		log.Println("Closing database connection pool...")
		db.Close()
	}()

	ingestor := rag.NewIngestor(
		db, db, model.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model),
		chunker.New(cfg.RAG.DirChunkSize, cfg.RAG.DirChunkOverlap),
		cfg.UploadDir, cfg.MaxUploadBytes,
	)

	svc, err := service.New(cfg.Loader, ingestor)
	if err != nil {
		log.Fatal(err)
	}

	if err := svc.Run(ctx); err != nil {
		log.Println("loader stopped with error:", err)
	}
}
