package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"altavo/config"
	"altavo/model"
	"altavo/store"
)

// env то, что нужно командам для работы с хранилищем пользователя
type env struct {
	cfg      *config.Config
	store    store.DBStorer
	embedder model.Embedder
}

type opener func(ctx context.Context) (*env, error)

func main() {
	config.LoadEnv()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := newRootCmd(openEnv).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(open opener) *cobra.Command {
	var root = &cobra.Command{
		Use:          "altavoctl",
		Short:        "Maintenance commands for per-user document collections",
		SilenceUsage: true,
	}

	root.AddCommand(rebuildCMD(open), checkCMD(open), ingestDirCMD(open), tokenCMD())
	return root
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	db, err := store.Open(ctx, cfg.StoreBackend, cfg.PG.ConnString(), cfg.Embedding.Dim)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:      cfg,
		store:    db,
		embedder: model.NewOllamaEmbedder(cfg.Embedding.URL, cfg.Embedding.Model),
	}, nil
}
