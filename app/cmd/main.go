package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"altavo/app/server"
	"altavo/config"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := server.NewServer(cfg)

	errch := make(chan error, 1)
	go func() {
		errch <- s.Run(ctx)
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigch:
		log.Println("Received shutdown signal, shutting down server...")
	case err := <-errch:
		if err != nil {
			log.Println("server failed:", err)
		}
	}
	s.Stop()
}
