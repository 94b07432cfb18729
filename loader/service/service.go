package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"altavo/config"
	"altavo/loader"
	"altavo/loader/internal"
	"altavo/rag"
	"altavo/types"
)

const shutdownTimeout = 5 * time.Second

type Service struct {
	logger   *slog.Logger
	ingestor *rag.Ingestor
	watcher  *internal.Watcher
}

// New ingestor должен быть уже настроен на политику нарезки каталогов
func New(cfg config.LoaderConfig, ingestor *rag.Ingestor) (*Service, error) {
	watcher, err := internal.NewWatcher(cfg)
	if err != nil {
		return nil, err
	}
	return &Service{
		logger:   slog.Default().With("component", "loader"),
		ingestor: ingestor,
		watcher:  watcher,
	}, nil
}

type result struct {
	job    internal.Job
	doc    *types.Document
	chunks int
	err    error
}

// Run запускает цепочку наблюдение -> загрузка -> перенос и блокирует до
// отмены ctx. Остановка ждёт горутины не дольше shutdownTimeout.
func (s *Service) Run(ctx context.Context) error {
	var (
		wg      sync.WaitGroup
		jobs    = make(chan internal.Job, 10)
		results = make(chan result)
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		defer close(jobs)
		s.watcher.Watch(ctx, jobs)
	}()
	go func() {
		defer wg.Done()
		defer close(results)
		s.process(ctx, jobs, results)
	}()
	go func() {
		defer wg.Done()
		s.move(results)
	}()

	<-ctx.Done()
	s.logger.Info("shutting down loader")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("loader stopped")
		return nil
	case <-time.After(shutdownTimeout):
		return errors.New("timeout waiting for loader goroutines to stop")
	}
}

func (s *Service) process(ctx context.Context, jobs <-chan internal.Job, results chan<- result) {
	for job := range jobs {
		log := s.logger.With("user_id", job.UserID, "path", job.Path)
		log.Info("processing file")

		res := result{job: job}
		data, err := os.ReadFile(job.Path)
		if err != nil {
			res.err = fmt.Errorf("read file: %w", err)
		} else {
			res.doc, res.chunks, res.err = s.ingestor.Ingest(ctx, job.UserID, filepath.Base(job.Path), data)
		}
		results <- res
	}
}

func (s *Service) move(results <-chan result) {
	for res := range results {
		log := s.logger.With("user_id", res.job.UserID, "path", res.job.Path)

		if res.err != nil && retryable(res.err) {
			// Файл остаётся в каталоге и будет подхвачен снова
			log.Warn("ingest postponed", "err", res.err)
			s.watcher.Forget(res.job.Path)
			continue
		}

		bad := res.err != nil
		dest, err := s.watcher.MoveToArchive(res.job, bad)
		if err != nil {
			log.Error("move file", "err", err)
			s.watcher.Forget(res.job.Path)
			continue
		}

		if bad {
			log.Error("file rejected", "err", res.err, "moved_to", dest)
		} else {
			log.Info("file ingested", "doc_id", res.doc.ID, "chunks", res.chunks, "moved_to", dest)
		}
	}
}

// retryable ошибки, при которых файл не считается плохим
func retryable(err error) bool {
	var upstream *types.UpstreamError
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrNotExist) ||
		errors.As(err, &upstream)
}

// IngestDir загружает поддерживаемые файлы каталога (без вложенных) для
// пользователя. Неподдерживаемые и уже загруженные пропускаются.
func IngestDir(ctx context.Context, ingestor *rag.Ingestor, userID int64, dir string) ([]types.DocResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var results []types.DocResult
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := types.DocResult{Filename: entry.Name()}
		if !loader.Supported(entry.Name()) {
			res.Status, res.Reason = types.DocSkipped, "unsupported file type"
			results = append(results, res)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			res.Status, res.Reason = types.DocFailed, err.Error()
			results = append(results, res)
			continue
		}

		doc, n, err := ingestor.Ingest(ctx, userID, entry.Name(), data)
		switch {
		case err == nil:
			res.DocID, res.Status, res.Chunks = doc.ID, types.DocIndexed, n
		case errors.Is(err, types.ErrConflict):
			res.Status, res.Reason = types.DocSkipped, err.Error()
		default:
			res.Status, res.Reason = types.DocFailed, err.Error()
		}
		results = append(results, res)
	}
	return results, nil
}
