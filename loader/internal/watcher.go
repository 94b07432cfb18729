package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"altavo/config"
)

// Job файл, готовый к загрузке; владелец берётся из имени каталога
type Job struct {
	UserID int64
	Path   string
}

type fileState struct {
	firstSeen time.Time
	modTime   time.Time
	size      int64
}

// Watcher опрашивает <source>/<user_id>/ и отдаёт файлы, которые не
// менялись дольше MonitoringTime
type Watcher struct {
	cfg    config.LoaderConfig
	logger *slog.Logger

	mu         sync.Mutex
	firstSeen  map[string]fileState
	processing map[string]bool
}

func NewWatcher(cfg config.LoaderConfig) (*Watcher, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, fmt.Errorf("create loader directories: %w", err)
	}
	return &Watcher{
		cfg:        cfg,
		logger:     slog.Default().With("component", "watcher"),
		firstSeen:  make(map[string]fileState),
		processing: make(map[string]bool),
	}, nil
}

// Watch блокирует до отмены ctx. События файловой системы запускают
// внеочередной проход; тикер остаётся основным источником проходов.
func (w *Watcher) Watch(ctx context.Context, jobs chan<- Job) {
	w.logger.Info("start monitoring folder", "dir", w.cfg.SourceDir)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	defer w.logger.Info("file watcher stopped")

	notify, stop := w.subscribe(ctx)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-notify:
		}

		for _, job := range w.Scan() {
			select {
			case jobs <- job:
			case <-ctx.Done():
				w.Forget(job.Path)
				return
			}
		}
	}
}

// subscribe следит за каталогом источника и каталогами пользователей.
// Без fsnotify возвращает nil-канал, и остаётся только опрос.
func (w *Watcher) subscribe(ctx context.Context) (<-chan struct{}, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", "err", err)
		return nil, func() {}
	}

	source := filepath.Clean(w.cfg.SourceDir)
	if err := fw.Add(source); err != nil {
		w.logger.Warn("watch source directory", "dir", source, "err", err)
	}
	if entries, err := os.ReadDir(source); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = fw.Add(filepath.Join(source, e.Name()))
			}
		}
	}

	notify := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == source {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = fw.Add(ev.Name)
					}
				}
				select {
				case notify <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("fsnotify", "err", err)
			}
		}
	}()

	return notify, func() { fw.Close() }
}

// Scan один проход по каталогам пользователей. Файл помечается как
// находящийся в обработке до вызова Forget или MoveToArchive.
func (w *Watcher) Scan() []Job {
	users, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.logger.Error("read source directory", "dir", w.cfg.SourceDir, "err", err)
		return nil
	}

	var (
		ready   []Job
		current = make(map[string]bool)
		now     = time.Now()
	)

	for _, entry := range users {
		if !entry.IsDir() {
			continue
		}
		userID, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || userID <= 0 {
			continue
		}

		userDir := filepath.Join(w.cfg.SourceDir, entry.Name())
		files, err := os.ReadDir(userDir)
		if err != nil {
			w.logger.Error("read user directory", "dir", userDir, "err", err)
			continue
		}

		for _, file := range files {
			if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
				continue
			}
			info, err := file.Info()
			if err != nil {
				continue
			}

			path := filepath.Join(userDir, file.Name())
			current[path] = true

			if w.ready(path, info, now) {
				ready = append(ready, Job{UserID: userID, Path: path})
			}
		}
	}

	// Файлы, которых больше нет в каталоге, забываем
	w.mu.Lock()
	for path := range w.firstSeen {
		if !current[path] && !w.processing[path] {
			delete(w.firstSeen, path)
			w.logger.Debug("file removed from tracking", "path", path)
		}
	}
	w.mu.Unlock()

	return ready
}

func (w *Watcher) ready(path string, info os.FileInfo, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.processing[path] {
		return false
	}

	st, ok := w.firstSeen[path]
	if !ok || !st.modTime.Equal(info.ModTime()) || st.size != info.Size() {
		// Новый или изменившийся файл: отсчёт начинается заново
		w.firstSeen[path] = fileState{firstSeen: now, modTime: info.ModTime(), size: info.Size()}
		if !ok {
			w.logger.Info("new file detected", "path", path)
		}
		return false
	}

	if now.Sub(st.firstSeen) < w.cfg.MonitoringTime {
		return false
	}

	w.processing[path] = true
	return true
}

// Forget снимает файл с отслеживания. Если файл остался в каталоге,
// он будет отдан снова после очередного периода стабильности.
func (w *Watcher) Forget(path string) {
	w.mu.Lock()
	delete(w.processing, path)
	delete(w.firstSeen, path)
	w.mu.Unlock()
}

// MoveToArchive переносит файл в <archive|bad>/<дата>/<user_id>/.
// При совпадении имён добавляется счётчик.
func (w *Watcher) MoveToArchive(job Job, bad bool) (string, error) {
	root := w.cfg.ArchiveDir
	if bad {
		root = w.cfg.BadDir
	}

	destDir := filepath.Join(root, time.Now().Format("2006-01-02"), strconv.FormatInt(job.UserID, 10))
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create archive directory: %w", err)
	}

	name := filepath.Base(job.Path)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	destPath := filepath.Join(destDir, name)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", base, counter, ext))
	}

	if err := os.Rename(job.Path, destPath); err != nil {
		// Другая файловая система: копируем и удаляем
		if err := copyFile(job.Path, destPath); err != nil {
			return "", fmt.Errorf("move %s: %w", job.Path, err)
		}
		if err := os.Remove(job.Path); err != nil {
			return "", fmt.Errorf("remove %s: %w", job.Path, err)
		}
	}

	w.Forget(job.Path)
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
