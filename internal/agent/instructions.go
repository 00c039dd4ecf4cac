package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/soyeahso/shopassist/internal/logging"
)

// Instructions supplies the system instructions for each exchange.
type Instructions interface {
	Text() string
}

// StaticInstructions is a fixed instruction text.
type StaticInstructions string

func (s StaticInstructions) Text() string { return string(s) }

const defaultReloadDebounce = 200 * time.Millisecond

// FileInstructions reads instructions from a file and optionally reloads
// them when the file changes. A failed reload keeps the previous text.
type FileInstructions struct {
	path string
	log  *logging.Logger

	mu   sync.RWMutex
	text string

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce time.Duration
	onReload func(string)
}

// LoadFileInstructions reads path once.
func LoadFileInstructions(path string, log *logging.Logger) (*FileInstructions, error) {
	fi := &FileInstructions{
		path:     path,
		log:      log.Sub("instructions"),
		debounce: defaultReloadDebounce,
	}
	if err := fi.Reload(); err != nil {
		return nil, err
	}
	return fi, nil
}

func (f *FileInstructions) Text() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.text
}

// Reload re-reads the file.
func (f *FileInstructions) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("reading instructions: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("instructions file %s is empty", f.path)
	}

	f.mu.Lock()
	f.text = text
	f.mu.Unlock()
	return nil
}

// Watch reloads the file on change until ctx is done or Close is called.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (f *FileInstructions) Watch(ctx context.Context) error {
	f.watchMu.Lock()
	defer f.watchMu.Unlock()
	if f.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", f.path, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	f.watcher = w
	f.cancel = cancel
	f.wg.Add(1)
	go f.watchLoop(watchCtx, w)
	f.log.Info().Str("path", f.path).Msg("watching instructions file")
	return nil
}

// Close stops watching.
func (f *FileInstructions) Close() error {
	f.watchMu.Lock()
	w, cancel := f.watcher, f.cancel
	f.watcher, f.cancel = nil, nil
	f.watchMu.Unlock()

	if w == nil {
		return nil
	}
	cancel()
	err := w.Close()
	f.wg.Wait()
	return err
}

func (f *FileInstructions) watchLoop(ctx context.Context, w *fsnotify.Watcher) {
	defer f.wg.Done()

	target := filepath.Clean(f.path)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(f.debounce, f.reloadFromWatch)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.log.Warn().Err(err).Msg("instructions watcher error")
		}
	}
}

func (f *FileInstructions) reloadFromWatch() {
	if err := f.Reload(); err != nil {
		f.log.Warn().Err(err).Msg("instructions reload failed, keeping previous text")
		return
	}
	f.log.Info().Str("path", f.path).Msg("instructions reloaded")
	if f.onReload != nil {
		f.onReload(f.Text())
	}
}
