package trigger

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// FileWatcher calls onChange after a file is written or re-created. Bursts
// of events closer than the debounce interval produce one call.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	logger   zerolog.Logger
	onChange func()
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFileWatcher watches path. The parent directory is watched so editors
// that replace the file on save are still seen.
func NewFileWatcher(path string, debounce time.Duration, logger zerolog.Logger, onChange func()) (*FileWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	fw := &FileWatcher{
		watcher:  watcher,
		path:     abs,
		logger:   logger.With().Str("component", "watcher").Logger(),
		onChange: onChange,
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}

	go fw.run()

	return fw, nil
}

// Stop stops the watcher. A pending debounced call is dropped.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopCh)
		fw.mu.Lock()
		if fw.timer != nil {
			fw.timer.Stop()
		}
		fw.mu.Unlock()
		err = fw.watcher.Close()
	})
	return err
}

func (fw *FileWatcher) run() {
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fw.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				fw.logger.Debug().
					Str("file", filepath.Base(event.Name)).
					Str("op", event.Op.String()).
					Msg("File change detected")

				fw.scheduleChange()
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

func (fw *FileWatcher) scheduleChange() {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.timer != nil {
		fw.timer.Stop()
	}
	fw.timer = time.AfterFunc(fw.debounce, func() {
		select {
		case <-fw.stopCh:
			return
		default:
		}
		fw.onChange()
	})
}
