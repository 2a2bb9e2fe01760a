package labels

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Repository holds the parsed dump and reloads it when the file changes.
// Safe for concurrent readers.
type Repository struct {
	path   string
	logger *log.Logger

	mu       sync.RWMutex
	sections map[string][]string
}

func NewRepository(path string, logger *log.Logger) *Repository {
	return &Repository{
		path:     path,
		logger:   logger,
		sections: make(map[string][]string),
	}
}

// Load parses the dump file. A missing file leaves the repository empty
// without error: labels are best-effort.
func (r *Repository) Load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		r.logf("dump file %s not found, labels unavailable", r.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read dump: %w", err)
	}

	parsed := ParseDump(string(data))
	r.mu.Lock()
	r.sections = parsed
	r.mu.Unlock()
	r.logf("loaded labels for %d control(s) from %s", len(parsed), r.path)
	return nil
}

// HeadersFor returns the captions recovered for a control key, or nil.
func (r *Repository) HeadersFor(key string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.sections[key]...)
}

// Keys lists every control key with recovered captions.
func (r *Repository) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.sections))
	for key := range r.sections {
		keys = append(keys, key)
	}
	return keys
}

// Watch reloads the repository whenever the dump file is written or
// recreated, until ctx is cancelled. The containing directory is watched so
// editors that replace the file atomically are still seen.
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != r.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				r.logf("dump changed (%s), reloading", event.Op)
				if err := r.Load(); err != nil {
					r.logf("reload failed: %v", err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logf("fsnotify error=%v", err)
		}
	}
}

func (r *Repository) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("[labels] "+format, args...)
	}
}
