package ml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

var ErrModelNotFound = errors.New("model not found")

// Registry serves the artifact bundles found under one directory, one
// sub-directory per model. Loaded bundles are kept in an LRU cache.
type Registry struct {
	dir    string
	opts   BundleOptions
	logger *zap.Logger
	mu     sync.Mutex
	cache  *lru.Cache[string, *Bundle]

	// OnLoad is called after every load attempt.
	OnLoad func(name string, err error)
}

func NewRegistry(dir string, cacheSize int, opts BundleOptions, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheSize <= 0 {
		cacheSize = 4
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("models directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("models directory %s is not a directory", dir)
	}
	r := &Registry{dir: dir, opts: opts, logger: logger}
	r.cache, err = lru.NewWithEvict[string, *Bundle](cacheSize, func(name string, b *Bundle) {
		if err := b.Close(); err != nil {
			r.logger.Warn("close evicted model", zap.String("model", name), zap.Error(err))
		}
		r.logger.Debug("model evicted", zap.String("model", name))
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// List reads every manifest under the directory, sorted by name. Directories
// with an unreadable manifest are skipped.
func (r *Registry) List() ([]Manifest, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, err
	}
	manifests := make([]Manifest, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := ReadManifest(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				r.logger.Warn("skip model directory", zap.String("dir", entry.Name()), zap.Error(err))
			}
			continue
		}
		m.Name = entry.Name()
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, nil
}

// Get returns the named bundle, loading it on first use.
func (r *Registry) Get(name string) (*Bundle, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	if b, ok := r.cache.Get(name); ok {
		return b, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.cache.Get(name); ok {
		return b, nil
	}
	dir := filepath.Join(r.dir, name)
	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	b, err := LoadBundle(dir, r.opts)
	if r.OnLoad != nil {
		r.OnLoad(name, err)
	}
	if err != nil {
		r.logger.Error("load model", zap.String("model", name), zap.Error(err))
		return nil, err
	}
	b.Manifest.Name = name
	r.cache.Add(name, b)
	r.logger.Info("model loaded",
		zap.String("model", name),
		zap.String("type", b.Manifest.Type),
		zap.Int("columns", len(b.Columns)),
		zap.Strings("classes", b.Labels.Classes()))
	return b, nil
}

// Invalidate drops a cached bundle so the next Get reloads it from disk.
func (r *Registry) Invalidate(name string) {
	if r.cache.Remove(name) {
		r.logger.Info("model invalidated", zap.String("model", name))
	}
}

// Watch invalidates cached bundles whose files change until ctx is done.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.dir); err != nil {
		return err
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			if err := watcher.Add(filepath.Join(r.dir, entry.Name())); err != nil {
				r.logger.Warn("watch model directory", zap.String("dir", entry.Name()), zap.Error(err))
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			r.handleEvent(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("model watcher", zap.Error(err))
		}
	}
}

func (r *Registry) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(r.dir, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	name := parts[0]
	if len(parts) == 1 && event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				r.logger.Warn("watch model directory", zap.String("dir", name), zap.Error(err))
			}
		}
	}
	r.Invalidate(name)
}

// Close releases every cached bundle.
func (r *Registry) Close() {
	r.cache.Purge()
}
