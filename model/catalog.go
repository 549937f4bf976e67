package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Catalog is the on-disk model inventory.
type Catalog struct {
	// Models lists every known entry.
	Models []*Entry `yaml:"models"`
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	for i, entry := range catalog.Models {
		if entry.ID == "" {
			return nil, fmt.Errorf("catalog %s: model %d has no id", path, i)
		}
		if entry.Name == "" {
			entry.Name = entry.ID
		}
	}
	return &catalog, nil
}

// SaveCatalog writes a YAML catalog file, creating parent directories.
func SaveCatalog(path string, catalog *Catalog) error {
	data, err := yaml.Marshal(catalog)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return nil
}

// LoadCatalog registers every entry from a catalog file. Existing entries
// with the same id are replaced; entries absent from the file are kept.
func (r *Registry) LoadCatalog(path string) (int, error) {
	catalog, err := LoadCatalog(path)
	if err != nil {
		return 0, err
	}

	for _, entry := range catalog.Models {
		r.Register(entry)
	}

	r.logger.Info("Model catalog loaded", "path", path, "models", len(catalog.Models))
	return len(catalog.Models), nil
}

// CatalogWatcher reloads the registry when the catalog file changes.
// Editors rewrite files with remove+create sequences, so changes are
// debounced and deduplicated by content hash.
type CatalogWatcher struct {
	registry *Registry
	path     string
	watcher  *fsnotify.Watcher
	lastHash string
}

// WatchCatalog starts watching the catalog file and reloading on change.
// Call Stop to release the underlying watcher.
func (r *Registry) WatchCatalog(ctx context.Context, path string) (*CatalogWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}

	// Watch the directory, not the file: rewrites replace the inode.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch catalog directory: %w", err)
	}

	w := &CatalogWatcher{
		registry: r,
		path:     path,
		watcher:  fsw,
		lastHash: fileHash(path),
	}
	go w.run(ctx)

	r.logger.Info("Model catalog watcher started", "path", path)
	return w, nil
}

// Stop stops watching.
func (w *CatalogWatcher) Stop() error {
	return w.watcher.Close()
}

func (w *CatalogWatcher) run(ctx context.Context) {
	const debounce = 500 * time.Millisecond

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Error("Catalog watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *CatalogWatcher) reload() {
	hash := fileHash(w.path)
	if hash != "" && hash == w.lastHash {
		return
	}

	count, err := w.registry.LoadCatalog(w.path)
	if err != nil {
		// A partial write can land mid-rewrite; keep the old catalog.
		w.registry.logger.Warn("Catalog reload failed, keeping previous entries",
			"path", w.path,
			"error", err)
		return
	}

	w.lastHash = hash
	w.registry.logger.Info("Model catalog reloaded", "path", w.path, "models", count)
}

func fileHash(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
