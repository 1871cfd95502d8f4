package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ErrEmpty indicates a schema document with no content. Files caught
// mid-write by the watcher read as empty and are skipped with this error.
var ErrEmpty = errors.New("schema document is empty")

// FromFile loads a snapshot from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension: %s", ext)
	}
}

// FromYAML parses and checks a YAML snapshot.
func FromYAML(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := snap.Check(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FromJSON parses and checks a JSON snapshot.
func FromJSON(data []byte) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if err := snap.Check(); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Watch reloads path into store whenever the file is written or recreated.
// Reload failures are logged and the previous snapshot stays active.
// Call the returned stop function to release the watcher.
func Watch(store *Store, path string, logger *slog.Logger) (stop func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("schema watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are still seen.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("schema watcher add %s: %w", dir, err)
	}
	target := filepath.Clean(path)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				snap, err := FromFile(path)
				if err != nil {
					logger.Warn("schema reload skipped",
						slog.String("path", path),
						slog.String("error", err.Error()))
					continue
				}
				store.Swap(snap)
				logger.Info("schema reloaded",
					slog.String("path", path),
					slog.Int("events", len(snap.Events)))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("schema watcher error", slog.String("error", err.Error()))
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-exited
	}, nil
}
