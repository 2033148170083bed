package gateway

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/perchbot/perch/internal/config"
)

const watchDebounce = 250 * time.Millisecond

// configWatcher broadcasts config.changed when the document is edited outside
// the patch gate (an editor, another process). The parent directory is
// watched rather than the file itself because editors replace files by
// rename, which drops a file-level watch.
type configWatcher struct {
	path     string
	server   *Server
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	lastHash string
}

func newConfigWatcher(path string, server *Server, logger *slog.Logger) (*configWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	snapshot, err := config.LoadSnapshot(path)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &configWatcher{
		path:     path,
		server:   server,
		logger:   logger,
		watcher:  watcher,
		lastHash: snapshot.Hash,
	}, nil
}

func (w *configWatcher) run(ctx context.Context) {
	defer func() { _ = w.watcher.Close() }()

	var debounce *time.Timer
	var fire <-chan time.Time
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
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *configWatcher) reload() {
	snapshot, err := config.LoadSnapshot(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "error", err)
		return
	}
	if snapshot.Hash == w.lastHash {
		return
	}
	w.lastHash = snapshot.Hash
	w.logger.Info("config changed on disk", "path", w.path, "hash", snapshot.Hash, "valid", snapshot.Valid)
	w.server.broadcast("config.changed", map[string]any{
		"hash":   snapshot.Hash,
		"valid":  snapshot.Valid,
		"source": "file",
	})
	if paths := config.HasPlaintextSecrets(snapshot.Parsed); len(paths) > 0 {
		w.server.PlaintextSecrets(paths)
	}
}
