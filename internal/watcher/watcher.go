// Package watcher observes the sync root for local modifications made
// outside the provider's own callbacks and drops the in-sync marker on the
// touched placeholders.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/mainbooth/boothdrive/internal/cloudfiles"
)

// Marker receives the not-in-sync transition for a locally modified
// placeholder.
type Marker interface {
	SetInSyncState(relativePath string, state cloudfiles.InSyncState) error
}

type Watcher struct {
	log    zerolog.Logger
	root   string
	marker Marker
	notify cloudfiles.NotifySink
	fsw    *fsnotify.Watcher
}

func New(root string, marker Marker, notify cloudfiles.NotifySink, log zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		log:    log,
		root:   root,
		marker: marker,
		notify: notify,
		fsw:    fsw,
	}
	if err := w.watchTree(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

// Run consumes filesystem events until the context is cancelled or the
// watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}

	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.log.Warn().Str("path", ev.Name).Err(err).Msg("watch new directory failed")
			}
			return
		}
	}

	if !ev.Op.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	rel = cloudfiles.NormalizePath(filepath.ToSlash(rel))
	if rel == "" {
		return
	}

	if err := w.marker.SetInSyncState(rel, cloudfiles.InSyncStateNotInSync); err != nil {
		w.log.Warn().Str("path", rel).Err(err).Msg("mark not-in-sync failed")
	}
	if w.notify != nil {
		w.notify.Notify(rel, "file_modified")
	}
}

func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsw.Add(path)
	})
}
