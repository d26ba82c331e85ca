// Package watcher implements the optional directory watcher mentioned in
// spec §1 and §6: an external, pluggable collaborator that nudges the
// daemon to re-run a cave's scanner when its filesystem changes, instead of
// polling. Grounded on rybkr/gitvista's fsnotify-based watch loop
// (internal/server/watcher.go), with debouncing and recursive-add the same
// way, since fsnotify itself does not recurse into subdirectories.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// debounceDelay coalesces bursts of filesystem events (e.g. an editor's
// write-then-rename save) into a single RefreshHint.
const debounceDelay = 200 * time.Millisecond

// RefreshHint is sent whenever the watched directory tree may have changed;
// it carries no payload, since the scanner always does a full rescan
// (spec §6, SPEC_FULL.md §E.2).
type RefreshHint struct{}

// Watch watches root and everything below it, sending a RefreshHint on ch
// (debounced) whenever a file is created, written, removed or renamed. It
// returns a cancel function that stops the watch and closes ch.
func Watch(ctx context.Context, root string) (<-chan RefreshHint, func() error, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}
	if err := addRecursive(w, root); err != nil {
		_ = w.Close()
		return nil, nil, err
	}

	out := make(chan RefreshHint, 1)
	done := make(chan struct{})
	go watchLoop(ctx, w, out, done)

	cancel := func() error {
		err := w.Close()
		<-done
		return err
	}
	return out, cancel, nil
}

// addRecursive adds w to root and every subdirectory beneath it, mirroring
// gitvista's walkAndWatch (fsnotify does not recurse on its own).
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal to the watch
		}
		if fi.IsDir() {
			if err := w.Add(p); err != nil {
				log.WithField("dir", p).WithError(err).Warn("Failed to watch directory")
			}
		}
		return nil
	})
}

func watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- RefreshHint, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	fire := func() {
		select {
		case out <- RefreshHint{}:
		default:
			// A hint is already pending; the scanner's next full rescan
			// will pick up everything anyway.
		}
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if shouldIgnore(event) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, fire)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}

func shouldIgnore(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	return strings.HasSuffix(filepath.Base(event.Name), ".lock")
}
