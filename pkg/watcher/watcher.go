// Package watcher polls a directory for newly appearing files. Detection is
// deliberately decoupled from processing: the watcher only decides "this
// path is new" and hands it to a callback, so the polling mechanism could be
// swapped for filesystem notifications without touching ingestion.
package watcher

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

type Watcher struct {
	dir             string
	interval        time.Duration
	includeExisting bool
	process         func(path string)
	log             logger.Logger

	seen     map[string]struct{}
	shutdown chan struct{}
	done     chan struct{}
}

// New returns a watcher over dir. process is invoked exactly once per newly
// observed regular file. When includeExisting is set, the files already
// present at startup are handed to process as well (reprocess-on-restart
// mode); otherwise the startup listing is only a baseline snapshot and
// pre-existing files are never ingested.
func New(dir string, interval time.Duration, includeExisting bool, process func(path string)) *Watcher {
	return &Watcher{
		dir:             dir,
		interval:        interval,
		includeExisting: includeExisting,
		process:         process,
		log:             logger.New(),

		seen:     map[string]struct{}{},
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start takes the baseline snapshot and launches the polling loop. The
// baseline listing has to succeed; a failure here means the watched
// directory is missing or unreadable, which is a startup error rather than
// the transient kind the polling loop tolerates.
func (w *Watcher) Start() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return errors.Wrapf(err, "failed to read watched directory %s", w.dir)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		w.seen[path] = struct{}{}
		if w.includeExisting {
			w.log.Info("processing existing file", logger.Data{"path": path})
			w.process(path)
		}
	}
	w.log.Info("watcher started", logger.Data{"dir": w.dir, "baseline_files": len(w.seen)})

	go w.run()
	return nil
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.shutdown:
			w.done <- struct{}{}
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll re-lists the directory and hands every not-yet-seen regular file to
// the callback, in listing order. Directories are ignored, not recursed.
func (w *Watcher) poll() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		// Transient by policy: log and try again on the next tick.
		w.log.Err(err).Error("failed to read watched directory", logger.Data{"dir": w.dir})
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, entry.Name())
		if _, ok := w.seen[path]; ok {
			continue
		}
		w.seen[path] = struct{}{}
		w.log.Info("new file detected", logger.Data{"path": path})
		w.process(path)
	}
}

func (w *Watcher) Shutdown() {
	close(w.shutdown)
	<-w.done
}
