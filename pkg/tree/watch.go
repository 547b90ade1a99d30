package tree

import (
	"errors"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher bridges native filesystem notifications into Change descriptors. It
// keeps one fsnotify watcher and one listener goroutine per top-level root, and
// one watched directory per subscribed container node.
type Watcher struct {
	enqueue func(Change) bool
	stop    <-chan struct{}
	logger  *slog.Logger

	mu    sync.Mutex
	roots map[string]*rootWatch // by root node ID
	owner map[string]string     // node ID -> root node ID
}

type rootWatch struct {
	w      *fsnotify.Watcher
	done   chan struct{}
	mu     sync.Mutex
	dirs   map[string]string // directory -> node ID
	byNode map[string]string // node ID -> directory
}

func newWatcher(enqueue func(Change) bool, stop <-chan struct{}, logger *slog.Logger) *Watcher {
	return &Watcher{
		enqueue: enqueue,
		stop:    stop,
		logger:  logger,
		roots:   make(map[string]*rootWatch),
		owner:   make(map[string]string),
	}
}

// Watch subscribes dir on behalf of nodeID. Subscribing an already watched
// node is a no-op.
func (w *Watcher) Watch(rootID, nodeID, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.owner[nodeID]; ok {
		return nil
	}
	dir = filepath.Clean(dir)
	rw, ok := w.roots[rootID]
	if !ok {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return err
		}
		rw = &rootWatch{
			w:      fw,
			done:   make(chan struct{}),
			dirs:   make(map[string]string),
			byNode: make(map[string]string),
		}
		w.roots[rootID] = rw
		go w.handleEvents(rw, fw.Events, fw.Errors)
	} else if err := rw.w.Add(dir); err != nil {
		return err
	}
	rw.mu.Lock()
	rw.dirs[dir] = nodeID
	rw.byNode[nodeID] = dir
	rw.mu.Unlock()
	w.owner[nodeID] = rootID
	w.logger.Debug("Watching directory", "nodeId", nodeID, "path", dir)
	return nil
}

// Unwatch cancels the node's subscription. The root's fsnotify watcher is
// closed with its last subscription.
func (w *Watcher) Unwatch(nodeID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rootID, ok := w.owner[nodeID]
	if !ok {
		return
	}
	delete(w.owner, nodeID)
	rw := w.roots[rootID]
	rw.mu.Lock()
	dir := rw.byNode[nodeID]
	delete(rw.byNode, nodeID)
	delete(rw.dirs, dir)
	empty := len(rw.byNode) == 0
	rw.mu.Unlock()
	// The directory may already be gone, which removes the watch natively.
	_ = rw.w.Remove(dir)
	if empty {
		delete(w.roots, rootID)
		rw.close()
	}
}

func (w *Watcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, rw := range w.roots {
		rw.close()
		delete(w.roots, id)
	}
	w.owner = make(map[string]string)
}

func (rw *rootWatch) close() {
	close(rw.done)
	_ = rw.w.Close()
}

func (rw *rootWatch) lookup(dir string) (string, bool) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	id, ok := rw.dirs[dir]
	return id, ok
}

func (rw *rootWatch) nodes() []string {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	out := make([]string, 0, len(rw.byNode))
	for id := range rw.byNode {
		out = append(out, id)
	}
	return out
}

// handleEvents translates the events of one root until the root is closed.
func (w *Watcher) handleEvents(rw *rootWatch, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			c, ok := w.translate(rw, ev)
			if !ok {
				continue
			}
			if !w.enqueue(c) {
				return
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Watch error", "error", err)
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				for _, id := range rw.nodes() {
					if !w.enqueue(Change{NodeID: id, Kind: ChangeRescan}) {
						return
					}
				}
			}
		case <-rw.done:
			return
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) translate(rw *rootWatch, ev fsnotify.Event) (Change, bool) {
	dir, name := filepath.Split(filepath.Clean(ev.Name))
	nodeID, ok := rw.lookup(filepath.Clean(dir))
	if !ok || name == "" {
		return Change{}, false
	}
	c := Change{NodeID: nodeID, Name: name}
	switch {
	case ev.Op&fsnotify.Create != 0:
		c.Kind = ChangeAdded
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		c.Kind = ChangeRemoved
	case ev.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		c.Kind = ChangeModified
	default:
		return Change{}, false
	}
	return c, true
}
