package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/agentyes/agentyes/internal/logger"
)

// metaSessionID is the shape of the session-id field inside an
// assistant's own session-metadata file. Most tools nest it differently
// (e.g. under a "session" object); Resolver tries both the bare and
// nested forms before giving up.
type metaSessionID struct {
	SessionID string `json:"session_id"`
	ID        string `json:"id"`
	Session   struct {
		ID string `json:"id"`
	} `json:"session"`
}

func parseMetaFile(path string) (string, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var m metaSessionID
	if err := json.Unmarshal(b, &m); err != nil {
		return "", false
	}
	switch {
	case m.SessionID != "":
		return m.SessionID, true
	case m.ID != "":
		return m.ID, true
	case m.Session.ID != "":
		return m.Session.ID, true
	}
	return "", false
}

// Resolver combines the on-disk store with a live watch of an
// assistant's own session-metadata file, implementing the precedence
// rule in spec.md §4.5: the metadata file wins whenever it exists and
// parses; otherwise the store's last-observed UUID applies.
type Resolver struct {
	store *Store

	mu       sync.Mutex
	metaPath string
	metaID   string
	watcher  *fsnotify.Watcher
}

// NewResolver wraps store with no metadata file watched yet.
func NewResolver(store *Store) *Resolver {
	return &Resolver{store: store}
}

// WatchMetaFile starts (or replaces) a watch on the assistant's own
// session-metadata file. A missing file is tolerated; the watch fires
// once the file is created.
func (r *Resolver) WatchMetaFile(path string) error {
	r.mu.Lock()
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
	r.metaPath = path
	if id, ok := parseMetaFile(path); ok {
		r.metaID = id
	}
	r.mu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	r.mu.Lock()
	r.watcher = w
	r.mu.Unlock()

	go r.watchLoop(w, path)
	return nil
}

func (r *Resolver) watchLoop(w *fsnotify.Watcher, path string) {
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if id, ok := parseMetaFile(path); ok {
				r.mu.Lock()
				r.metaID = id
				r.mu.Unlock()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("session metadata watch error", "err", err)
		}
	}
}

// Close stops the metadata watch, if any.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	r.watcher = nil
	return err
}

// Lookup returns the authoritative session id for dir: the watched
// metadata file's id when known, else the store's last UUID observed
// on output for dir.
func (r *Resolver) Lookup(dir string) string {
	r.mu.Lock()
	id := r.metaID
	r.mu.Unlock()
	if id != "" {
		return id
	}
	return r.store.Lookup(dir)
}

// ObserveUUID upserts a session id seen on the child's output into the
// backing store. It does not override a watched metadata file's id,
// which Lookup always prefers when present.
func (r *Resolver) ObserveUUID(dir, sessionID string, t time.Time) error {
	return r.store.Upsert(dir, sessionID, t)
}

