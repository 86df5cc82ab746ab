// Package session implements the session store (spec.md §4.5, C5): a
// per-working-directory mapping to the most recently observed session
// id for assistants that support resumption.
//
// The authoritative id for a directory prefers the assistant's own
// on-disk session-metadata file (watched via fsnotify, held by
// Resolver) over the last UUID seen on the PTY stream (held by Store,
// newest timestamp first). Persistence of the Store follows the teacher's
// pack-wide atomic-write idiom (temp file + rename), grounded on
// gongjunhao-mybot's adapter state file.
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxRecordsPerDir bounds retention per spec.md §4.5.
const maxRecordsPerDir = 5

// uuidPattern finds UUID-shaped hex substrings in a line; regexp has no
// equivalent of uuid.Parse's validation, so it's only the candidate finder.
var uuidPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// ExtractUUID returns the first well-formed UUID occurrence in s, or ""
// if none. uuidPattern can over-match (any hex string of the right
// shape), so each candidate is confirmed with uuid.Parse before acceptance.
func ExtractUUID(s string) string {
	for _, loc := range uuidPattern.FindAllStringIndex(s, -1) {
		candidate := s[loc[0]:loc[1]]
		if _, err := uuid.Parse(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Record is one session observation for a working directory.
type Record struct {
	SessionID string    `json:"session_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

type fileFormat struct {
	// Directories maps resolved working directory to its retained
	// records, newest first.
	Directories map[string][]Record `json:"directories"`
}

// Store is safe for concurrent use. One Store instance is expected to
// back one user-wide state file (spec.md §6's codex-sessions.json).
type Store struct {
	mu   sync.Mutex
	path string
	data fileFormat
}

// Open loads path if present, tolerating a missing or malformed file
// by starting from an empty store (StoreCorruption, spec.md §7).
func Open(path string) (*Store, error) {
	s := &Store{path: path, data: fileFormat{Directories: map[string][]Record{}}}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, nil
	}
	var parsed fileFormat
	if err := json.Unmarshal(b, &parsed); err != nil {
		return s, nil
	}
	if parsed.Directories == nil {
		parsed.Directories = map[string][]Record{}
	}
	s.data = parsed
	return s, nil
}

// Lookup returns the most recent session id for dir, or "" if none.
func (s *Store) Lookup(dir string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.data.Directories[dir]
	if len(recs) == 0 {
		return ""
	}
	return recs[0].SessionID
}

// Upsert records a session id observation for dir at t, evicting the
// oldest record once the per-directory cap is exceeded. Ordering within
// a directory's slice is newest-first; a later timestamp always sorts
// ahead of an earlier one regardless of call order (last-write-wins,
// spec.md §5).
func (s *Store) Upsert(dir, sessionID string, t time.Time) error {
	s.mu.Lock()
	recs := append(s.data.Directories[dir], Record{SessionID: sessionID, UpdatedAt: t})
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].UpdatedAt.After(recs[j].UpdatedAt) })
	if len(recs) > maxRecordsPerDir {
		recs = recs[:maxRecordsPerDir]
	}
	s.data.Directories[dir] = recs
	s.mu.Unlock()
	return s.save()
}

// save writes the store atomically: temp file then rename, tolerating
// a stale temp file from a prior crashed write.
func (s *Store) save() error {
	s.mu.Lock()
	b, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
