// Package tracking implements the durable map from a live workflow instance
// to the chat message it edits (spec §3 TrackingRecord, §4.1 TTL sweep).
// The store is Bus-private: Worker never reads or writes it directly.
package tracking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/spool"
)

// TTL is the 30-minute sweep age named in spec §3/§4.1.
const TTL = 30 * time.Minute

// Key identifies one live workflow instance.
type Key struct {
	WorkspaceID string
	SessionID   string
	WorkflowID  string
}

func (k Key) filename() string {
	return fmt.Sprintf("%s_%s_%s_tracking.json", k.WorkspaceID, k.SessionID, k.WorkflowID)
}

// Store holds the in-memory map, backed by durable files under dir. Every
// method takes the mutex, so the Bus's scanner and callback-router
// goroutines can call it concurrently.
type Store struct {
	mu   sync.Mutex
	dir  string
	live map[Key]model.TrackingRecord
}

// NewStore returns an empty Store rooted at dir (Layout.Tracking()).
func NewStore(dir string) *Store {
	return &Store{dir: dir, live: make(map[Key]model.TrackingRecord)}
}

// Restore scans dir and repopulates the in-memory map from durable files,
// per spec §4.8 startup step 3. A single corrupt file is logged and skipped
// (spec §7 "tracking restore failure for one file"); it does not abort the
// scan. badFile is invoked once per skipped file so the caller can log it.
func (s *Store) Restore(badFile func(path string, err error)) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("tracking: restore: read dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		key, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			if badFile != nil {
				badFile(path, err)
			}
			continue
		}
		var rec model.TrackingRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			if badFile != nil {
				badFile(path, err)
			}
			continue
		}
		s.live[key] = rec
	}
	return nil
}

func parseFilename(name string) (Key, bool) {
	const suffix = "_tracking.json"
	if filepath.Ext(name) != ".json" || len(name) <= len(suffix) {
		return Key{}, false
	}
	trimmed := name[:len(name)-len(suffix)]
	parts := splitN3(trimmed)
	if parts == nil {
		return Key{}, false
	}
	return Key{WorkspaceID: parts[0], SessionID: parts[1], WorkflowID: parts[2]}, true
}

// splitN3 splits "a_b_c..." into exactly 3 parts on the first two
// underscores, leaving any remaining underscores (a workflow id may itself
// contain one) in the third part.
func splitN3(s string) []string {
	first := indexByte(s, '_')
	if first == -1 {
		return nil
	}
	rest := s[first+1:]
	second := indexByte(rest, '_')
	if second == -1 {
		return nil
	}
	return []string{s[:first], rest[:second], rest[second+1:]}
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Put writes rec to disk and memory. Created at selection (spec §3).
func (s *Store) Put(key Key, rec model.TrackingRecord) error {
	path := filepath.Join(s.dir, key.filename())
	if err := spool.WriteJSONAtomic(path, rec); err != nil {
		return fmt.Errorf("tracking: write %s: %w", key.filename(), err)
	}
	s.mu.Lock()
	s.live[key] = rec
	s.mu.Unlock()
	return nil
}

// Get returns the tracking record for key, if live.
func (s *Store) Get(key Key) (model.TrackingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.live[key]
	return rec, ok
}

// Delete removes rec from memory and disk. Deleted at execution-record
// consumption or TTL (spec §3).
func (s *Store) Delete(key Key) error {
	s.mu.Lock()
	delete(s.live, key)
	s.mu.Unlock()

	path := filepath.Join(s.dir, key.filename())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tracking: delete %s: %w", key.filename(), err)
	}
	return nil
}

// SweepExpired removes every live entry whose backing file is older than
// TTL (30 minutes).
func (s *Store) SweepExpired() error {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.live))
	for k := range s.live {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		path := filepath.Join(s.dir, k.filename())
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				s.mu.Lock()
				delete(s.live, k)
				s.mu.Unlock()
			}
			continue
		}
		if time.Since(info.ModTime()) > TTL {
			if err := s.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports the number of live tracking entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}
