// Package callback implements the callback-token map (spec §4.2): inline
// chat buttons carry an 11-byte token pointing at context stored on disk,
// because the chat transport's button payload is size-limited.
package callback

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/arborist-dev/quiescebus/internal/model"
	"github.com/arborist-dev/quiescebus/internal/spool"
)

// TTL is STATE_TTL from the spec: a callback token is valid for five
// minutes from its file's mtime.
const TTL = 5 * time.Minute

// ErrExpired is returned by Resolve when the token file's mtime is older
// than TTL.
var ErrExpired = fmt.Errorf("callback: token expired")

// ErrNotFound is returned by Resolve when no file exists for the token.
var ErrNotFound = fmt.Errorf("callback: token not found")

// Store manages callbacks/<token>.json under dir.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir (Layout.Callbacks()).
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Create canonicalizes ctx to sorted-key JSON, hashes it, writes
// cb_<hash>.json, and returns the token.
func (s *Store) Create(ctx model.CallbackToken) (string, error) {
	canon, err := canonicalJSON(ctx)
	if err != nil {
		return "", fmt.Errorf("callback: canonicalize context: %w", err)
	}
	sum := sha256.Sum256(canon)
	token := "cb_" + hex.EncodeToString(sum[:4])

	path := s.path(token)
	if err := spool.WriteJSONAtomic(path, ctx); err != nil {
		return "", fmt.Errorf("callback: write %s: %w", token, err)
	}
	return token, nil
}

// Resolve reads the context for token. It returns ErrNotFound or ErrExpired
// rather than propagating the underlying I/O error for those two cases, so
// callers can respond "expired" to the user per spec §4.9/§8 S6.
func (s *Store) Resolve(token string) (model.CallbackToken, error) {
	path := s.path(token)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CallbackToken{}, ErrNotFound
		}
		return model.CallbackToken{}, fmt.Errorf("callback: stat %s: %w", token, err)
	}
	if time.Since(info.ModTime()) > TTL {
		_ = os.Remove(path)
		return model.CallbackToken{}, ErrExpired
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.CallbackToken{}, ErrNotFound
		}
		return model.CallbackToken{}, fmt.Errorf("callback: read %s: %w", token, err)
	}
	var ctx model.CallbackToken
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return model.CallbackToken{}, fmt.Errorf("callback: parse %s: %w", token, err)
	}
	return ctx, nil
}

// Sweep removes every callback file older than TTL, and, if more than
// maxFiles remain, removes the oldest excess (spec §4.1 TTL sweep).
func (s *Store) Sweep(maxFiles int) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("callback: sweep: read dir: %w", err)
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > TTL {
			_ = os.Remove(filepath.Join(s.dir, e.Name()))
			continue
		}
		files = append(files, fileInfo{filepath.Join(s.dir, e.Name()), info.ModTime()})
	}

	if maxFiles > 0 && len(files) > maxFiles {
		sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
		excess := len(files) - maxFiles
		for i := 0; i < excess; i++ {
			_ = os.Remove(files[i].path)
		}
	}
	return nil
}

func (s *Store) path(token string) string {
	return filepath.Join(s.dir, token+".json")
}

// canonicalJSON renders v as JSON with map keys sorted, matching
// create_callback_data's canonical_json(context) so the same context always
// hashes to the same token.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte("{")
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	default:
		return json.Marshal(v)
	}
}
