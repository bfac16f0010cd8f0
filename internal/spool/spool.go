// Package spool implements the atomic file-queue contract shared by every
// producer and consumer in the system (spec §4.1). Every directory under a
// Layout is an unordered queue: producers write-temp-then-rename, consumers
// list, open, validate, act, then unlink, tolerating concurrent disappearance
// as "already consumed."
package spool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ValidationError is raised when a record is missing required fields or is
// not valid JSON. The bad file is never deleted on this error so a human can
// repair it; it carries a line/column-annotated dump for diagnosis, grounded
// in file_validators.validate_summary_file's JSON-parse-error reporting.
type ValidationError struct {
	Path   string
	Reason string
	Dump   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// WriteAtomic writes data to a sibling temp file in path's directory
// (filepath.Dir(path)), fsyncs it, then renames it into place. Rename is the commit
// operation (spec §6); a reader can never observe a partially written file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("spool: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("spool: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("spool: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("spool: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("spool: rename into place: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v and writes it atomically to path.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("spool: marshal: %w", err)
	}
	return WriteAtomic(path, data)
}

// List returns the files directly inside dir matching glob, sorted by name.
// Filesystem order is never trusted as arrival order (spec §4.1) — callers
// that care about arrival order must consult mtime explicitly.
func List(dir, glob string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(glob, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSONValidated reads path, parses it as JSON into v (a pointer), and
// verifies every name in required is present as a top-level key in the raw
// document. On a missing file (already consumed by a racing reader or TTL
// sweep) it returns ErrGone so callers can treat it as "already consumed,"
// not an error.
func ReadJSONValidated(path string, required []string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrGone
		}
		return fmt.Errorf("spool: read %s: %w", path, err)
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("invalid JSON: %v", err),
			Dump:   dumpWithErrorMarker(raw, err),
		}
	}

	var missing []string
	for _, field := range required {
		if _, ok := generic[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")),
			Dump:   dumpWithErrorMarker(raw, nil),
		}
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return &ValidationError{
			Path:   path,
			Reason: fmt.Sprintf("schema mismatch: %v", err),
			Dump:   dumpWithErrorMarker(raw, err),
		}
	}
	return nil
}

// goneError is the sentinel type: the file disappeared between list and open. Spec
// §4.1: consumers must tolerate this as "already consumed," not an error.
type goneError struct{}

func (goneError) Error() string { return "spool: record already consumed" }

// ErrGone is returned by ReadJSONValidated when the file no longer exists.
var ErrGone error = goneError{}

// IsGone reports whether err is (or wraps) ErrGone.
func IsGone(err error) bool {
	return errors.Is(err, ErrGone)
}

// Consume unlinks path after a successful handle. A missing file at this
// point is not an error — another consumer or the TTL sweeper may have
// already removed it.
func Consume(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("spool: unlink %s: %w", path, err)
	}
	return nil
}

// dumpWithErrorMarker renders raw as line-numbered text, placing an
// "<-- ERROR" marker on the offending line when a *json.SyntaxError (or an
// error exposing an Offset) is available. Grounded in
// file_validators.validate_summary_file's parse-failure diagnostic.
func dumpWithErrorMarker(raw []byte, parseErr error) string {
	errLine := -1
	if se, ok := parseErr.(*json.SyntaxError); ok {
		errLine = lineForOffset(raw, se.Offset)
	}

	var b strings.Builder
	lines := bytes.Split(raw, []byte("\n"))
	for i, line := range lines {
		lineNo := i + 1
		marker := ""
		if lineNo == errLine {
			marker = " <-- ERROR"
		}
		fmt.Fprintf(&b, "%3d: %s%s\n", lineNo, line, marker)
	}
	return b.String()
}

func lineForOffset(raw []byte, offset int64) int {
	if offset <= 0 || int(offset) > len(raw) {
		return -1
	}
	return bytes.Count(raw[:offset], []byte("\n")) + 1
}
