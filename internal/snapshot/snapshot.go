// Package snapshot persists the enriched record set as a single JSON array
// file. Writes go to a temp file in the same directory and are renamed into
// place, so readers never see a partial document.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/model"
)

// PersistenceError is a failure to read or write the snapshot file.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("snapshot: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsPersistenceError reports whether err wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// Store reads and writes one snapshot file.
type Store struct {
	path string
}

// NewStore returns a Store for path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the snapshot file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads the snapshot. A missing file is an empty snapshot. Ids written
// by older producers are upgraded with Canonicalize.
func (s *Store) Read() ([]model.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.Record{}, nil
		}
		return nil, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return []model.Record{}, nil
	}

	var records []model.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}
	return Canonicalize(records), nil
}

// ReadRaw returns the file bytes after checking they hold a JSON array.
// The serving layer uses it to pass the snapshot through verbatim.
func (s *Store) ReadRaw() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: s.path, Err: err}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}
	return data, nil
}

// Write replaces the snapshot atomically.
func (s *Store) Write(records []model.Record) error {
	if records == nil {
		records = []model.Record{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}

	if err := writeAtomic(s.path, buf.Bytes()); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}

	zap.L().Debug("snapshot written",
		zap.String("path", s.path),
		zap.Int("records", len(records)),
		zap.Int("bytes", buf.Len()),
	)
	return nil
}

// writeAtomic writes data to a temp file beside path, syncs it and renames
// it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
