package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	fileatomic "github.com/natefinch/atomic"
)

// stateDirPerm is used when creating the directory holding the state file.
const stateDirPerm = 0o750

// FileBackend stores the state as one JSON object in a file.
//
// Writes go to a temporary file in the same directory which then replaces
// the target, so a concurrent reader or a crash sees either the old or the
// new content.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend for the JSON file at path.
// The file need not exist yet.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the backing file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the state file. A missing file is an empty state.
func (b *FileBackend) Load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrStateLoad, b.path, err)
	}
	return decodeState(data, b.path)
}

// Save replaces the state file with values.
func (b *FileBackend) Save(values map[string]json.RawMessage) error {
	data, err := encodeState(values)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return writeFileAtomic(b.path, data)
}

// Close is a no-op; the file is not held open between calls.
func (b *FileBackend) Close() error {
	return nil
}

// decodeState parses a JSON object. Anything else, including an empty file
// or a literal null, is malformed.
func decodeState(data []byte, source string) (map[string]json.RawMessage, error) {
	var values map[string]json.RawMessage
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrStateLoad, source, err)
	}
	if values == nil {
		return nil, fmt.Errorf("%w: %s does not contain a JSON object", ErrStateLoad, source)
	}
	return values, nil
}

// encodeState renders values as an indented JSON object with sorted keys.
func encodeState(values map[string]json.RawMessage) ([]byte, error) {
	if values == nil {
		values = map[string]json.RawMessage{}
	}
	data, err := json.MarshalIndent(values, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeFileAtomic creates the parent directory if needed and replaces path with data.
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := fileatomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
