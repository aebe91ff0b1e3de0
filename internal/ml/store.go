package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadStatus is the outcome of reading the model file.
type LoadStatus int

const (
	// LoadUnset means there is no model file; a normal cold start.
	LoadUnset LoadStatus = iota
	LoadLoaded
	// LoadCorrupt means the file exists but could not be read or decoded.
	LoadCorrupt
	// LoadIncompatible means the model was fit on a different feature order.
	LoadIncompatible
)

func (s LoadStatus) String() string {
	switch s {
	case LoadUnset:
		return "unset"
	case LoadLoaded:
		return "loaded"
	case LoadCorrupt:
		return "corrupt"
	case LoadIncompatible:
		return "incompatible"
	default:
		return "unknown"
	}
}

// LoadResult carries the model when Status is LoadLoaded and the cause when
// it is LoadCorrupt or LoadIncompatible.
type LoadResult struct {
	Status LoadStatus
	Model  *TrainedModel
	Err    error
}

// ModelStore persists the single active model.
type ModelStore interface {
	Save(m *TrainedModel) error
	Load(schema FeatureSchema) LoadResult
}

// FileStore keeps the model as one JSON file, overwritten on every save.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string {
	return s.path
}

// Save writes the model to a temporary file next to the target and renames
// it into place, so a reader never sees a half-written model.
func (s *FileStore) Save(m *TrainedModel) error {
	data, err := json.Marshal(m)
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &PersistenceError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}

// Load reads the model file and checks it against schema.
func (s *FileStore) Load(schema FeatureSchema) LoadResult {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return LoadResult{Status: LoadUnset}
	}
	if err != nil {
		return LoadResult{Status: LoadCorrupt, Err: &PersistenceError{Op: "load", Path: s.path, Err: err}}
	}

	var m TrainedModel
	if err := json.Unmarshal(data, &m); err != nil {
		return LoadResult{Status: LoadCorrupt, Err: &PersistenceError{Op: "load", Path: s.path, Err: err}}
	}
	if err := m.validate(); err != nil {
		return LoadResult{Status: LoadCorrupt, Err: &PersistenceError{Op: "load", Path: s.path, Err: err}}
	}
	if !schema.Matches(m.Features) {
		return LoadResult{
			Status: LoadIncompatible,
			Model:  &m,
			Err:    &PersistenceError{Op: "load", Path: s.path, Err: errIncompatibleSchema(schema, m.SchemaName)},
		}
	}
	return LoadResult{Status: LoadLoaded, Model: &m}
}

func errIncompatibleSchema(want FeatureSchema, got string) error {
	return fmt.Errorf("model features do not match feature set %s v%d (model was fit on %q)", want.Name, want.Version, got)
}
