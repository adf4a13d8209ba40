// Package checkpoint persists retrieval checkpoints as single JSON records.
// Every backend replaces the whole record; there are no partial updates.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
	"github.com/JakeFAU/scholar-citations/internal/storage/local"
)

// DefaultPath is the base name of the file backend's record; ForYear gives
// the path a run actually uses.
const DefaultPath = "temp/backup.json"

// ForYear scopes a checkpoint path or object name to one proceedings year,
// so temp/backup.json becomes temp/backup-2019.json. A checkpoint is only
// ever offered to a run over the same catalog that produced it.
func ForYear(name string, year int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), year, ext)
}

func encode(cp retrieval.Checkpoint) ([]byte, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}
	if cp.Results == nil {
		cp.Results = []retrieval.Result{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (retrieval.Checkpoint, error) {
	var cp retrieval.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return retrieval.Checkpoint{}, fmt.Errorf("%w: decode: %w", retrieval.ErrInvalidCheckpoint, err)
	}
	if err := cp.Validate(); err != nil {
		return retrieval.Checkpoint{}, err
	}
	return cp, nil
}

// FileStore keeps the checkpoint in one local file, replaced atomically.
type FileStore struct {
	dir  *local.Dir
	name string
}

// NewFileStore prepares the parent directory of path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = DefaultPath
	}
	dir, err := local.New(local.Config{BaseDir: filepath.Dir(path)})
	if err != nil {
		return nil, fmt.Errorf("checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir, name: filepath.Base(path)}, nil
}

// Save validates and atomically writes cp.
func (s *FileStore) Save(_ context.Context, cp retrieval.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	if _, err := s.dir.WriteFile(s.name, data); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load reads the record; found is false when no checkpoint exists.
func (s *FileStore) Load(_ context.Context) (retrieval.Checkpoint, bool, error) {
	data, found, err := s.dir.ReadFile(s.name)
	if err != nil || !found {
		return retrieval.Checkpoint{}, false, err
	}
	cp, err := decode(data)
	if err != nil {
		return retrieval.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// ObjectStore is the subset of a remote object store the GCS backend needs.
type ObjectStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)
	Get(ctx context.Context, name string) ([]byte, bool, error)
}

// RemoteStore keeps the checkpoint as one object in a bucket.
type RemoteStore struct {
	objects ObjectStore
	object  string
}

// NewRemoteStore binds a store to an object name.
func NewRemoteStore(objects ObjectStore, object string) (*RemoteStore, error) {
	if objects == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if object == "" {
		return nil, fmt.Errorf("checkpoint object name is required")
	}
	return &RemoteStore{objects: objects, object: object}, nil
}

// Save uploads the full record.
func (s *RemoteStore) Save(ctx context.Context, cp retrieval.Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	if _, err := s.objects.Put(ctx, s.object, "application/json", data); err != nil {
		return fmt.Errorf("upload checkpoint: %w", err)
	}
	return nil
}

// Load downloads the record; found is false when the object does not exist.
func (s *RemoteStore) Load(ctx context.Context) (retrieval.Checkpoint, bool, error) {
	data, found, err := s.objects.Get(ctx, s.object)
	if err != nil {
		return retrieval.Checkpoint{}, false, fmt.Errorf("download checkpoint: %w", err)
	}
	if !found {
		return retrieval.Checkpoint{}, false, nil
	}
	cp, err := decode(data)
	if err != nil {
		return retrieval.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// MemoryStore keeps the checkpoint in process. Used by dry runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	cp    retrieval.Checkpoint
	found bool
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save stores a copy of cp.
func (s *MemoryStore) Save(_ context.Context, cp retrieval.Checkpoint) error {
	if err := cp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = cp.Clone()
	s.found = true
	return nil
}

// Load returns a copy of the stored checkpoint.
func (s *MemoryStore) Load(context.Context) (retrieval.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cp.Clone(), s.found, nil
}
