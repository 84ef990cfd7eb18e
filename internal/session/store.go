package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/forestnet/forestnet/internal/crypt"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Store persists sessions by id.
type Store interface {
	// Load returns ErrNotFound or ErrCorrupt (possibly wrapped) when the
	// session cannot be produced.
	Load(id string) (*Session, error)
	Save(s *Session) error
	// Delete removes a session; deleting a missing one is not an error.
	Delete(id string) error
	List() ([]string, error)
}

func validID(id string) bool {
	return len(id) == 36 && uuid.Validate(id) == nil
}

func encode(s *Session) ([]byte, error) {
	return yaml.Marshal(s)
}

func decode(id string, data []byte) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if s.ID != id {
		return nil, fmt.Errorf("%w: id %q stored under %q", ErrCorrupt, s.ID, id)
	}
	if s.Data == nil {
		s.Data = make(map[string]any)
	}
	return &s, nil
}

// FileStore keeps one file per session, named by the session id, in a
// directory. Files hold YAML, sealed with a crypt.Cipher when one is given.
type FileStore struct {
	dir    string
	cipher *crypt.Cipher
}

// NewFileStore creates dir if needed. cipher may be nil.
func NewFileStore(dir string, cipher *crypt.Cipher) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("session directory is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir, cipher: cipher}, nil
}

// Dir returns the session directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id)
}

// Load reads the session file for id.
func (f *FileStore) Load(id string) (*Session, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(f.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.cipher != nil {
		data, err = f.cipher.Open(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}
	return decode(id, data)
}

// Save writes the session to a temporary file in the same directory and
// renames it over the previous version.
func (f *FileStore) Save(s *Session) error {
	if !validID(s.ID) {
		return fmt.Errorf("invalid session id %q", s.ID)
	}
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if f.cipher != nil {
		data, err = f.cipher.Seal(data)
		if err != nil {
			return fmt.Errorf("failed to seal session: %w", err)
		}
	}

	tmp, err := os.CreateTemp(f.dir, "."+s.ID+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temporary session file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temporary session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temporary session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temporary session file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path(s.ID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save session file: %w", err)
	}
	return nil
}

// Delete removes the session file.
func (f *FileStore) Delete(id string) error {
	if !validID(id) {
		return nil
	}
	if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// List returns the ids of all stored sessions.
func (f *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list session directory: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.Type().IsRegular() && validID(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}

// MemoryStore keeps encoded sessions in a map. Values are copied on Save and
// Load, the same as a round trip through FileStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (m *MemoryStore) Load(id string) (*Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(id, data)
}

func (m *MemoryStore) Save(s *Session) error {
	data, err := encode(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	m.mu.Lock()
	m.sessions[s.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// isMissing reports whether err means "no usable session" rather than a
// storage failure worth surfacing.
func isMissing(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrCorrupt)
}
