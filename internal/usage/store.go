package usage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the record in a JSON file.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultFileStore places usage.json in dir.
func DefaultFileStore(dir string) *FileStore {
	return NewFileStore(filepath.Join(dir, "usage.json"))
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

// Update serialises read-modify-write within this process.
func (s *FileStore) Update(_ context.Context, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read()
	if err != nil {
		rec = Record{}
	}
	fn(&rec)
	return s.write(rec)
}

func (s *FileStore) read() (Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse %s: %w", filepath.Base(s.path), err)
	}
	return rec, nil
}

func (s *FileStore) write(rec Record) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create usage directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write usage record: %w", err)
	}
	return nil
}

// MemoryStore keeps the record in memory.
type MemoryStore struct {
	mu  sync.Mutex
	rec Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(_ context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = rec
	return nil
}

func (s *MemoryStore) Update(_ context.Context, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.rec)
	return nil
}

// MemoryRegistry hands out one MemoryStore per client id.
type MemoryRegistry struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*MemoryStore)}
}

func (r *MemoryRegistry) For(clientID string) Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[clientID]
	if !ok {
		s = NewMemoryStore()
		r.stores[clientID] = s
	}
	return s
}

// FileRegistry keeps one JSON file per client id under dir/usage. File
// names are hashed so client ids never reach the filesystem.
type FileRegistry struct {
	dir    string
	mu     sync.Mutex
	stores map[string]*FileStore
}

func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{dir: dir, stores: make(map[string]*FileStore)}
}

// ClientFile returns the record path for clientID.
func (r *FileRegistry) ClientFile(clientID string) string {
	sum := sha256.Sum256([]byte(clientID))
	return filepath.Join(r.dir, "usage", hex.EncodeToString(sum[:16])+".json")
}

func (r *FileRegistry) For(clientID string) Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stores[clientID]
	if !ok {
		s = NewFileStore(r.ClientFile(clientID))
		r.stores[clientID] = s
	}
	return s
}
