package anonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// StorageKey names the shared blob that holds every tab's sessions.
const StorageKey = "anonymous_chat_sessions"

// Backend holds the sessions of all tabs, keyed by tab id.
type Backend interface {
	Load(ctx context.Context) (map[string][]Session, error)
	Save(ctx context.Context, all map[string][]Session) error
}

type MemoryBackend struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load(ctx context.Context) (map[string][]Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return decode(b.data)
}

func (b *MemoryBackend) Save(ctx context.Context, all map[string][]Session) error {
	raw, err := json.Marshal(all)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.data = raw
	b.mu.Unlock()
	return nil
}

// FileBackend keeps the blob as <dir>/anonymous_chat_sessions.json.
// Writes go through a temp file and a rename.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dir, StorageKey+".json")}
}

func (b *FileBackend) Path() string { return b.path }

func (b *FileBackend) Load(ctx context.Context) (map[string][]Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	raw, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string][]Session{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s failed: %w", b.path, err)
	}
	return decode(raw)
}

func (b *FileBackend) Save(ctx context.Context, all map[string][]Session) error {
	raw, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(b.path), StorageKey+"-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), b.path)
}

func decode(raw []byte) (map[string][]Session, error) {
	all := map[string][]Session{}
	if len(raw) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", StorageKey, err)
	}
	return all, nil
}
