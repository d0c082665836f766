package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ent0n29/sprout/internal/audio"
)

const indexFileName = "index.json"

// FSStore keeps the history index in a JSON file next to the samples
// directory. Puts are serialized; reads run concurrently.
type FSStore struct {
	mu        sync.RWMutex
	files     *sampleFiles
	indexPath string
	entries   []Entry // insertion order, oldest first
}

// NewFSStore creates the cache layout under cacheDir and loads any existing
// index.
func NewFSStore(cacheDir string) (*FSStore, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	files, err := newSampleFiles(cacheDir)
	if err != nil {
		return nil, err
	}

	s := &FSStore{
		files:     files,
		indexPath: filepath.Join(cacheDir, indexFileName),
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FSStore) loadIndex() error {
	raw, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read history index: %w", err)
	}
	if err := json.Unmarshal(raw, &s.entries); err != nil {
		return fmt.Errorf("parse history index: %w", err)
	}
	return nil
}

func (s *FSStore) Put(_ context.Context, entry Entry, buf audio.Buffer) (Entry, error) {
	if entry.ID == "" {
		entry.ID = DeriveID(entry.Prompt, entry.RequestedDuration, entry.GuidanceScale, entry.Seed)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.files.write(entry.ID, buf)
	if err != nil {
		return Entry{}, err
	}
	entry.FilePath = path
	entry.DurationActual = buf.Duration()

	replaced := false
	for i := range s.entries {
		if s.entries[i].ID == entry.ID {
			s.entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.entries = append(s.entries, entry)
	}

	if err := s.persistIndex(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// persistIndex writes the whole index atomically. Must be called with mu held.
func (s *FSStore) persistIndex() error {
	raw, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history index: %w", err)
	}
	tmp := s.indexPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write history index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize history index: %w", err)
	}
	return nil
}

func (s *FSStore) List(_ context.Context) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	// Newest first.
	for i, e := range s.entries {
		out[len(s.entries)-1-i] = e
	}
	return out, nil
}

func (s *FSStore) Get(_ context.Context, id string) (Entry, audio.Buffer, error) {
	s.mu.RLock()
	var found *Entry
	for i := range s.entries {
		if s.entries[i].ID == id {
			e := s.entries[i]
			found = &e
			break
		}
	}
	s.mu.RUnlock()

	if found == nil {
		return Entry{}, audio.Buffer{}, ErrNotFound
	}
	buf, err := s.files.read(found.FilePath)
	if err != nil {
		return Entry{}, audio.Buffer{}, err
	}
	return *found, buf, nil
}

func (s *FSStore) Close() error { return nil }
