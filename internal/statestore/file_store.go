package statestore

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

func init() {
	RegisterFactory("file", func(dsn string) (Store, error) {
		return NewFileStore(strings.TrimPrefix(dsn, "file://"))
	})
}

// fileStore keeps all records in memory and mirrors every mutation to a JSON
// snapshot written with a temp-file rename.
type fileStore struct {
	path    string
	mu      sync.Mutex
	records map[string]PlaceholderRecord
}

type fileStoreState struct {
	Records []PlaceholderRecord `json:"records"`
}

func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	s := &fileStore{
		path:    path,
		records: map[string]PlaceholderRecord{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Put(rec PlaceholderRecord) error {
	if strings.TrimSpace(rec.Path) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[rec.Path]
	s.records[rec.Path] = rec
	if err := s.saveLocked(); err != nil {
		if existed {
			s.records[rec.Path] = prev
		} else {
			delete(s.records, rec.Path)
		}
		return err
	}
	return nil
}

func (s *fileStore) Get(path string) (PlaceholderRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[path]
	return rec, ok, nil
}

func (s *fileStore) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[path]
	if !existed {
		return nil
	}
	delete(s.records, path)
	if err := s.saveLocked(); err != nil {
		s.records[path] = prev
		return err
	}
	return nil
}

func (s *fileStore) Rename(oldPath, newPath string) error {
	if strings.TrimSpace(newPath) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[oldPath]
	if !ok {
		return nil
	}
	rec.Path = newPath
	delete(s.records, oldPath)
	s.records[newPath] = rec
	if err := s.saveLocked(); err != nil {
		delete(s.records, newPath)
		rec.Path = oldPath
		s.records[oldPath] = rec
		return err
	}
	return nil
}

func (s *fileStore) List() ([]PlaceholderRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlaceholderRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var snapshot fileStoreState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	for _, rec := range snapshot.Records {
		s.records[rec.Path] = rec
	}
	return nil
}

func (s *fileStore) saveLocked() error {
	snapshot := fileStoreState{Records: make([]PlaceholderRecord, 0, len(s.records))}
	for _, rec := range s.records {
		snapshot.Records = append(snapshot.Records, rec)
	}
	sort.Slice(snapshot.Records, func(i, j int) bool {
		return snapshot.Records[i].Path < snapshot.Records[j].Path
	})
	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
