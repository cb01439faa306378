package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const fileSnapshotVersion = 1

// FileStore keeps every namespace resident in memory and rewrites the whole
// JSON file on each write. With an empty path it is purely in-memory.
//
// Writes are serialized by a single lock. This is not safe for several
// processes sharing one file.
type FileStore struct {
	path string

	mu   sync.RWMutex
	seq  int64
	data map[string]map[string]fileEntry
}

type fileEntry struct {
	Record
	Seq int64 `json:"seq"`
}

type fileSnapshot struct {
	Version    int                    `json:"version"`
	Seq        int64                  `json:"seq"`
	Namespaces map[string][]fileEntry `json:"namespaces"`
}

// NewMemoryStore returns a FileStore that never touches disk.
func NewMemoryStore() *FileStore {
	return &FileStore{data: map[string]map[string]fileEntry{}}
}

// NewFileStore loads path into memory. A missing file starts empty. A file
// that cannot be parsed is moved aside and the store starts empty with a
// warning; only I/O errors are returned.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: strings.TrimSpace(path),
		data: map[string]map[string]fileEntry{},
	}
	if s.path == "" {
		return s, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return s, nil
	}

	var snap fileSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixMilli())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			aside = ""
		}
		log.Warn().
			Err(err).
			Str("path", s.path).
			Str("moved_to", aside).
			Msg("store file is malformed, starting with empty state")
		return s, nil
	}

	s.seq = snap.Seq
	for ns, entries := range snap.Namespaces {
		m := make(map[string]fileEntry, len(entries))
		for _, e := range entries {
			if e.ID == "" {
				continue
			}
			e.Namespace = ns
			if e.Seq > s.seq {
				s.seq = e.Seq
			}
			m[e.ID] = e
		}
		s.data[ns] = m
	}

	log.Info().
		Str("path", s.path).
		Int("namespaces", len(s.data)).
		Msg("loaded store file")
	return s, nil
}

func (s *FileStore) Backend() string {
	if s.path == "" {
		return "memory"
	}
	return "file"
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) Get(_ context.Context, namespace, id string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[namespace][id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return cloneRecord(e.Record), nil
}

func (s *FileStore) BulkUpsert(_ context.Context, namespace string, records []Record) ([]Outcome, error) {
	outcomes := make([]Outcome, len(records))
	if len(records) == 0 {
		return outcomes, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[namespace]
	if !ok {
		ns = map[string]fileEntry{}
		s.data[namespace] = ns
	}

	// Remember prior state so a failed flush leaves memory matching disk
	type undo struct {
		entry   fileEntry
		existed bool
	}
	prior := make(map[string]undo, len(records))
	prevSeq := s.seq

	for i, r := range records {
		outcomes[i].ID = r.ID
		if r.ID == "" {
			outcomes[i].Result = Failed
			outcomes[i].Err = fmt.Errorf("%w: missing id", ErrInvalidRecord)
			continue
		}

		old, existed := ns[r.ID]
		if _, seen := prior[r.ID]; !seen {
			prior[r.ID] = undo{entry: old, existed: existed}
		}

		e := fileEntry{Record: cloneRecord(r)}
		e.Namespace = namespace
		if existed {
			e.Seq = old.Seq
			outcomes[i].Result = Updated
		} else {
			s.seq++
			e.Seq = s.seq
			outcomes[i].Result = Inserted
		}
		ns[r.ID] = e
	}

	if err := s.flushLocked(); err != nil {
		for id, u := range prior {
			if u.existed {
				ns[id] = u.entry
			} else {
				delete(ns, id)
			}
		}
		if len(ns) == 0 {
			delete(s.data, namespace)
		}
		s.seq = prevSeq
		return nil, unavailable("bulk_upsert", namespace, err)
	}

	return outcomes, nil
}

func (s *FileStore) QueryChanged(_ context.Context, namespace string, minRevision int64, skip, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]fileEntry, 0)
	for _, e := range s.data[namespace] {
		if e.Revision >= minRevision {
			matched = append(matched, e)
		}
	}
	sortEntries(matched)
	return window(matched, skip, limit), nil
}

func (s *FileStore) Count(_ context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data[namespace])), nil
}

func (s *FileStore) ListTruncated(_ context.Context, namespace string, maxLen, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]fileEntry, 0)
	for _, e := range s.data[namespace] {
		if e.ContentLength() < maxLen {
			matched = append(matched, e)
		}
	}
	sortEntries(matched)
	return window(matched, 0, limit), nil
}

// flushLocked rewrites the whole file via a temp file and rename.
func (s *FileStore) flushLocked() error {
	if s.path == "" {
		return nil
	}

	snap := fileSnapshot{
		Version:    fileSnapshotVersion,
		Seq:        s.seq,
		Namespaces: make(map[string][]fileEntry, len(s.data)),
	}
	for ns, m := range s.data {
		entries := make([]fileEntry, 0, len(m))
		for _, e := range m {
			entries = append(entries, e)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
		snap.Namespaces[ns] = entries
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func sortEntries(entries []fileEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Revision != entries[j].Revision {
			return entries[i].Revision < entries[j].Revision
		}
		return entries[i].Seq < entries[j].Seq
	})
}

func window(entries []fileEntry, skip, limit int) []Record {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(entries) {
		return []Record{}
	}
	entries = entries[skip:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = cloneRecord(e.Record)
	}
	return out
}
