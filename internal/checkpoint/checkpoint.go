// Package checkpoint persists session state snapshots so a session can be
// inspected after the fact and resumed after an interruption or a human
// review. Each session owns a directory of numbered snapshots; the newest
// one is the authoritative state.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/normagent/normagent/internal/state"
)

// Store manages snapshot directories under a common root.
type Store struct {
	dir string
	mu  sync.Mutex
	seq map[string]int
}

// NewStore creates the snapshot root if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &Store{
		dir: dir,
		seq: make(map[string]int),
	}, nil
}

// Save appends snap as the session's newest checkpoint.
func (s *Store) Save(snap state.Snapshot) error {
	if snap.SessionID == "" {
		return fmt.Errorf("snapshot has no session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sessionDir := filepath.Join(s.dir, snap.SessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	seq, err := s.nextSeq(snap.SessionID, sessionDir)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(sessionDir, fmt.Sprintf("%04d.json", seq))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	s.seq[snap.SessionID] = seq
	return nil
}

// Latest returns the session's newest snapshot.
func (s *Store) Latest(sessionID string) (state.Snapshot, error) {
	files, err := s.snapshotFiles(sessionID)
	if err != nil {
		return state.Snapshot{}, err
	}
	if len(files) == 0 {
		return state.Snapshot{}, fmt.Errorf("no checkpoints for session %s", sessionID)
	}
	return s.read(sessionID, files[len(files)-1])
}

// Trail returns every snapshot of the session in write order, for audit
// and replay.
func (s *Store) Trail(sessionID string) ([]state.Snapshot, error) {
	files, err := s.snapshotFiles(sessionID)
	if err != nil {
		return nil, err
	}
	trail := make([]state.Snapshot, 0, len(files))
	for _, name := range files {
		snap, err := s.read(sessionID, name)
		if err != nil {
			continue
		}
		trail = append(trail, snap)
	}
	return trail, nil
}

// Sessions lists the session IDs with at least one checkpoint, newest
// directory first.
func (s *Store) Sessions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type dated struct {
		id  string
		mod int64
	}
	var found []dated
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, dated{id: entry.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod > found[j].mod })

	ids := make([]string, len(found))
	for i, d := range found {
		ids[i] = d.id
	}
	return ids, nil
}

// nextSeq resumes numbering from the files already on disk, so a restarted
// process never overwrites an existing snapshot.
func (s *Store) nextSeq(sessionID, sessionDir string) (int, error) {
	if seq, ok := s.seq[sessionID]; ok {
		return seq + 1, nil
	}

	entries, err := os.ReadDir(sessionDir)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return max + 1, nil
}

func (s *Store) snapshotFiles(sessionID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) read(sessionID, name string) (state.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionID, name))
	if err != nil {
		return state.Snapshot{}, err
	}
	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("corrupt checkpoint %s: %w", name, err)
	}
	return snap, nil
}
