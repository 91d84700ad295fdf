// Package store provides crash-safe position persistence: an in-memory
// map for lock-free reads plus an append-only durable log of every
// state transition, for audit and crash recovery.
//
// Each position is stored as a separate JSON file: pos_<positionID>.json,
// written atomically (write to .tmp, then rename) so a crash mid-write
// never corrupts the last-known-good snapshot. Every transition is also
// appended to a single transitions.jsonl file, one JSON object per line,
// which is never rewritten — only appended to.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/polyarb/agent/pkg/types"
)

// Store persists positions for one managed user. Reads are lock-free
// atomic snapshots of an in-memory map; writes are serialized per user
// via writeMu, matching the spec's "writes are serialized per agent".
type Store struct {
	dir string

	writeMu sync.Mutex // serializes file writes for this user
	logFile *os.File   // append-only transitions.jsonl handle

	positions atomic.Pointer[map[string]types.Position] // lock-free read snapshot
}

// Open creates or reopens a store backed by the given directory,
// reloading any previously persisted positions into memory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	logFile, err := os.OpenFile(filepath.Join(dir, "transitions.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open transition log: %w", err)
	}

	s := &Store{dir: dir, logFile: logFile}

	loaded, err := loadAll(dir)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	s.positions.Store(&loaded)
	return s, nil
}

// Close releases the transition-log file handle.
func (s *Store) Close() error {
	return s.logFile.Close()
}

// Save atomically persists pos and appends a transition record carrying
// reason. It is the only mutation path; callers never write partial
// state.
func (s *Store) Save(pos types.Position, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.Get(pos.ID)
	from := types.PositionStatus("")
	if prev != nil {
		from = prev.Status
	}

	if err := s.writeSnapshot(pos); err != nil {
		return err
	}
	if err := s.appendTransition(types.PositionTransition{
		PositionID: pos.ID,
		FromStatus: from,
		ToStatus:   pos.Status,
		At:         pos.OpenedAt,
		Reason:     reason,
	}); err != nil {
		return err
	}

	s.updateSnapshotMap(pos)
	return nil
}

func (s *Store) writeSnapshot(pos types.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	path := filepath.Join(s.dir, "pos_"+pos.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) appendTransition(t types.PositionTransition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	data = append(data, '\n')
	if _, err := s.logFile.Write(data); err != nil {
		return fmt.Errorf("append transition: %w", err)
	}
	return s.logFile.Sync()
}

// updateSnapshotMap copy-on-writes the in-memory map so concurrent
// readers of Get/All never observe a torn update.
func (s *Store) updateSnapshotMap(pos types.Position) {
	old := *s.positions.Load()
	next := make(map[string]types.Position, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[pos.ID] = pos
	s.positions.Store(&next)
}

// Get returns a position by id without blocking on writers, or nil if
// unknown.
func (s *Store) Get(positionID string) *types.Position {
	m := *s.positions.Load()
	if pos, ok := m[positionID]; ok {
		return &pos
	}
	return nil
}

// All returns a snapshot of every known position.
func (s *Store) All() []types.Position {
	m := *s.positions.Load()
	out := make([]types.Position, 0, len(m))
	for _, pos := range m {
		out = append(out, pos)
	}
	return out
}

// NonTerminal returns every position whose status is still OPEN or
// PARTIAL — the set that must be re-entered into the fill poller after
// a restart.
func (s *Store) NonTerminal() []types.Position {
	m := *s.positions.Load()
	var out []types.Position
	for _, pos := range m {
		if pos.Status == types.PositionOpen || pos.Status == types.PositionPartial {
			out = append(out, pos)
		}
	}
	return out
}

func loadAll(dir string) (map[string]types.Position, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	positions := make(map[string]types.Position)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) < 9 || name[:4] != "pos_" || filepath.Ext(name) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read position file %s: %w", name, err)
		}
		var pos types.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("unmarshal position file %s: %w", name, err)
		}
		positions[pos.ID] = pos
	}
	return positions, nil
}

// ExportYAML writes every known position, sorted by ID, to a single
// human-diffable YAML document at path. Intended for operator audit
// snapshots, not for the hot read/write path — the JSON files remain
// the source of truth.
func (s *Store) ExportYAML(path string) error {
	positions := s.All()
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })

	data, err := yaml.Marshal(positions)
	if err != nil {
		return fmt.Errorf("marshal positions to yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write yaml export: %w", err)
	}
	return nil
}

// ReadTransitions replays the full transition log for audit tooling.
// Malformed trailing lines (a crash mid-append) are skipped.
func (s *Store) ReadTransitions() ([]types.PositionTransition, error) {
	f, err := os.Open(filepath.Join(s.dir, "transitions.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open transition log: %w", err)
	}
	defer f.Close()

	var out []types.PositionTransition
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var t types.PositionTransition
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, scanner.Err()
}
