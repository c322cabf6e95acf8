// Package state persists the small amount of loop state that survives
// between reconciliation cycles: the poll-gate hash, a cycle counter, and
// an archive of past cycle reports.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const stateFile = "state.json"
const historyDir = "history"

// LoopState is the persisted state of the reconciliation loop. The gate
// hash is its only cross-cycle coupling; everything else is bookkeeping
// for the status and history commands.
type LoopState struct {
	Hash        string     `json:"gate_hash"`
	Cycles      int        `json:"cycles"`
	StartedAt   time.Time  `json:"started_at"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`

	mu  sync.Mutex `json:"-"`
	dir string     `json:"-"`
}

// Open loads existing state from dir, or creates and persists a fresh one.
func Open(dir string) (*LoopState, error) {
	if dir == "" {
		dir = ".taskgate"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(dir, stateFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s := &LoopState{StartedAt: time.Now(), dir: dir}
		if err := s.Save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s LoopState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.dir = dir
	return &s, nil
}

// Save persists the current state to disk.
func (s *LoopState) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *LoopState) saveLocked() error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(filepath.Join(s.dir, stateFile), data, 0644)
}

// GateHash returns the stored poll-gate hash ("" before the first cycle).
func (s *LoopState) GateHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Hash
}

// SetGateHash stores and persists the poll-gate hash.
func (s *LoopState) SetGateHash(h string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Hash = h
	return s.saveLocked()
}

// BumpCycle increments the cycle counter, records the cycle time, and
// returns the new cycle number.
func (s *LoopState) BumpCycle() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Cycles++
	now := time.Now()
	s.LastCycleAt = &now
	return s.Cycles, s.saveLocked()
}

// ArchiveReport stores one cycle report JSON under the history directory.
func (s *LoopState) ArchiveReport(cycle int, data []byte) error {
	dir := filepath.Join(s.dir, historyDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	name := fmt.Sprintf("cycle-%06d.json", cycle)
	return os.WriteFile(filepath.Join(dir, name), data, 0644)
}

// ListReports returns archived report file names, oldest first.
func (s *LoopState) ListReports() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, historyDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ReadReport returns the contents of one archived report by file name.
func (s *LoopState) ReadReport(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, historyDir, name))
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	return data, nil
}

// LatestReport returns the newest archived report, or nil if none exist.
func (s *LoopState) LatestReport() ([]byte, error) {
	names, err := s.ListReports()
	if err != nil || len(names) == 0 {
		return nil, err
	}
	return s.ReadReport(names[len(names)-1])
}
