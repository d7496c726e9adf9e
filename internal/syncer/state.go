package syncer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// State persists the pending-remote-deletion list: ids of documents
// deleted locally whose remote folder still has to be removed. The local
// row is already gone by the time sync runs, so the ids must survive
// process restarts.
type State struct {
	mu      sync.Mutex
	path    string
	pending []string
}

type stateFile struct {
	Version int      `json:"version"`
	Pending []string `json:"pending"`
}

// LoadState reads the state file, treating a missing file as empty state.
func LoadState(path string) (*State, error) {
	st := &State{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sync state: %w", err)
	}
	var f stateFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sync state: %w", err)
	}
	st.pending = f.Pending
	return st, nil
}

// Add appends document ids to the pending-deletion list, skipping ids
// already present, and persists.
func (st *State) Add(ids ...string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	changed := false
	for _, id := range ids {
		if !slices.Contains(st.pending, id) {
			st.pending = append(st.pending, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return st.saveLocked()
}

// Remove drops one id from the list and persists.
func (st *State) Remove(id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	i := slices.Index(st.pending, id)
	if i < 0 {
		return nil
	}
	st.pending = slices.Delete(st.pending, i, i+1)
	return st.saveLocked()
}

// Pending returns a copy of the pending-deletion ids.
func (st *State) Pending() []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Clone(st.pending)
}

func (st *State) saveLocked() error {
	data, err := json.MarshalIndent(stateFile{Version: 1, Pending: st.pending}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sync state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(st.path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(st.path, data, 0644); err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}
