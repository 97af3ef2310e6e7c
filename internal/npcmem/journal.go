// Package npcmem stores per-NPC memory journals: short dated notes about
// what an NPC witnessed, plus AI-driven consolidation that condenses old
// entries into summaries once a journal grows past its threshold.
//
// All exported types are safe for concurrent use.
package npcmem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry is one journal line. Summary entries replace a span of consolidated
// originals.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Summary   bool      `json:"summary,omitempty"`
}

// Journal is the file-backed memory journal of a single NPC.
type Journal struct {
	mu     sync.Mutex
	path   string
	npcRef string
	now    func() time.Time
}

// NewJournal opens (or lazily creates) the journal for npcRef under
// <root>/npc_memory/.
func NewJournal(root, npcRef string) *Journal {
	name := strings.ReplaceAll(npcRef, ".", "_") + ".jsonc"
	return &Journal{
		path:   filepath.Join(root, "npc_memory", name),
		npcRef: npcRef,
		now:    time.Now,
	}
}

// NPCRef returns the owning NPC's reference.
func (j *Journal) NPCRef() string { return j.npcRef }

// Append adds a new entry with the current timestamp.
func (j *Journal) Append(text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.read()
	if err != nil {
		return err
	}
	entries = append(entries, Entry{Timestamp: j.now(), Text: text})
	return j.write(entries)
}

// Entries returns all journal entries, oldest first.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.read()
}

// Replace swaps the journal's full content. Used by the consolidator.
func (j *Journal) Replace(entries []Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.write(entries)
}

// read loads the journal file. A missing file is an empty journal.
func (j *Journal) read() ([]Entry, error) {
	data, err := os.ReadFile(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("npcmem: read %q: %w", j.path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("npcmem: parse %q: %w", j.path, err)
	}
	return entries, nil
}

// write persists entries atomically via a temp file rename.
func (j *Journal) write(entries []Entry) error {
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("npcmem: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("npcmem: marshal: %w", err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("npcmem: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("npcmem: rename: %w", err)
	}
	return nil
}
