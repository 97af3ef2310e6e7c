// Package convo tracks active conversations: an ephemeral presence store that
// suspends NPC movement while a conversation runs, and an immutable archive
// for closed conversations.
package convo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Presence marks one NPC as engaged in conversation until TimeoutAtMS.
type Presence struct {
	TargetRef   string `json:"target_ref"`
	TimeoutAtMS int64  `json:"timeout_at_ms"`
}

// PresenceStore persists conversation presence keyed by npc_ref in
// ephemeral/conversation_presence.json. Expired entries are pruned on every
// read, so callers never observe a stale presence.
type PresenceStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewPresenceStore creates a store under root.
func NewPresenceStore(root string) *PresenceStore {
	return &PresenceStore{
		path: filepath.Join(root, "ephemeral", "conversation_presence.json"),
		now:  time.Now,
	}
}

// Set records that npcRef is conversing with targetRef until now+ttl.
func (s *PresenceStore) Set(npcRef, targetRef string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPruned()
	if err != nil {
		return err
	}
	entries[npcRef] = Presence{
		TargetRef:   targetRef,
		TimeoutAtMS: s.now().Add(ttl).UnixMilli(),
	}
	return s.write(entries)
}

// Clear removes npcRef's presence, closing its conversation.
func (s *PresenceStore) Clear(npcRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPruned()
	if err != nil {
		return err
	}
	if _, ok := entries[npcRef]; !ok {
		return nil
	}
	delete(entries, npcRef)
	return s.write(entries)
}

// Get returns npcRef's live presence, if any. Pruned entries are persisted
// back so the file never accumulates expired rows.
func (s *PresenceStore) Get(npcRef string) (Presence, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPruned()
	if err != nil {
		return Presence{}, false, err
	}
	p, ok := entries[npcRef]
	if err := s.write(entries); err != nil {
		return Presence{}, false, err
	}
	return p, ok, nil
}

// All returns every live presence keyed by npc_ref.
func (s *PresenceStore) All() (map[string]Presence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readPruned()
	if err != nil {
		return nil, err
	}
	if err := s.write(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// readPruned loads the file and drops expired entries. A missing file is an
// empty store.
func (s *PresenceStore) readPruned() (map[string]Presence, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Presence{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convo: read presence: %w", err)
	}

	var entries map[string]Presence
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("convo: decode presence: %w", err)
	}
	if entries == nil {
		entries = map[string]Presence{}
	}

	cutoff := s.now().UnixMilli()
	for ref, p := range entries {
		if p.TimeoutAtMS <= cutoff {
			delete(entries, ref)
		}
	}
	return entries, nil
}

// write atomically replaces the presence file.
func (s *PresenceStore) write(entries map[string]Presence) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("convo: encode presence: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("convo: mkdir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("convo: write temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("convo: rename: %w", err)
	}
	return nil
}
