package convo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrArchived is returned when writing a conversation id that already exists.
// Archives are immutable once written.
var ErrArchived = errors.New("convo: conversation already archived")

// Line is one utterance in an archived conversation.
type Line struct {
	Speaker string    `json:"speaker"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Conversation is a closed exchange between two participants.
type Conversation struct {
	ID        string    `json:"id"`
	NPCRef    string    `json:"npc_ref"`
	TargetRef string    `json:"target_ref"`
	OpenedAt  time.Time `json:"opened_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Lines     []Line    `json:"lines"`
}

// Archive stores closed conversations as conversations/<id>.jsonc, one file
// per conversation, write-once.
type Archive struct {
	dir string
}

// NewArchive creates an archive rooted under root.
func NewArchive(root string) *Archive {
	return &Archive{dir: filepath.Join(root, "conversations")}
}

// Save writes c to its archive file. A second save of the same id fails with
// [ErrArchived].
func (a *Archive) Save(c Conversation) error {
	if c.ID == "" {
		return errors.New("convo: conversation id must not be empty")
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("convo: mkdir archive: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("convo: encode conversation: %w", err)
	}

	path := filepath.Join(a.dir, c.ID+".jsonc")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrArchived, c.ID)
		}
		return fmt.Errorf("convo: create archive file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("convo: write archive: %w", err)
	}
	return nil
}

// Load reads an archived conversation by id.
func (a *Archive) Load(id string) (*Conversation, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, id+".jsonc"))
	if err != nil {
		return nil, fmt.Errorf("convo: read archive %q: %w", id, err)
	}
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("convo: decode archive %q: %w", id, err)
	}
	return &c, nil
}

// List returns the ids of all archived conversations.
func (a *Archive) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("convo: list archive: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ext := filepath.Ext(name); ext == ".jsonc" {
			ids = append(ids, name[:len(name)-len(ext)])
		}
	}
	return ids, nil
}
