// Package roller evaluates dice roll requests from the bus. Automatic rolls
// resolve immediately; player rolls park on the outbox with an
// awaiting_roll_<N> status and surface to the UI through the roller status
// file until the matching roll_input arrives. At most one player roll is
// active at a time.
package roller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StatusSchemaVersion guards the roller status file shape.
const StatusSchemaVersion = 1

// Status is the persisted roller state shared with the UI. It is the only
// state the roller worker and the UI exchange outside the bus.
type Status struct {
	SchemaVersion  int       `json:"schema_version"`
	Spinner        string    `json:"spinner"`
	LastPlayerRoll string    `json:"last_player_roll"`
	DiceLabel      string    `json:"dice_label"`
	Disabled       bool      `json:"disabled"`
	RollID         string    `json:"roll_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// spinnerFrames cycles once per status write so the UI can show liveness.
const spinnerFrames = `-\|/`

// StatusFile owns roller_status.jsonc under the slot root.
type StatusFile struct {
	path string
	now  func() time.Time

	mu    sync.Mutex
	frame int
}

// NewStatusFile returns a status file at <root>/roller_status.jsonc.
func NewStatusFile(root string) *StatusFile {
	return &StatusFile{path: filepath.Join(root, "roller_status.jsonc"), now: time.Now}
}

// Read loads the current status. A missing file reads as a disabled roller.
func (s *StatusFile) Read() (Status, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Status{SchemaVersion: StatusSchemaVersion, Disabled: true}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("roller: read status: %w", err)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("roller: decode status: %w", err)
	}
	return st, nil
}

// Write persists st, stamping schema version, spinner frame and updated_at.
func (s *StatusFile) Write(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.SchemaVersion = StatusSchemaVersion
	st.Spinner = string(spinnerFrames[s.frame%len(spinnerFrames)])
	st.UpdatedAt = s.now().UTC()
	s.frame++

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("roller: encode status: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("roller: write status: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("roller: publish status: %w", err)
	}
	return nil
}
