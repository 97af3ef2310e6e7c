// Package aiio journals every AI provider exchange as append-only JSON lines
// under ai_io_logs/. The journal is a diagnostic record, never read back by
// the pipeline; a write failure is logged and swallowed by callers.
package aiio

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is a single provider exchange written to the journal.
type Record struct {
	Timestamp  time.Time `json:"timestamp"`
	SessionID  string    `json:"session_id,omitempty"`
	EnvelopeID string    `json:"envelope_id,omitempty"`
	Model      string    `json:"model,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Journal persists records as JSON lines in ai_io_logs/<service>_io.jsonc.
// Thread-safe for concurrent use.
type Journal struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewJournal creates a journal for service under root. The directory and file
// are created on first write.
func NewJournal(root, service string) *Journal {
	return &Journal{
		path: filepath.Join(root, "ai_io_logs", service+"_io.jsonc"),
		now:  time.Now,
	}
}

// Append writes one record to the journal, stamping the timestamp.
func (j *Journal) Append(rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec.Timestamp = j.now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("aiio: marshal: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("aiio: mkdir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("aiio: open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("aiio: write: %w", err)
	}
	return nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}
