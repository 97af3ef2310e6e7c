package bus_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aldenvane/skein/internal/bus"
)

func TestNewFenceCreatesSessionFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := bus.NewFence(dir)
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer f.Stop()

	id := f.SessionID()
	if !strings.HasPrefix(id, "session_") {
		t.Fatalf("SessionID: got %q, want session_ prefix", id)
	}

	data, err := os.ReadFile(filepath.Join(dir, ".session_id"))
	if err != nil {
		t.Fatalf("read session file: %v", err)
	}
	var sf struct {
		SessionID string `json:"session_id"`
		Version   int    `json:"version"`
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		t.Fatalf("unmarshal session file: %v", err)
	}
	if sf.SessionID != id || sf.Version != 1 {
		t.Fatalf("session file: got %+v, want id %q version 1", sf, id)
	}
}

func TestFenceReadsExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	body := `{"session_id": "session_123_abc", "boot_time": "2026-01-01T00:00:00Z", "boot_timestamp": 123, "version": 1}`
	if err := os.WriteFile(filepath.Join(dir, ".session_id"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	f, err := bus.NewFence(dir)
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer f.Stop()

	if f.SessionID() != "session_123_abc" {
		t.Fatalf("SessionID: got %q", f.SessionID())
	}
}

func TestFenceRejectsLegacyEnvelopes(t *testing.T) {
	t.Parallel()

	f, err := bus.NewFence(t.TempDir())
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer f.Stop()

	legacy := bus.Envelope{ID: "old"}
	if f.IsCurrent(legacy) {
		t.Fatal("IsCurrent: legacy envelope (no session id) must be rejected")
	}

	foreign := bus.Envelope{ID: "x", Meta: bus.Meta{SessionID: "session_0_zzz"}}
	if f.IsCurrent(foreign) {
		t.Fatal("IsCurrent: foreign session must be rejected")
	}

	current := bus.Envelope{ID: "y", Meta: bus.Meta{SessionID: f.SessionID()}}
	if !f.IsCurrent(current) {
		t.Fatal("IsCurrent: current session must be accepted")
	}
}

func TestFenceHotSwapsOnFileChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	f, err := bus.NewFence(dir, bus.WithFencePollInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	defer f.Stop()

	old := f.SessionID()
	body := `{"session_id": "session_999_next", "version": 1}`
	// Sleep so the rewritten file gets a distinct mtime even on coarse clocks.
	time.Sleep(30 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, ".session_id"), []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f.SessionID() == "session_999_next" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("fence did not swap: still %q (was %q)", f.SessionID(), old)
}

func TestNewSessionIDShape(t *testing.T) {
	t.Parallel()

	id := bus.NewSessionID(time.UnixMilli(1700000000000))
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] != "session" || parts[1] != "1700000000000" {
		t.Fatalf("NewSessionID: got %q", id)
	}
	if len(parts[2]) == 0 || len(parts[2]) > 6 {
		t.Fatalf("NewSessionID tail: got %q", parts[2])
	}
}
