package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// sessionFileName is the fence file kept in the data slot root.
const sessionFileName = ".session_id"

// sessionFile is the on-disk shape of the fence file.
type sessionFile struct {
	SessionID     string `json:"session_id"`
	BootTime      string `json:"boot_time"`
	BootTimestamp int64  `json:"boot_timestamp"`
	Version       int    `json:"version"`
}

// Fence is the process-wide boot session identifier. Workers consult it to
// reject envelopes left over from previous runs.
//
// The fence reads (or creates) the .session_id file in the data slot root at
// startup, then polls it on an interval; when an external process publishes a
// new session id the fence hot-swaps its value, observed immediately by
// subsequent SessionID and IsCurrent calls. Read-mostly: a RWMutex guards the
// single string value.
type Fence struct {
	path     string
	interval time.Duration

	mu        sync.RWMutex
	sessionID string
	lastMtime time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// FenceOption configures a [Fence].
type FenceOption func(*Fence)

// WithFencePollInterval sets the fence file polling interval. Default 5 s.
func WithFencePollInterval(d time.Duration) FenceOption {
	return func(f *Fence) {
		if d > 0 {
			f.interval = d
		}
	}
}

// NewFence creates the session fence for the data slot rooted at dir. When no
// .session_id file exists one is generated with a fresh session id of the
// shape session_<epoch_ms>_<6 base36>. Polling starts immediately.
func NewFence(dir string, opts ...FenceOption) (*Fence, error) {
	f := &Fence{
		path:     filepath.Join(dir, sessionFileName),
		interval: 5 * time.Second,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}

	id, mtime, err := f.readOrCreate()
	if err != nil {
		return nil, fmt.Errorf("bus: session fence: %w", err)
	}
	f.sessionID = id
	f.lastMtime = mtime

	go f.poll()
	return f, nil
}

// SessionID returns the current boot session identifier.
func (f *Fence) SessionID() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.sessionID
}

// IsCurrent reports whether env carries the live session id. Envelopes with
// no session id in meta are legacy and always rejected.
func (f *Fence) IsCurrent(env Envelope) bool {
	if env.Meta.SessionID == "" {
		return false
	}
	return env.Meta.SessionID == f.SessionID()
}

// Stop halts the polling goroutine. Safe to call more than once.
func (f *Fence) Stop() {
	f.stopOnce.Do(func() { close(f.done) })
}

// NewSessionID generates a fence id: session_<epoch_ms>_<6 base36 chars>.
// The random tail is derived from a v4 UUID so concurrent boots on the same
// host cannot collide even within one millisecond.
func NewSessionID(now time.Time) string {
	raw := uuid.New()
	// Fold the first 8 UUID bytes into a base36 tail, keep 6 chars.
	var n uint64
	for _, b := range raw[:8] {
		n = n<<8 | uint64(b)
	}
	tail := strconv.FormatUint(n, 36)
	if len(tail) > 6 {
		tail = tail[:6]
	}
	return "session_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + tail
}

// readOrCreate loads the fence file, generating a new one when missing.
func (f *Fence) readOrCreate() (string, time.Time, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return f.create()
	}
	if err != nil {
		return "", time.Time{}, err
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil || strings.TrimSpace(sf.SessionID) == "" {
		slog.Warn("session fence file unreadable, regenerating", "path", f.path, "err", err)
		return f.create()
	}

	info, err := os.Stat(f.path)
	if err != nil {
		return "", time.Time{}, err
	}
	return sf.SessionID, info.ModTime(), nil
}

// create writes a fresh fence file and returns the new session id.
func (f *Fence) create() (string, time.Time, error) {
	now := time.Now()
	sf := sessionFile{
		SessionID:     NewSessionID(now),
		BootTime:      now.UTC().Format(time.RFC3339),
		BootTimestamp: now.UnixMilli(),
		Version:       1,
	}
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return "", time.Time{}, err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return "", time.Time{}, err
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return "", time.Time{}, err
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return "", time.Time{}, err
	}
	slog.Info("session fence created", "session_id", sf.SessionID)
	return sf.SessionID, info.ModTime(), nil
}

// poll watches the fence file for external session changes.
func (f *Fence) poll() {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.check()
		}
	}
}

// check re-reads the fence file when its mtime moved and hot-swaps the id.
func (f *Fence) check() {
	info, err := os.Stat(f.path)
	if err != nil {
		slog.Warn("session fence: cannot stat file", "path", f.path, "err", err)
		return
	}

	f.mu.RLock()
	mtime := f.lastMtime
	f.mu.RUnlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		slog.Warn("session fence: cannot read file", "path", f.path, "err", err)
		return
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil || sf.SessionID == "" {
		slog.Warn("session fence: malformed file, keeping current session", "path", f.path, "err", err)
		return
	}

	f.mu.Lock()
	old := f.sessionID
	f.sessionID = sf.SessionID
	f.lastMtime = info.ModTime()
	f.mu.Unlock()

	if old != sf.SessionID {
		slog.Info("session fence swapped", "old", old, "new", sf.SessionID)
	}
}
