package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// SchemaVersion is the only queue file schema this build reads or writes.
// Files carrying any other version are a hard error, never silently repaired.
const SchemaVersion = 1

// Default retention caps. The log keeps a longer journal than the outbox,
// which only retains a small ring of recent work items.
const (
	DefaultLogCap    = 100
	NoisePruneLogCap = 4000
	DefaultOutboxCap = 10
	DefaultInboxCap  = 100
)

// ErrBadSchema is returned when a queue file does not match the canonical
// {schema_version: 1, messages: [...]} shape.
var ErrBadSchema = errors.New("bus: queue file schema violation")

// queueFile is the canonical on-disk shape shared by log, inbox, and outbox.
type queueFile struct {
	SchemaVersion int        `json:"schema_version"`
	Messages      []Envelope `json:"messages"`
}

// Queue is one persistent envelope queue: a whole-file JSON journal with
// newest-first ordering, dedup-by-id, and bounded retention.
//
// Writes replace the whole file via a sibling temp file and an atomic rename,
// so concurrent readers in other processes observe either the previous or the
// next generation, never a torn file. The mutex only serialises writers
// within this process.
type Queue struct {
	path  string
	cap   int
	noise map[string]bool

	mu sync.Mutex
}

// QueueOption configures a [Queue].
type QueueOption func(*Queue)

// WithCap sets the retention cap applied by Prune. Zero means unbounded.
func WithCap(n int) QueueOption {
	return func(q *Queue) { q.cap = n }
}

// WithNoiseTypes marks envelope types (e.g. position broadcasts) that are
// dropped from long-retention reads via ReadFiltered.
func WithNoiseTypes(types ...string) QueueOption {
	return func(q *Queue) {
		q.noise = make(map[string]bool, len(types))
		for _, t := range types {
			q.noise[t] = true
		}
	}
}

// NewQueue returns a queue stored at path. The file is not touched until
// EnsureExists or the first write.
func NewQueue(path string, opts ...QueueOption) *Queue {
	q := &Queue{path: path}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Path returns the queue's file path.
func (q *Queue) Path() string { return q.path }

// EnsureExists creates an empty canonical queue file when none is present.
func (q *Queue) EnsureExists() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := os.Stat(q.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("bus: stat %q: %w", q.path, err)
	}
	return q.writeLocked(nil)
}

// Read returns the queue's envelopes, newest first.
func (q *Queue) Read() ([]Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.readLocked()
}

// ReadFiltered returns the queue's envelopes with noise types removed.
func (q *Queue) ReadFiltered() ([]Envelope, error) {
	msgs, err := q.Read()
	if err != nil {
		return nil, err
	}
	if len(q.noise) == 0 {
		return msgs, nil
	}
	out := msgs[:0]
	for _, m := range msgs {
		if !q.noise[m.Type] {
			out = append(out, m)
		}
	}
	return out, nil
}

// Write replaces the queue contents. Order is preserved as given (callers
// maintain newest-first).
func (q *Queue) Write(msgs []Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.writeLocked(msgs)
}

// Append inserts env at the head (newest-first order) without dedup.
func (q *Queue) Append(env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.readLocked()
	if err != nil {
		return err
	}
	msgs = append([]Envelope{env}, msgs...)
	return q.writeLocked(msgs)
}

// AppendDeduped inserts env at the head, collapsing any prior copy with the
// same id. The copy with the higher-ranked status survives; metas merge by
// shallow overwrite with the newer envelope winning.
func (q *Queue) AppendDeduped(env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.readLocked()
	if err != nil {
		return err
	}
	msgs = appendDeduped(msgs, env)
	return q.writeLocked(msgs)
}

// appendDeduped performs the in-memory dedup merge used by AppendDeduped.
func appendDeduped(msgs []Envelope, env Envelope) []Envelope {
	for i, m := range msgs {
		if m.ID != env.ID {
			continue
		}
		merged := env
		if m.Status.Rank() > env.Status.Rank() {
			merged = m
			merged.Meta = m.Meta.Merge(env.Meta)
		} else {
			merged.Meta = m.Meta.Merge(env.Meta)
		}
		msgs = slices.Delete(msgs, i, i+1)
		return append([]Envelope{merged}, msgs...)
	}
	return append([]Envelope{env}, msgs...)
}

// Update replaces the stored copy of env (matched by id) in place. Appends
// when no prior copy exists so workers can persist claims unconditionally.
func (q *Queue) Update(env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.readLocked()
	if err != nil {
		return err
	}
	replaced := false
	for i, m := range msgs {
		if m.ID == env.ID {
			msgs[i] = env
			replaced = true
			break
		}
	}
	if !replaced {
		msgs = append([]Envelope{env}, msgs...)
	}
	return q.writeLocked(msgs)
}

// RemoveDuplicates collapses repeated ids, keeping the higher-status copy
// (merging metas) and the position of the first occurrence.
func (q *Queue) RemoveDuplicates() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.readLocked()
	if err != nil {
		return err
	}

	seen := make(map[string]int, len(msgs))
	out := make([]Envelope, 0, len(msgs))
	for _, m := range msgs {
		i, dup := seen[m.ID]
		if !dup {
			seen[m.ID] = len(out)
			out = append(out, m)
			continue
		}
		kept := out[i]
		if m.Status.Rank() > kept.Status.Rank() {
			m.Meta = kept.Meta.Merge(m.Meta)
			out[i] = m
		} else {
			kept.Meta = kept.Meta.Merge(m.Meta)
			out[i] = kept
		}
	}
	return q.writeLocked(out)
}

// Prune enforces max retained entries. Over cap, done entries are deleted
// from the tail (oldest) first; non-done entries are never deleted, so the
// queue may legitimately stay over cap while work is in flight.
func (q *Queue) Prune(max int) error {
	if max <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs, err := q.readLocked()
	if err != nil {
		return err
	}
	if len(msgs) <= max {
		return nil
	}

	excess := len(msgs) - max
	for i := len(msgs) - 1; i >= 0 && excess > 0; i-- {
		if msgs[i].Status == StatusDone {
			msgs = slices.Delete(msgs, i, i+1)
			excess--
		}
	}
	return q.writeLocked(msgs)
}

// PruneToCap applies the queue's configured cap. No-op when unbounded.
func (q *Queue) PruneToCap() error {
	if q.cap <= 0 {
		return nil
	}
	return q.Prune(q.cap)
}

// Head returns the newest envelope id and the queue length, for envelope
// index allocation. An empty queue returns ("", 0).
func (q *Queue) Head() (string, int, error) {
	msgs, err := q.Read()
	if err != nil {
		return "", 0, err
	}
	if len(msgs) == 0 {
		return "", 0, nil
	}
	return msgs[0].ID, len(msgs), nil
}

// readLocked loads and validates the canonical file shape. A missing file
// reads as empty; a malformed one is a hard error for the caller's tick.
func (q *Queue) readLocked() ([]Envelope, error) {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bus: read %q: %w", q.path, err)
	}

	var qf queueFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadSchema, q.path, err)
	}
	if qf.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("%w: %q has schema_version %d, want %d", ErrBadSchema, q.path, qf.SchemaVersion, SchemaVersion)
	}
	return qf.Messages, nil
}

// writeLocked replaces the queue file atomically: marshal, write a sibling
// temp file, fsync, rename over the target.
func (q *Queue) writeLocked(msgs []Envelope) error {
	if msgs == nil {
		msgs = []Envelope{}
	}
	data, err := json.MarshalIndent(queueFile{SchemaVersion: SchemaVersion, Messages: msgs}, "", "  ")
	if err != nil {
		return fmt.Errorf("bus: marshal %q: %w", q.path, err)
	}

	if err := os.MkdirAll(filepath.Dir(q.path), 0o755); err != nil {
		return fmt.Errorf("bus: mkdir for %q: %w", q.path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(q.path), filepath.Base(q.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("bus: temp file for %q: %w", q.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("bus: write %q: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("bus: sync %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("bus: close %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, q.path); err != nil {
		return fmt.Errorf("bus: rename %q: %w", q.path, err)
	}
	return nil
}
