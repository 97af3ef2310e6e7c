// Package bus implements the file-backed message bus at the heart of Skein:
// message envelopes and their lifecycle, the persistent Log/Inbox/Outbox
// queues, the boot-session fence, the stage router, and the worker claim
// protocol.
//
// Every unit of work in the simulation travels as a [Envelope] through JSON
// queue files under the active data slot. Workers poll the outbox, claim
// candidates by flipping their status to [StatusProcessing], produce successor
// envelopes, and terminate their input as done or error. There is no shared
// in-memory state between workers; the queue files are the only shared
// resource, and all writes are atomic rename-over-temp.
package bus

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle position of an envelope on the bus.
type Status string

const (
	StatusQueued            Status = "queued"
	StatusSent              Status = "sent"
	StatusProcessing        Status = "processing"
	StatusPendingStateApply Status = "pending_state_apply"
	StatusDone              Status = "done"
	StatusError             Status = "error"
	StatusSuperseded        Status = "superseded"
)

// awaitingRollPrefix marks the dynamic awaiting_roll_<N> statuses used by the
// roller while a player roll is pending.
const awaitingRollPrefix = "awaiting_roll_"

// AwaitingRoll returns the dynamic status for a pending player roll n.
func AwaitingRoll(n int) Status {
	return Status(awaitingRollPrefix + strconv.Itoa(n))
}

// IsAwaitingRoll reports whether s is one of the awaiting_roll_<N> statuses.
func (s Status) IsAwaitingRoll() bool {
	return strings.HasPrefix(string(s), awaitingRollPrefix)
}

// IsTerminal reports whether s ends an envelope's lifecycle. Terminal
// envelopes are never claimed again and are the first candidates for pruning.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusError || s == StatusSuperseded
}

// Rank orders statuses for dedup-by-id: when two copies of the same envelope
// meet, the higher-ranked status wins. done > processing > sent > queued per
// the retention contract; the remaining statuses slot in by lifecycle position.
func (s Status) Rank() int {
	switch {
	case s == StatusQueued:
		return 0
	case s == StatusSent || s.IsAwaitingRoll():
		return 1
	case s == StatusProcessing:
		return 2
	case s == StatusPendingStateApply:
		return 3
	case s == StatusSuperseded || s == StatusError:
		return 4
	case s == StatusDone:
		return 5
	}
	return -1
}

// ErrInvalidTransition is returned by [TrySetStatus] when the requested status
// change is not on the allowed ladder.
var ErrInvalidTransition = errors.New("bus: invalid_status_transition")

// Stage labels a step in the pipeline, e.g. ruling_1, applied_2, rendered_1.
// The wire form is "<name>_<iteration>"; in memory the name and iteration are
// kept apart so routing switches on Name instead of string prefixes.
type Stage struct {
	Name      string
	Iteration int
}

// Stage names used by the core pipeline.
const (
	StageUserInput   = "user_input"
	StageRuling      = "ruling"
	StageApplied     = "applied"
	StageRendered    = "rendered"
	StageNPCResponse = "npc_response"
	StageRollRequest = "roll_request"
	StageRollInput   = "roll_input"
	StageRollResult  = "roll_result"
)

// ParseStage splits a wire-form stage label into name and iteration. A label
// without a trailing _<digits> suffix parses as iteration 0 with the full
// label as the name.
func ParseStage(label string) Stage {
	i := strings.LastIndexByte(label, '_')
	if i < 0 {
		return Stage{Name: label}
	}
	n, err := strconv.Atoi(label[i+1:])
	if err != nil {
		return Stage{Name: label}
	}
	return Stage{Name: label[:i], Iteration: n}
}

// String renders the wire form "<name>_<iteration>". A zero iteration with an
// empty name renders as "".
func (s Stage) String() string {
	if s.Name == "" {
		return ""
	}
	return s.Name + "_" + strconv.Itoa(s.Iteration)
}

// MarshalJSON writes the wire form so queue files keep the legacy convention.
func (s Stage) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// UnmarshalJSON accepts the wire form.
func (s *Stage) UnmarshalJSON(data []byte) error {
	label, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("bus: stage label: %w", err)
	}
	*s = ParseStage(label)
	return nil
}

// Meta is the typed envelope metadata bag. Known pipeline fields are explicit;
// anything a future worker needs travels in Ext and round-trips untouched.
type Meta struct {
	// SessionID is the boot session that produced the envelope. Envelopes
	// without a session id are legacy and rejected by all workers.
	SessionID string `json:"session_id,omitempty"`

	// Rendered marks an applied_* envelope whose narration has been emitted,
	// fencing the renderer against duplicate narration.
	Rendered bool `json:"rendered,omitempty"`

	// ActionVerb is the verb of the action that produced this envelope
	// (e.g. "INSPECT", "ATTACK"). Drives the renderer's prompt variant.
	ActionVerb string `json:"action_verb,omitempty"`

	// Effects holds effect command lines in the SUBJECT.VERB(...) syntax for
	// the state applier to execute.
	Effects []string `json:"effects,omitempty"`

	// EffectsApplied summarises how many effects the applier executed.
	EffectsApplied int `json:"effects_applied,omitempty"`

	// Events lists human-readable event strings for the renderer prompt.
	Events []string `json:"events,omitempty"`

	// RollID correlates roll_request and roll_input envelopes.
	RollID string `json:"roll_id,omitempty"`

	// RolledByPlayer gates a roll request on explicit player input.
	RolledByPlayer bool `json:"rolled_by_player,omitempty"`

	// DiceExpression is the dice formula to evaluate, e.g. "2d6+1".
	DiceExpression string `json:"dice_expression,omitempty"`

	// DiceLabel is the UI label shown while a player roll is pending.
	DiceLabel string `json:"dice_label,omitempty"`

	// RollFaces, RollBase and RollTotal carry an evaluated roll on
	// roll_result envelopes: individual die faces, flat modifier, and sum.
	RollFaces []int `json:"roll_faces,omitempty"`
	RollBase  int   `json:"roll_base,omitempty"`
	RollTotal int   `json:"roll_total,omitempty"`

	// Ext carries fields this build does not interpret.
	Ext map[string]any `json:"ext,omitempty"`
}

// Merge overlays other onto m, shallow: set fields of other win, Ext keys of
// other overwrite same-named keys of m. Last writer wins within a tick.
func (m Meta) Merge(other Meta) Meta {
	out := m
	if other.SessionID != "" {
		out.SessionID = other.SessionID
	}
	if other.Rendered {
		out.Rendered = true
	}
	if other.ActionVerb != "" {
		out.ActionVerb = other.ActionVerb
	}
	if len(other.Effects) > 0 {
		out.Effects = other.Effects
	}
	if other.EffectsApplied != 0 {
		out.EffectsApplied = other.EffectsApplied
	}
	if len(other.Events) > 0 {
		out.Events = other.Events
	}
	if other.RollID != "" {
		out.RollID = other.RollID
	}
	if other.RolledByPlayer {
		out.RolledByPlayer = true
	}
	if other.DiceExpression != "" {
		out.DiceExpression = other.DiceExpression
	}
	if other.DiceLabel != "" {
		out.DiceLabel = other.DiceLabel
	}
	if len(other.RollFaces) > 0 {
		out.RollFaces = other.RollFaces
	}
	if other.RollBase != 0 {
		out.RollBase = other.RollBase
	}
	if other.RollTotal != 0 {
		out.RollTotal = other.RollTotal
	}
	if len(other.Ext) > 0 {
		if out.Ext == nil {
			out.Ext = make(map[string]any, len(other.Ext))
		} else {
			merged := make(map[string]any, len(out.Ext)+len(other.Ext))
			for k, v := range out.Ext {
				merged[k] = v
			}
			out.Ext = merged
		}
		for k, v := range other.Ext {
			out.Ext[k] = v
		}
	}
	return out
}

// Envelope is the single unit of work on the bus.
type Envelope struct {
	// ID has the shape "<ISO8601> : <6-digit index> : <6-char base32>".
	// The index is strictly increasing within a log.
	ID string `json:"id"`

	Sender  string `json:"sender"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
	Stage   Stage  `json:"stage"`
	Slot    int    `json:"slot,omitempty"`

	// CorrelationID groups every envelope produced from one user utterance.
	CorrelationID string `json:"correlation_id,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`

	// Priority orders competing envelopes; higher is more urgent.
	Priority int    `json:"priority,omitempty"`
	Status   Status `json:"status"`

	Flags []string `json:"flags,omitempty"`
	Meta  Meta     `json:"meta"`

	ConversationID string `json:"conversation_id,omitempty"`
	TurnNumber     int    `json:"turn_number,omitempty"`
	Displayed      bool   `json:"displayed,omitempty"`
	Role           string `json:"role,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ClaimedAt records when a worker last flipped this envelope to
	// processing. Drives the stuck-claim recovery sweep.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
}

// idTimeLayout is the timestamp half of an envelope id.
const idTimeLayout = "2006-01-02T15:04:05.000Z"

// idSep separates the three id segments on the wire.
const idSep = " : "

// base32Alphabet is the RFC 4648 alphabet used for the id's random suffix.
const base32Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"

// FormatID builds an envelope id from its three parts.
func FormatID(ts time.Time, index int, suffix string) string {
	return ts.UTC().Format(idTimeLayout) + idSep + fmt.Sprintf("%06d", index) + idSep + suffix
}

// ParseIDIndex extracts the strictly-increasing index from an envelope id.
func ParseIDIndex(id string) (int, error) {
	parts := strings.Split(id, idSep)
	if len(parts) != 3 {
		return 0, fmt.Errorf("bus: malformed envelope id %q", id)
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bus: envelope id index %q: %w", parts[1], err)
	}
	return n, nil
}

// randomSuffix returns a 6-character base32 string from crypto/rand.
func randomSuffix() string {
	var buf [6]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; degrade to zeros.
		return "AAAAAA"
	}
	out := make([]byte, 6)
	for i, b := range buf {
		out[i] = base32Alphabet[int(b)%len(base32Alphabet)]
	}
	return string(out)
}

// transitions is the explicit status ladder. Any request not listed here
// fails with [ErrInvalidTransition].
var transitions = map[Status][]Status{
	StatusQueued:     {StatusSent},
	StatusSent:       {StatusProcessing, StatusSuperseded},
	StatusProcessing: {StatusDone, StatusError, StatusPendingStateApply, StatusSuperseded},
}

// CanTransition reports whether from → to is on the allowed ladder.
func CanTransition(from, to Status) bool {
	if from.IsAwaitingRoll() {
		return to == StatusSent
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TrySetStatus attempts the status change on env. On success the updated
// envelope is returned with ok=true. An illegal request returns the envelope
// unchanged with ok=false; callers skip silently per the bus error contract.
func TrySetStatus(env Envelope, target Status) (Envelope, bool) {
	if !CanTransition(env.Status, target) {
		return env, false
	}
	env.Status = target
	return env, true
}

// Input carries the caller-supplied fields for a new envelope. Zero-value
// fields are stamped with defaults by [Factory.New].
type Input struct {
	Sender         string
	Content        string
	Type           string
	Stage          Stage
	Slot           int
	CorrelationID  string
	ReplyTo        string
	Priority       int
	Status         Status
	Flags          []string
	Meta           Meta
	ConversationID string
	TurnNumber     int
	Role           string
}

// Factory constructs envelopes with identity and session stamping. The log
// head is consulted for index allocation; a fence supplies the session id.
type Factory struct {
	fence *Fence
	now   func() time.Time
}

// NewFactory returns a Factory stamping envelopes with fence's session id.
// A nil fence produces legacy envelopes with no session id; only tests do that.
func NewFactory(fence *Fence) *Factory {
	return &Factory{fence: fence, now: time.Now}
}

// New builds an envelope from in. The index is parsed from headID (the id of
// the newest log entry); when the head cannot be parsed the index falls back
// to logLen+1. Status defaults to queued.
func (f *Factory) New(in Input, headID string, logLen int) Envelope {
	index := logLen + 1
	if headID != "" {
		if n, err := ParseIDIndex(headID); err == nil {
			index = n + 1
		}
	}

	status := in.Status
	if status == "" {
		status = StatusQueued
	}

	meta := in.Meta
	if f.fence != nil {
		meta.SessionID = f.fence.SessionID()
	}

	created := f.now()
	return Envelope{
		ID:             FormatID(created, index, randomSuffix()),
		Sender:         in.Sender,
		Content:        in.Content,
		Type:           in.Type,
		Stage:          in.Stage,
		Slot:           in.Slot,
		CorrelationID:  in.CorrelationID,
		ReplyTo:        in.ReplyTo,
		Priority:       in.Priority,
		Status:         status,
		Flags:          in.Flags,
		Meta:           meta,
		ConversationID: in.ConversationID,
		TurnNumber:     in.TurnNumber,
		Role:           in.Role,
		CreatedAt:      created.UTC(),
	}
}

// IsCurrentSession reports whether env belongs to the fence's live session.
// Envelopes with no session id are legacy and always rejected.
func (f *Factory) IsCurrentSession(env Envelope) bool {
	if env.Meta.SessionID == "" {
		return false
	}
	if f.fence == nil {
		return false
	}
	return env.Meta.SessionID == f.fence.SessionID()
}
