package turn

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrPhase is returned when an operation is requested outside its legal phase.
var ErrPhase = errors.New("turn: wrong_phase")

// Machine is one encounter's turn state. Safe for concurrent use: the app's
// worker loop drives the turn timer while the embedding UI works the phase
// ladder.
type Machine struct {
	mu    sync.Mutex
	phase Phase

	order     []string
	scores    map[string]int
	round     int
	current   int
	completed map[string]bool

	held      map[string]HeldAction
	reactions []Reaction

	turnLimit     time.Duration
	turnStartedAt time.Time
	now           func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithTurnLimit enables the turn timer: turns exceeding d auto-skip to
// TURN_END.
func WithTurnLimit(d time.Duration) Option {
	return func(m *Machine) {
		m.turnLimit = d
	}
}

// WithClock overrides the time source; tests only.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// NewMachine returns a machine awaiting its initiative roll.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		phase:     PhaseInitiativeRoll,
		completed: make(map[string]bool),
		held:      make(map[string]HeldAction),
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Round returns the current round number, 1-based once initiative is rolled.
func (m *Machine) Round() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.round
}

// Order returns the initiative order, highest first.
func (m *Machine) Order() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// CurrentActor returns the ref whose turn it is.
func (m *Machine) CurrentActor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentActorLocked()
}

func (m *Machine) currentActorLocked() string {
	if len(m.order) == 0 {
		return ""
	}
	return m.order[m.current]
}

// CompletedActors returns the refs that have finished a turn this round.
func (m *Machine) CompletedActors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, ref := range m.order {
		if m.completed[ref] {
			out = append(out, ref)
		}
	}
	return out
}

// RollInitiative orders participants by their score, descending, stable for
// ties, and opens round 1 at TURN_START.
func (m *Machine) RollInitiative(participants []string, scores map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseInitiativeRoll {
		return fmt.Errorf("%w: RollInitiative in %s", ErrPhase, m.phase)
	}
	if len(participants) == 0 {
		return errors.New("turn: no participants")
	}

	order := make([]string, len(participants))
	copy(order, participants)
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	m.order = order
	m.scores = scores
	m.round = 1
	m.current = 0
	m.completed = make(map[string]bool)
	m.phase = PhaseTurnStart
	return nil
}

// BeginTurn opens the current actor's turn and starts the turn timer.
func (m *Machine) BeginTurn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseTurnStart {
		return fmt.Errorf("%w: BeginTurn in %s", ErrPhase, m.phase)
	}
	m.turnStartedAt = m.now()
	m.phase = PhaseActionSelection
	return nil
}

// SelectAction commits the current actor to an action.
func (m *Machine) SelectAction() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActionSelection {
		return fmt.Errorf("%w: SelectAction in %s", ErrPhase, m.phase)
	}
	m.phase = PhaseActionResolution
	return nil
}

// ResolveAction finishes the in-flight action. chain=true returns to
// ACTION_SELECTION for another action within the same turn; otherwise the
// turn ends.
func (m *Machine) ResolveAction(chain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseActionResolution {
		return fmt.Errorf("%w: ResolveAction in %s", ErrPhase, m.phase)
	}
	if chain {
		m.phase = PhaseActionSelection
	} else {
		m.phase = PhaseTurnEnd
	}
	return nil
}

// EndTurn marks the current actor complete and moves to the event-end check.
func (m *Machine) EndTurn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseTurnEnd {
		return fmt.Errorf("%w: EndTurn in %s", ErrPhase, m.phase)
	}
	m.completed[m.currentActorLocked()] = true
	m.phase = PhaseEventEndCheck
	return nil
}

// CheckEventEnd resolves the event-end check. eventOver=true discards the
// encounter at EVENT_END. Otherwise the machine advances to the next
// uncompleted actor, rolling the round over when everyone has acted.
func (m *Machine) CheckEventEnd(eventOver bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseEventEndCheck {
		return fmt.Errorf("%w: CheckEventEnd in %s", ErrPhase, m.phase)
	}
	if eventOver {
		m.phase = PhaseEventEnd
		return nil
	}

	if len(m.completed) == len(m.order) {
		m.round++
		m.completed = make(map[string]bool)
		m.current = 0
	} else {
		for {
			m.current = (m.current + 1) % len(m.order)
			if !m.completed[m.order[m.current]] {
				break
			}
		}
	}
	m.phase = PhaseTurnStart
	return nil
}

// IsTurnTimerExpired reports whether the current turn has outrun the limit.
// Always false without a limit or outside an active turn.
func (m *Machine) IsTurnTimerExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timerExpiredLocked()
}

func (m *Machine) timerExpiredLocked() bool {
	if m.turnLimit <= 0 || m.turnStartedAt.IsZero() {
		return false
	}
	if m.phase != PhaseActionSelection && m.phase != PhaseActionResolution {
		return false
	}
	return m.now().Sub(m.turnStartedAt) > m.turnLimit
}

// AutoSkipIfExpired forces an expired turn to TURN_END. Returns whether a
// skip happened.
func (m *Machine) AutoSkipIfExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.timerExpiredLocked() {
		return false
	}
	m.phase = PhaseTurnEnd
	return true
}

// Hold parks an action for actorRef until trigger fires. A second hold by the
// same actor replaces the first.
func (m *Machine) Hold(a HeldAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held[a.ActorRef] = a
}

// ObserveEvent releases every held action whose trigger matches event:
// case-insensitive substring in either direction. Released actions are
// removed and returned highest priority first.
func (m *Machine) ObserveEvent(event string) []HeldAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := strings.ToLower(event)

	var released []HeldAction
	for ref, a := range m.held {
		trig := strings.ToLower(a.Trigger)
		if strings.Contains(ev, trig) || strings.Contains(trig, ev) {
			released = append(released, a)
			delete(m.held, ref)
		}
	}
	sort.SliceStable(released, func(i, j int) bool {
		if released[i].Priority != released[j].Priority {
			return released[i].Priority > released[j].Priority
		}
		return released[i].ActorRef < released[j].ActorRef
	})
	return released
}

// QueueReaction enqueues a reaction interrupt.
func (m *Machine) QueueReaction(r Reaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions = append(m.reactions, r)
}

// DrainReactions returns all queued reactions highest priority first and
// clears the queue.
func (m *Machine) DrainReactions() []Reaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.reactions
	m.reactions = nil
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}
