// Package turn implements the encounter turn state machine: initiative
// ordering, the per-turn phase cycle, held actions, reactions, and round
// rollover. The machine holds encounter-scoped state only; it is discarded
// when the event ends.
package turn

// Phase is the machine's position in the turn cycle.
type Phase string

const (
	PhaseInitiativeRoll   Phase = "INITIATIVE_ROLL"
	PhaseTurnStart        Phase = "TURN_START"
	PhaseActionSelection  Phase = "ACTION_SELECTION"
	PhaseActionResolution Phase = "ACTION_RESOLUTION"
	PhaseTurnEnd          Phase = "TURN_END"
	PhaseEventEndCheck    Phase = "EVENT_END_CHECK"
	PhaseEventEnd         Phase = "EVENT_END"
)

// HeldAction is a deferred action waiting on a trigger condition. The trigger
// matches an observed event when either string contains the other,
// case-insensitively.
type HeldAction struct {
	ActorRef    string
	Trigger     string
	Priority    int
	Description string
}

// Reaction is an interrupt queued against a specific turn. Reactions drain
// highest priority first and the queue clears on read.
type Reaction struct {
	ActorRef     string
	Priority     int
	ReactsToTurn int
	Description  string
}
