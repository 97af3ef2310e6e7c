package bus

// Route is what the router decided to do with one envelope.
type Route int

const (
	// RouteLogOnly records the envelope in the log with no outbox emission.
	RouteLogOnly Route = iota

	// RouteOutbox records the envelope and emits it (possibly with an
	// adjusted status) to the outbox for a downstream worker to claim.
	RouteOutbox
)

// Decision is the router's verdict for one envelope. When Emit is RouteOutbox
// the Envelope field carries the copy to append to the outbox.
type Decision struct {
	Emit     Route
	Envelope Envelope
}

// Senders recognised by the routing table.
const (
	SenderUser         = "user"
	SenderUserShort    = "j"
	SenderRulesLawyer  = "rules_lawyer"
	SenderStateApplier = "state_applier"
	SenderRendererAI   = "renderer_ai"
	SenderDataBroker   = "data_broker"
	SenderRoller       = "roller"
)

// TypeUserInput marks envelopes carrying raw player utterances.
const TypeUserInput = "user_input"

// TypePositionBroadcast marks high-frequency position updates. The log keeps
// them for short-retention reads but filters them out of long-retention views.
const TypePositionBroadcast = "position_broadcast"

// Dispatch decides what to emit for env based on (sender, type, stage,
// status). It is a pure function; the caller appends env to the log and, when
// directed, the returned copy to the outbox.
//
// The table, top to bottom:
//   - player input → outbox as sent, stage unchanged (action pipeline claims)
//   - rules ruling (ruling_*, pending_state_apply) → outbox unchanged
//   - state applier output (applied_*) → outbox as sent (renderer claims)
//   - renderer output (rendered_*) → log only, terminal
//   - data broker error → log only; no retry path in this build
//   - NPC responses (npc_response_*) → outbox as sent
//   - everything else → log only
func Dispatch(env Envelope) Decision {
	switch {
	case isUserInput(env):
		out := env
		out.Status = StatusSent
		return Decision{Emit: RouteOutbox, Envelope: out}

	case env.Sender == SenderRulesLawyer &&
		env.Stage.Name == StageRuling &&
		env.Status == StatusPendingStateApply:
		return Decision{Emit: RouteOutbox, Envelope: env}

	case env.Sender == SenderStateApplier && env.Stage.Name == StageApplied:
		out := env
		out.Status = StatusSent
		return Decision{Emit: RouteOutbox, Envelope: out}

	case env.Sender == SenderRendererAI && env.Stage.Name == StageRendered:
		return Decision{Emit: RouteLogOnly}

	case env.Sender == SenderDataBroker && env.Status == StatusError:
		return Decision{Emit: RouteLogOnly}

	case env.Stage.Name == StageNPCResponse:
		out := env
		out.Status = StatusSent
		return Decision{Emit: RouteOutbox, Envelope: out}
	}

	return Decision{Emit: RouteLogOnly}
}

func isUserInput(env Envelope) bool {
	return env.Sender == SenderUser || env.Sender == SenderUserShort || env.Type == TypeUserInput
}

// Router ingests envelopes: every envelope lands in the log (deduped), and
// the dispatch table decides whether a copy also enters the outbox.
type Router struct {
	log    *Queue
	outbox *Queue
}

// NewRouter wires the router to its log and outbox queues.
func NewRouter(log, outbox *Queue) *Router {
	return &Router{log: log, outbox: outbox}
}

// Ingest records env and emits per the dispatch table, then applies retention.
func (r *Router) Ingest(env Envelope) error {
	d := Dispatch(env)

	logged := env
	if d.Emit == RouteOutbox {
		// The log keeps the routed status so readers see the live state.
		logged = d.Envelope
	}
	if err := r.log.AppendDeduped(logged); err != nil {
		return err
	}
	if err := r.log.PruneToCap(); err != nil {
		return err
	}

	if d.Emit == RouteOutbox {
		if err := r.outbox.AppendDeduped(d.Envelope); err != nil {
			return err
		}
		if err := r.outbox.PruneToCap(); err != nil {
			return err
		}
	}
	return nil
}
