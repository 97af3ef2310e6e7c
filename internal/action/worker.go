package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/observe"
	"github.com/aldenvane/skein/internal/world"
)

// Worker is the interpreter: it claims user input envelopes from the outbox,
// runs the action pipeline in dry-run mode, and emits a ruling_1 successor
// parked in pending_state_apply for the state applier.
type Worker struct {
	outbox  *bus.Queue
	log     *bus.Queue
	claimer *bus.Claimer
	factory *bus.Factory
	store   *world.Store
	parse   IntentParser
	run     func(Intent) Result
	metrics *observe.Metrics
	logger  *slog.Logger
}

// IntentParser turns one user input envelope into a pipeline intent.
// The default parser reads the structured fields the UI stamps into meta.
type IntentParser func(env bus.Envelope) (Intent, error)

// DefaultIntentParser builds an [Intent] from envelope metadata: the verb
// from meta.action_verb, the actor and explicit target from meta.ext, and
// the raw content for @mention scanning.
func DefaultIntentParser(env bus.Envelope) (Intent, error) {
	verb := strings.ToUpper(env.Meta.ActionVerb)
	if verb == "" {
		return Intent{}, fmt.Errorf("action: envelope %s has no action verb", env.ID)
	}
	in := Intent{
		ID:            env.ID,
		Verb:          verb,
		Source:        SourcePlayerInput,
		OriginalInput: env.Content,
	}
	if ext := env.Meta.Ext; ext != nil {
		if v, ok := ext["actor_ref"].(string); ok {
			in.ActorRef = v
		}
		if v, ok := ext["target_ref"].(string); ok {
			in.UITargetRef = v
		}
		if v, ok := ext["subtype"].(string); ok {
			in.Subtype = strings.ToUpper(v)
		}
	}
	if in.ActorRef == "" {
		return Intent{}, fmt.Errorf("action: envelope %s has no actor ref", env.ID)
	}
	return in, nil
}

// NewWorker wires an interpreter worker. pipeline should be constructed with
// a nil executor: effects are recorded on the ruling and executed later by
// the state applier.
func NewWorker(outbox, log *bus.Queue, claimer *bus.Claimer, factory *bus.Factory, store *world.Store, pipeline *Pipeline, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outbox:  outbox,
		log:     log,
		claimer: claimer,
		factory: factory,
		store:   store,
		parse:   DefaultIntentParser,
		run:     pipeline.Run,
		metrics: observe.DefaultMetrics(),
		logger:  logger.With("worker", "interpreter"),
	}
}

// Tick claims every pending user input envelope and rules on it.
func (w *Worker) Tick() error {
	claimed, err := w.claimer.Claim(func(env bus.Envelope) bool {
		return isUserInputEnvelope(env)
	})
	if err != nil {
		return err
	}
	for _, env := range claimed {
		if err := w.process(env); err != nil {
			return err
		}
	}
	return nil
}

func isUserInputEnvelope(env bus.Envelope) bool {
	return env.Stage.Name == bus.StageUserInput || env.Type == bus.TypeUserInput
}

func (w *Worker) process(env bus.Envelope) error {
	in, err := w.parse(env)
	if err != nil {
		w.logger.Error("uninterpretable input", "envelope_id", env.ID, "error", err)
		return w.finish(env, bus.StatusError)
	}

	// The pipeline queries target candidates around the actor.
	if actor, err := w.store.GetCreatureByRef(in.ActorRef); err == nil {
		in.ActorLocation = actor.Location
	}

	start := time.Now()
	res := w.run(in)
	w.metrics.PipelineDuration.Record(context.Background(), time.Since(start).Seconds())

	if err := w.emitRuling(env, in, res); err != nil {
		return err
	}
	return w.finish(env, bus.StatusDone)
}

func (w *Worker) finish(env bus.Envelope, status bus.Status) error {
	if err := w.claimer.Finish(env, status); err != nil {
		return err
	}
	w.metrics.RecordEnvelope(context.Background(), "interpreter", string(status))
	return nil
}

// emitRuling appends the ruling_1 successor carrying the pipeline verdict.
// Failed validations still produce a ruling with no effects so the renderer
// can narrate the refusal.
func (w *Worker) emitRuling(src bus.Envelope, in Intent, res Result) error {
	headID, logLen, err := w.log.Head()
	if err != nil {
		return err
	}

	content := fmt.Sprintf("%s ruled legal, %d effect(s).", in.ActionType(), len(res.Effects))
	var effects []string
	if res.Success {
		for _, e := range res.Effects {
			effects = append(effects, e.Command)
		}
	} else {
		content = fmt.Sprintf("%s refused: %s", in.ActionType(), res.FailureReason)
	}

	next := w.factory.New(bus.Input{
		Sender:        bus.SenderRulesLawyer,
		Content:       content,
		Stage:         bus.Stage{Name: bus.StageRuling, Iteration: 1},
		Slot:          src.Slot,
		CorrelationID: src.CorrelationID,
		ReplyTo:       src.ID,
		Status:        bus.StatusPendingStateApply,
		Meta: bus.Meta{
			ActionVerb: in.Verb,
			Effects:    effects,
		},
	}, headID, logLen)
	if err := w.log.AppendDeduped(next); err != nil {
		return err
	}
	if err := w.outbox.AppendDeduped(next); err != nil {
		return err
	}
	w.logger.Info("ruling emitted",
		"source", src.ID, "verb", in.Verb, "legal", res.Success, "effects", len(effects))
	return nil
}
