package effect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/observe"
)

// Worker is the state applier: it claims ruling envelopes parked in
// pending_state_apply, executes their effect commands, and emits an
// applied_1 successor for the renderer.
type Worker struct {
	outbox  *bus.Queue
	log     *bus.Queue
	fence   *bus.Fence
	factory *bus.Factory
	applier *Applier
	metrics *observe.Metrics
	logger  *slog.Logger
}

// NewWorker wires a state applier worker.
func NewWorker(outbox, log *bus.Queue, fence *bus.Fence, factory *bus.Factory, applier *Applier, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outbox:  outbox,
		log:     log,
		fence:   fence,
		factory: factory,
		applier: applier,
		metrics: observe.DefaultMetrics(),
		logger:  logger.With("worker", "state_applier"),
	}
}

// Tick claims and applies every pending ruling in the outbox snapshot.
func (w *Worker) Tick() error {
	claimed, err := w.claimPending()
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

// claimPending flips pending_state_apply rulings to processing. The status
// sits outside the sent→processing ladder, so the rewrite is direct; the
// snapshot-then-update sequence keeps the claim at-most-once within a
// single applier process.
func (w *Worker) claimPending() ([]bus.Envelope, error) {
	snapshot, err := w.outbox.Read()
	if err != nil {
		return nil, err
	}
	var claimed []bus.Envelope
	for _, env := range snapshot {
		if env.Status != bus.StatusPendingStateApply || !w.fence.IsCurrent(env) {
			continue
		}
		if env.Stage.Name != bus.StageRuling {
			continue
		}
		env.Status = bus.StatusProcessing
		if err := w.outbox.Update(env); err != nil {
			return claimed, err
		}
		claimed = append(claimed, env)
	}
	return claimed, nil
}

func (w *Worker) process(env bus.Envelope) error {
	cmds, err := ParseAll(env.Meta.Effects)
	if err != nil {
		// Malformed command lists are fatal for the envelope, not the tick.
		w.logger.Error("unparseable effects", "envelope_id", env.ID, "error", err)
		return w.finish(env, bus.StatusError)
	}

	out := w.applier.ApplyAll(cmds)
	for _, cmd := range cmds {
		w.metrics.RecordEffect(context.Background(), cmd.Verb)
	}
	if err := w.emitApplied(env, out); err != nil {
		return err
	}
	return w.finish(env, bus.StatusDone)
}

func (w *Worker) finish(env bus.Envelope, status bus.Status) error {
	next, ok := bus.TrySetStatus(env, status)
	if !ok {
		w.logger.Warn("illegal finish transition", "envelope_id", env.ID, "from", env.Status, "to", status)
		return nil
	}
	if err := w.outbox.Update(next); err != nil {
		return err
	}
	w.metrics.RecordEnvelope(context.Background(), "state_applier", string(status))
	return nil
}

// emitApplied appends the applied_1 successor summarising the run.
func (w *Worker) emitApplied(src bus.Envelope, out Outcome) error {
	headID, logLen, err := w.log.Head()
	if err != nil {
		return err
	}
	content := fmt.Sprintf("Applied %d effect(s).", out.Applied)
	if len(out.Warnings) > 0 {
		content += " Warnings: " + strings.Join(out.Warnings, "; ")
	}
	next := w.factory.New(bus.Input{
		Sender:        bus.SenderStateApplier,
		Content:       content,
		Stage:         bus.Stage{Name: bus.StageApplied, Iteration: src.Stage.Iteration},
		Slot:          src.Slot,
		CorrelationID: src.CorrelationID,
		ReplyTo:       src.ID,
		Status:        bus.StatusSent,
		Meta: bus.Meta{
			ActionVerb:     src.Meta.ActionVerb,
			Effects:        src.Meta.Effects,
			EffectsApplied: out.Applied,
			Events:         out.Diffs,
		},
	}, headID, logLen)
	if next.Stage.Iteration == 0 {
		next.Stage.Iteration = 1
	}
	if err := w.log.AppendDeduped(next); err != nil {
		return err
	}
	if err := w.outbox.AppendDeduped(next); err != nil {
		return err
	}
	w.logger.Info("state applied", "source", src.ID, "effects_applied", out.Applied, "warnings", len(out.Warnings))
	return nil
}
