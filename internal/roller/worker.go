package roller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/dice"
	"github.com/aldenvane/skein/internal/observe"
)

// Worker claims roll_request and roll_input envelopes from the outbox and
// resolves them into roll_result successors.
type Worker struct {
	outbox  *bus.Queue
	log     *bus.Queue
	claimer *bus.Claimer
	factory *bus.Factory
	status  *StatusFile
	roller  *dice.Roller
	metrics *observe.Metrics
	logger  *slog.Logger
}

// New wires a roller worker.
func New(outbox, log *bus.Queue, claimer *bus.Claimer, factory *bus.Factory, status *StatusFile, r *dice.Roller, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		outbox:  outbox,
		log:     log,
		claimer: claimer,
		factory: factory,
		status:  status,
		roller:  r,
		metrics: observe.DefaultMetrics(),
		logger:  logger.With("worker", "roller"),
	}
}

// PendingCount reports how many player rolls are parked in awaiting_roll_*.
// Feeds the pending-roll gauge.
func (w *Worker) PendingCount() (int64, error) {
	pending, err := w.pendingRolls()
	if err != nil {
		return 0, err
	}
	return int64(len(pending)), nil
}

// Tick runs one poll cycle: park or resolve new roll requests, match roll
// inputs to pending player rolls, then refresh the status file.
func (w *Worker) Tick() error {
	if err := w.handleRequests(); err != nil {
		return err
	}
	if err := w.handleInputs(); err != nil {
		return err
	}
	return w.refreshStatus()
}

func (w *Worker) handleRequests() error {
	claimed, err := w.claimer.Claim(func(env bus.Envelope) bool {
		return env.Stage.Name == bus.StageRollRequest
	})
	if err != nil {
		return fmt.Errorf("roller: claim requests: %w", err)
	}

	for _, env := range claimed {
		if env.Meta.RolledByPlayer {
			if err := w.park(env); err != nil {
				return err
			}
			continue
		}
		if err := w.resolve(env, env.Meta.DiceExpression); err != nil {
			return err
		}
	}
	return nil
}

// park shelves a player roll as awaiting_roll_<N>, where N orders pending
// rolls first-come-first-served. Awaiting statuses sit outside the claim
// ladder, so the rewrite is direct.
func (w *Worker) park(env bus.Envelope) error {
	pending, err := w.pendingRolls()
	if err != nil {
		return err
	}
	env.Status = bus.AwaitingRoll(len(pending) + 1)
	if err := w.outbox.Update(env); err != nil {
		return fmt.Errorf("roller: park request %s: %w", env.ID, err)
	}
	w.logger.Info("player roll pending", "roll_id", env.Meta.RollID, "dice", env.Meta.DiceExpression)
	return nil
}

func (w *Worker) handleInputs() error {
	claimed, err := w.claimer.Claim(func(env bus.Envelope) bool {
		return env.Stage.Name == bus.StageRollInput
	})
	if err != nil {
		return fmt.Errorf("roller: claim inputs: %w", err)
	}

	for _, input := range claimed {
		req, ok, err := w.matchPending(input.Meta.RollID)
		if err != nil {
			return err
		}
		if !ok {
			w.logger.Warn("roll input without a pending request", "roll_id", input.Meta.RollID)
			if err := w.finish(input, bus.StatusError); err != nil {
				return err
			}
			continue
		}
		if err := w.resolvePending(req); err != nil {
			return err
		}
		if err := w.finish(input, bus.StatusDone); err != nil {
			return err
		}
	}
	return nil
}

// resolve rolls expr and terminates env with a roll_result_1 successor.
func (w *Worker) resolve(env bus.Envelope, expr string) error {
	res, err := w.roller.RollString(expr)
	if err != nil {
		w.logger.Warn("unrollable dice expression", "expression", expr, "envelope_id", env.ID, "error", err)
		return w.finish(env, bus.StatusError)
	}
	w.metrics.RecordDiceRoll(context.Background(), "auto")
	if err := w.emitResult(env, res); err != nil {
		return err
	}
	return w.finish(env, bus.StatusDone)
}

func (w *Worker) finish(env bus.Envelope, status bus.Status) error {
	if err := w.claimer.Finish(env, status); err != nil {
		return err
	}
	w.metrics.RecordEnvelope(context.Background(), "roller", string(status))
	return nil
}

// resolvePending rolls a parked player request matched by a roll input. The
// parked envelope is terminated directly since awaiting statuses are
// off-ladder.
func (w *Worker) resolvePending(req bus.Envelope) error {
	res, err := w.roller.RollString(req.Meta.DiceExpression)
	if err != nil {
		w.logger.Warn("unrollable pending roll", "roll_id", req.Meta.RollID, "error", err)
		req.Status = bus.StatusError
		return w.outbox.Update(req)
	}
	w.metrics.RecordDiceRoll(context.Background(), "player")
	if err := w.emitResult(req, res); err != nil {
		return err
	}
	req.Status = bus.StatusDone
	if err := w.outbox.Update(req); err != nil {
		return fmt.Errorf("roller: finish pending %s: %w", req.ID, err)
	}

	st, err := w.status.Read()
	if err != nil {
		return err
	}
	st.LastPlayerRoll = formatRoll(res)
	return w.status.Write(st)
}

// emitResult appends the roll_result_1 successor carrying faces and base.
func (w *Worker) emitResult(req bus.Envelope, res dice.Result) error {
	headID, logLen, err := w.log.Head()
	if err != nil {
		return err
	}
	out := w.factory.New(bus.Input{
		Sender:        bus.SenderRoller,
		Content:       formatRoll(res),
		Stage:         bus.Stage{Name: bus.StageRollResult, Iteration: 1},
		Slot:          req.Slot,
		CorrelationID: req.CorrelationID,
		ReplyTo:       req.ID,
		Status:        bus.StatusSent,
		Meta: bus.Meta{
			RollID:         req.Meta.RollID,
			DiceExpression: req.Meta.DiceExpression,
			RollFaces:      res.Rolls,
			RollBase:       res.Modifier,
			RollTotal:      res.Total,
		},
	}, headID, logLen)
	if err := w.log.AppendDeduped(out); err != nil {
		return err
	}
	if err := w.claimer.Emit(out); err != nil {
		return err
	}
	w.logger.Info("roll resolved", "roll_id", req.Meta.RollID, "expression", res.Expression, "total", res.Total)
	return nil
}

// refreshStatus publishes the oldest pending player roll, or a disabled
// roller when none is pending.
func (w *Worker) refreshStatus() error {
	pending, err := w.pendingRolls()
	if err != nil {
		return err
	}

	st, err := w.status.Read()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		if st.Disabled && st.RollID == "" {
			return nil
		}
		st.Disabled = true
		st.RollID = ""
		st.DiceLabel = ""
		return w.status.Write(st)
	}

	active := pending[len(pending)-1] // snapshots are newest-first; oldest last
	if !st.Disabled && st.RollID == active.Meta.RollID {
		return nil
	}
	st.Disabled = false
	st.RollID = active.Meta.RollID
	st.DiceLabel = active.Meta.DiceLabel
	if st.DiceLabel == "" {
		st.DiceLabel = active.Meta.DiceExpression
	}
	return w.status.Write(st)
}

// matchPending finds the parked player roll for rollID.
func (w *Worker) matchPending(rollID string) (bus.Envelope, bool, error) {
	if rollID == "" {
		return bus.Envelope{}, false, nil
	}
	pending, err := w.pendingRolls()
	if err != nil {
		return bus.Envelope{}, false, err
	}
	for _, env := range pending {
		if env.Meta.RollID == rollID {
			return env, true, nil
		}
	}
	return bus.Envelope{}, false, nil
}

// pendingRolls lists current-session envelopes parked in awaiting_roll_*.
func (w *Worker) pendingRolls() ([]bus.Envelope, error) {
	snapshot, err := w.outbox.Read()
	if err != nil {
		return nil, err
	}
	var pending []bus.Envelope
	for _, env := range snapshot {
		if env.Status.IsAwaitingRoll() && w.factory.IsCurrentSession(env) {
			pending = append(pending, env)
		}
	}
	return pending, nil
}

func formatRoll(res dice.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rolled %s:", res.Expression)
	for i, f := range res.Rolls {
		if i > 0 {
			b.WriteString(" +")
		}
		fmt.Fprintf(&b, " %d", f)
	}
	if res.Modifier != 0 {
		fmt.Fprintf(&b, " %+d", res.Modifier)
	}
	fmt.Fprintf(&b, " = %d", res.Total)
	return b.String()
}
