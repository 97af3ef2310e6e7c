package bus

import (
	"log/slog"
	"time"
)

// Claimer implements the idempotent at-most-once claim protocol over an
// outbox snapshot: filter by predicate and session, flip sent → processing,
// persist, work, terminate. A crash between claim and termination leaves a
// processing entry behind; [Claimer.Reclaim] promotes such entries back to
// sent once they age past a worker-specific threshold.
type Claimer struct {
	outbox *Queue
	fence  *Fence
	now    func() time.Time
}

// NewClaimer builds a claimer over outbox, fenced by fence.
func NewClaimer(outbox *Queue, fence *Fence) *Claimer {
	return &Claimer{outbox: outbox, fence: fence, now: time.Now}
}

// Claim snapshots the outbox and claims every envelope accepted by pred,
// in snapshot order. Claimed copies (status processing, persisted) are
// returned. Envelopes already processing or terminal are skipped, as are
// envelopes from other sessions.
func (c *Claimer) Claim(pred func(Envelope) bool) ([]Envelope, error) {
	snapshot, err := c.outbox.Read()
	if err != nil {
		return nil, err
	}

	var claimed []Envelope
	for _, env := range snapshot {
		if !c.fence.IsCurrent(env) {
			continue
		}
		if env.Status == StatusProcessing || env.Status.IsTerminal() {
			continue
		}
		if !pred(env) {
			continue
		}
		next, ok := TrySetStatus(env, StatusProcessing)
		if !ok {
			// Not on the ladder from its current status; move on.
			continue
		}
		next.ClaimedAt = c.now()
		if err := c.outbox.Update(next); err != nil {
			return claimed, err
		}
		claimed = append(claimed, next)
	}
	return claimed, nil
}

// Finish terminates a claimed envelope with status (done or error) and
// persists it.
func (c *Claimer) Finish(env Envelope, status Status) error {
	next, ok := TrySetStatus(env, status)
	if !ok {
		slog.Warn("claim finish skipped: illegal transition",
			"envelope_id", env.ID, "from", env.Status, "to", status)
		return nil
	}
	return c.outbox.Update(next)
}

// Emit appends a successor envelope to the outbox, deduped.
func (c *Claimer) Emit(env Envelope) error {
	return c.outbox.AppendDeduped(env)
}

// Reclaim is the recovery sweep: processing entries from the current session
// older than maxAge are demoted back to sent so the next tick can re-claim
// them. Processing → sent is not on the public ladder; the sweep rewrites
// status directly, which is safe because effect application is idempotent per
// envelope (the rendered/applied fences in meta stop duplicate side effects).
func (c *Claimer) Reclaim(maxAge time.Duration) (int, error) {
	return c.ReclaimWhere(maxAge, nil)
}

// ReclaimWhere is [Claimer.Reclaim] restricted to envelopes accepted by pred.
// Workers with long legal claim times (the renderer's AI budget) get their
// own, larger maxAge this way. A nil pred accepts everything.
func (c *Claimer) ReclaimWhere(maxAge time.Duration, pred func(Envelope) bool) (int, error) {
	snapshot, err := c.outbox.Read()
	if err != nil {
		return 0, err
	}

	recovered := 0
	cutoff := c.now().Add(-maxAge)
	for _, env := range snapshot {
		if env.Status != StatusProcessing || !c.fence.IsCurrent(env) {
			continue
		}
		if pred != nil && !pred(env) {
			continue
		}
		claimedAt := env.ClaimedAt
		if claimedAt.IsZero() {
			claimedAt = env.CreatedAt
		}
		if claimedAt.After(cutoff) {
			continue
		}
		env.Status = StatusSent
		if err := c.outbox.Update(env); err != nil {
			return recovered, err
		}
		recovered++
		slog.Warn("reclaimed stuck envelope", "envelope_id", env.ID, "age", c.now().Sub(claimedAt))
	}
	return recovered, nil
}
