// Package render implements the narration worker: it watches the outbox for
// applied_* envelopes that have not been narrated yet, asks the AI provider
// for prose, and publishes rendered_1 envelopes to the inbox.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aldenvane/skein/internal/aiio"
	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/observe"
	"github.com/aldenvane/skein/pkg/provider/llm"
)

// DefaultTimeout bounds one AI call.
const DefaultTimeout = 600 * time.Second

// Worker is the renderer. One instance per process; Tick is not reentrant.
type Worker struct {
	outbox  *bus.Queue
	inbox   *bus.Queue
	log     *bus.Queue
	factory *bus.Factory
	fence   *bus.Fence

	provider llm.Provider
	history  *History
	journal  *aiio.Journal
	metrics  *observe.Metrics
	logger   *slog.Logger

	// mu guards timeout, which config hot-reload may rewrite mid-run.
	mu      sync.Mutex
	timeout time.Duration
}

// Option configures a Worker.
type Option func(*Worker)

// WithTimeout overrides the per-call AI timeout.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithJournal attaches an AI I/O journal.
func WithJournal(j *aiio.Journal) Option {
	return func(w *Worker) {
		w.journal = j
	}
}

// WithMetrics overrides the metrics instance; tests only.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// New wires a renderer worker.
func New(outbox, inbox, log *bus.Queue, factory *bus.Factory, fence *bus.Fence, provider llm.Provider, logger *slog.Logger, opts ...Option) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		outbox:   outbox,
		inbox:    inbox,
		log:      log,
		factory:  factory,
		fence:    fence,
		provider: provider,
		history:  NewHistory(),
		timeout:  DefaultTimeout,
		logger:   logger.With("worker", "renderer"),
	}
	for _, o := range opts {
		o(w)
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// SetTimeout replaces the per-call AI timeout. Safe to call while the worker
// runs; the next narration picks it up.
func (w *Worker) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
}

// Timeout returns the per-call AI timeout currently in effect.
func (w *Worker) Timeout() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

// Tick claims unrendered applied_* envelopes and narrates each one.
func (w *Worker) Tick(ctx context.Context) error {
	claimed, err := w.claim()
	if err != nil {
		return err
	}
	for _, env := range claimed {
		if err := w.narrate(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// claim picks up applied_* envelopes whose narration is still missing.
// Unlike the shared claimer this accepts done envelopes too: the state
// applier terminates its output before narration happens, so the rendered
// flag in meta is the real fence. The processing rewrite is therefore
// direct rather than via the status ladder.
func (w *Worker) claim() ([]bus.Envelope, error) {
	snapshot, err := w.outbox.Read()
	if err != nil {
		return nil, err
	}

	var claimed []bus.Envelope
	for _, env := range snapshot {
		if env.Stage.Name != bus.StageApplied || env.Meta.Rendered {
			continue
		}
		if env.Status != bus.StatusSent && env.Status != bus.StatusDone {
			continue
		}
		if !w.factory.IsCurrentSession(env) {
			continue
		}
		env.Status = bus.StatusProcessing
		env.ClaimedAt = time.Now()
		if err := w.outbox.Update(env); err != nil {
			return claimed, fmt.Errorf("render: claim %s: %w", env.ID, err)
		}
		claimed = append(claimed, env)
	}
	return claimed, nil
}

// narrate runs one AI call for env and publishes the result. Provider errors
// do not retry: the fallback text ships and the source still terminates.
func (w *Worker) narrate(ctx context.Context, env bus.Envelope) error {
	prompt := buildPrompt(env)

	callCtx, cancel := context.WithTimeout(ctx, w.Timeout())
	defer cancel()

	started := time.Now()
	resp, err := w.provider.Complete(callCtx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     append(w.history.Messages(), llm.Message{Role: "user", Content: prompt}),
	})
	w.metrics.RecordAICall(ctx, "renderer", time.Since(started).Seconds(), err)

	narration := fallbackNarration
	var errText string
	if err != nil {
		errText = err.Error()
		w.logger.Warn("narration call failed", "envelope_id", env.ID, "error", err)
	} else if text := stripCodeFences(resp.Content); text != "" {
		narration = text
	}

	if w.journal != nil {
		if jerr := w.journal.Append(aiio.Record{
			SessionID:  env.Meta.SessionID,
			EnvelopeID: env.ID,
			Prompt:     prompt,
			Response:   narration,
			DurationMS: time.Since(started).Milliseconds(),
			Error:      errText,
		}); jerr != nil {
			w.logger.Warn("ai journal write failed", "error", jerr)
		}
	}

	if err := w.emitRendered(env, narration); err != nil {
		return err
	}

	w.history.Add("user", prompt)
	w.history.Add("assistant", narration)

	// Stamp the fence and terminate the source. The claim may have started
	// from done, so this is a direct rewrite like the claim itself.
	env.Meta.Rendered = true
	env.Status = bus.StatusDone
	if err := w.outbox.Update(env); err != nil {
		return fmt.Errorf("render: finish %s: %w", env.ID, err)
	}
	w.metrics.RecordEnvelope(ctx, "renderer", string(bus.StatusDone))

	w.logger.Info("narration emitted", "envelope_id", env.ID, "verb", env.Meta.ActionVerb, "chars", len(narration))
	return nil
}

// emitRendered publishes the rendered_1 successor to the inbox for the router.
func (w *Worker) emitRendered(src bus.Envelope, narration string) error {
	headID, logLen, err := w.log.Head()
	if err != nil {
		return err
	}
	out := w.factory.New(bus.Input{
		Sender:        bus.SenderRendererAI,
		Content:       narration,
		Stage:         bus.Stage{Name: bus.StageRendered, Iteration: 1},
		Slot:          src.Slot,
		CorrelationID: src.CorrelationID,
		ReplyTo:       src.ID,
		Status:        bus.StatusSent,
		Meta: bus.Meta{
			ActionVerb: src.Meta.ActionVerb,
		},
	}, headID, logLen)
	return w.inbox.AppendDeduped(out)
}
