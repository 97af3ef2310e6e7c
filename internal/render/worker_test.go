package render_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/render"
	"github.com/aldenvane/skein/pkg/provider/llm"
	"github.com/aldenvane/skein/pkg/provider/llm/mock"
)

type fixture struct {
	outbox   *bus.Queue
	inbox    *bus.Queue
	log      *bus.Queue
	fence    *bus.Fence
	provider *mock.Provider
	worker   *render.Worker
}

func newFixture(t *testing.T, provider *mock.Provider) *fixture {
	t.Helper()
	dir := t.TempDir()
	outbox := bus.NewQueue(filepath.Join(dir, "outbox.jsonc"))
	inbox := bus.NewQueue(filepath.Join(dir, "inbox.jsonc"))
	logQ := bus.NewQueue(filepath.Join(dir, "log.jsonc"))
	fence, err := bus.NewFence(dir)
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	t.Cleanup(fence.Stop)
	factory := bus.NewFactory(fence)
	w := render.New(outbox, inbox, logQ, factory, fence, provider, nil)
	return &fixture{outbox: outbox, inbox: inbox, log: logQ, fence: fence, provider: provider, worker: w}
}

func (f *fixture) applied(t *testing.T, id, verb string, status bus.Status) bus.Envelope {
	t.Helper()
	env := bus.Envelope{
		ID:      id,
		Sender:  bus.SenderStateApplier,
		Content: "INSPECT succeeded against item.chest_1",
		Stage:   bus.Stage{Name: bus.StageApplied, Iteration: 1},
		Status:  status,
		Meta: bus.Meta{
			SessionID:  f.fence.SessionID(),
			ActionVerb: verb,
			Effects: []string{
				`item.chest_1.APPLY_TAG(tag=opened)`,
				`actor.p.ADJUST_RESOURCE(resource=focus, delta=-1)`,
			},
			Events: []string{
				"item.chest_1 gained tag opened",
				"actor.p focus 3 -> 2",
			},
		},
	}
	if err := f.outbox.Append(env); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return env
}

func TestAppliedEnvelopeIsNarratedOnce(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "You pry the chest open; dust swirls in the lamplight."},
	}
	f := newFixture(t, provider)
	f.applied(t, "ap1", "INSPECT", bus.StatusSent)

	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	inbox, err := f.inbox.Read()
	if err != nil {
		t.Fatalf("Read inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected one rendered envelope, got %d", len(inbox))
	}
	out := inbox[0]
	if out.Sender != bus.SenderRendererAI || out.Stage.Name != bus.StageRendered || out.Stage.Iteration != 1 {
		t.Fatalf("rendered envelope: %+v", out)
	}
	if out.Status != bus.StatusSent || out.ReplyTo != "ap1" {
		t.Fatalf("rendered envelope status/reply: %+v", out)
	}
	if !strings.Contains(out.Content, "pry the chest open") {
		t.Fatalf("unexpected narration: %q", out.Content)
	}

	srcs, err := f.outbox.Read()
	if err != nil {
		t.Fatalf("Read outbox: %v", err)
	}
	if len(srcs) != 1 || srcs[0].Status != bus.StatusDone || !srcs[0].Meta.Rendered {
		t.Fatalf("source not fenced: %+v", srcs)
	}

	// Second tick must not narrate again.
	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	inbox, err = f.inbox.Read()
	if err != nil {
		t.Fatalf("Read inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("duplicate narration: %d envelopes", len(inbox))
	}
	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(provider.CompleteCalls))
	}
}

func TestDoneButUnrenderedEnvelopeIsClaimed(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "The blow lands hard."},
	}
	f := newFixture(t, provider)
	f.applied(t, "ap1", "ATTACK", bus.StatusDone)

	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	inbox, err := f.inbox.Read()
	if err != nil {
		t.Fatalf("Read inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("expected one rendered envelope, got %d", len(inbox))
	}
}

func TestPromptCarriesVerbAndEvents(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "ok"},
	}
	f := newFixture(t, provider)
	f.applied(t, "ap1", "INSPECT", bus.StatusSent)

	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected one provider call, got %d", len(provider.CompleteCalls))
	}
	req := provider.CompleteCalls[0].Req
	if req.SystemPrompt == "" {
		t.Fatal("expected a system prompt")
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	if !strings.Contains(prompt, "examines something closely") {
		t.Errorf("missing INSPECT framing: %q", prompt)
	}
	if !strings.Contains(prompt, "item.chest_1 gained tag opened") {
		t.Errorf("missing event line: %q", prompt)
	}
	if !strings.Contains(prompt, "APPLY_TAG(tag=opened)") {
		t.Errorf("missing effect line: %q", prompt)
	}
}

func TestProviderErrorStillTerminatesSource(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{CompleteErr: errors.New("model offline")}
	f := newFixture(t, provider)
	f.applied(t, "ap1", "MOVE", bus.StatusSent)

	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	inbox, err := f.inbox.Read()
	if err != nil {
		t.Fatalf("Read inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Content != "Narration unavailable." {
		t.Fatalf("expected fallback narration, got %+v", inbox)
	}
	srcs, err := f.outbox.Read()
	if err != nil {
		t.Fatalf("Read outbox: %v", err)
	}
	if srcs[0].Status != bus.StatusDone || !srcs[0].Meta.Rendered {
		t.Fatalf("source not terminated after provider error: %+v", srcs[0])
	}

	// No retry on the next tick.
	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("second Tick: %v", err)
	}
	if len(provider.CompleteCalls) != 1 {
		t.Fatalf("expected no retry, got %d calls", len(provider.CompleteCalls))
	}
}

func TestCodeFencesAreStripped(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "```text\nYou slip through the archway.\n```"},
	}
	f := newFixture(t, provider)
	f.applied(t, "ap1", "MOVE", bus.StatusSent)

	if err := f.worker.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	inbox, err := f.inbox.Read()
	if err != nil {
		t.Fatalf("Read inbox: %v", err)
	}
	if inbox[0].Content != "You slip through the archway." {
		t.Fatalf("fences not stripped: %q", inbox[0].Content)
	}
}
