package action_test

import (
	"path/filepath"
	"testing"

	"github.com/aldenvane/skein/internal/action"
	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/tags"
)

type workerFixture struct {
	*fixture
	outbox  *bus.Queue
	log     *bus.Queue
	fence   *bus.Fence
	factory *bus.Factory
	worker  *action.Worker
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	f := newFixture(t)

	dir := t.TempDir()
	outbox := bus.NewQueue(filepath.Join(dir, "outbox.jsonc"))
	log := bus.NewQueue(filepath.Join(dir, "log.jsonc"))
	fence, err := bus.NewFence(dir)
	if err != nil {
		t.Fatalf("NewFence: %v", err)
	}
	t.Cleanup(fence.Stop)

	factory := bus.NewFactory(fence)
	claimer := bus.NewClaimer(outbox, fence)
	// Dry-run pipeline: effects ride the ruling, execution belongs to the
	// state applier.
	pipe := action.New(f.store, f.index, action.DefaultRegistry(), tags.DefaultRegistry(), nil, nil)
	w := action.NewWorker(outbox, log, claimer, factory, f.store, pipe, nil)

	return &workerFixture{fixture: f, outbox: outbox, log: log, fence: fence, factory: factory, worker: w}
}

// submit routes a user input envelope into the outbox the way main does.
func (wf *workerFixture) submit(t *testing.T, verb, content string, ext map[string]any) bus.Envelope {
	t.Helper()
	headID, logLen, err := wf.log.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	env := wf.factory.New(bus.Input{
		Sender:  bus.SenderUser,
		Content: content,
		Type:    bus.TypeUserInput,
		Stage:   bus.Stage{Name: bus.StageUserInput, Iteration: 1},
		Status:  bus.StatusSent,
		Meta:    bus.Meta{ActionVerb: verb, Ext: ext},
	}, headID, logLen)
	if err := wf.outbox.AppendDeduped(env); err != nil {
		t.Fatalf("AppendDeduped: %v", err)
	}
	return env
}

func TestUserInputProducesRuling(t *testing.T) {
	t.Parallel()

	wf := newWorkerFixture(t)
	src := wf.submit(t, "INSPECT", "I look at the bandit", map[string]any{
		"actor_ref":  "actor.p",
		"target_ref": "npc.bandit",
	})

	if err := wf.worker.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	msgs, err := wf.outbox.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var ruling *bus.Envelope
	for i := range msgs {
		if msgs[i].Stage.Name == bus.StageRuling {
			ruling = &msgs[i]
		}
		if msgs[i].ID == src.ID && msgs[i].Status != bus.StatusDone {
			t.Errorf("source status = %s, want done", msgs[i].Status)
		}
	}
	if ruling == nil {
		t.Fatal("no ruling envelope emitted")
	}
	if ruling.Sender != bus.SenderRulesLawyer {
		t.Errorf("ruling sender = %q", ruling.Sender)
	}
	if ruling.Status != bus.StatusPendingStateApply {
		t.Errorf("ruling status = %s, want pending_state_apply", ruling.Status)
	}
	if ruling.Meta.ActionVerb != "INSPECT" {
		t.Errorf("ruling verb = %q", ruling.Meta.ActionVerb)
	}
	if ruling.ReplyTo != src.ID {
		t.Errorf("ruling reply_to = %q, want %q", ruling.ReplyTo, src.ID)
	}
	if ruling.CorrelationID != src.CorrelationID {
		t.Errorf("correlation id not carried over")
	}
}

func TestMissingVerbTerminatesAsError(t *testing.T) {
	t.Parallel()

	wf := newWorkerFixture(t)
	src := wf.submit(t, "", "mumble", map[string]any{"actor_ref": "actor.p"})

	if err := wf.worker.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	msgs, _ := wf.outbox.Read()
	for _, m := range msgs {
		if m.ID == src.ID && m.Status != bus.StatusError {
			t.Errorf("source status = %s, want error", m.Status)
		}
		if m.Stage.Name == bus.StageRuling {
			t.Error("ruling emitted for uninterpretable input")
		}
	}
}

func TestRefusedActionStillRules(t *testing.T) {
	t.Parallel()

	wf := newWorkerFixture(t)
	// No such target in the yard.
	wf.submit(t, "ATTACK", "I strike the ghost", map[string]any{
		"actor_ref":  "actor.p",
		"target_ref": "npc.ghost",
	})

	if err := wf.worker.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	msgs, _ := wf.outbox.Read()
	found := false
	for _, m := range msgs {
		if m.Stage.Name == bus.StageRuling {
			found = true
			if len(m.Meta.Effects) != 0 {
				t.Errorf("refused ruling carries %d effects", len(m.Meta.Effects))
			}
		}
	}
	if !found {
		t.Fatal("refusal should still produce a ruling for narration")
	}
}

func TestSecondTickClaimsNothing(t *testing.T) {
	t.Parallel()

	wf := newWorkerFixture(t)
	wf.submit(t, "INSPECT", "I look around", map[string]any{"actor_ref": "actor.p"})

	if err := wf.worker.Tick(); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	before, _ := wf.outbox.Read()
	if err := wf.worker.Tick(); err != nil {
		t.Fatalf("Tick 2: %v", err)
	}
	after, _ := wf.outbox.Read()
	if len(after) != len(before) {
		t.Fatalf("second tick changed outbox: %d → %d entries", len(before), len(after))
	}
}
