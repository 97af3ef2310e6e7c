package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/config"
	"github.com/aldenvane/skein/pkg/provider/llm"
	llmmock "github.com/aldenvane/skein/pkg/provider/llm/mock"
)

// newWiredApp builds an App over an empty temp slot for white-box checks of
// the composition in New.
func newWiredApp(t *testing.T) *App {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogInfo},
		Data:   config.DataConfig{Root: t.TempDir(), Slot: 1},
	}
	a, err := New(context.Background(), cfg,
		&Providers{Renderer: &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

// ingestRendered routes one terminal rendered envelope through the router.
func ingestRendered(t *testing.T, a *App) {
	t.Helper()
	headID, logLen, err := a.logQ.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	env := a.factory.New(bus.Input{
		Sender:  bus.SenderRendererAI,
		Content: "The scene settles.",
		Stage:   bus.Stage{Name: bus.StageRendered, Iteration: 1},
		Status:  bus.StatusDone,
	}, headID, logLen)
	if err := a.router.Ingest(env); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
}

func TestLogRetentionCapEnforcedThroughIngest(t *testing.T) {
	t.Parallel()

	a := newWiredApp(t)
	for i := 0; i < bus.DefaultLogCap+20; i++ {
		ingestRendered(t, a)
	}

	msgs, err := a.logQ.Read()
	if err != nil {
		t.Fatalf("log read: %v", err)
	}
	if len(msgs) > bus.DefaultLogCap {
		t.Fatalf("log retained %d entries, cap is %d", len(msgs), bus.DefaultLogCap)
	}
}

func TestOutboxRetentionCapEnforcedThroughIngest(t *testing.T) {
	t.Parallel()

	a := newWiredApp(t)

	// Park a pile of terminated work items, then route one fresh input so
	// the router applies the outbox cap.
	for i := 0; i < bus.DefaultOutboxCap+20; i++ {
		headID, logLen, err := a.logQ.Head()
		if err != nil {
			t.Fatalf("Head: %v", err)
		}
		env := a.factory.New(bus.Input{
			Sender:  bus.SenderRoller,
			Content: "Rolled 1d4: 3 = 3",
			Stage:   bus.Stage{Name: bus.StageRollResult, Iteration: 1},
			Status:  bus.StatusDone,
		}, headID, logLen)
		if err := a.outbox.Append(env); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if _, err := a.Submit("I wait", bus.Meta{ActionVerb: "WAIT"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	out, err := a.outbox.Read()
	if err != nil {
		t.Fatalf("outbox read: %v", err)
	}
	if len(out) > bus.DefaultOutboxCap {
		t.Fatalf("outbox retained %d entries, cap is %d", len(out), bus.DefaultOutboxCap)
	}
}

func TestLogNoiseFilterActive(t *testing.T) {
	t.Parallel()

	a := newWiredApp(t)
	headID, logLen, err := a.logQ.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	env := a.factory.New(bus.Input{
		Sender:  "ui",
		Content: "npc.bandit at 3,1",
		Type:    bus.TypePositionBroadcast,
		Stage:   bus.Stage{Name: "broadcast", Iteration: 1},
		Status:  bus.StatusDone,
	}, headID, logLen)
	if err := a.router.Ingest(env); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	raw, err := a.logQ.Read()
	if err != nil {
		t.Fatalf("log read: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("raw log holds %d entries, want 1", len(raw))
	}

	filtered, err := a.logQ.ReadFiltered()
	if err != nil {
		t.Fatalf("ReadFiltered: %v", err)
	}
	for _, m := range filtered {
		if m.Type == bus.TypePositionBroadcast {
			t.Fatal("position broadcast survived the noise filter")
		}
	}
}

func TestApplyConfigHotReloadsLogLevel(t *testing.T) {
	t.Parallel()

	a := newWiredApp(t)
	if got := a.logLevel.Level(); got != slog.LevelInfo {
		t.Fatalf("initial level = %v, want info", got)
	}

	next := *a.cfg
	next.Server.LogLevel = config.LogDebug
	next.AI.RendererTimeoutMS = 5000
	a.ApplyConfig(a.cfg, &next)

	if got := a.logLevel.Level(); got != slog.LevelDebug {
		t.Fatalf("level after reload = %v, want debug", got)
	}
	if got := a.renderer.Timeout(); got != 5*time.Second {
		t.Fatalf("renderer timeout after reload = %v, want 5s", got)
	}

	// An identical config is a no-op.
	a.ApplyConfig(&next, &next)
	if got := a.logLevel.Level(); got != slog.LevelDebug {
		t.Fatalf("no-op reload changed level to %v", got)
	}
}
