package config_test

import (
	"testing"

	"github.com/aldenvane/skein/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogInfo
	cfg.AI.RendererModel = "qwen2.5:14b"
	cfg.AI.NPCModel = "qwen2.5:7b"
	cfg.AI.RendererTimeoutMS = 600000
	cfg.NPC.MemoryJournal = config.MemoryJournalConfig{ConsolidateThreshold: 60, ConsolidateTarget: 20}
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	if d := config.Diff(old, new); d.Changed() {
		t.Errorf("identical configs should not diff: %+v", d)
	}
}

func TestDiff_LogLevel(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Fatal("LogLevelChanged should be true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("NewLogLevel = %q, want debug", d.NewLogLevel)
	}
}

func TestDiff_Models(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.AI.RendererModel = "llama3.3:70b"
	new.AI.NPCModel = "llama3.1:8b"

	d := config.Diff(old, new)
	if !d.RendererModelChanged || !d.NPCModelChanged {
		t.Errorf("model changes not detected: %+v", d)
	}
	if d.TimeoutsChanged {
		t.Error("timeouts did not change")
	}
}

func TestDiff_TimeoutsAndJournal(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.AI.InterpreterTimeoutMS = 30000
	new.NPC.MemoryJournal.ConsolidateTarget = 15

	d := config.Diff(old, new)
	if !d.TimeoutsChanged {
		t.Error("TimeoutsChanged should be true")
	}
	if !d.MemoryJournalChanged {
		t.Error("MemoryJournalChanged should be true")
	}
	if !d.Changed() {
		t.Error("Changed() should be true")
	}
}
