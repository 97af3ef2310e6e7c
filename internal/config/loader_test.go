package config_test

import (
	"strings"
	"testing"

	"github.com/aldenvane/skein/internal/config"
)

func TestLoadFromReader_FullConfig(t *testing.T) {
	yaml := `
server:
  log_level: info
  metrics_addr: ":9090"
data:
  root: /srv/skein
  slot: 2
ai:
  provider: ollama
  ollama_host: "http://localhost:11434"
  renderer_model: qwen2.5:14b
  npc_model: qwen2.5:7b
  renderer_timeout_ms: 300000
npc:
  tick_rate_ms: 250
  memory_journal:
    consolidate_threshold: 60
    consolidate_target: 20
game_time:
  month_names: [Thaw, Bloom, High Sun, Harvest, Dimming, Deepfrost]
  day_names: [Firstday, Forgeday, Midweek, Walkday, Hearthday, Restday]
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Data.Slot != 2 {
		t.Errorf("data.slot = %d, want 2", cfg.Data.Slot)
	}
	if cfg.AI.RendererModel != "qwen2.5:14b" {
		t.Errorf("ai.renderer_model = %q", cfg.AI.RendererModel)
	}
	if got := cfg.AI.RendererTimeout().Seconds(); got != 300 {
		t.Errorf("renderer timeout = %vs, want 300s", got)
	}
	if cfg.NPC.MemoryJournal.ConsolidateThreshold != 60 {
		t.Errorf("consolidate_threshold = %d, want 60", cfg.NPC.MemoryJournal.ConsolidateThreshold)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	yaml := `
server:
  log_level: info
  listen_port: 8080
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_JournalTargetBelowThreshold(t *testing.T) {
	yaml := `
npc:
  memory_journal:
    consolidate_threshold: 20
    consolidate_target: 30
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for target above threshold, got nil")
	}
	if !strings.Contains(err.Error(), "consolidate_target") {
		t.Errorf("error should mention consolidate_target, got: %v", err)
	}
}

func TestValidate_CalendarNameCounts(t *testing.T) {
	yaml := `
game_time:
  month_names: [One, Two, Three]
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for short month list, got nil")
	}
	if !strings.Contains(err.Error(), "month_names") {
		t.Errorf("error should mention month_names, got: %v", err)
	}
}

func TestValidate_FallbackNeedsProviderAndModel(t *testing.T) {
	yaml := `
ai:
  provider: ollama
  fallbacks:
    - base_url: "http://backup:11434"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for incomplete fallback entry, got nil")
	}
}

func TestApplyEnv_Overrides(t *testing.T) {
	t.Setenv("DATA_SLOT", "3")
	t.Setenv("DEBUG_LEVEL", "2")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")
	t.Setenv("RENDERER_MODEL", "llama3.3:70b")
	t.Setenv("NPC_AI_MODEL", "llama3.1:8b")
	t.Setenv("RENDERER_TIMEOUT_MS", "90000")
	t.Setenv("INTERPRETER_TIMEOUT_MS", "45000")
	t.Setenv("NPC_MEMORY_JOURNAL_CONSOLIDATE_THRESHOLD", "40")
	t.Setenv("NPC_MEMORY_JOURNAL_CONSOLIDATE_TARGET", "10")

	yaml := `
server:
  log_level: error
data:
  slot: 1
ai:
  provider: ollama
  renderer_model: qwen2.5:14b
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Data.Slot != 3 {
		t.Errorf("data.slot = %d, want 3 (env)", cfg.Data.Slot)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info (DEBUG_LEVEL=2)", cfg.Server.LogLevel)
	}
	if cfg.AI.OllamaHost != "http://gpu-box:11434" {
		t.Errorf("ollama_host = %q", cfg.AI.OllamaHost)
	}
	if cfg.AI.RendererModel != "llama3.3:70b" {
		t.Errorf("renderer_model = %q, want env override", cfg.AI.RendererModel)
	}
	if cfg.AI.NPCModel != "llama3.1:8b" {
		t.Errorf("npc_model = %q", cfg.AI.NPCModel)
	}
	if got := cfg.AI.RendererTimeout().Milliseconds(); got != 90000 {
		t.Errorf("renderer timeout = %dms, want 90000", got)
	}
	if got := cfg.AI.InterpreterTimeout().Milliseconds(); got != 45000 {
		t.Errorf("interpreter timeout = %dms, want 45000", got)
	}
	if cfg.NPC.MemoryJournal.ConsolidateThreshold != 40 || cfg.NPC.MemoryJournal.ConsolidateTarget != 10 {
		t.Errorf("memory journal = %+v, want 40/10", cfg.NPC.MemoryJournal)
	}
}

func TestApplyEnv_MalformedIntegerIgnored(t *testing.T) {
	t.Setenv("DATA_SLOT", "two")

	cfg := &config.Config{}
	cfg.Data.Slot = 1
	config.ApplyEnv(cfg)
	if cfg.Data.Slot != 1 {
		t.Errorf("data.slot = %d, want 1 (malformed env ignored)", cfg.Data.Slot)
	}
}

func TestLogLevelFromDebug(t *testing.T) {
	t.Parallel()
	cases := []struct {
		n    int
		want config.LogLevel
	}{
		{0, config.LogError},
		{1, config.LogWarn},
		{2, config.LogInfo},
		{3, config.LogDebug},
		{7, config.LogDebug},
		{-1, config.LogError},
	}
	for _, tc := range cases {
		if got := config.LogLevelFromDebug(tc.n); got != tc.want {
			t.Errorf("LogLevelFromDebug(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}
