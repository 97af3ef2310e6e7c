package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ValidAIProviders lists known AI backend names. Used by [Validate] to warn
// about unrecognised provider names.
var ValidAIProviders = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq",
	"llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path, applies environment
// overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment overrides,
// and validates the result. Useful in tests where configs are constructed
// from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg fields from the process environment. Environment
// variables always win over YAML values.
//
//	DATA_SLOT                                → Data.Slot
//	DEBUG_LEVEL                              → Server.LogLevel (numeric ladder)
//	OLLAMA_HOST                              → AI.OllamaHost
//	RENDERER_MODEL                           → AI.RendererModel
//	NPC_AI_MODEL                             → AI.NPCModel
//	RENDERER_TIMEOUT_MS                      → AI.RendererTimeoutMS
//	INTERPRETER_TIMEOUT_MS                   → AI.InterpreterTimeoutMS
//	NPC_MEMORY_JOURNAL_CONSOLIDATE_THRESHOLD → NPC.MemoryJournal.ConsolidateThreshold
//	NPC_MEMORY_JOURNAL_CONSOLIDATE_TARGET    → NPC.MemoryJournal.ConsolidateTarget
func ApplyEnv(cfg *Config) {
	if v, ok := envInt("DATA_SLOT"); ok {
		cfg.Data.Slot = v
	}
	if v, ok := envInt("DEBUG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevelFromDebug(v)
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.AI.OllamaHost = v
	}
	if v := os.Getenv("RENDERER_MODEL"); v != "" {
		cfg.AI.RendererModel = v
	}
	if v := os.Getenv("NPC_AI_MODEL"); v != "" {
		cfg.AI.NPCModel = v
	}
	if v, ok := envInt("RENDERER_TIMEOUT_MS"); ok {
		cfg.AI.RendererTimeoutMS = v
	}
	if v, ok := envInt("INTERPRETER_TIMEOUT_MS"); ok {
		cfg.AI.InterpreterTimeoutMS = v
	}
	if v, ok := envInt("NPC_MEMORY_JOURNAL_CONSOLIDATE_THRESHOLD"); ok {
		cfg.NPC.MemoryJournal.ConsolidateThreshold = v
	}
	if v, ok := envInt("NPC_MEMORY_JOURNAL_CONSOLIDATE_TARGET"); ok {
		cfg.NPC.MemoryJournal.ConsolidateTarget = v
	}
}

// envInt parses an integer environment variable. Malformed values are logged
// and ignored.
func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed environment variable", "name", name, "value", v)
		return 0, false
	}
	return n, true
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Data.Slot < 0 {
		errs = append(errs, fmt.Errorf("data.slot %d is negative", cfg.Data.Slot))
	}

	if cfg.AI.Provider != "" && !slices.Contains(ValidAIProviders, cfg.AI.Provider) {
		slog.Warn("unknown AI provider name — may be a typo or third-party provider",
			"name", cfg.AI.Provider,
			"known", ValidAIProviders,
		)
	}
	if cfg.AI.RendererTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("ai.renderer_timeout_ms %d is negative", cfg.AI.RendererTimeoutMS))
	}
	if cfg.AI.InterpreterTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("ai.interpreter_timeout_ms %d is negative", cfg.AI.InterpreterTimeoutMS))
	}
	for i, fb := range cfg.AI.Fallbacks {
		if fb.Provider == "" {
			errs = append(errs, fmt.Errorf("ai.fallbacks[%d].provider is required", i))
		}
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("ai.fallbacks[%d].model is required", i))
		}
	}

	if cfg.NPC.TickRateMS < 0 {
		errs = append(errs, fmt.Errorf("npc.tick_rate_ms %d is negative", cfg.NPC.TickRateMS))
	}
	mj := cfg.NPC.MemoryJournal
	if mj.ConsolidateThreshold != 0 && mj.ConsolidateTarget >= mj.ConsolidateThreshold {
		errs = append(errs, fmt.Errorf("npc.memory_journal.consolidate_target %d must be below consolidate_threshold %d",
			mj.ConsolidateTarget, mj.ConsolidateThreshold))
	}

	if n := len(cfg.GameTime.MonthNames); n != 0 && n != 6 {
		errs = append(errs, fmt.Errorf("game_time.month_names has %d entries, want 6", n))
	}
	if n := len(cfg.GameTime.DayNames); n != 0 && n != 6 {
		errs = append(errs, fmt.Errorf("game_time.day_names has %d entries, want 6", n))
	}

	return errors.Join(errs...)
}
