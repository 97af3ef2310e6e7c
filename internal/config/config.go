// Package config provides the configuration schema, loader, environment
// overrides, and provider registry for the Skein simulation server.
package config

import "time"

// LogLevel controls log verbosity for the Skein server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogLevelFromDebug maps the numeric DEBUG_LEVEL convention to a [LogLevel]:
// 0→error, 1→warn, 2→info, 3 and above→debug.
func LogLevelFromDebug(n int) LogLevel {
	switch {
	case n <= 0:
		return LogError
	case n == 1:
		return LogWarn
	case n == 2:
		return LogInfo
	default:
		return LogDebug
	}
}

// Config is the root configuration structure for Skein.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader],
// then overridden from the environment with [ApplyEnv].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	AI       AIConfig       `yaml:"ai"`
	NPC      NPCConfig      `yaml:"npc"`
	GameTime GameTimeConfig `yaml:"game_time"`
}

// ServerConfig holds logging and metrics settings for the Skein server.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DataConfig locates the file-backed game state on disk.
type DataConfig struct {
	// Root is the directory holding local_data/. Default: current directory.
	Root string `yaml:"root"`

	// Slot selects the save slot: state lives under
	// <root>/local_data/data_slot_<slot>/. Default: 1.
	Slot int `yaml:"slot"`
}

// AIConfig selects the LLM backends and their budgets.
type AIConfig struct {
	// Provider selects the backend family (e.g., "ollama", "openai",
	// "anthropic"). Default: "ollama".
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for hosted providers, if any.
	APIKey string `yaml:"api_key"`

	// OllamaHost overrides the Ollama endpoint when Provider is "ollama".
	OllamaHost string `yaml:"ollama_host"`

	// RendererModel is the model used by the narration renderer.
	RendererModel string `yaml:"renderer_model"`

	// NPCModel is the model used for NPC decision calls.
	NPCModel string `yaml:"npc_model"`

	// RendererTimeoutMS bounds a single renderer AI call. Default: 600000.
	RendererTimeoutMS int `yaml:"renderer_timeout_ms"`

	// InterpreterTimeoutMS bounds a single interpreter AI call. Default: 120000.
	InterpreterTimeoutMS int `yaml:"interpreter_timeout_ms"`

	// Fallbacks lists additional backends tried in order when the primary
	// fails or its circuit breaker is open.
	Fallbacks []FallbackEntry `yaml:"fallbacks"`
}

// FallbackEntry names one fallback AI backend.
type FallbackEntry struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// RendererTimeout returns the renderer AI budget as a duration.
func (a AIConfig) RendererTimeout() time.Duration {
	if a.RendererTimeoutMS <= 0 {
		return 600 * time.Second
	}
	return time.Duration(a.RendererTimeoutMS) * time.Millisecond
}

// InterpreterTimeout returns the interpreter AI budget as a duration.
func (a AIConfig) InterpreterTimeout() time.Duration {
	if a.InterpreterTimeoutMS <= 0 {
		return 120 * time.Second
	}
	return time.Duration(a.InterpreterTimeoutMS) * time.Millisecond
}

// NPCConfig tunes the movement controller and the NPC memory journal.
type NPCConfig struct {
	// TickRateMS is the movement controller cadence. Default: 250.
	TickRateMS int `yaml:"tick_rate_ms"`

	// MaxReassessPerTick caps goal reassessments per tick. Default: 5.
	MaxReassessPerTick int `yaml:"max_reassess_per_tick"`

	// MemoryJournal configures per-NPC memory journal consolidation.
	MemoryJournal MemoryJournalConfig `yaml:"memory_journal"`
}

// MemoryJournalConfig controls when an NPC's memory journal is consolidated
// by the AI into a shorter summary.
type MemoryJournalConfig struct {
	// ConsolidateThreshold is the entry count that triggers consolidation.
	// Default: 60.
	ConsolidateThreshold int `yaml:"consolidate_threshold"`

	// ConsolidateTarget is the entry count to shrink to. Default: 20.
	ConsolidateTarget int `yaml:"consolidate_target"`
}

// GameTimeConfig names the in-world calendar.
type GameTimeConfig struct {
	// MonthNames must have exactly six entries when set.
	MonthNames []string `yaml:"month_names"`

	// DayNames must have exactly six entries when set.
	DayNames []string `yaml:"day_names"`
}
