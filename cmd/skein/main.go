// Command skein is the main entry point for the Skein simulation host.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aldenvane/skein/internal/app"
	"github.com/aldenvane/skein/internal/config"
	"github.com/aldenvane/skein/internal/observe"
	"github.com/aldenvane/skein/internal/resilience"
	"github.com/aldenvane/skein/pkg/provider/llm"
	"github.com/aldenvane/skein/pkg/provider/llm/anyllm"
	openaidirect "github.com/aldenvane/skein/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "skein: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "skein: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("skein starting",
		"version", version,
		"config", *configPath,
		"data_slot", cfg.Data.Slot,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
			ServiceVersion: version,
		})
		if err != nil {
			slog.Error("failed to initialise telemetry", "err", err)
			return 1
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(ctx); err != nil {
				slog.Warn("telemetry shutdown error", "err", err)
			}
		}()
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("simulation ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM factories into reg. Every
// hosted backend shares the any-llm pattern: optional API key plus optional
// base URL. The exceptions are ollama (local server, address only) and
// openai, which uses the official SDK directly.
func registerBuiltinProviders(reg *config.Registry) {
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
		"llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(cfg config.AIConfig, model string) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			return anyllm.New(providerName, model, opts...)
		})
	}

	// ollama is a local server; it uses an address, not an API key.
	reg.RegisterLLM("ollama", func(cfg config.AIConfig, model string) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if cfg.OllamaHost != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.OllamaHost))
		}
		return anyllm.NewOllama(model, opts...)
	})

	reg.RegisterLLM("openai", func(cfg config.AIConfig, model string) (llm.Provider, error) {
		return openaidirect.New(cfg.APIKey, model)
	})

	for _, name := range config.ValidAIProviders {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates the per-role LLMs named in cfg and returns them
// in an [app.Providers] struct. When fallbacks are configured, the renderer
// is wrapped in a circuit-breaking fallback chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	renderer, err := reg.CreateLLM(cfg.AI, cfg.AI.RendererModel)
	if err != nil {
		return nil, fmt.Errorf("create renderer provider %q: %w", cfg.AI.Provider, err)
	}
	slog.Info("provider created", "role", "renderer", "name", cfg.AI.Provider, "model", cfg.AI.RendererModel)

	if len(cfg.AI.Fallbacks) > 0 {
		chain := resilience.NewLLMFallback(renderer, cfg.AI.Provider, resilience.FallbackConfig{})
		for _, entry := range cfg.AI.Fallbacks {
			fb, err := newFallbackProvider(entry)
			if err != nil {
				return nil, fmt.Errorf("create fallback provider %q: %w", entry.Provider, err)
			}
			chain.AddFallback(entry.Provider, fb)
			slog.Info("fallback registered", "name", entry.Provider, "model", entry.Model)
		}
		ps.Renderer = chain
	} else {
		ps.Renderer = renderer
	}

	if cfg.AI.NPCModel != "" {
		npcProvider, err := reg.CreateLLM(cfg.AI, cfg.AI.NPCModel)
		if err != nil {
			return nil, fmt.Errorf("create npc provider %q: %w", cfg.AI.Provider, err)
		}
		ps.NPCMemory = npcProvider
		slog.Info("provider created", "role", "npc_memory", "name", cfg.AI.Provider, "model", cfg.AI.NPCModel)
	}

	return ps, nil
}

// newFallbackProvider builds one fallback chain member from its config entry.
func newFallbackProvider(entry config.FallbackEntry) (llm.Provider, error) {
	var opts []anyllmlib.Option
	if entry.APIKey != "" {
		opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
	}
	if entry.BaseURL != "" {
		opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
	}
	return anyllm.New(entry.Provider, entry.Model, opts...)
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Skein — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Data slot", fmt.Sprintf("%d", cfg.Data.Slot))
	printRow("AI backend", cfg.AI.Provider)
	printRow("Renderer", cfg.AI.RendererModel)
	printRow("NPC model", orDisabled(cfg.AI.NPCModel))
	printRow("Fallbacks", fmt.Sprintf("%d", len(cfg.AI.Fallbacks)))
	printRow("Metrics", orDisabled(cfg.Server.MetricsAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
