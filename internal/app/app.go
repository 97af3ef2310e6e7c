// Package app wires all Skein subsystems into a running simulation host.
//
// The App struct owns the full lifecycle: New creates the file-backed bus,
// the world store, and every worker for one data slot; Run drives the worker
// loops until the context is cancelled; Shutdown tears everything down in
// order.
//
// For testing, inject doubles via functional options (WithLogger,
// WithNPCSink, WithDiceSeed). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/aldenvane/skein/internal/action"
	"github.com/aldenvane/skein/internal/aiio"
	"github.com/aldenvane/skein/internal/bus"
	"github.com/aldenvane/skein/internal/config"
	"github.com/aldenvane/skein/internal/convo"
	"github.com/aldenvane/skein/internal/dice"
	"github.com/aldenvane/skein/internal/effect"
	"github.com/aldenvane/skein/internal/health"
	"github.com/aldenvane/skein/internal/npc"
	"github.com/aldenvane/skein/internal/npcmem"
	"github.com/aldenvane/skein/internal/observe"
	"github.com/aldenvane/skein/internal/refs"
	"github.com/aldenvane/skein/internal/render"
	"github.com/aldenvane/skein/internal/roller"
	"github.com/aldenvane/skein/internal/tags"
	"github.com/aldenvane/skein/internal/turn"
	"github.com/aldenvane/skein/internal/world"
	"github.com/aldenvane/skein/pkg/provider/llm"
)

// Worker cadences and sweep thresholds. The renderer gets a larger reclaim
// age because a single narration call may legally run for minutes.
const (
	workerTickInterval   = 500 * time.Millisecond
	rendererTickInterval = time.Second
	reclaimSweepInterval = time.Minute
	reclaimMaxAge        = 5 * time.Minute
	rendererReclaimAge   = 12 * time.Minute
	memorySweepInterval  = 5 * time.Minute
)

// Providers holds one LLM per AI role. Nil means the role is not configured;
// the renderer role is mandatory, NPC memory consolidation is optional.
// Populated by main.go via the config registry.
type Providers struct {
	Renderer  llm.Provider
	NPCMemory llm.Provider
}

// App owns all subsystem lifetimes for one data slot.
type App struct {
	cfg       *config.Config
	providers *Providers
	logger    *slog.Logger

	// logLevel is the live handler level; config hot-reload rewrites it.
	logLevel *slog.LevelVar

	slotDir string

	// Bus.
	logQ    *bus.Queue
	inbox   *bus.Queue
	outbox  *bus.Queue
	fence   *bus.Fence
	factory *bus.Factory
	claimer *bus.Claimer
	router  *bus.Router

	// World.
	store    *world.Store
	index    *world.PlaceIndex
	clock    *world.Clock
	presence *convo.PresenceStore
	archive  *convo.Archive
	turns    *turn.Machine

	// Workers.
	interpreter  *action.Worker
	applier      *effect.Worker
	roller       *roller.Worker
	renderer     *render.Worker
	npcs         *npc.Controller
	consolidator *npcmem.Consolidator

	metrics *observe.Metrics

	// Test injection points.
	npcSink  npc.Sink
	diceSeed uint64

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithLogger injects a logger instead of opening a session log file.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithNPCSink injects a command sink instead of the slot's command file.
func WithNPCSink(s npc.Sink) Option {
	return func(a *App) { a.npcSink = s }
}

// WithDiceSeed makes every roll in this process deterministic.
func WithDiceSeed(seed uint64) Option {
	return func(a *App) { a.diceSeed = seed }
}

// New creates an App by wiring all subsystems over the configured data slot.
// The providers struct comes from main.go (populated via the config
// registry).
//
// New performs all initialisation synchronously: slot directory layout, bus
// queues and session fence, world store and clock, and worker construction.
// Nothing ticks until Run.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
		logLevel:  new(slog.LevelVar),
	}
	a.logLevel.Set(slogLevel(cfg.Server.LogLevel))
	for _, o := range opts {
		o(a)
	}

	a.slotDir = SlotDir(cfg.Data.Root, cfg.Data.Slot)
	if err := os.MkdirAll(a.slotDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create slot dir: %w", err)
	}

	if a.logger == nil {
		logger, f, err := OpenSessionLog(a.slotDir, a.logLevel)
		if err != nil {
			return nil, err
		}
		a.logger = logger
		a.closers = append(a.closers, f.Close)
	}

	if err := a.initBus(); err != nil {
		return nil, fmt.Errorf("app: init bus: %w", err)
	}
	if err := a.initWorld(); err != nil {
		return nil, fmt.Errorf("app: init world: %w", err)
	}
	if err := a.initWorkers(ctx); err != nil {
		return nil, fmt.Errorf("app: init workers: %w", err)
	}

	a.metrics = observe.DefaultMetrics()
	a.registerGauges()
	return a, nil
}

// registerGauges wires the observable gauges to their live data sources:
// queue depths, walking NPCs, and parked player rolls. Registrations are
// released during Shutdown.
func (a *App) registerGauges() {
	liveDepth := func(q *bus.Queue) func() (int64, error) {
		return func() (int64, error) {
			msgs, err := q.Read()
			if err != nil {
				return 0, err
			}
			var n int64
			for _, m := range msgs {
				if !m.Status.IsTerminal() {
					n++
				}
			}
			return n, nil
		}
	}
	for name, q := range map[string]*bus.Queue{"log": a.logQ, "inbox": a.inbox, "outbox": a.outbox} {
		reg, err := a.metrics.RegisterQueueDepth(name, liveDepth(q))
		if err != nil {
			continue
		}
		a.closers = append(a.closers, reg.Unregister)
	}
	if reg, err := a.metrics.RegisterMovingNPCs(func() int64 { return a.npcs.MovingCount() }); err == nil {
		a.closers = append(a.closers, reg.Unregister)
	}
	if reg, err := a.metrics.RegisterPendingRolls(a.roller.PendingCount); err == nil {
		a.closers = append(a.closers, reg.Unregister)
	}
}

// ApplyConfig applies the hot-reloadable parts of a config change: log
// level, AI timeouts, and memory-journal limits. Model or provider changes
// need a restart and are only reported. Matches the config watcher's
// onChange signature.
func (a *App) ApplyConfig(old, next *config.Config) {
	d := config.Diff(old, next)
	if !d.Changed() {
		return
	}

	if d.LogLevelChanged {
		a.logLevel.Set(slogLevel(d.NewLogLevel))
		a.logger.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TimeoutsChanged {
		a.renderer.SetTimeout(next.AI.RendererTimeout())
		a.logger.Info("ai timeouts changed", "renderer_timeout", next.AI.RendererTimeout())
	}
	if d.MemoryJournalChanged && a.consolidator != nil {
		a.consolidator.SetLimits(
			next.NPC.MemoryJournal.ConsolidateThreshold,
			next.NPC.MemoryJournal.ConsolidateTarget,
		)
		a.logger.Info("memory journal limits changed",
			"threshold", next.NPC.MemoryJournal.ConsolidateThreshold,
			"target", next.NPC.MemoryJournal.ConsolidateTarget,
		)
	}
	if d.RendererModelChanged || d.NPCModelChanged {
		a.logger.Warn("model change in config requires a restart to take effect")
	}
}

// SlotDir resolves the on-disk directory for one data slot.
func SlotDir(root string, slot int) string {
	return filepath.Join(root, "local_data", fmt.Sprintf("data_slot_%d", slot))
}

// initBus creates the three queues and the session fence. Retention caps are
// set here so the router's prune-on-ingest actually bounds the files: the log
// keeps a journal, the outbox only a small ring of recent work items.
func (a *App) initBus() error {
	a.logQ = bus.NewQueue(filepath.Join(a.slotDir, "log.jsonc"),
		bus.WithCap(bus.DefaultLogCap),
		bus.WithNoiseTypes(bus.TypePositionBroadcast),
	)
	a.inbox = bus.NewQueue(filepath.Join(a.slotDir, "inbox.jsonc"),
		bus.WithCap(bus.DefaultInboxCap),
	)
	a.outbox = bus.NewQueue(filepath.Join(a.slotDir, "outbox.jsonc"),
		bus.WithCap(bus.DefaultOutboxCap),
	)

	fence, err := bus.NewFence(a.slotDir)
	if err != nil {
		return err
	}
	a.fence = fence
	a.closers = append(a.closers, func() error {
		fence.Stop()
		return nil
	})

	a.factory = bus.NewFactory(fence)
	a.claimer = bus.NewClaimer(a.outbox, fence)
	a.router = bus.NewRouter(a.logQ, a.outbox)
	return nil
}

// initWorld creates the entity store, place index, calendar, and presence
// tracking over the slot directory.
func (a *App) initWorld() error {
	a.store = world.NewStore(a.slotDir)
	a.index = world.NewPlaceIndex(a.store)
	if err := a.index.Rebuild(); err != nil {
		return fmt.Errorf("rebuild place index: %w", err)
	}
	a.clock = world.NewClock(a.slotDir)
	if len(a.cfg.GameTime.MonthNames) > 0 {
		a.clock.SetNames(a.cfg.GameTime.MonthNames, a.cfg.GameTime.DayNames)
	}
	a.presence = convo.NewPresenceStore(a.slotDir)
	a.archive = convo.NewArchive(a.slotDir)
	a.turns = turn.NewMachine()
	return nil
}

// Turns exposes the encounter state machine to the embedding UI.
func (a *App) Turns() *turn.Machine { return a.turns }

// BeginConversation suspends npcRef's movement while it talks to targetRef.
func (a *App) BeginConversation(npcRef, targetRef string, ttl time.Duration) error {
	return a.presence.Set(npcRef, targetRef, ttl)
}

// EndConversation clears the presence and archives the closed exchange.
func (a *App) EndConversation(c convo.Conversation) error {
	if err := a.presence.Clear(c.NPCRef); err != nil {
		return err
	}
	return a.archive.Save(c)
}

// initWorkers constructs the interpreter, state applier, roller, renderer,
// NPC controller, and the optional memory consolidator.
func (a *App) initWorkers(_ context.Context) error {
	seed := a.diceSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	roll := dice.NewSeeded(seed)
	resolver := refs.NewResolver(a.store)

	// Interpreter: dry-run pipeline, effects ride the ruling.
	pipe := action.New(a.store, a.index, action.DefaultRegistry(), tags.DefaultRegistry(), nil, a.logger)
	a.interpreter = action.NewWorker(a.outbox, a.logQ, a.claimer, a.factory, a.store, pipe, a.logger)

	// State applier: the only writer of world state.
	applier := effect.NewApplier(a.store, a.index, a.clock, resolver, roll, a.logger)
	a.applier = effect.NewWorker(a.outbox, a.logQ, a.fence, a.factory, applier, a.logger)

	// Roller: resolves roll requests against the status file.
	status := roller.NewStatusFile(a.slotDir)
	a.roller = roller.New(a.outbox, a.logQ, a.claimer, a.factory, status, roll, a.logger)

	// Renderer: narrates applied envelopes into the inbox.
	if a.providers.Renderer == nil {
		return errors.New("renderer provider is required")
	}
	journal := aiio.NewJournal(a.slotDir, "renderer")
	a.renderer = render.New(a.outbox, a.inbox, a.logQ, a.factory, a.fence, a.providers.Renderer, a.logger,
		render.WithTimeout(a.cfg.AI.RendererTimeout()),
		render.WithJournal(journal),
	)

	// NPC movement controller.
	if a.npcSink == nil {
		a.npcSink = newFileSink(filepath.Join(a.slotDir, "npc_commands.jsonc"))
	}
	var npcOpts []npc.Option
	if a.cfg.NPC.TickRateMS > 0 {
		npcOpts = append(npcOpts, npc.WithTickRate(time.Duration(a.cfg.NPC.TickRateMS)*time.Millisecond))
	}
	if a.cfg.NPC.MaxReassessPerTick > 0 {
		npcOpts = append(npcOpts, npc.WithMaxPerTick(a.cfg.NPC.MaxReassessPerTick))
	}
	if a.diceSeed != 0 {
		npcOpts = append(npcOpts, npc.WithSeed(a.diceSeed))
	}
	a.npcs = npc.NewController(a.store, a.index, a.presence, a.npcSink, a.logger, npcOpts...)

	// NPC memory consolidation, only with a configured model.
	if a.providers.NPCMemory != nil {
		threshold := a.cfg.NPC.MemoryJournal.ConsolidateThreshold
		target := a.cfg.NPC.MemoryJournal.ConsolidateTarget
		a.consolidator = npcmem.NewConsolidator(
			npcmem.NewLLMSummariser(a.providers.NPCMemory), threshold, target, a.logger)
	}

	return nil
}

// Submit ingests one player utterance: an envelope is built against the
// current log head and routed, which lands it in the log and, as sent, in
// the outbox for the interpreter.
func (a *App) Submit(content string, meta bus.Meta) (bus.Envelope, error) {
	headID, logLen, err := a.logQ.Head()
	if err != nil {
		return bus.Envelope{}, err
	}
	env := a.factory.New(bus.Input{
		Sender:  bus.SenderUser,
		Content: content,
		Type:    bus.TypeUserInput,
		Stage:   bus.Stage{Name: bus.StageUserInput, Iteration: 1},
		Status:  bus.StatusQueued,
		Meta:    meta,
	}, headID, logLen)
	if err := a.router.Ingest(env); err != nil {
		return bus.Envelope{}, err
	}
	return env, nil
}

// Run starts the worker loops and blocks until ctx is cancelled or a worker
// fails hard. A single tick error is logged and retried on the next tick;
// only queue-level corruption propagates out.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.runWorkerLoop(ctx) })
	g.Go(func() error { return a.runRendererLoop(ctx) })
	g.Go(func() error { return a.npcs.Run(ctx) })
	g.Go(func() error { return a.runReclaimSweep(ctx) })
	if a.consolidator != nil {
		g.Go(func() error { return a.runMemorySweep(ctx) })
	}
	if a.cfg.Server.MetricsAddr != "" {
		g.Go(func() error { return a.runMetricsServer(ctx) })
	}

	a.logger.Info("app running",
		"slot", a.cfg.Data.Slot,
		"slot_dir", a.slotDir,
		"metrics_addr", a.cfg.Server.MetricsAddr,
	)
	return g.Wait()
}

// TickOnce runs one synchronous pass of every bus worker, in pipeline
// order. This is the single-step entry: tests and the step subcommand use
// it instead of the free-running loops in Run.
func (a *App) TickOnce(ctx context.Context) {
	a.tickWorker(ctx, "interpreter", a.interpreter.Tick)
	a.tickWorker(ctx, "state_applier", a.applier.Tick)
	a.tickWorker(ctx, "roller", a.roller.Tick)
	a.tickWorker(ctx, "renderer", func() error { return a.renderer.Tick(ctx) })
}

// runWorkerLoop drives the synchronous workers: interpreter, state applier,
// and roller share one cadence.
func (a *App) runWorkerLoop(ctx context.Context) error {
	ticker := time.NewTicker(workerTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.tickWorker(ctx, "interpreter", a.interpreter.Tick)
			a.tickWorker(ctx, "state_applier", a.applier.Tick)
			a.tickWorker(ctx, "roller", a.roller.Tick)
			if a.turns.AutoSkipIfExpired() {
				a.logger.Info("turn auto-skipped", "actor", a.turns.CurrentActor(), "round", a.turns.Round())
			}
		}
	}
}

// runRendererLoop drives the renderer on its own, slower cadence: one tick
// may block on an AI call for minutes.
func (a *App) runRendererLoop(ctx context.Context) error {
	ticker := time.NewTicker(rendererTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.tickWorker(ctx, "renderer", func() error { return a.renderer.Tick(ctx) })
		}
	}
}

// tickWorker runs one worker tick, records its latency, and logs failures
// without stopping the loop.
func (a *App) tickWorker(ctx context.Context, name string, tick func() error) {
	ctx, span := observe.StartSpan(ctx, "tick."+name)
	defer span.End()

	start := time.Now()
	err := tick()
	a.metrics.TickDuration.Record(ctx, time.Since(start).Seconds(),
		observe.WithAttr("worker", name))
	if err != nil {
		a.logger.Error("worker tick failed", "worker", name, "error", err)
	}
}

// runReclaimSweep demotes stuck processing claims back to sent. Applied
// stages belong to the renderer and get the larger age so a long narration
// call is not swept out from under it.
func (a *App) runReclaimSweep(ctx context.Context) error {
	ticker := time.NewTicker(reclaimSweepInterval)
	defer ticker.Stop()

	isApplied := func(env bus.Envelope) bool { return env.Stage.Name == bus.StageApplied }
	notApplied := func(env bus.Envelope) bool { return !isApplied(env) }

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n1, err := a.claimer.ReclaimWhere(reclaimMaxAge, notApplied)
			if err != nil {
				a.logger.Error("reclaim sweep failed", "error", err)
				continue
			}
			n2, err := a.claimer.ReclaimWhere(rendererReclaimAge, isApplied)
			if err != nil {
				a.logger.Error("renderer reclaim sweep failed", "error", err)
				continue
			}
			if n := n1 + n2; n > 0 {
				a.metrics.EnvelopesReclaimed.Add(ctx, int64(n))
				a.logger.Warn("reclaimed stuck claims", "count", n)
			}
		}
	}
}

// runMemorySweep consolidates overgrown NPC journals.
func (a *App) runMemorySweep(ctx context.Context) error {
	ticker := time.NewTicker(memorySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ids, err := a.store.ListCreatures(world.KindNPC)
			if err != nil {
				a.logger.Error("memory sweep: list npcs", "error", err)
				continue
			}
			for _, id := range ids {
				j := npcmem.NewJournal(a.slotDir, "npc."+id)
				if _, err := a.consolidator.MaybeConsolidate(ctx, j); err != nil {
					a.logger.Warn("journal consolidation failed", "npc", id, "error", err)
				}
			}
		}
	}
}

// runMetricsServer serves /metrics plus health probes until ctx is done.
func (a *App) runMetricsServer(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(
		health.Checker{Name: "outbox", Check: func(context.Context) error {
			_, err := a.outbox.Read()
			return err
		}},
		health.Checker{Name: "world", Check: func(context.Context) error {
			_, err := a.store.ListPlaces()
			return err
		}},
	).Register(mux)

	srv := &http.Server{Addr: a.cfg.Server.MetricsAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: metrics server: %w", err)
	}
}

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.logger.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.logger.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.logger.Warn("closer error", "index", i, "error", err)
			}
		}

		a.logger.Info("shutdown complete")
	})
	return shutdownErr
}

// fileSink appends NPC commands as JSON lines for the rendering process to
// tail.
type fileSink struct {
	mu   sync.Mutex
	path string
}

func newFileSink(path string) *fileSink {
	return &fileSink{path: path}
}

func (s *fileSink) Send(cmd npc.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("app: open command sink: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("app: encode command: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("app: write command: %w", err)
	}
	return nil
}
