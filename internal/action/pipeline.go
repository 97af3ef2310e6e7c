package action

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/aldenvane/skein/internal/dice"
	"github.com/aldenvane/skein/internal/effect"
	"github.com/aldenvane/skein/internal/tags"
	"github.com/aldenvane/skein/internal/world"
)

// candidateRadius bounds the target candidate query. Nothing outside it can
// be targeted even by sight-ranged tools.
const candidateRadius = 120.0

// Executor applies one effect command. *effect.Applier satisfies it.
type Executor interface {
	Apply(cmd effect.Command) (string, error)
}

// Pipeline validates and executes action intents. Construct with New; the
// option funcs override the permissive defaults used for cost, rules and
// line-of-sight checks.
type Pipeline struct {
	store    *world.Store
	index    *world.PlaceIndex
	verbs    *Registry
	tags     *tags.Registry
	executor Executor
	logger   *slog.Logger

	canAfford   func(actorRef string, cost Cost) bool
	rulesCheck  func(in Intent, verb Verb) error
	lineOfSight func(from, to world.Location) bool

	// lastTargets remembers each actor's last creature target for the
	// ATTACK/HELP default.
	lastTargets map[string]string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCostCheck installs the affordability check for stage 6.
func WithCostCheck(fn func(actorRef string, cost Cost) bool) Option {
	return func(p *Pipeline) { p.canAfford = fn }
}

// WithRulesCheck installs the verb-specific legality check for stage 7.
func WithRulesCheck(fn func(in Intent, verb Verb) error) Option {
	return func(p *Pipeline) { p.rulesCheck = fn }
}

// WithLineOfSight installs the visibility filter used for perception when a
// verb is visually obscurable.
func WithLineOfSight(fn func(from, to world.Location) bool) Option {
	return func(p *Pipeline) { p.lineOfSight = fn }
}

// New wires a pipeline. executor may be nil, in which case effects are
// emitted but not executed (dry-run mode for tests and planners).
func New(store *world.Store, index *world.PlaceIndex, verbs *Registry, tagReg *tags.Registry, executor Executor, logger *slog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		store:       store,
		index:       index,
		verbs:       verbs,
		tags:        tagReg,
		executor:    executor,
		logger:      logger.With("component", "action_pipeline"),
		canAfford:   func(string, Cost) bool { return true },
		rulesCheck:  func(Intent, Verb) error { return nil },
		lineOfSight: func(world.Location, world.Location) bool { return true },
		lastTargets: map[string]string{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the full pipeline for one intent. Any failure short-circuits
// without mutating the world.
func (p *Pipeline) Run(in Intent) Result {
	verb, ok := p.verbs.Verb(in.Verb)
	if !ok {
		return failure(fmt.Sprintf("unknown verb %q", in.Verb))
	}

	actor, err := p.store.GetCreatureByRef(in.ActorRef)
	if err != nil {
		return failure(fmt.Sprintf("actor %s: %v", in.ActorRef, err))
	}

	candidates, err := p.index.AvailableTargets(in.ActorLocation, candidateRadius, in.ActorRef)
	if err != nil {
		return failure(fmt.Sprintf("candidate query: %v", err))
	}

	// 1. Target resolution.
	tgt, ok := p.resolveTarget(in, verb, candidates)
	if !ok {
		return failure("no valid target")
	}

	// 2. Type validation.
	if !verb.AcceptsTargetType(tgt.targetType) {
		return failure(fmt.Sprintf("target type %q not allowed for %s", tgt.targetType, verb.Name))
	}

	// 2b. Hostility constraint on creature targets.
	if isCreatureRef(tgt.ref) && !p.hostilityAllowed(verb, tgt.ref) {
		return failure(fmt.Sprintf("target %s does not satisfy the %s hostility constraint", tgt.ref, verb.Name))
	}

	// 3. Awareness.
	if verb.RequiresAwareness && isCreatureRef(tgt.ref) && !actor.IsAwareOf(tgt.ref) {
		return failure(fmt.Sprintf("%s is not aware of %s", in.ActorRef, tgt.ref))
	}

	// 5. Tool resolution first when required: its capability overrides the
	// verb's own range in step 4.
	var tool *world.Item
	var capability tags.Capability
	if verb.RequiresTool {
		tool, capability, err = p.resolveTool(actor, in)
		if err != nil {
			return failure(err.Error())
		}
	}

	// 4. Range validation.
	dist := world.Distance(in.ActorLocation, tgt.location)
	if reason := p.checkRange(verb, capability, tool, actor, dist); reason != "" {
		return failure(reason)
	}

	// 6. Cost check.
	if !p.canAfford(in.ActorRef, verb.DefaultCost) {
		return failure(fmt.Sprintf("%s cannot afford a %s action", in.ActorRef, verb.DefaultCost))
	}

	// 7. Rules check.
	if err := p.rulesCheck(in, verb); err != nil {
		return failure(err.Error())
	}

	// 8. Effect emission.
	effects, reason := p.emitEffects(in, verb, tgt, tool, capability)
	if reason != "" {
		return failure(reason)
	}

	// 9. Perception.
	observers := p.observers(in, verb)

	res := Result{
		Success:          true,
		TargetRef:        tgt.ref,
		TargetConfidence: tgt.confidence,
		Cost:             verb.DefaultCost,
		Effects:          effects,
		Observers:        observers,
	}

	// 10. Effect execution.
	if p.executor != nil {
		for i := range res.Effects {
			cmd, err := effect.Parse(res.Effects[i].Command)
			if err != nil {
				res.Success = false
				res.FailureReason = fmt.Sprintf("emitted effect unparseable: %v", err)
				return res
			}
			if _, err := p.executor.Apply(cmd); err != nil {
				res.Success = false
				res.FailureReason = fmt.Sprintf("effect execution: %v", err)
				return res
			}
			res.Effects[i].Applied = true
		}
	}

	if isCreatureRef(tgt.ref) {
		p.lastTargets[in.ActorRef] = tgt.ref
	}
	p.logger.Info("action resolved",
		"actor", in.ActorRef, "verb", in.Verb, "target", tgt.ref,
		"confidence", tgt.confidence, "effects", len(res.Effects))
	return res
}

// checkRange validates dist against the tool capability when present, else
// the verb's own range.
func (p *Pipeline) checkRange(verb Verb, capability tags.Capability, tool *world.Item, actor *world.Creature, dist float64) string {
	if tool != nil && capability.Tag != "" {
		effective := capability.Effective
		if capability.Action.Range == tags.RangeThrown {
			effective = tags.ThrownEffectiveRange(effective, actor.Stat("STR"))
		}
		if dist <= effective {
			return ""
		}
		if penalty := tags.Penalty(capability.Action.Range, dist, effective); math.IsInf(penalty, -1) {
			return fmt.Sprintf("target out of range: %.1f tiles exceeds %s maximum", dist, capability.Action.Range)
		}
		// Beyond effective but within the category maximum: legal with a
		// to-hit penalty that the damage roll already absorbs.
		return ""
	}
	if verb.TargetRange > 0 && dist > verb.TargetRange {
		return fmt.Sprintf("target out of range: %.1f tiles exceeds %s range %.1f", dist, verb.Name, verb.TargetRange)
	}
	return ""
}

// resolveTool picks the first equipped item whose capability supports the
// intent's action type: hand slots, body slots, then any inventory item
// (the implicit hand). Ammo and throwability are validated here.
func (p *Pipeline) resolveTool(actor *world.Creature, in Intent) (*world.Item, tags.Capability, error) {
	actionType := in.ActionType()

	var ordered []world.Item
	seen := map[string]bool{}
	addByID := func(id string) {
		if id == "" || seen[id] {
			return
		}
		if it, ok := p.findItem(actor, id); ok {
			ordered = append(ordered, it)
			seen[id] = true
		}
	}
	for _, id := range actor.Equipment.HandSlots {
		addByID(id)
	}
	for _, id := range actor.Equipment.BodySlots {
		addByID(id)
	}
	for _, it := range actor.Inventory {
		if !seen[it.ID] {
			ordered = append(ordered, it)
			seen[it.ID] = true
		}
	}

	for i := range ordered {
		it := ordered[i]
		capability, ok := p.tags.ActionCapability(it, actionType)
		if !ok {
			continue
		}
		if capability.Action.AmmoTag != "" {
			if _, ok := p.findAmmo(actor, capability.Action.AmmoTag); !ok {
				return nil, tags.Capability{}, fmt.Errorf("no %q ammunition for %s", capability.Action.AmmoTag, it.Name)
			}
		}
		if capability.Action.Range == tags.RangeThrown {
			if err := p.tags.ValidateThrow(actor.Stat("STR"), it, nil); err != nil {
				return nil, tags.Capability{}, err
			}
		}
		return &it, capability, nil
	}
	return nil, tags.Capability{}, fmt.Errorf("no equipped tool supports %s", actionType)
}

// findItem hydrates an item id from the actor's inventory, falling back to
// the item store.
func (p *Pipeline) findItem(actor *world.Creature, id string) (world.Item, bool) {
	for _, it := range actor.Inventory {
		if it.ID == id {
			return it, true
		}
	}
	if it, err := p.store.GetItem(id); err == nil {
		return *it, true
	}
	return world.Item{}, false
}

func (p *Pipeline) findAmmo(actor *world.Creature, ammoTag string) (world.Item, bool) {
	for _, it := range actor.Inventory {
		for _, tag := range it.Tags {
			if tag.Name == ammoTag {
				return it, true
			}
		}
	}
	return world.Item{}, false
}

// hostilityAllowed checks a creature target against the verb's constraint.
func (p *Pipeline) hostilityAllowed(verb Verb, ref string) bool {
	switch verb.Hostility {
	case "", HostilityAny:
		return true
	}
	c, err := p.store.GetCreatureByRef(ref)
	if err != nil {
		return false
	}
	hostile := c.Hostility == "hostile"
	if verb.Hostility == HostilityHostile {
		return hostile
	}
	return !hostile
}

// emitEffects instantiates the verb's effect template with the resolved
// bindings. Verbs without a template succeed with no effects.
func (p *Pipeline) emitEffects(in Intent, verb Verb, tgt resolvedTarget, tool *world.Item, capability tags.Capability) ([]EffectRecord, string) {
	if verb.EffectTemplate == "" {
		return nil, ""
	}

	repl := []string{
		"{actor}", in.ActorRef,
		"{target}", tgt.ref,
		"{location}", placeTileRef(tgt.location),
	}
	if tool != nil {
		repl = append(repl, "{tool}", world.Ref(world.KindItem, tool.ID))
		formula := capability.Action.DamageFormula
		if formula != "" {
			mag := p.tags.CoreFunctionMAG(*tool) + int(capability.DamageBonus)
			formula = dice.Substitute(formula, map[string]int{"MAG": mag})
		}
		repl = append(repl, "{damage_formula}", formula)
	}
	line := strings.NewReplacer(repl...).Replace(verb.EffectTemplate)

	cmd, err := effect.Parse(line)
	if err != nil {
		return nil, fmt.Sprintf("effect template for %s produced invalid command: %v", verb.Name, err)
	}
	return []EffectRecord{{
		Type:      cmd.Name(),
		TargetRef: tgt.ref,
		Command:   cmd.String(),
	}}, ""
}

// observers computes the perception set: entities within the verb's
// perceptibility radius, filtered by line of sight when the action is
// visually obscurable and not auditory.
func (p *Pipeline) observers(in Intent, verb Verb) []string {
	if verb.Perceptibility.Radius <= 0 {
		return nil
	}
	within, err := p.index.AvailableTargets(in.ActorLocation, verb.Perceptibility.Radius, in.ActorRef)
	if err != nil {
		p.logger.Warn("observer query failed", "error", err)
		return nil
	}
	var out []string
	for _, t := range within {
		if verb.Perceptibility.VisualObscurable && !verb.Perceptibility.Auditory &&
			!p.lineOfSight(in.ActorLocation, t.Location) {
			continue
		}
		out = append(out, t.Ref)
	}
	return out
}

func isCreatureRef(ref string) bool {
	kind, _, err := world.SplitRef(ref)
	if err != nil {
		return false
	}
	return kind == world.KindActor || kind == world.KindNPC
}

func placeTileRef(loc world.Location) string {
	if loc.PlaceID == "" {
		return world.Ref("region_tile", refKey(loc))
	}
	return fmt.Sprintf("place_tile.%s.%d.%d", loc.PlaceID, loc.Tile.X, loc.Tile.Y)
}
