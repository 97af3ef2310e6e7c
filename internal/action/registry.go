// Package action implements the action pipeline: an intent from a player or
// an NPC brain passes through target resolution, type/awareness/range/tool/
// cost/rules validation, effect emission, perception and effect execution.
// Any failure short-circuits into a Result{Success: false} without mutating
// the world.
//
// The pipeline is a pure orchestrator. All I/O goes through the dependencies
// carried by [Pipeline]; under fixed inputs a run is deterministic.
package action

import "github.com/aldenvane/skein/internal/tags"

// Cost classes an action's time expenditure within a turn.
type Cost string

const (
	CostFree     Cost = "FREE"
	CostPartial  Cost = "PARTIAL"
	CostFull     Cost = "FULL"
	CostExtended Cost = "EXTENDED"
)

// Hostility constraints on a verb's target.
const (
	HostilityAny     = "any"
	HostilityHostile = "hostile_only"
	HostilityFriend  = "non_hostile"
)

// Perceptibility describes how observable an action is.
type Perceptibility struct {
	Visual           bool
	Auditory         bool
	Radius           float64
	StealthAllowed   bool
	VisualObscurable bool
}

// Verb is one action registry entry: the source of truth for validation.
// The registry is never mutated at runtime.
type Verb struct {
	Name string

	// TargetTypes lists acceptable target kinds ("npc", "actor", "item",
	// "tile", "self"); "any" accepts everything.
	TargetTypes []string

	RequiresTool      bool
	RequiresAwareness bool

	DefaultCost    Cost
	Perceptibility Perceptibility

	// Hostility constrains the target's disposition.
	Hostility string

	// TargetRange is the verb's own reach in tiles; a tool capability may
	// override it. Zero means self/anywhere-in-place semantics per verb.
	TargetRange float64

	// RangeCategory applies category penalties when no tool overrides.
	RangeCategory tags.RangeCategory

	// EffectTemplate is the machine-syntax command emitted on success, with
	// {actor}, {target}, {tool}, {damage_formula}, {location} placeholders.
	EffectTemplate string
}

// AcceptsTargetType reports whether t is in the verb's TargetTypes.
func (v Verb) AcceptsTargetType(t string) bool {
	for _, tt := range v.TargetTypes {
		if tt == "any" || tt == t {
			return true
		}
	}
	return false
}

// Registry is the static verb table.
type Registry struct {
	verbs map[string]Verb
}

// NewRegistry builds a registry from verbs. Later duplicates override.
func NewRegistry(verbs ...Verb) *Registry {
	r := &Registry{verbs: make(map[string]Verb, len(verbs))}
	for _, v := range verbs {
		r.verbs[v.Name] = v
	}
	return r
}

// Verb looks up a verb by name.
func (r *Registry) Verb(name string) (Verb, bool) {
	v, ok := r.verbs[name]
	return v, ok
}

// Verb names used by the stock registry.
const (
	VerbMove        = "MOVE"
	VerbAttack      = "ATTACK"
	VerbCommunicate = "COMMUNICATE"
	VerbDefend      = "DEFEND"
	VerbHelp        = "HELP"
	VerbInspect     = "INSPECT"
	VerbUse         = "USE"
	VerbWait        = "WAIT"
)

// DefaultRegistry returns the built-in verb table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Verb{
			Name:           VerbMove,
			TargetTypes:    []string{"tile"},
			DefaultCost:    CostPartial,
			Perceptibility: Perceptibility{Visual: true, Radius: 12, VisualObscurable: true},
			Hostility:      HostilityAny,
			EffectTemplate: `SYSTEM.SET_OCCUPANCY(actor={actor}, location={location})`,
		},
		Verb{
			Name:              VerbAttack,
			TargetTypes:       []string{"npc", "actor"},
			RequiresTool:      true,
			RequiresAwareness: true,
			DefaultCost:       CostFull,
			Perceptibility:    Perceptibility{Visual: true, Auditory: true, Radius: 30},
			Hostility:         HostilityHostile,
			TargetRange:       1,
			RangeCategory:     tags.RangeMelee,
			EffectTemplate:    `SYSTEM.APPLY_DAMAGE(target={target}, source={actor}, tool={tool}, potency="{damage_formula}")`,
		},
		Verb{
			Name:           VerbCommunicate,
			TargetTypes:    []string{"npc", "actor", "tile"},
			DefaultCost:    CostFree,
			Perceptibility: Perceptibility{Auditory: true, Radius: 6, StealthAllowed: true},
			Hostility:      HostilityAny,
			TargetRange:    6,
			RangeCategory:  tags.RangeSight,
		},
		Verb{
			Name:           VerbDefend,
			TargetTypes:    []string{"self", "npc", "actor"},
			DefaultCost:    CostPartial,
			Perceptibility: Perceptibility{Visual: true, Radius: 12},
			Hostility:      HostilityFriend,
			TargetRange:    1,
			EffectTemplate: `SYSTEM.APPLY_TAG(target={target}, tag=defending, stacks=1)`,
		},
		Verb{
			Name:              VerbHelp,
			TargetTypes:       []string{"npc", "actor"},
			RequiresAwareness: true,
			DefaultCost:       CostFull,
			Perceptibility:    Perceptibility{Visual: true, Radius: 12},
			Hostility:         HostilityFriend,
			TargetRange:       1,
			EffectTemplate:    `SYSTEM.APPLY_HEAL(target={target}, potency=1)`,
		},
		Verb{
			Name:           VerbInspect,
			TargetTypes:    []string{"any"},
			DefaultCost:    CostFree,
			Perceptibility: Perceptibility{Visual: true, Radius: 3, StealthAllowed: true},
			Hostility:      HostilityAny,
			TargetRange:    10,
			RangeCategory:  tags.RangeSight,
		},
		Verb{
			Name:           VerbUse,
			TargetTypes:    []string{"item", "tile", "npc", "actor"},
			DefaultCost:    CostPartial,
			Perceptibility: Perceptibility{Visual: true, Radius: 6, VisualObscurable: true},
			Hostility:      HostilityAny,
			TargetRange:    1,
			RangeCategory:  tags.RangeTouch,
		},
		Verb{
			Name:        VerbWait,
			TargetTypes: []string{"self"},
			DefaultCost: CostFree,
			Hostility:   HostilityAny,
		},
	)
}
