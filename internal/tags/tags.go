// Package tags implements the tag rule registry and tool capability
// resolution. An item's tags decide which actions it enables, at what range,
// with what damage formula, and what ammunition it needs. Tag stacks sum to
// the item's MAG (power magnitude), which also feeds damage scaling.
package tags

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aldenvane/skein/internal/world"
)

// RangeCategory bands an action's reach.
type RangeCategory string

const (
	RangeTouch      RangeCategory = "TOUCH"
	RangeMelee      RangeCategory = "MELEE"
	RangeThrown     RangeCategory = "THROWN"
	RangeProjectile RangeCategory = "PROJECTILE"
	RangeSight      RangeCategory = "SIGHT"
	RangeUnlimited  RangeCategory = "UNLIMITED"
)

// rangeSpec is the (base, max, penalty-per-tile-beyond-base) triple for a
// category.
type rangeSpec struct {
	base    float64
	max     float64
	penalty float64
}

var rangeSpecs = map[RangeCategory]rangeSpec{
	RangeTouch:      {base: 1, max: 1, penalty: 0},
	RangeMelee:      {base: 1, max: 2, penalty: 0},
	RangeThrown:     {base: 5, max: 20, penalty: 2},
	RangeProjectile: {base: 30, max: 120, penalty: 1},
	RangeSight:      {base: 60, max: 120, penalty: 0.5},
	RangeUnlimited:  {base: math.Inf(1), max: math.Inf(1), penalty: 0},
}

// BaseRange returns the category's base range in tiles.
func BaseRange(cat RangeCategory) float64 {
	return rangeSpecs[cat].base
}

// MaxRange returns the category's absolute maximum range in tiles.
func MaxRange(cat RangeCategory) float64 {
	return rangeSpecs[cat].max
}

// Penalty returns the to-hit penalty for attempting the category at
// distance, given an effective base range. Within base the penalty is zero;
// beyond max it is -Inf (illegal).
func Penalty(cat RangeCategory, distance, effectiveBase float64) float64 {
	spec, ok := rangeSpecs[cat]
	if !ok {
		return math.Inf(-1)
	}
	if distance > spec.max {
		return math.Inf(-1)
	}
	if distance <= effectiveBase {
		return 0
	}
	return -spec.penalty * (distance - effectiveBase)
}

// EnabledAction is one action a tag grants to its item.
type EnabledAction struct {
	// ActionType is "<VERB>" or "<VERB>.<SUBTYPE>", e.g. "ATTACK.RANGED".
	ActionType string

	Range     RangeCategory
	BaseRange float64

	// DamageFormula is a dice expression; "MAG" substitutes the item's core
	// function magnitude at roll time.
	DamageFormula string

	// Proficiencies name the stats contributing to the action's roll.
	Proficiencies []string

	// AmmoTag, when set, requires loaded ammunition carrying this tag.
	AmmoTag string
}

// Scaling adds per-stack bonuses to an enabled action.
type Scaling struct {
	RangePerStack  float64
	DamagePerStack float64
}

// Rule is one tag's registry entry. The registry is the source of truth for
// validation and is never mutated at runtime.
type Rule struct {
	Name string

	// MetaTags classify the tag (e.g. "ammo", "weapon").
	MetaTags []string

	// Cost is the tag's generation cost, deducted from the item's MAG budget
	// when computing the residual core-function magnitude.
	Cost int

	EnabledActions []EnabledAction
	PerStack       Scaling
	MaxStacks      int

	// ThrowBonus raises the thrower's weight-MAG allowance when this tag is
	// on the throwing tool (slings, atlatls).
	ThrowBonus int
}

// Registry is the static tag rule table.
type Registry struct {
	rules map[string]Rule
}

// NewRegistry builds a registry from rules. Later duplicates override.
func NewRegistry(rules ...Rule) *Registry {
	r := &Registry{rules: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		r.rules[rule.Name] = rule
	}
	return r
}

// Rule looks up a tag rule by name.
func (r *Registry) Rule(name string) (Rule, bool) {
	rule, ok := r.rules[name]
	return rule, ok
}

// Capability is a resolved (tag, action) grant on a concrete item.
type Capability struct {
	Tag         string
	ItemID      string
	Action      EnabledAction
	Stacks      int
	Effective   float64 // base range after per-stack scaling
	DamageBonus float64
}

// ActionCapability finds the first capability on item that supports
// actionType. Matching tries the full "<VERB>.<SUBTYPE>" first, then the
// bare "<VERB>".
func (r *Registry) ActionCapability(item world.Item, actionType string) (Capability, bool) {
	if cap, ok := r.findCapability(item, actionType); ok {
		return cap, true
	}
	if verb, _, found := strings.Cut(actionType, "."); found {
		return r.findCapability(item, verb)
	}
	return Capability{}, false
}

func (r *Registry) findCapability(item world.Item, actionType string) (Capability, bool) {
	for _, tag := range item.Tags {
		rule, ok := r.rules[tag.Name]
		if !ok {
			continue
		}
		stacks := tag.Stacks
		if rule.MaxStacks > 0 && stacks > rule.MaxStacks {
			stacks = rule.MaxStacks
		}
		for _, action := range rule.EnabledActions {
			if !actionMatches(action.ActionType, actionType) {
				continue
			}
			base := action.BaseRange
			if base == 0 {
				base = BaseRange(action.Range)
			}
			return Capability{
				Tag:         tag.Name,
				ItemID:      item.ID,
				Action:      action,
				Stacks:      stacks,
				Effective:   base + rule.PerStack.RangePerStack*float64(stacks),
				DamageBonus: rule.PerStack.DamagePerStack * float64(stacks),
			}, true
		}
	}
	return Capability{}, false
}

// actionMatches accepts exact matches and verb-level grants covering
// subtyped requests ("ATTACK" grants "ATTACK.MELEE").
func actionMatches(granted, requested string) bool {
	if granted == requested {
		return true
	}
	verb, _, found := strings.Cut(requested, ".")
	return found && granted == verb
}

// EnabledActions lists every capability item grants, in tag order.
func (r *Registry) EnabledActions(item world.Item) []Capability {
	var caps []Capability
	for _, tag := range item.Tags {
		rule, ok := r.rules[tag.Name]
		if !ok {
			continue
		}
		for _, action := range rule.EnabledActions {
			base := action.BaseRange
			if base == 0 {
				base = BaseRange(action.Range)
			}
			caps = append(caps, Capability{
				Tag:         tag.Name,
				ItemID:      item.ID,
				Action:      action,
				Stacks:      tag.Stacks,
				Effective:   base + rule.PerStack.RangePerStack*float64(tag.Stacks),
				DamageBonus: rule.PerStack.DamagePerStack * float64(tag.Stacks),
			})
		}
	}
	return caps
}

// Ammo errors.
var (
	ErrNoAmmoRequired  = errors.New("tags: action requires no ammunition")
	ErrAmmoMismatch    = errors.New("tags: ammunition tag mismatch")
	ErrTooHeavyToThrow = errors.New("tags: item too heavy to throw")
)

// CheckAmmoCompatibility verifies ammo satisfies the tool capability's
// declared ammo tag for actionType. Returns nil when compatible, or
// ErrNoAmmoRequired when the action takes no ammunition at all.
func (r *Registry) CheckAmmoCompatibility(tool, ammo world.Item, actionType string) error {
	cap, ok := r.ActionCapability(tool, actionType)
	if !ok {
		return fmt.Errorf("tags: %s does not support %s", tool.Name, actionType)
	}
	if cap.Action.AmmoTag == "" {
		return ErrNoAmmoRequired
	}
	for _, tag := range ammo.Tags {
		if tag.Name == cap.Action.AmmoTag {
			return nil
		}
	}
	return fmt.Errorf("%w: %s needs %q ammo, %s has none", ErrAmmoMismatch, tool.Name, cap.Action.AmmoTag, ammo.Name)
}

// WeightMAG is the step function mapping item weight to a throw-difficulty
// magnitude: ≤5→1, ≤15→2, ≤30→3, ≤50→4, else 5.
func WeightMAG(weight float64) int {
	switch {
	case weight <= 5:
		return 1
	case weight <= 15:
		return 2
	case weight <= 30:
		return 3
	case weight <= 50:
		return 4
	}
	return 5
}

// ValidateThrow checks that a creature with the given STR can throw item,
// optionally boosted by a throwing tool's bonus: weight MAG must not exceed
// STR/3 + tool bonus.
func (r *Registry) ValidateThrow(str int, item world.Item, tool *world.Item) error {
	allowance := str / 3
	if tool != nil {
		for _, tag := range tool.Tags {
			if rule, ok := r.rules[tag.Name]; ok {
				allowance += rule.ThrowBonus
			}
		}
	}
	if mag := WeightMAG(item.Weight); mag > allowance {
		return fmt.Errorf("%w: weight MAG %d exceeds allowance %d", ErrTooHeavyToThrow, mag, allowance)
	}
	return nil
}

// ThrownEffectiveRange scales a thrown base range by strength:
// floor(base * (1 + (STR − 10)/20)).
func ThrownEffectiveRange(base float64, str int) float64 {
	return math.Floor(base * (1 + float64(str-10)/20))
}

// CoreFunctionMAG is the item's residual magnitude after deducting each
// tag's generation cost from the total MAG budget. Damage formulas
// substitute this value for "MAG".
func (r *Registry) CoreFunctionMAG(item world.Item) int {
	core := item.MAG()
	for _, tag := range item.Tags {
		if rule, ok := r.rules[tag.Name]; ok {
			core -= rule.Cost
		}
	}
	if core < 0 {
		return 0
	}
	return core
}

// DefaultRegistry returns the built-in tag table used by the stock world
// data. Campaign data may extend it at load time; workers treat the result
// as immutable.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Rule{
			Name:      "bow",
			MetaTags:  []string{"weapon", "two_handed"},
			Cost:      1,
			MaxStacks: 5,
			PerStack:  Scaling{RangePerStack: 2, DamagePerStack: 1},
			EnabledActions: []EnabledAction{{
				ActionType:    "ATTACK.RANGED",
				Range:         RangeProjectile,
				DamageFormula: "1d8+MAG",
				Proficiencies: []string{"Accuracy"},
				AmmoTag:       "arrow",
			}},
		},
		Rule{
			Name:      "blade",
			MetaTags:  []string{"weapon"},
			Cost:      1,
			MaxStacks: 5,
			PerStack:  Scaling{DamagePerStack: 1},
			EnabledActions: []EnabledAction{{
				ActionType:    "ATTACK.MELEE",
				Range:         RangeMelee,
				DamageFormula: "1d6+MAG",
				Proficiencies: []string{"Brawn"},
			}},
		},
		Rule{
			Name:      "balanced",
			MetaTags:  []string{"weapon", "throwable"},
			Cost:      1,
			MaxStacks: 3,
			PerStack:  Scaling{RangePerStack: 1},
			EnabledActions: []EnabledAction{{
				ActionType:    "ATTACK.THROWN",
				Range:         RangeThrown,
				DamageFormula: "1d4+MAG",
				Proficiencies: []string{"Brawn", "Accuracy"},
			}},
		},
		Rule{
			Name:       "sling",
			MetaTags:   []string{"tool"},
			Cost:       1,
			MaxStacks:  2,
			ThrowBonus: 2,
			EnabledActions: []EnabledAction{{
				ActionType:    "ATTACK.THROWN",
				Range:         RangeThrown,
				DamageFormula: "1d4+MAG",
				Proficiencies: []string{"Accuracy"},
			}},
		},
		Rule{
			Name:     "arrow",
			MetaTags: []string{"ammo"},
			Cost:     0,
		},
		Rule{
			Name:      "shield",
			MetaTags:  []string{"armor"},
			Cost:      1,
			MaxStacks: 3,
			EnabledActions: []EnabledAction{{
				ActionType:    "DEFEND",
				Range:         RangeTouch,
				Proficiencies: []string{"Brawn"},
			}},
		},
	)
}
