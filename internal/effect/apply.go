package effect

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aldenvane/skein/internal/dice"
	"github.com/aldenvane/skein/internal/refs"
	"github.com/aldenvane/skein/internal/world"
)

// Errors surfaced by handlers.
var (
	ErrMissingTool = errors.New("effect: E_MISSING_TOOL")
	ErrUnknownVerb = errors.New("effect: unknown command verb")
	ErrBadArgs     = errors.New("effect: bad arguments")
)

// toolRequired lists dispatch keys that must carry a tool= argument.
var toolRequired = map[string]bool{
	"SYSTEM.APPLY_DAMAGE": true,
}

// Applier executes parsed effect commands against the world. Each handler is
// atomic per entity: load, mutate, save. A handler failure produces a warning
// and the rest of the command list still runs.
type Applier struct {
	store    *world.Store
	index    *world.PlaceIndex
	clock    *world.Clock
	resolver *refs.Resolver
	roller   *dice.Roller
	logger   *slog.Logger
}

// NewApplier wires an applier. The resolver is used in strict mode: commands
// naming missing entities fail as warnings.
func NewApplier(store *world.Store, index *world.PlaceIndex, clock *world.Clock, resolver *refs.Resolver, roller *dice.Roller, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{
		store:    store,
		index:    index,
		clock:    clock,
		resolver: resolver,
		roller:   roller,
		logger:   logger.With("component", "effect_applier"),
	}
}

// Outcome summarises one ApplyAll run.
type Outcome struct {
	Applied  int
	Diffs    []string
	Warnings []string
}

// ApplyAll runs every command in order. Individual command failures become
// warnings; the remaining commands still execute.
func (a *Applier) ApplyAll(cmds []Command) Outcome {
	var out Outcome
	for _, cmd := range cmds {
		diff, err := a.Apply(cmd)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %v", cmd.Name(), err))
			a.logger.Warn("effect command failed", "command", cmd.Name(), "error", err)
			continue
		}
		out.Applied++
		out.Diffs = append(out.Diffs, diff)
		a.logger.Info("effect applied", "diff", diff)
	}
	return out
}

// Apply executes one command and returns a one-line diff of the mutation.
func (a *Applier) Apply(cmd Command) (string, error) {
	if toolRequired[cmd.Name()] && cmd.Ref("tool") == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingTool, cmd.Name())
	}
	if err := a.resolveRefs(cmd); err != nil {
		return "", err
	}

	switch cmd.Name() {
	case "SYSTEM.APPLY_DAMAGE":
		return a.applyDamage(cmd)
	case "SYSTEM.APPLY_HEAL":
		return a.applyHeal(cmd)
	case "SYSTEM.APPLY_TAG":
		return a.applyTag(cmd)
	case "SYSTEM.REMOVE_TAG":
		return a.removeTag(cmd)
	case "SYSTEM.ADJUST_INVENTORY":
		return a.adjustInventory(cmd)
	case "SYSTEM.ADJUST_RESOURCE":
		return a.adjustResource(cmd)
	case "SYSTEM.ADJUST_STAT":
		return a.adjustStat(cmd)
	case "SYSTEM.SET_AWARENESS":
		return a.setAwareness(cmd)
	case "SYSTEM.ADVANCE_TIME":
		return a.advanceTime(cmd)
	case "SYSTEM.SET_OCCUPANCY":
		return a.setOccupancy(cmd)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownVerb, cmd.Name())
}

// resolveRefs strict-resolves every entity-shaped argument before any
// mutation, so a command either touches valid entities or none.
func (a *Applier) resolveRefs(cmd Command) error {
	var refList []string
	for _, k := range cmd.Keys {
		if id, ok := cmd.Args[k].(Ident); ok && looksLikeEntityRef(string(id)) {
			refList = append(refList, string(id))
		}
	}
	if len(refList) == 0 {
		return nil
	}
	res := a.resolver.Resolve(refList)
	if len(res.Errors) > 0 {
		return res.Errors[0]
	}
	return nil
}

func looksLikeEntityRef(s string) bool {
	kind, _, ok := strings.Cut(s, ".")
	if !ok {
		return false
	}
	switch refs.Kind(kind) {
	case refs.KindActor, refs.KindNPC, refs.KindItem:
		return true
	}
	return false
}

// potency evaluates a command's potency argument: a plain number or a quoted
// dice expression.
func (a *Applier) potency(cmd Command) (float64, string, error) {
	if n, ok := cmd.Num("potency"); ok {
		return n, "", nil
	}
	expr, ok := cmd.Args["potency"].(string)
	if !ok {
		return 0, "", fmt.Errorf("%w: potency must be a number or dice string", ErrBadArgs)
	}
	res, err := a.roller.RollString(expr)
	if err != nil {
		return 0, "", err
	}
	return float64(res.Total), expr, nil
}

// mutateCreature loads ref, applies fn, and saves. fn returns the diff line.
func (a *Applier) mutateCreature(ref string, fn func(*world.Creature) (string, error)) (string, error) {
	kind, id, err := world.SplitRef(ref)
	if err != nil {
		return "", err
	}
	c, err := a.store.GetCreature(kind, id)
	if err != nil {
		return "", err
	}
	diff, err := fn(c)
	if err != nil {
		return "", err
	}
	if err := a.store.PutCreature(kind, c); err != nil {
		return "", err
	}
	return diff, nil
}

func (a *Applier) applyDamage(cmd Command) (string, error) {
	target := cmd.Ref("target")
	if target == "" {
		return "", fmt.Errorf("%w: target required", ErrBadArgs)
	}
	amount, expr, err := a.potency(cmd)
	if err != nil {
		return "", err
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		before := c.HP
		c.HP -= amount
		if c.HP < 0 {
			c.HP = 0
		}
		if expr != "" {
			return fmt.Sprintf("%s hp %g→%g (damage %g = %s)", target, before, c.HP, amount, expr), nil
		}
		return fmt.Sprintf("%s hp %g→%g (damage %g)", target, before, c.HP, amount), nil
	})
}

func (a *Applier) applyHeal(cmd Command) (string, error) {
	target := cmd.Ref("target")
	if target == "" {
		return "", fmt.Errorf("%w: target required", ErrBadArgs)
	}
	amount, _, err := a.potency(cmd)
	if err != nil {
		return "", err
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		before := c.HP
		c.HP += amount
		if c.MaxHP > 0 && c.HP > c.MaxHP {
			c.HP = c.MaxHP
		}
		return fmt.Sprintf("%s hp %g→%g (heal %g)", target, before, c.HP, amount), nil
	})
}

func (a *Applier) applyTag(cmd Command) (string, error) {
	target, tag := cmd.Ref("target"), cmd.Str("tag")
	if target == "" || tag == "" {
		return "", fmt.Errorf("%w: target and tag required", ErrBadArgs)
	}
	stacks := 1
	if n, ok := cmd.Num("stacks"); ok {
		stacks = int(n)
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		for i := range c.Tags {
			if c.Tags[i].Name == tag {
				c.Tags[i].Stacks += stacks
				return fmt.Sprintf("%s tag %s stacks +%d→%d", target, tag, stacks, c.Tags[i].Stacks), nil
			}
		}
		c.Tags = append(c.Tags, world.TagInstance{Name: tag, Stacks: stacks})
		return fmt.Sprintf("%s tag %s added x%d", target, tag, stacks), nil
	})
}

func (a *Applier) removeTag(cmd Command) (string, error) {
	target, tag := cmd.Ref("target"), cmd.Str("tag")
	if target == "" || tag == "" {
		return "", fmt.Errorf("%w: target and tag required", ErrBadArgs)
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		for i := range c.Tags {
			if c.Tags[i].Name == tag {
				c.Tags = append(c.Tags[:i], c.Tags[i+1:]...)
				return fmt.Sprintf("%s tag %s removed", target, tag), nil
			}
		}
		return "", fmt.Errorf("tag %s not present on %s", tag, target)
	})
}

func (a *Applier) adjustInventory(cmd Command) (string, error) {
	target, itemID := cmd.Ref("target"), cmd.Str("item")
	if target == "" || itemID == "" {
		return "", fmt.Errorf("%w: target and item required", ErrBadArgs)
	}
	itemID = strings.TrimPrefix(itemID, "item.")
	qty := 1.0
	if n, ok := cmd.Num("quantity"); ok {
		qty = n
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		for i := range c.Inventory {
			if c.Inventory[i].ID != itemID {
				continue
			}
			count := c.Inventory[i].Count
			if count == 0 {
				count = 1
			}
			count += int(qty)
			if count <= 0 {
				c.Inventory = append(c.Inventory[:i], c.Inventory[i+1:]...)
				return fmt.Sprintf("%s inventory %s removed", target, itemID), nil
			}
			c.Inventory[i].Count = count
			return fmt.Sprintf("%s inventory %s count %+g→%d", target, itemID, qty, count), nil
		}
		if qty <= 0 {
			return "", fmt.Errorf("item %s not in inventory of %s", itemID, target)
		}
		added := world.Item{ID: itemID, Count: int(qty)}
		if stored, err := a.store.GetItem(itemID); err == nil {
			added = *stored
			added.Count = int(qty)
		}
		c.Inventory = append(c.Inventory, added)
		return fmt.Sprintf("%s inventory %s added x%d", target, itemID, added.Count), nil
	})
}

func (a *Applier) adjustResource(cmd Command) (string, error) {
	target, resource := cmd.Ref("target"), cmd.Str("resource")
	amount, ok := cmd.Num("amount")
	if target == "" || resource == "" || !ok {
		return "", fmt.Errorf("%w: target, resource and amount required", ErrBadArgs)
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		if c.Resources == nil {
			c.Resources = map[string]float64{}
		}
		before := c.Resources[resource]
		after := before + amount
		if after < 0 {
			after = 0
		}
		c.Resources[resource] = after
		return fmt.Sprintf("%s resource %s %g→%g", target, resource, before, after), nil
	})
}

func (a *Applier) adjustStat(cmd Command) (string, error) {
	target, stat := cmd.Ref("target"), cmd.Str("stat")
	amount, ok := cmd.Num("amount")
	if target == "" || stat == "" || !ok {
		return "", fmt.Errorf("%w: target, stat and amount required", ErrBadArgs)
	}
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		if c.Stats == nil {
			c.Stats = map[string]int{}
		}
		before := c.Stat(stat)
		c.Stats[stat] = before + int(amount)
		return fmt.Sprintf("%s stat %s %d→%d", target, stat, before, c.Stats[stat]), nil
	})
}

func (a *Applier) setAwareness(cmd Command) (string, error) {
	target, of := cmd.Ref("target"), cmd.Ref("of")
	if target == "" || of == "" {
		return "", fmt.Errorf("%w: target and of required", ErrBadArgs)
	}
	aware := cmd.Bool("aware", true)
	return a.mutateCreature(target, func(c *world.Creature) (string, error) {
		if aware {
			if c.IsAwareOf(of) {
				return fmt.Sprintf("%s already aware of %s", target, of), nil
			}
			c.AwareOf = append(c.AwareOf, of)
			return fmt.Sprintf("%s now aware of %s", target, of), nil
		}
		for i, r := range c.AwareOf {
			if r == of {
				c.AwareOf = append(c.AwareOf[:i], c.AwareOf[i+1:]...)
				break
			}
		}
		return fmt.Sprintf("%s no longer aware of %s", target, of), nil
	})
}

func (a *Applier) advanceTime(cmd Command) (string, error) {
	minutes, ok := cmd.Num("minutes")
	if !ok {
		return "", fmt.Errorf("%w: minutes required", ErrBadArgs)
	}
	gt, err := a.clock.Advance(int(minutes))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("time +%gm → day %d %02d:%02d", minutes, gt.Day, gt.Hour, gt.Minute), nil
}

// setOccupancy moves a creature; the place index keeps the place-content
// invariant across the move.
func (a *Applier) setOccupancy(cmd Command) (string, error) {
	mover := cmd.Ref("actor")
	if mover == "" {
		mover = cmd.Ref("target")
	}
	locRef := cmd.Ref("location")
	if mover == "" || locRef == "" {
		return "", fmt.Errorf("%w: actor and location required", ErrBadArgs)
	}
	res := a.resolver.Resolve([]string{locRef})
	if len(res.Errors) > 0 {
		return "", res.Errors[0]
	}
	loc := res.Resolved[locRef].Location
	if err := a.index.MoveCreature(mover, loc); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s moved to %s", mover, locRef), nil
}
