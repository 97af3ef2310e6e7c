package action_test

import (
	"strings"
	"testing"

	"github.com/aldenvane/skein/internal/action"
	"github.com/aldenvane/skein/internal/dice"
	"github.com/aldenvane/skein/internal/effect"
	"github.com/aldenvane/skein/internal/refs"
	"github.com/aldenvane/skein/internal/tags"
	"github.com/aldenvane/skein/internal/world"
)

type fixture struct {
	store    *world.Store
	index    *world.PlaceIndex
	pipeline *action.Pipeline
}

// newFixture builds a 10x10 yard with the player at (0,0), a hostile bandit
// at (7,1), and a neutral guard at (7,0).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := world.NewStore(dir)

	place := &world.Place{
		ID:       "yard",
		TileGrid: world.TileGrid{Width: 10, Height: 10},
		Contents: world.Contents{
			ActorsPresent: []world.PlacedEntity{{Ref: "actor.p", TilePosition: world.Tile{X: 0, Y: 0}}},
			NPCsPresent: []world.PlacedEntity{
				{Ref: "npc.bandit", TilePosition: world.Tile{X: 7, Y: 1}},
				{Ref: "npc.guard", TilePosition: world.Tile{X: 7, Y: 0}},
			},
		},
	}
	if err := store.PutPlace(place); err != nil {
		t.Fatalf("PutPlace: %v", err)
	}

	longbow := world.Item{
		ID: "longbow_1", Name: "Longbow", Weight: 3,
		Tags: []world.TagInstance{{Name: "bow", Stacks: 3}},
	}
	arrow := world.Item{
		ID: "arrow_1", Name: "Arrow", Weight: 0.1,
		Tags: []world.TagInstance{{Name: "arrow", Stacks: 1}},
	}
	p := &world.Creature{
		ID: "p", Name: "Player", HP: 12, MaxHP: 12,
		Location:  world.Location{PlaceID: "yard", Tile: world.Tile{X: 0, Y: 0}},
		Stats:     map[string]int{"STR": 12},
		Inventory: []world.Item{longbow, arrow},
		Equipment: world.Equipment{HandSlots: map[string]string{"main": "longbow_1"}},
		AwareOf:   []string{"npc.bandit", "npc.guard"},
	}
	if err := store.PutCreature(world.KindActor, p); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}
	bandit := &world.Creature{
		ID: "bandit", Name: "Bandit", HP: 8, MaxHP: 8, Hostility: "hostile",
		Location: world.Location{PlaceID: "yard", Tile: world.Tile{X: 7, Y: 1}},
	}
	if err := store.PutCreature(world.KindNPC, bandit); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}
	guard := &world.Creature{
		ID: "guard", Name: "Gate Guard", HP: 12, MaxHP: 12,
		Location: world.Location{PlaceID: "yard", Tile: world.Tile{X: 7, Y: 0}},
	}
	if err := store.PutCreature(world.KindNPC, guard); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}

	index := world.NewPlaceIndex(store)
	if err := index.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	applier := effect.NewApplier(store, index, world.NewClock(dir), refs.NewResolver(store), dice.NewSeeded(5), nil)
	pipe := action.New(store, index, action.DefaultRegistry(), tags.DefaultRegistry(), applier, nil)
	return &fixture{store: store, index: index, pipeline: pipe}
}

func playerLoc() world.Location {
	return world.Location{PlaceID: "yard", Tile: world.Tile{X: 0, Y: 0}}
}

func TestMoveWithinPlace(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ID:             "i1",
		ActorRef:       "actor.p",
		Verb:           action.VerbMove,
		Source:         action.SourcePlayerInput,
		ActorLocation:  playerLoc(),
		TargetType:     "tile",
		TargetLocation: world.Location{PlaceID: "yard", Tile: world.Tile{X: 2, Y: 2}},
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	if res.TargetConfidence != action.ConfidenceUI {
		t.Fatalf("confidence: %v", res.TargetConfidence)
	}
	if len(res.Effects) != 1 || !res.Effects[0].Applied {
		t.Fatalf("effects: %+v", res.Effects)
	}
	if want := "SYSTEM.SET_OCCUPANCY"; !strings.HasPrefix(res.Effects[0].Command, want) {
		t.Fatalf("command: %q", res.Effects[0].Command)
	}
	if !strings.Contains(res.Effects[0].Command, "place_tile.yard.2.2") {
		t.Fatalf("command: %q", res.Effects[0].Command)
	}

	p, _ := f.store.GetCreatureByRef("actor.p")
	if p.Location.Tile != (world.Tile{X: 2, Y: 2}) {
		t.Fatalf("location not updated: %+v", p.Location)
	}
}

func TestCommunicateOutOfRangeFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbCommunicate,
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.guard",
	})
	if res.Success {
		t.Fatalf("expected failure: %+v", res)
	}
	if !strings.Contains(res.FailureReason, "out of range") {
		t.Fatalf("reason: %q", res.FailureReason)
	}
	if len(res.Effects) != 0 {
		t.Fatalf("no effects on failure: %+v", res.Effects)
	}

	guard, _ := f.store.GetCreatureByRef("npc.guard")
	if guard.HP != 12 {
		t.Fatal("failed validation must not mutate state")
	}
}

func TestProjectileAttackEmitsDamage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.bandit",
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	if len(res.Effects) != 1 {
		t.Fatalf("effects: %+v", res.Effects)
	}
	cmd := res.Effects[0].Command
	for _, want := range []string{
		"SYSTEM.APPLY_DAMAGE",
		"target=npc.bandit",
		"source=actor.p",
		"tool=item.longbow_1",
		`potency="1d8+5"`, // core MAG 2 + per-stack damage bonus 3
	} {
		if !strings.Contains(cmd, want) {
			t.Fatalf("command %q lacks %q", cmd, want)
		}
	}

	bandit, _ := f.store.GetCreatureByRef("npc.bandit")
	if bandit.HP >= 8 {
		t.Fatalf("damage not applied: hp %g", bandit.HP)
	}
}

func TestAttackWithoutAmmoFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, _ := f.store.GetCreatureByRef("actor.p")
	p.Inventory = p.Inventory[:1] // drop the arrow
	if err := f.store.PutCreature(world.KindActor, p); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}

	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.bandit",
	})
	if res.Success || !strings.Contains(res.FailureReason, "ammunition") {
		t.Fatalf("expected ammo failure: %+v", res)
	}
}

func TestAttackRequiresAwareness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	p, _ := f.store.GetCreatureByRef("actor.p")
	p.AwareOf = nil
	if err := f.store.PutCreature(world.KindActor, p); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}

	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.bandit",
	})
	if res.Success || !strings.Contains(res.FailureReason, "aware") {
		t.Fatalf("expected awareness failure: %+v", res)
	}
}

func TestAttackHostilityConstraint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.guard", // neutral
	})
	if res.Success || !strings.Contains(res.FailureReason, "hostility") {
		t.Fatalf("expected hostility failure: %+v", res)
	}
}

func TestMentionResolvesTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbInspect,
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		OriginalInput: "take a close look at @guard over there",
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	if res.TargetRef != "npc.guard" || res.TargetConfidence != action.ConfidenceMention {
		t.Fatalf("mention target: %+v", res)
	}
}

func TestDefendDefaultsToSelf(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbDefend,
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	if res.TargetRef != "actor.p" || res.TargetConfidence != action.ConfidenceDefault {
		t.Fatalf("default target: %+v", res)
	}
}

func TestCommunicateDefaultsToRegionTile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbCommunicate,
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	if !strings.HasPrefix(res.TargetRef, "region_tile.") {
		t.Fatalf("default target: %+v", res)
	}
}

func TestAttackDefaultsToLastTarget(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	first := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.bandit",
	})
	if !first.Success {
		t.Fatalf("first attack: %+v", first)
	}

	again := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
	})
	if !again.Success {
		t.Fatalf("repeat attack: %+v", again)
	}
	if again.TargetRef != "npc.bandit" || again.TargetConfidence != action.ConfidenceDefault {
		t.Fatalf("last-target default: %+v", again)
	}
}

func TestObserversWithinPerceptionRadius(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res := f.pipeline.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbAttack,
		Subtype:       "RANGED",
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		UITargetRef:   "npc.bandit",
	})
	if !res.Success {
		t.Fatalf("Run: %+v", res)
	}
	// ATTACK is loud: radius 30 covers the whole yard.
	if len(res.Observers) != 2 {
		t.Fatalf("observers: %v", res.Observers)
	}
}

func TestCostCheckShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pipe := action.New(f.store, f.index, action.DefaultRegistry(), tags.DefaultRegistry(), nil, nil,
		action.WithCostCheck(func(string, action.Cost) bool { return false }))

	res := pipe.Run(action.Intent{
		ActorRef:      "actor.p",
		Verb:          action.VerbMove,
		Source:        action.SourcePlayerInput,
		ActorLocation: playerLoc(),
		TargetType:    "tile",
		TargetLocation: world.Location{
			PlaceID: "yard", Tile: world.Tile{X: 1, Y: 1},
		},
	})
	if res.Success || !strings.Contains(res.FailureReason, "afford") {
		t.Fatalf("expected cost failure: %+v", res)
	}
}
