package refs_test

import (
	"testing"

	"github.com/aldenvane/skein/internal/refs"
	"github.com/aldenvane/skein/internal/world"
)

func seedStore(t *testing.T) *world.Store {
	t.Helper()
	s := world.NewStore(t.TempDir())
	guard := &world.Creature{ID: "guard", Name: "Guard"}
	if err := s.PutCreature(world.KindNPC, guard); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}
	p := &world.Creature{
		ID: "p", Name: "Player",
		Inventory: []world.Item{{ID: "item_2", Name: "Rope"}},
	}
	if err := s.PutCreature(world.KindActor, p); err != nil {
		t.Fatalf("PutCreature: %v", err)
	}
	if err := s.PutItem(&world.Item{ID: "longbow_1", Name: "Longbow"}); err != nil {
		t.Fatalf("PutItem: %v", err)
	}
	return s
}

func TestResolveEntities(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	res := r.Resolve([]string{"npc.guard", "actor.p", "item.longbow_1"})
	if len(res.Errors) != 0 {
		t.Fatalf("Resolve errors: %v", res.Errors)
	}

	if got := res.Resolved["npc.guard"]; got.Type != refs.KindNPC || got.ID != "guard" {
		t.Fatalf("npc.guard: %+v", got)
	}
	if got := res.Resolved["item.longbow_1"]; got.Type != refs.KindItem || got.Owner != "" {
		t.Fatalf("item.longbow_1: %+v", got)
	}
}

func TestResolveTileRefs(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	res := r.Resolve([]string{
		"world_tile.3.4",
		"region_tile.3.4.1.2",
		"tile.3.4.1.2.5.6",
		"place_tile.yard.2.2",
	})
	if len(res.Errors) != 0 {
		t.Fatalf("Resolve errors: %v", res.Errors)
	}

	wt := res.Resolved["world_tile.3.4"]
	if wt.Tile != (world.Tile{X: 3, Y: 4}) {
		t.Fatalf("world_tile: %+v", wt)
	}
	tl := res.Resolved["tile.3.4.1.2.5.6"]
	if tl.Location.Tile != (world.Tile{X: 5, Y: 6}) || tl.Location.RegionTile != (world.Tile{X: 1, Y: 2}) {
		t.Fatalf("tile: %+v", tl.Location)
	}
	pt := res.Resolved["place_tile.yard.2.2"]
	if pt.Location.PlaceID != "yard" || pt.Tile != (world.Tile{X: 2, Y: 2}) {
		t.Fatalf("place_tile: %+v", pt)
	}
}

func TestResolveOwnedItem(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	res := r.Resolve([]string{"actor.p.item_2"})
	if len(res.Errors) != 0 {
		t.Fatalf("Resolve errors: %v", res.Errors)
	}
	got := res.Resolved["actor.p.item_2"]
	if got.Type != refs.KindItem || got.Owner != "actor.p" || got.ID != "item_2" {
		t.Fatalf("owned item: %+v", got)
	}
}

func TestResolveMissingIsErrorInStrictMode(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	res := r.Resolve([]string{"npc.ghost"})
	if len(res.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", res.Errors)
	}
	if _, ok := res.Resolved["npc.ghost"]; ok {
		t.Fatal("missing entity must not resolve in strict mode")
	}
}

func TestResolveRepresentativeModeDowngradesToWarning(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	r.UseRepresentativeData = true
	res := r.Resolve([]string{"npc.ghost", "actor.nobody.item_9"})
	if len(res.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", res.Errors)
	}
	if len(res.Warnings) != 2 {
		t.Fatalf("expected 2 warnings, got %v", res.Warnings)
	}
	ghost := res.Resolved["npc.ghost"]
	if !ghost.Representative || ghost.Path == "" {
		t.Fatalf("representative resolution: %+v", ghost)
	}
}

func TestResolveMalformedRef(t *testing.T) {
	t.Parallel()

	r := refs.NewResolver(seedStore(t))
	for _, bad := range []string{"nodots", "mystery.thing", "tile.1.2.3", "world_tile.a.b"} {
		res := r.Resolve([]string{bad})
		if len(res.Errors) != 1 {
			t.Fatalf("Resolve(%q): expected 1 error, got %v", bad, res.Errors)
		}
	}
}
