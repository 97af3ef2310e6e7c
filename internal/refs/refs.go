// Package refs parses and resolves entity reference strings against the
// world store. Effect commands name their subjects and arguments with refs
// like npc.guard, tile.0.0.3.4.2.2, or actor.p.item_2; the resolver turns
// each into a typed resolution or an error/warning pair the applier can act
// on.
package refs

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aldenvane/skein/internal/world"
)

// Kind classifies what a ref points at.
type Kind string

const (
	KindActor      Kind = "actor"
	KindNPC        Kind = "npc"
	KindItem       Kind = "item"
	KindWorldTile  Kind = "world_tile"
	KindRegionTile Kind = "region_tile"
	KindTile       Kind = "tile"
	KindPlaceTile  Kind = "place_tile"
)

// Resolved is the resolution of one ref string.
type Resolved struct {
	// ID is the entity id or a coordinate key for tile refs.
	ID string

	// Type is the resolved kind.
	Type Kind

	// Path is the storage path hint for entity refs; placeholder in
	// representative mode.
	Path string

	// Representative marks a placeholder resolution for a missing entity
	// accepted under representative mode.
	Representative bool

	// Owner is the owning entity ref for item refs reached through an owner
	// path (e.g. actor.p.item_2 → owner "actor.p").
	Owner string

	// Tile carries the coordinates for tile-like refs.
	Tile world.Tile

	// Location is the full location for tile and place_tile refs.
	Location world.Location
}

// Result is the outcome of resolving a batch of refs.
type Result struct {
	Resolved map[string]Resolved
	Errors   []error
	Warnings []string
}

// ErrUnresolved wraps every resolution failure.
var ErrUnresolved = errors.New("refs: unresolved reference")

// itemSegment matches the item_<n> convention anywhere in a ref path.
var itemSegment = regexp.MustCompile(`^item_\d+$`)

// Resolver checks refs against the world store.
type Resolver struct {
	store *world.Store

	// UseRepresentativeData downgrades missing entities from errors to
	// warnings, resolving them with a placeholder path.
	UseRepresentativeData bool
}

// NewResolver returns a strict resolver over store.
func NewResolver(store *world.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve resolves every ref in refs. Duplicate refs resolve once.
func (r *Resolver) Resolve(refList []string) Result {
	res := Result{Resolved: make(map[string]Resolved, len(refList))}
	for _, ref := range refList {
		if _, done := res.Resolved[ref]; done {
			continue
		}
		resolved, err := r.resolveOne(ref)
		if err != nil {
			if r.UseRepresentativeData && errors.Is(err, world.ErrNotFound) {
				resolved.Representative = true
				resolved.Path = "representative/" + ref
				res.Resolved[ref] = resolved
				res.Warnings = append(res.Warnings, fmt.Sprintf("using representative data for %s", ref))
				continue
			}
			res.Errors = append(res.Errors, fmt.Errorf("%w: %s: %v", ErrUnresolved, ref, err))
			continue
		}
		res.Resolved[ref] = resolved
	}
	return res
}

// resolveOne parses and checks a single ref. On world.ErrNotFound the partial
// resolution is still returned so representative mode can fill it in.
func (r *Resolver) resolveOne(ref string) (Resolved, error) {
	parts := strings.Split(ref, ".")
	if len(parts) < 2 {
		return Resolved{}, fmt.Errorf("malformed ref %q", ref)
	}

	switch Kind(parts[0]) {
	case KindActor, KindNPC:
		if itemIdx := findItemSegment(parts); itemIdx > 0 {
			return r.resolveOwnedItem(ref, parts, itemIdx)
		}
		return r.resolveCreature(parts)

	case KindItem:
		if len(parts) != 2 {
			return Resolved{}, fmt.Errorf("malformed item ref %q", ref)
		}
		return r.resolveItem(parts[1], "")

	case KindWorldTile:
		coords, err := intSegments(parts[1:], 2)
		if err != nil {
			return Resolved{}, fmt.Errorf("world_tile ref %q: %w", ref, err)
		}
		tile := world.Tile{X: coords[0], Y: coords[1]}
		return Resolved{
			ID: ref, Type: KindWorldTile, Tile: tile,
			Location: world.Location{WorldTile: tile},
		}, nil

	case KindRegionTile:
		coords, err := intSegments(parts[1:], 4)
		if err != nil {
			return Resolved{}, fmt.Errorf("region_tile ref %q: %w", ref, err)
		}
		loc := world.Location{
			WorldTile:  world.Tile{X: coords[0], Y: coords[1]},
			RegionTile: world.Tile{X: coords[2], Y: coords[3]},
		}
		return Resolved{ID: ref, Type: KindRegionTile, Tile: loc.RegionTile, Location: loc}, nil

	case KindTile:
		coords, err := intSegments(parts[1:], 6)
		if err != nil {
			return Resolved{}, fmt.Errorf("tile ref %q: %w", ref, err)
		}
		loc := world.Location{
			WorldTile:  world.Tile{X: coords[0], Y: coords[1]},
			RegionTile: world.Tile{X: coords[2], Y: coords[3]},
			Tile:       world.Tile{X: coords[4], Y: coords[5]},
		}
		return Resolved{ID: ref, Type: KindTile, Tile: loc.Tile, Location: loc}, nil

	case KindPlaceTile:
		// place_tile.<place_id>.<x>.<y>
		if len(parts) != 4 {
			return Resolved{}, fmt.Errorf("malformed place_tile ref %q", ref)
		}
		coords, err := intSegments(parts[2:], 2)
		if err != nil {
			return Resolved{}, fmt.Errorf("place_tile ref %q: %w", ref, err)
		}
		tile := world.Tile{X: coords[0], Y: coords[1]}
		return Resolved{
			ID: parts[1], Type: KindPlaceTile, Tile: tile,
			Location: world.Location{PlaceID: parts[1], Tile: tile},
		}, nil
	}

	return Resolved{}, fmt.Errorf("unknown ref kind %q", parts[0])
}

func (r *Resolver) resolveCreature(parts []string) (Resolved, error) {
	kind, id := parts[0], strings.Join(parts[1:], ".")
	resolved := Resolved{ID: id, Type: Kind(kind), Path: kind + "s/" + id + ".jsonc"}
	if _, err := r.store.GetCreature(kind, id); err != nil {
		return resolved, err
	}
	return resolved, nil
}

func (r *Resolver) resolveItem(id, owner string) (Resolved, error) {
	resolved := Resolved{ID: id, Type: KindItem, Owner: owner, Path: "items/" + id + ".jsonc"}
	if owner != "" {
		// Owned items live in the owner's inventory, not the item store.
		kind, ownerID, err := world.SplitRef(owner)
		if err != nil {
			return resolved, err
		}
		c, err := r.store.GetCreature(kind, ownerID)
		if err != nil {
			return resolved, err
		}
		for _, it := range c.Inventory {
			if it.ID == id {
				return resolved, nil
			}
		}
		return resolved, fmt.Errorf("%w: item %s in inventory of %s", world.ErrNotFound, id, owner)
	}
	if _, err := r.store.GetItem(id); err != nil {
		return resolved, err
	}
	return resolved, nil
}

// resolveOwnedItem handles refs like actor.p.item_2: the segments before the
// item_<n> segment form the owner ref.
func (r *Resolver) resolveOwnedItem(ref string, parts []string, itemIdx int) (Resolved, error) {
	owner := strings.Join(parts[:itemIdx], ".")
	resolved, err := r.resolveItem(parts[itemIdx], owner)
	if err != nil {
		return resolved, fmt.Errorf("item ref %q: %w", ref, err)
	}
	return resolved, nil
}

func findItemSegment(parts []string) int {
	for i, p := range parts {
		if itemSegment.MatchString(p) {
			return i
		}
	}
	return -1
}

func intSegments(parts []string, want int) ([]int, error) {
	if len(parts) != want {
		return nil, fmt.Errorf("want %d coordinates, got %d", want, len(parts))
	}
	out := make([]int, want)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("coordinate %q: %w", p, err)
		}
		out[i] = n
	}
	return out, nil
}
