// Package world holds the persistent game-world model: entity records
// (actors, NPCs, items, places), their canonical JSON file store, the
// place ↔ entity reverse index, tile geometry, and the game calendar.
//
// All persistent entities are owned exclusively by the store and referenced
// elsewhere by ref strings (actor.<id>, npc.<id>, item.<id>, place.<id>).
// Pipelines re-load by ref instead of holding long-lived pointers.
package world

import (
	"fmt"
	"math"
	"strings"
)

// Tile is a coordinate on a place's tile grid.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Distance returns the Euclidean distance to other in tiles.
func (t Tile) Distance(other Tile) float64 {
	dx := float64(t.X - other.X)
	dy := float64(t.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Location places an entity in the world hierarchy: world tile → region tile
// → place → tile. An entity with a non-empty PlaceID must appear in exactly
// that place's content lists; the place index enforces this on every move.
type Location struct {
	WorldTile  Tile   `json:"world_tile"`
	RegionTile Tile   `json:"region_tile"`
	PlaceID    string `json:"place_id,omitempty"`
	Tile       Tile   `json:"tile"`
	Elevation  int    `json:"elevation,omitempty"`
}

// interRegionScale converts a region-tile step into tile-equivalent distance
// for range checks that cross region boundaries.
const interRegionScale = 100.0

// Distance computes the distance between two locations in tiles. Same place
// (or same region with no place) is Euclidean on the tile grid; different
// regions use a scaled region-tile distance.
func Distance(a, b Location) float64 {
	if a.WorldTile == b.WorldTile && a.RegionTile == b.RegionTile {
		if a.PlaceID == b.PlaceID {
			return a.Tile.Distance(b.Tile)
		}
		// Same region, different places: treat as adjacent-grid Euclidean.
		return a.Tile.Distance(b.Tile)
	}
	dx := float64(a.WorldTile.X*1000+a.RegionTile.X) - float64(b.WorldTile.X*1000+b.RegionTile.X)
	dy := float64(a.WorldTile.Y*1000+a.RegionTile.Y) - float64(b.WorldTile.Y*1000+b.RegionTile.Y)
	return math.Sqrt(dx*dx+dy*dy) * interRegionScale
}

// TileGrid bounds a place's local coordinate space.
type TileGrid struct {
	Width        int  `json:"width"`
	Height       int  `json:"height"`
	DefaultEntry Tile `json:"default_entry"`
}

// Contains reports whether t is inside the grid.
func (g TileGrid) Contains(t Tile) bool {
	return t.X >= 0 && t.Y >= 0 && t.X < g.Width && t.Y < g.Height
}

// PlacedEntity is an entity reference pinned to a tile inside a place.
type PlacedEntity struct {
	Ref          string `json:"ref"`
	TilePosition Tile   `json:"tile_position"`
}

// Feature is a fixed element of a place (door, well, boulder). Obstacle
// features block movement.
type Feature struct {
	Name         string `json:"name"`
	TilePosition Tile   `json:"tile_position"`
	Obstacle     bool   `json:"obstacle,omitempty"`
}

// Contents lists everything currently inside a place.
type Contents struct {
	NPCsPresent   []PlacedEntity `json:"npcs_present,omitempty"`
	ActorsPresent []PlacedEntity `json:"actors_present,omitempty"`
	ItemsOnGround []PlacedEntity `json:"items_on_ground,omitempty"`
	Features      []Feature      `json:"features,omitempty"`
}

// Connection is a directed edge to another place.
type Connection struct {
	Direction  string `json:"direction"`
	To         string `json:"to"`
	TravelTime int    `json:"travel_time,omitempty"`
	Key        string `json:"key,omitempty"`
	Hidden     bool   `json:"hidden,omitempty"`
}

// Environment describes a place's ambient conditions.
type Environment struct {
	Lighting          string `json:"lighting,omitempty"`
	Terrain           string `json:"terrain,omitempty"`
	CoverAvailable    bool   `json:"cover_available,omitempty"`
	TemperatureOffset int    `json:"temperature_offset,omitempty"`
}

// Place is a bounded tile-grid sub-area of a region, the scope of local
// interactions. At most one actor or NPC occupies a tile unless
// AllowStacking is set.
type Place struct {
	ID            string      `json:"id"`
	Name          string      `json:"name,omitempty"`
	TileGrid      TileGrid    `json:"tile_grid"`
	Contents      Contents    `json:"contents"`
	Connections   []Connection `json:"connections,omitempty"`
	Environment   Environment `json:"environment"`
	AllowStacking bool        `json:"allow_stacking,omitempty"`
}

// TagInstance is one tag applied to an item or creature, with stacks and an
// optional value/source/expiry.
type TagInstance struct {
	Name   string  `json:"name"`
	Stacks int     `json:"stacks"`
	Value  float64 `json:"value,omitempty"`
	Source string  `json:"source,omitempty"`
	Expiry int64   `json:"expiry,omitempty"`
}

// Item is a physical object. MAG (power magnitude) is the sum of its tag
// stacks; weight drives throwability.
type Item struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Weight float64       `json:"weight,omitempty"`
	Tags   []TagInstance `json:"tags,omitempty"`
	Count  int           `json:"count,omitempty"`
}

// MAG returns the item's total magnitude: the sum of all tag stacks.
func (it Item) MAG() int {
	total := 0
	for _, tag := range it.Tags {
		total += tag.Stacks
	}
	return total
}

// Equipment maps slot names to item ids. Hand slots are consulted before
// body slots for tool resolution.
type Equipment struct {
	HandSlots map[string]string `json:"hand_slots,omitempty"`
	BodySlots map[string]string `json:"body_slots,omitempty"`
}

// Creature is the shared shape of actors (player characters) and NPCs.
type Creature struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Kind      string             `json:"kind,omitempty"`
	Location  Location           `json:"location"`
	Facing    string             `json:"facing,omitempty"`
	Stats     map[string]int     `json:"stats,omitempty"`
	Resources map[string]float64 `json:"resources,omitempty"`
	HP        float64            `json:"hp"`
	MaxHP     float64            `json:"max_hp"`
	Equipment Equipment          `json:"equipment"`
	Inventory []Item             `json:"inventory,omitempty"`
	Tags      []TagInstance      `json:"tags,omitempty"`

	// AwareOf lists refs this creature currently perceives.
	AwareOf []string `json:"aware_of,omitempty"`

	// Hostility is "hostile", "neutral", or "friendly" toward the player.
	Hostility string `json:"hostility,omitempty"`
}

// Stat returns a named stat, defaulting to 10 (the baseline) when unset.
func (c *Creature) Stat(name string) int {
	if v, ok := c.Stats[name]; ok {
		return v
	}
	return 10
}

// IsAwareOf reports whether the creature perceives ref.
func (c *Creature) IsAwareOf(ref string) bool {
	for _, r := range c.AwareOf {
		if r == ref {
			return true
		}
	}
	return false
}

// Kind names for ref strings and store subdirectories.
const (
	KindActor = "actor"
	KindNPC   = "npc"
	KindItem  = "item"
	KindPlace = "place"
)

// Ref builds the canonical ref string for a kind and id, e.g. "npc.guard".
func Ref(kind, id string) string {
	return kind + "." + id
}

// SplitRef splits a canonical ref into kind and id.
func SplitRef(ref string) (kind, id string, err error) {
	kind, id, ok := strings.Cut(ref, ".")
	if !ok || kind == "" || id == "" {
		return "", "", fmt.Errorf("world: malformed ref %q", ref)
	}
	return kind, id, nil
}
