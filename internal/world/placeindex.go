package world

import (
	"fmt"
	"sort"
	"sync"
)

// PlaceIndex maintains the reverse map place_id → present creature refs,
// kept consistent with entity-location updates. It answers "who is near this
// location" queries for the action pipeline and the NPC controller without
// scanning every entity file.
type PlaceIndex struct {
	store *Store

	mu     sync.RWMutex
	npcs   map[string]map[string]bool // place_id → npc refs
	actors map[string]map[string]bool // place_id → actor refs
}

// NewPlaceIndex returns an empty index over store. Call Rebuild to seed it
// from the stored places.
func NewPlaceIndex(store *Store) *PlaceIndex {
	return &PlaceIndex{
		store:  store,
		npcs:   make(map[string]map[string]bool),
		actors: make(map[string]map[string]bool),
	}
}

// Rebuild reloads the index from every stored place's content lists.
// Creatures with an empty place_id are tolerated (migration data) and simply
// absent from the index.
func (pi *PlaceIndex) Rebuild() error {
	ids, err := pi.store.ListPlaces()
	if err != nil {
		return err
	}

	npcs := make(map[string]map[string]bool)
	actors := make(map[string]map[string]bool)
	for _, id := range ids {
		p, err := pi.store.GetPlace(id)
		if err != nil {
			return fmt.Errorf("world: rebuild index: %w", err)
		}
		for _, pe := range p.Contents.NPCsPresent {
			addToSet(npcs, id, pe.Ref)
		}
		for _, pe := range p.Contents.ActorsPresent {
			addToSet(actors, id, pe.Ref)
		}
	}

	pi.mu.Lock()
	pi.npcs = npcs
	pi.actors = actors
	pi.mu.Unlock()
	return nil
}

func addToSet(m map[string]map[string]bool, place, ref string) {
	if m[place] == nil {
		m[place] = make(map[string]bool)
	}
	m[place][ref] = true
}

// Track records that ref (a creature ref) now occupies placeID, removing it
// from any other place it was indexed under. An empty placeID only removes.
func (pi *PlaceIndex) Track(ref, placeID string) error {
	kind, _, err := SplitRef(ref)
	if err != nil {
		return err
	}

	pi.mu.Lock()
	defer pi.mu.Unlock()
	var m map[string]map[string]bool
	switch kind {
	case KindNPC:
		m = pi.npcs
	case KindActor:
		m = pi.actors
	default:
		return fmt.Errorf("world: cannot index kind %q", kind)
	}
	for place, set := range m {
		if place != placeID {
			delete(set, ref)
		}
	}
	if placeID != "" {
		addToSet(m, placeID, ref)
	}
	return nil
}

// Present returns the refs indexed under placeID, NPCs and actors combined,
// in deterministic order.
func (pi *PlaceIndex) Present(placeID string) []string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()

	var refs []string
	for ref := range pi.npcs[placeID] {
		refs = append(refs, ref)
	}
	for ref := range pi.actors[placeID] {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// Target is a candidate entity for action targeting, annotated with its
// distance from the querying location.
type Target struct {
	Name     string
	Ref      string
	Type     string
	Location Location
	Distance float64
}

// AvailableTargets queries the index for loc's place, loads each present
// creature, and returns those within radius tiles (Euclidean), sorted by
// distance. The querying entity itself is excluded via selfRef.
func (pi *PlaceIndex) AvailableTargets(loc Location, radius float64, selfRef string) ([]Target, error) {
	if loc.PlaceID == "" {
		return nil, nil
	}

	var targets []Target
	for _, ref := range pi.Present(loc.PlaceID) {
		if ref == selfRef {
			continue
		}
		kind, id, err := SplitRef(ref)
		if err != nil {
			continue
		}
		c, err := pi.store.GetCreature(kind, id)
		if err != nil {
			// Index can briefly lead the store during moves; skip and let
			// the next rebuild reconcile.
			continue
		}
		d := Distance(loc, c.Location)
		if d > radius {
			continue
		}
		targets = append(targets, Target{
			Name:     c.Name,
			Ref:      ref,
			Type:     kind,
			Location: c.Location,
			Distance: d,
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Distance < targets[j].Distance })
	return targets, nil
}

// Occupied reports whether any indexed creature other than excludeRef stands
// on the given tile of placeID. Used for tile-occupancy checks during moves.
// Places that allow stacking never report a tile as occupied.
func (pi *PlaceIndex) Occupied(placeID string, tile Tile, excludeRef string) (bool, error) {
	p, err := pi.store.GetPlace(placeID)
	if err != nil {
		return false, err
	}
	if p.AllowStacking {
		return false, nil
	}
	for _, ref := range pi.Present(placeID) {
		if ref == excludeRef {
			continue
		}
		kind, id, err := SplitRef(ref)
		if err != nil {
			continue
		}
		c, err := pi.store.GetCreature(kind, id)
		if err != nil {
			continue
		}
		if c.Location.PlaceID == placeID && c.Location.Tile == tile {
			return true, nil
		}
	}
	return false, nil
}

// MoveCreature is the canonical location update: it saves the creature's new
// location, rewrites the affected places' content lists, and keeps the index
// consistent. The place invariant (a creature with a place_id appears in
// exactly that place's list) holds on both sides of the move.
func (pi *PlaceIndex) MoveCreature(ref string, to Location) error {
	kind, id, err := SplitRef(ref)
	if err != nil {
		return err
	}
	c, err := pi.store.GetCreature(kind, id)
	if err != nil {
		return err
	}
	from := c.Location
	c.Location = to
	if err := pi.store.PutCreature(kind, c); err != nil {
		return err
	}

	if from.PlaceID != "" && from.PlaceID != to.PlaceID {
		if err := pi.removeFromPlace(from.PlaceID, kind, ref); err != nil {
			return err
		}
	}
	if to.PlaceID != "" {
		if err := pi.upsertInPlace(to.PlaceID, kind, ref, to.Tile); err != nil {
			return err
		}
	}
	return pi.Track(ref, to.PlaceID)
}

func (pi *PlaceIndex) removeFromPlace(placeID, kind, ref string) error {
	p, err := pi.store.GetPlace(placeID)
	if err != nil {
		return err
	}
	list := p.Contents.NPCsPresent
	if kind == KindActor {
		list = p.Contents.ActorsPresent
	}
	out := list[:0]
	for _, pe := range list {
		if pe.Ref != ref {
			out = append(out, pe)
		}
	}
	if kind == KindActor {
		p.Contents.ActorsPresent = out
	} else {
		p.Contents.NPCsPresent = out
	}
	return pi.store.PutPlace(p)
}

func (pi *PlaceIndex) upsertInPlace(placeID, kind, ref string, tile Tile) error {
	p, err := pi.store.GetPlace(placeID)
	if err != nil {
		return err
	}
	list := &p.Contents.NPCsPresent
	if kind == KindActor {
		list = &p.Contents.ActorsPresent
	}
	found := false
	for i := range *list {
		if (*list)[i].Ref == ref {
			(*list)[i].TilePosition = tile
			found = true
			break
		}
	}
	if !found {
		*list = append(*list, PlacedEntity{Ref: ref, TilePosition: tile})
	}
	return pi.store.PutPlace(p)
}
