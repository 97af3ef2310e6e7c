package npc

import (
	"time"

	"github.com/aldenvane/skein/internal/world"
)

// Facing directions on the 8-way compass. North is +y.
const (
	FacingNorth     = "north"
	FacingNortheast = "northeast"
	FacingEast      = "east"
	FacingSoutheast = "southeast"
	FacingSouth     = "south"
	FacingSouthwest = "southwest"
	FacingWest      = "west"
	FacingNorthwest = "northwest"
)

// CalculateDirection maps the sign of the tile delta from → to onto the
// 8-direction compass. Identical tiles return "".
func CalculateDirection(from, to world.Tile) string {
	dx := sign(to.X - from.X)
	dy := sign(to.Y - from.Y)
	switch {
	case dx == 0 && dy > 0:
		return FacingNorth
	case dx > 0 && dy > 0:
		return FacingNortheast
	case dx > 0 && dy == 0:
		return FacingEast
	case dx > 0 && dy < 0:
		return FacingSoutheast
	case dx == 0 && dy < 0:
		return FacingSouth
	case dx < 0 && dy < 0:
		return FacingSouthwest
	case dx < 0 && dy == 0:
		return FacingWest
	case dx < 0 && dy > 0:
		return FacingNorthwest
	}
	return ""
}

// DirectionDelta is the inverse of [CalculateDirection] for single-tile
// moves: the Δ(x,y) a step in dir applies.
func DirectionDelta(dir string) (dx, dy int, ok bool) {
	switch dir {
	case FacingNorth:
		return 0, 1, true
	case FacingNortheast:
		return 1, 1, true
	case FacingEast:
		return 1, 0, true
	case FacingSoutheast:
		return 1, -1, true
	case FacingSouth:
		return 0, -1, true
	case FacingSouthwest:
		return -1, -1, true
	case FacingWest:
		return -1, 0, true
	case FacingNorthwest:
		return -1, 1, true
	}
	return 0, 0, false
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

// historyMaxEntries bounds the per-NPC movement history ring.
const historyMaxEntries = 4

// historyWindow is how far back zigzag moves still influence facing.
const historyWindow = 1500 * time.Millisecond

// moveRecord is one tile step in the history ring.
type moveRecord struct {
	dx, dy int
	at     time.Time
}

// moveHistory is a small rolling record of recent steps, used to resolve a
// diagonal facing out of alternating cardinal moves. BFS paths only step
// cardinally, so an NPC walking a staircase pattern northeast would otherwise
// flicker between north and east every tile.
type moveHistory struct {
	entries []moveRecord
}

// record appends one step, evicting beyond the cap.
func (h *moveHistory) record(dx, dy int, at time.Time) {
	h.entries = append(h.entries, moveRecord{dx: dx, dy: dy, at: at})
	if len(h.entries) > historyMaxEntries {
		h.entries = h.entries[len(h.entries)-historyMaxEntries:]
	}
}

// facing resolves the current facing after the step (dx,dy) at time at,
// combining with the previous step when the two are perpendicular cardinals
// inside the window.
func (h *moveHistory) facing(dx, dy int, at time.Time) string {
	h.record(dx, dy, at)

	cur := world.Tile{X: dx, Y: dy}
	facing := CalculateDirection(world.Tile{}, cur)
	if dx != 0 && dy != 0 {
		return facing // already diagonal
	}

	for i := len(h.entries) - 2; i >= 0; i-- {
		prev := h.entries[i]
		if at.Sub(prev.at) > historyWindow {
			break
		}
		if prev.dx == dx && prev.dy == dy {
			continue // same direction, no new information
		}
		// Perpendicular cardinal pair resolves to the diagonal between them.
		if (prev.dx == 0) != (dx == 0) && prev.dx*dx == 0 && prev.dy*dy == 0 {
			return CalculateDirection(world.Tile{}, world.Tile{X: dx + prev.dx, Y: dy + prev.dy})
		}
		break
	}
	return facing
}
