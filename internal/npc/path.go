package npc

import (
	"github.com/aldenvane/skein/internal/world"
)

// cardinalSteps is the 4-neighbourhood BFS expands over. Paths step
// cardinally; diagonal facings emerge from the movement history.
var cardinalSteps = [4]world.Tile{
	{X: 0, Y: 1},
	{X: 1, Y: 0},
	{X: 0, Y: -1},
	{X: -1, Y: 0},
}

// Blocked reports whether a tile is a wall for pathing purposes.
type Blocked func(world.Tile) bool

// GridBlocked composes the standard wall set for a place: out-of-bounds
// tiles, obstacle features, and tiles occupied per the occupied predicate
// (which excludes the mover itself).
func GridBlocked(place *world.Place, occupied func(world.Tile) bool) Blocked {
	obstacles := make(map[world.Tile]bool)
	for _, f := range place.Contents.Features {
		if f.Obstacle {
			obstacles[f.TilePosition] = true
		}
	}
	return func(t world.Tile) bool {
		if !place.TileGrid.Contains(t) {
			return true
		}
		if obstacles[t] {
			return true
		}
		return occupied != nil && occupied(t)
	}
}

// FindPath runs BFS from from to goal over the grid implied by blocked. The
// returned path excludes from and ends at goal; nil means unreachable. The
// start tile is never tested against blocked (the mover stands on it), the
// goal is.
func FindPath(from, goal world.Tile, blocked Blocked) []world.Tile {
	if from == goal {
		return []world.Tile{}
	}
	if blocked(goal) {
		return nil
	}

	prev := map[world.Tile]world.Tile{from: from}
	queue := []world.Tile{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, s := range cardinalSteps {
			next := world.Tile{X: cur.X + s.X, Y: cur.Y + s.Y}
			if _, seen := prev[next]; seen {
				continue
			}
			if next != goal && blocked(next) {
				continue
			}
			prev[next] = cur
			if next == goal {
				return rebuild(prev, from, goal)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// rebuild walks the predecessor map back from goal to from.
func rebuild(prev map[world.Tile]world.Tile, from, goal world.Tile) []world.Tile {
	var path []world.Tile
	for cur := goal; cur != from; cur = prev[cur] {
		path = append(path, cur)
	}
	// Reverse in place.
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// FindPathToNearby paths to goal, falling back to the nearest walkable
// substitute when the goal itself is blocked: a spiral of rings around goal
// up to maxDistance tiles, nearest ring first. Returns the path and the tile
// actually reached; nil when nothing within maxDistance is reachable.
func FindPathToNearby(from, goal world.Tile, maxDistance int, blocked Blocked) ([]world.Tile, world.Tile) {
	if path := FindPath(from, goal, blocked); path != nil {
		return path, goal
	}
	for r := 1; r <= maxDistance; r++ {
		for _, t := range ring(goal, r) {
			if t == from {
				return []world.Tile{}, from
			}
			if blocked(t) {
				continue
			}
			if path := FindPath(from, t, blocked); path != nil {
				return path, t
			}
		}
	}
	return nil, world.Tile{}
}

// ring enumerates the tiles at Chebyshev distance r around center, clockwise
// from the top-left corner.
func ring(center world.Tile, r int) []world.Tile {
	var tiles []world.Tile
	for dx := -r; dx <= r; dx++ {
		tiles = append(tiles, world.Tile{X: center.X + dx, Y: center.Y + r})
	}
	for dy := r - 1; dy >= -r; dy-- {
		tiles = append(tiles, world.Tile{X: center.X + r, Y: center.Y + dy})
	}
	for dx := r - 1; dx >= -r; dx-- {
		tiles = append(tiles, world.Tile{X: center.X + dx, Y: center.Y - r})
	}
	for dy := -r + 1; dy <= r-1; dy++ {
		tiles = append(tiles, world.Tile{X: center.X - r, Y: center.Y + dy})
	}
	return tiles
}
