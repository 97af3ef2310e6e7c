package npc

import (
	"time"

	"github.com/aldenvane/skein/internal/world"
)

// GoalType names what an NPC is trying to do with its feet.
type GoalType string

const (
	GoalWander GoalType = "wander"
	GoalMove   GoalType = "move"
	GoalPatrol GoalType = "patrol"
	GoalFlee   GoalType = "flee"
)

// Goal is a desired movement outcome with a computed path toward it.
type Goal struct {
	Type        GoalType
	Destination world.Tile
	Path        []world.Tile
	PathPos     int
	CreatedAt   time.Time
	ExpiresAt   time.Time

	// Waypoints drives patrol goals; the NPC cycles through them.
	Waypoints   []world.Tile
	WaypointIdx int
}

// Done reports whether the path has been fully walked.
func (g *Goal) Done() bool {
	return g == nil || g.PathPos >= len(g.Path)
}

// Next returns the next tile to step onto.
func (g *Goal) Next() (world.Tile, bool) {
	if g.Done() {
		return world.Tile{}, false
	}
	return g.Path[g.PathPos], true
}

// state is the controller's per-NPC movement bookkeeping. It lives only in
// the controller; persistent truth (position, facing) stays on the creature.
type state struct {
	goal     *Goal
	isMoving bool

	lastPos      world.Tile
	samePosTicks int
	stuckCount   int
	blockedSince time.Time

	lastReassess time.Time
	jitter       time.Duration

	history moveHistory
	busy    bool
}
