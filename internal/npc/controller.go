// Package npc drives autonomous NPC movement: a fixed-rate controller that
// reassesses goals, paths over place grids with BFS, advances NPCs tile by
// tile, and issues typed commands to the rendering process. The controller
// owns all movement decisions; world position stays canonical in the store.
package npc

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/aldenvane/skein/internal/convo"
	"github.com/aldenvane/skein/internal/world"
)

// Controller defaults.
const (
	DefaultTickRate       = 250 * time.Millisecond // 4 Hz
	DefaultMaxPerTick     = 5
	DefaultBlockedAfter   = 3 * time.Second
	DefaultStuckThreshold = 3
	DefaultMaxInterval    = 20 * time.Second
	DefaultWanderRadius   = 6
	DefaultMaxNearby      = 4
	maxJitter             = 5 * time.Second
)

// Controller is the NPC movement authority.
type Controller struct {
	store    *world.Store
	index    *world.PlaceIndex
	presence *convo.PresenceStore
	sink     Sink
	logger   *slog.Logger

	tickRate       time.Duration
	maxPerTick     int
	blockedAfter   time.Duration
	stuckThreshold int
	maxInterval    time.Duration
	wanderRadius   int
	maxNearby      int

	mu     sync.Mutex
	states map[string]*state
	cursor int
	rng    *rand.Rand
	now    func() time.Time
}

// Option configures a Controller.
type Option func(*Controller)

// WithTickRate overrides the scheduler rate.
func WithTickRate(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickRate = d
		}
	}
}

// WithMaxPerTick caps how many NPCs reassess per tick.
func WithMaxPerTick(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxPerTick = n
		}
	}
}

// WithBlockedAfter sets how long a blocked NPC waits before reassessing.
func WithBlockedAfter(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.blockedAfter = d
		}
	}
}

// WithStuckThreshold sets the stuck count that forces a reassess.
func WithStuckThreshold(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.stuckThreshold = n
		}
	}
}

// WithMaxInterval sets the reassess-anyway interval (plus 0–5 s jitter).
func WithMaxInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxInterval = d
		}
	}
}

// WithSeed makes goal selection and jitter deterministic; tests only.
func WithSeed(seed uint64) Option {
	return func(c *Controller) {
		c.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// NewController wires an NPC movement controller.
func NewController(store *world.Store, index *world.PlaceIndex, presence *convo.PresenceStore, sink Sink, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		store:          store,
		index:          index,
		presence:       presence,
		sink:           sink,
		logger:         logger.With("worker", "npc_controller"),
		tickRate:       DefaultTickRate,
		maxPerTick:     DefaultMaxPerTick,
		blockedAfter:   DefaultBlockedAfter,
		stuckThreshold: DefaultStuckThreshold,
		maxInterval:    DefaultMaxInterval,
		wanderRadius:   DefaultWanderRadius,
		maxNearby:      DefaultMaxNearby,
		states:         make(map[string]*state),
		rng:            rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:            time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run ticks the controller at the configured rate until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Tick(); err != nil {
				c.logger.Error("npc tick failed", "error", err)
			}
		}
	}
}

// Tick runs one controller cycle: reassess up to maxPerTick NPCs round-robin,
// then advance every moving NPC one tile.
func (c *Controller) Tick() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	ids, err := c.store.ListCreatures(world.KindNPC)
	if err != nil {
		return fmt.Errorf("npc: list: %w", err)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return nil
	}

	reassess := make(map[string]bool, c.maxPerTick)
	for i := 0; i < c.maxPerTick && i < len(ids); i++ {
		reassess[ids[(c.cursor+i)%len(ids)]] = true
	}
	c.cursor = (c.cursor + c.maxPerTick) % len(ids)

	for _, id := range ids {
		ref := world.Ref(world.KindNPC, id)
		if err := c.step(ref, id, reassess[id], now); err != nil {
			return err
		}
	}
	return nil
}

// step processes one NPC for one tick.
func (c *Controller) step(ref, id string, mayReassess bool, now time.Time) error {
	crea, err := c.store.GetCreature(world.KindNPC, id)
	if err != nil {
		return fmt.Errorf("npc: load %s: %w", ref, err)
	}
	st := c.states[ref]
	if st == nil {
		st = &state{lastPos: crea.Location.Tile}
		c.states[ref] = st
	}

	// A live conversation suspends movement entirely.
	if _, busy, err := c.presence.Get(ref); err != nil {
		return err
	} else if busy {
		if st.isMoving {
			st.isMoving = false
			if err := c.send(Command{Type: CmdStop, NPCRef: ref, Status: "busy"}); err != nil {
				return err
			}
		}
		st.busy = true
		return nil
	}
	if st.busy {
		// Conversation ended; drop the stale goal so the NPC reassesses
		// instead of resuming a path the world may have moved under.
		st.busy = false
		st.goal = nil
		st.isMoving = false
	}

	if mayReassess && c.stale(st, now) {
		if err := c.reassess(ref, crea, st, now); err != nil {
			return err
		}
	}

	return c.advance(ref, crea, st, now)
}

// stale decides whether an NPC's goal needs replacing.
func (c *Controller) stale(st *state, now time.Time) bool {
	switch {
	case st.goal == nil || st.goal.Done():
		return true
	case !st.goal.ExpiresAt.IsZero() && now.After(st.goal.ExpiresAt):
		return true
	case !st.blockedSince.IsZero() && now.Sub(st.blockedSince) > c.blockedAfter:
		return true
	case st.stuckCount >= c.stuckThreshold:
		return true
	case now.Sub(st.lastReassess) > c.maxInterval+st.jitter:
		return true
	}
	return false
}

// reassess picks the NPC's next goal and paths toward it.
func (c *Controller) reassess(ref string, crea *world.Creature, st *state, now time.Time) error {
	st.lastReassess = now
	st.jitter = time.Duration(c.rng.Int64N(int64(maxJitter)))
	st.stuckCount = 0
	st.blockedSince = time.Time{}

	if crea.Location.PlaceID == "" {
		st.goal = nil
		st.isMoving = false
		return nil
	}
	place, err := c.store.GetPlace(crea.Location.PlaceID)
	if err != nil {
		return fmt.Errorf("npc: place for %s: %w", ref, err)
	}
	blocked := c.blockedFor(place, ref)

	goalType := GoalWander
	dest := c.wanderTarget(crea.Location.Tile, place, blocked)
	var waypoints []world.Tile
	wpIdx := 0
	if st.goal != nil && st.goal.Type == GoalPatrol && len(st.goal.Waypoints) > 0 {
		goalType = GoalPatrol
		waypoints = st.goal.Waypoints
		wpIdx = st.goal.WaypointIdx
		if st.goal.Done() {
			wpIdx = (wpIdx + 1) % len(waypoints)
		}
		dest = waypoints[wpIdx]
	}

	path, reached := FindPathToNearby(crea.Location.Tile, dest, c.maxNearby, blocked)
	if path == nil {
		st.goal = nil
		st.isMoving = false
		return nil
	}

	st.goal = &Goal{
		Type:        goalType,
		Destination: reached,
		Path:        path,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.maxInterval),
		Waypoints:   waypoints,
		WaypointIdx: wpIdx,
	}
	st.isMoving = len(path) > 0

	cmd := CmdWander
	if goalType == GoalPatrol {
		cmd = CmdPatrol
	}
	return c.send(Command{Type: cmd, NPCRef: ref, Tile: reached})
}

// advance walks one tile of the current path, updating position, facing and
// the blocked bookkeeping.
func (c *Controller) advance(ref string, crea *world.Creature, st *state, now time.Time) error {
	if !st.isMoving || st.goal.Done() {
		if st.goal != nil && st.goal.Done() {
			st.isMoving = false
		}
		return nil
	}
	next, _ := st.goal.Next()

	place, err := c.store.GetPlace(crea.Location.PlaceID)
	if err != nil {
		return fmt.Errorf("npc: place for %s: %w", ref, err)
	}
	if c.blockedFor(place, ref)(next) {
		// Hold position; persistent blockage triggers a reassess.
		if st.blockedSince.IsZero() {
			st.blockedSince = now
		}
		st.samePosTicks++
		if st.samePosTicks >= c.stuckThreshold {
			st.stuckCount++
			st.samePosTicks = 0
		}
		return nil
	}

	from := crea.Location.Tile
	to := crea.Location
	to.Tile = next
	if err := c.index.MoveCreature(ref, to); err != nil {
		return fmt.Errorf("npc: move %s: %w", ref, err)
	}

	facing := st.history.facing(next.X-from.X, next.Y-from.Y, now)
	if err := c.setFacing(ref, facing); err != nil {
		return err
	}

	st.goal.PathPos++
	st.lastPos = next
	st.samePosTicks = 0
	st.blockedSince = time.Time{}
	if st.goal.Done() {
		st.isMoving = false
	}
	return c.send(Command{Type: CmdMove, NPCRef: ref, Tile: next, Facing: facing})
}

// wanderTarget picks a random walkable tile within the wander radius, falling
// back to the current tile when none is found.
func (c *Controller) wanderTarget(from world.Tile, place *world.Place, blocked Blocked) world.Tile {
	for try := 0; try < 10; try++ {
		t := world.Tile{
			X: from.X + c.rng.IntN(2*c.wanderRadius+1) - c.wanderRadius,
			Y: from.Y + c.rng.IntN(2*c.wanderRadius+1) - c.wanderRadius,
		}
		if t != from && !blocked(t) {
			return t
		}
	}
	return from
}

// blockedFor builds the wall predicate for ref moving inside place. Places
// that allow stacking skip the occupancy check entirely: only walls and
// obstacle features block there.
func (c *Controller) blockedFor(place *world.Place, ref string) Blocked {
	if place.AllowStacking {
		return GridBlocked(place, nil)
	}
	return GridBlocked(place, func(t world.Tile) bool {
		occ, err := c.index.Occupied(place.ID, t, ref)
		return err == nil && occ
	})
}

// setFacing persists the creature's facing.
func (c *Controller) setFacing(ref, facing string) error {
	if facing == "" {
		return nil
	}
	crea, err := c.store.GetCreatureByRef(ref)
	if err != nil {
		return err
	}
	if crea.Facing == facing {
		return nil
	}
	crea.Facing = facing
	kind, _, _ := world.SplitRef(ref)
	return c.store.PutCreature(kind, crea)
}

func (c *Controller) send(cmd Command) error {
	if c.sink == nil {
		return nil
	}
	return c.sink.Send(cmd)
}

// MovingCount reports how many NPCs currently walk a path. Feeds the
// moving-NPC gauge.
func (c *Controller) MovingCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, st := range c.states {
		if st.isMoving {
			n++
		}
	}
	return n
}

// Stop clears ref's goal and halts it.
func (c *Controller) Stop(ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st := c.states[ref]; st != nil {
		st.goal = nil
		st.isMoving = false
	}
	return c.send(Command{Type: CmdStop, NPCRef: ref})
}

// MoveTo gives ref an explicit movement goal toward dest.
func (c *Controller) MoveTo(ref string, dest world.Tile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directGoal(ref, GoalMove, dest, nil)
}

// Patrol gives ref a cycling waypoint route.
func (c *Controller) Patrol(ref string, waypoints []world.Tile) error {
	if len(waypoints) == 0 {
		return fmt.Errorf("npc: patrol needs at least one waypoint")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.directGoal(ref, GoalPatrol, waypoints[0], waypoints)
}

// Flee sends ref toward the walkable tile that maximises distance from
// threatRef's position.
func (c *Controller) Flee(ref, threatRef string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	crea, err := c.store.GetCreatureByRef(ref)
	if err != nil {
		return err
	}
	threat, err := c.store.GetCreatureByRef(threatRef)
	if err != nil {
		return err
	}
	place, err := c.store.GetPlace(crea.Location.PlaceID)
	if err != nil {
		return err
	}
	blocked := c.blockedFor(place, ref)

	best := crea.Location.Tile
	bestDist := -1.0
	for x := 0; x < place.TileGrid.Width; x++ {
		for y := 0; y < place.TileGrid.Height; y++ {
			t := world.Tile{X: x, Y: y}
			if blocked(t) {
				continue
			}
			if d := t.Distance(threat.Location.Tile); d > bestDist {
				best, bestDist = t, d
			}
		}
	}
	if err := c.directGoal(ref, GoalFlee, best, nil); err != nil {
		return err
	}
	return c.send(Command{Type: CmdFlee, NPCRef: ref, Tile: best})
}

// Face turns ref toward dir without moving.
func (c *Controller) Face(ref, dir string) error {
	if _, _, ok := DirectionDelta(dir); !ok {
		return fmt.Errorf("npc: unknown facing %q", dir)
	}
	if err := c.setFacing(ref, dir); err != nil {
		return err
	}
	return c.send(Command{Type: CmdFace, NPCRef: ref, Facing: dir})
}

// Status emits an NPC_STATUS command describing ref's current movement state.
func (c *Controller) Status(ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := "idle"
	if st := c.states[ref]; st != nil {
		switch {
		case st.busy:
			status = "busy"
		case st.isMoving:
			status = "moving"
		}
	}
	return c.send(Command{Type: CmdStatus, NPCRef: ref, Status: status})
}

// Highlight asks the UI to highlight an entity.
func (c *Controller) Highlight(ref string) error {
	return c.send(Command{Type: CmdUIHighlight, Ref: ref})
}

// Target asks the UI to mark an entity as the active target.
func (c *Controller) Target(ref string) error {
	return c.send(Command{Type: CmdUITarget, Ref: ref})
}

// directGoal installs a goal computed from the store's current geometry.
// Callers hold c.mu.
func (c *Controller) directGoal(ref string, typ GoalType, dest world.Tile, waypoints []world.Tile) error {
	crea, err := c.store.GetCreatureByRef(ref)
	if err != nil {
		return err
	}
	place, err := c.store.GetPlace(crea.Location.PlaceID)
	if err != nil {
		return err
	}
	path, reached := FindPathToNearby(crea.Location.Tile, dest, c.maxNearby, c.blockedFor(place, ref))
	if path == nil {
		return fmt.Errorf("npc: no path for %s to %v", ref, dest)
	}

	now := c.now()
	st := c.states[ref]
	if st == nil {
		st = &state{lastPos: crea.Location.Tile}
		c.states[ref] = st
	}
	st.goal = &Goal{
		Type:        typ,
		Destination: reached,
		Path:        path,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.maxInterval),
		Waypoints:   waypoints,
	}
	st.isMoving = len(path) > 0
	st.lastReassess = now
	st.stuckCount = 0
	st.blockedSince = time.Time{}
	return nil
}
