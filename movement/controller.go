package movement

import (
	"fmt"
	"math"
	"sort"

	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/physics"
)

// MovementRequest asks the controller to walk an entity to a target.
// A request for an entity that already has an active path supersedes it
// immediately; there is no queueing.
type MovementRequest struct {
	EntityID uint64
	Target   common.Vec3
	MaxSpeed float64
	Height   float64
	Radius   float64
	// SearchExtents overrides the configured navmesh search extents when
	// non-zero.
	SearchExtents common.Vec3
}

// MovementResponse is the synchronous result of RequestMovement.
type MovementResponse struct {
	Success    bool
	Message    string
	Path       []common.Vec3
	PathLength float64
}

// agentState is the controller-owned bookkeeping for one active agent.
type agentState struct {
	id        uint64
	state     characterState
	path      []common.Vec3
	pathIndex int
	target    common.Vec3
	maxSpeed  float64
	height    float64
	radius    float64
	extents   common.Vec3

	pathLength float64
	startTime  float64
	traveled   float64
	lastPos    common.Vec3

	lastReplan     float64
	lastValidation float64
	stuckTicks     int
	stableTicks    int

	// height divergence watchdog
	prevAbsErr   float64
	divergeTicks int
}

// Controller orchestrates path following, local avoidance, grounding and
// state transitions for every agent it manages, one tick at a time.
type Controller struct {
	cfg        Config
	phys       PhysicsSurface
	nav        NavSurface
	avoid      *LocalAvoidance
	motor      *GroundingMotor
	classifier *Classifier
	diag       Diagnostics
	listeners  []Listener
	agents     map[uint64]*agentState
	now        float64
}

// NewController validates cfg against the physics surface's gravity and
// wires the contact classifier. Install the classifier on the physics
// world via ContactSink before stepping.
func NewController(phys PhysicsSurface, nav NavSurface, cfg Config) (*Controller, error) {
	if phys == nil {
		return nil, fmt.Errorf("movement: physics surface is required")
	}
	if nav == nil {
		return nil, fmt.Errorf("movement: nav surface is required")
	}
	if err := cfg.Validate(phys.Gravity()); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:        cfg,
		phys:       phys,
		nav:        nav,
		avoid:      NewLocalAvoidance(cfg),
		motor:      NewGroundingMotor(cfg),
		classifier: newClassifier(cfg),
		diag:       logDiagnostics{},
		agents:     make(map[uint64]*agentState),
	}
	c.classifier.now = func() float64 { return c.now }
	c.classifier.groundContact = c.handleGroundContact
	c.classifier.groundLost = c.handleGroundLost
	c.classifier.collision = c.emitCollision
	return c, nil
}

// SetDiagnostics replaces the diagnostics sink.
func (c *Controller) SetDiagnostics(d Diagnostics) {
	if c == nil || d == nil {
		return
	}
	c.diag = d
}

// AddListener registers an event listener.
func (c *Controller) AddListener(l Listener) {
	if c == nil || l == nil {
		return
	}
	c.listeners = append(c.listeners, l)
}

// ContactSink exposes the classifier for installation on the physics world.
func (c *Controller) ContactSink() physics.ContactSink {
	if c == nil {
		return nil
	}
	return c.classifier
}

// State returns the agent's current character state.
func (c *Controller) State(id uint64) (CharacterState, bool) {
	if c == nil {
		return 0, false
	}
	a, ok := c.agents[id]
	if !ok {
		return 0, false
	}
	return a.state.Name(), true
}

// ActiveAgents returns the number of agents with a live path.
func (c *Controller) ActiveAgents() int {
	if c == nil {
		return 0
	}
	return len(c.agents)
}

// RequestMovement computes a path and registers the agent for per-tick
// updates. Failures return Success=false with a reason and mutate nothing.
func (c *Controller) RequestMovement(req MovementRequest) MovementResponse {
	if c == nil || c.phys == nil || c.nav == nil {
		return MovementResponse{Message: "movement surfaces unavailable"}
	}
	if !c.phys.Registered(req.EntityID) {
		return MovementResponse{Message: fmt.Sprintf("invalid entity %d: not registered with physics", req.EntityID)}
	}
	pos, ok := c.phys.Position(req.EntityID)
	if !ok {
		return MovementResponse{Message: fmt.Sprintf("invalid entity %d: no position", req.EntityID)}
	}

	extents := req.SearchExtents
	if extents == (common.Vec3{}) {
		extents = c.cfg.SearchExtents
	}
	path, ok := c.nav.FindPath(pos, req.Target, extents)
	if !ok || len(path) == 0 {
		return MovementResponse{Message: fmt.Sprintf("no path from %v to %v within extents %v", pos, req.Target, extents)}
	}

	maxSpeed := req.MaxSpeed
	if maxSpeed <= 0 {
		maxSpeed = 2.0
	}
	height := req.Height
	if height <= 0 {
		height = 1.8
	}

	length := pathLength(pos, path)
	a := &agentState{
		id:         req.EntityID,
		path:       path,
		target:     req.Target,
		maxSpeed:   maxSpeed,
		height:     height,
		radius:     req.Radius,
		extents:    extents,
		pathLength: length,
		startTime:  c.now,
		lastPos:    pos,
	}
	a.state = c.initialState(pos, height)
	c.agents[req.EntityID] = a // last caller wins

	for _, l := range c.listeners {
		l.OnMovementStarted(a.id, pos, a.target, length/maxSpeed)
	}
	return MovementResponse{
		Success:    true,
		Message:    "path found",
		Path:       path,
		PathLength: length,
	}
}

// CancelMovement drops the agent's path and stops issuing velocity
// commands for it. Horizontal velocity is zeroed; vertical state is left to
// physics.
func (c *Controller) CancelMovement(id uint64) bool {
	if c == nil {
		return false
	}
	if _, ok := c.agents[id]; !ok {
		return false
	}
	delete(c.agents, id)
	if vel, ok := c.phys.Velocity(id); ok {
		c.phys.SetVelocity(id, common.Vec3{Y: vel.Y})
	}
	return true
}

type velocityWrite struct {
	id uint64
	v  common.Vec3
}

type snapshotEntry struct {
	pos common.Vec3
	vel common.Vec3
}

// UpdateMovement runs one controller tick for every active agent. All
// agents read the snapshot captured at tick start; velocity writes are
// buffered and flushed afterwards, so evaluation order never leaks between
// agents. A failure in one agent's update never blocks the others.
func (c *Controller) UpdateMovement(dt float64) {
	if c == nil || dt <= 0 {
		return
	}
	c.now += dt
	if c.phys == nil || c.nav == nil {
		return
	}

	ids := make([]uint64, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	snap := make(map[uint64]snapshotEntry, len(ids))
	for id := range c.agents {
		pos, okP := c.phys.Position(id)
		vel, okV := c.phys.Velocity(id)
		if okP && okV {
			snap[id] = snapshotEntry{pos: pos, vel: vel}
		}
	}

	writes := make([]velocityWrite, 0, len(ids))
	var finished []uint64

	for _, id := range ids {
		a := c.agents[id]
		entry, ok := snap[id]
		if !ok {
			// entity vanished from the physics surface; skip it this
			// tick without aborting the rest
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.diag.Warnf("agent %d: update failed: %v", id, r)
				}
			}()
			if c.updateAgent(a, entry.pos, entry.vel, snap, &writes) {
				finished = append(finished, id)
			}
		}()
	}

	for _, w := range writes {
		c.phys.SetVelocity(w.id, w.v)
	}
	for _, id := range finished {
		delete(c.agents, id)
	}
}

// updateAgent runs the seven-step per-agent tick. Returns true when the
// agent reached its destination and must be removed.
func (c *Controller) updateAgent(a *agentState, pos, vel common.Vec3, snap map[uint64]snapshotEntry, writes *[]velocityWrite) bool {
	moved := pos.FlatDistance(a.lastPos)
	a.traveled += moved

	targetY := c.nav.HeightAt(pos.X, pos.Z) + a.height/2
	heightErr := targetY - pos.Y
	stableNow := c.motor.Stable(heightErr)

	// 1. state machine tick; airborne agents belong to physics
	a.state.OnTick(a, &c.cfg, vel.Y, stableNow)
	st := a.state.Name()
	if st == StateAirborne {
		a.lastPos = pos
		return false
	}

	// 2. waypoint advancement and desired velocity
	if a.pathIndex < len(a.path)-1 && pos.FlatDistance(a.path[a.pathIndex]) <= c.cfg.WaypointRadius {
		a.pathIndex++
		percent := 100 * float64(a.pathIndex) / float64(len(a.path))
		for _, l := range c.listeners {
			l.OnMovementProgress(a.id, percent, a.pathIndex, len(a.path))
		}
	}
	wp := a.path[a.pathIndex]
	desired := wp.Flat().Sub(pos.Flat()).Normalized().Scale(a.maxSpeed)

	// 3. nearby entities, nearest first
	var neighbors []Neighbor
	if c.cfg.EnableLocalAvoidance {
		neighbors = c.gatherNeighbors(a.id, pos, snap)
	}

	// 4. avoidance steering or full replan
	if c.cfg.EnableLocalAvoidance && len(neighbors) > 0 {
		dynamic := neighbors[:0:0]
		for _, n := range neighbors {
			if !n.Static {
				dynamic = append(dynamic, n)
			}
		}
		shouldReplan := false
		for _, pred := range c.avoid.PredictCollisions(pos, vel, wp, dynamic) {
			if pred.ShouldReplan {
				shouldReplan = true
				break
			}
		}
		if shouldReplan && c.cfg.TryLocalAvoidanceFirst && c.avoid.CanAvoidLocally(pos, a.target, neighbors) {
			shouldReplan = false
		}
		replanned := false
		if shouldReplan && c.cfg.EnableAutomaticReplanning && c.now-a.lastReplan >= c.cfg.ReplanCooldown {
			if c.replan(a, pos, "collision_predicted") {
				replanned = true
				wp = a.path[a.pathIndex]
				desired = wp.Flat().Sub(pos.Flat()).Normalized().Scale(a.maxSpeed)
			}
		}
		if !replanned {
			desired = c.avoid.CalculateAvoidanceVelocity(pos, desired, neighbors)
		}
	}

	// 5. vertical correction
	gain := 1.0
	if st == StateRecovering {
		gain = recoveringGainScale
	}
	vy, err := c.motor.Correct(pos.Y, targetY, vel.Y, gain)
	c.watchDivergence(a, pos, targetY, err)

	// 6. arrival
	atTarget := pos.FlatDistance(a.target) <= c.cfg.ArrivalThreshold
	atFinalWp := a.pathIndex == len(a.path)-1 && pos.FlatDistance(wp) <= c.cfg.WaypointRadius
	if atTarget || atFinalWp {
		// final write happens before the event so completion stays
		// idempotent: once reached, no further commands for this agent
		c.phys.SetVelocity(a.id, common.Vec3{Y: vy})
		for _, l := range c.listeners {
			l.OnDestinationReached(a.id, pos, a.traveled, c.now-a.startTime)
		}
		return true
	}

	*writes = append(*writes, velocityWrite{id: a.id, v: common.Vec3{X: desired.X, Y: vy, Z: desired.Z}})

	// 7. stuck detection and bounded replanning
	if moved < c.cfg.StuckEpsilon {
		a.stuckTicks++
	} else {
		a.stuckTicks = 0
	}
	if a.stuckTicks >= c.cfg.StuckTickThreshold && a.stuckTicks%c.cfg.StuckTickThreshold == 0 {
		dynamicNear := false
		for _, n := range neighbors {
			if !n.Static {
				dynamicNear = true
				break
			}
		}
		// obstruction that persists well past the first threshold is no
		// longer treated as temporary
		isTemporary := dynamicNear && a.stuckTicks < 3*c.cfg.StuckTickThreshold
		for _, l := range c.listeners {
			l.OnPathBlocked(a.id, pos, wp, isTemporary)
		}
		if c.now-a.lastReplan >= c.cfg.ReplanCooldown && c.replan(a, pos, "path_blocked") {
			a.stuckTicks = 0
		}
	}

	// periodic path validation against the mesh
	if c.cfg.PathValidationInterval > 0 && c.now-a.lastValidation >= c.cfg.PathValidationInterval {
		a.lastValidation = c.now
		if _, ok := c.nav.FindNearest(wp, a.extents); !ok {
			if c.now-a.lastReplan >= c.cfg.ReplanCooldown {
				c.replan(a, pos, "path_invalidated")
			}
		}
	}

	a.lastPos = pos
	return false
}

// replan issues a fresh path query. The cooldown clock restarts whether or
// not the query succeeds, so a blocked agent cannot hammer the navmesh.
func (c *Controller) replan(a *agentState, pos common.Vec3, reason string) bool {
	a.lastReplan = c.now
	path, ok := c.nav.FindPath(pos, a.target, a.extents)
	if !ok || len(path) == 0 {
		return false
	}
	a.path = path
	a.pathIndex = 0
	a.pathLength = pathLength(pos, path)
	for _, l := range c.listeners {
		l.OnPathReplanned(a.id, pos, a.target, len(path), reason)
	}
	return true
}

// watchDivergence warns, then clamps, when the height error keeps growing
// despite correction. A growing error means the configured gains cannot
// beat gravity for this terrain; the clamp is a bounded fallback, not the
// normal control path.
func (c *Controller) watchDivergence(a *agentState, pos common.Vec3, targetY, heightErr float64) {
	abs := math.Abs(heightErr)
	if abs > c.cfg.FloorLevelTolerance && abs > a.prevAbsErr {
		a.divergeTicks++
	} else {
		a.divergeTicks = 0
	}
	a.prevAbsErr = abs
	if a.divergeTicks > 4*c.cfg.StabilityThreshold {
		c.diag.Warnf("agent %d: height error %.3f still growing after %d ticks; grounding gains likely too weak for gravity", a.id, heightErr, a.divergeTicks)
		c.phys.Warp(a.id, common.Vec3{X: pos.X, Y: targetY, Z: pos.Z})
		a.divergeTicks = 0
		a.prevAbsErr = 0
	}
}

func (c *Controller) gatherNeighbors(id uint64, pos common.Vec3, snap map[uint64]snapshotEntry) []Neighbor {
	refs := c.phys.QueryRadius(id, pos, c.cfg.LocalAvoidanceRadius, c.cfg.MaxAvoidanceNeighbors)
	if len(refs) == 0 {
		return nil
	}
	neighbors := make([]Neighbor, 0, len(refs))
	for _, ref := range refs {
		n := Neighbor{ID: ref.ID, Static: ref.Static, Pushable: ref.Pushable}
		if entry, ok := snap[ref.ID]; ok {
			n.Pos = entry.pos
			n.Vel = entry.vel
		} else {
			// not controller-managed this tick, so a live read is still
			// the pre-tick value
			p, okP := c.phys.Position(ref.ID)
			if !okP {
				continue
			}
			n.Pos = p
			if v, okV := c.phys.Velocity(ref.ID); okV {
				n.Vel = v
			}
		}
		neighbors = append(neighbors, n)
	}
	return neighbors
}

func (c *Controller) initialState(pos common.Vec3, height float64) characterState {
	ground := c.nav.HeightAt(pos.X, pos.Z)
	if math.Abs((pos.Y-height/2)-ground) <= c.cfg.FloorLevelTolerance {
		return stateGrounded
	}
	return stateAirborne
}

func (c *Controller) handleGroundContact(id uint64, _ physics.Contact, _ bool) {
	a, ok := c.agents[id]
	if !ok {
		return
	}
	// persisting contact counts too: an agent knocked briefly airborne
	// while its feet never left the surface must still recover
	a.state.OnGroundContact(a)
}

func (c *Controller) handleGroundLost(id uint64) {
	a, ok := c.agents[id]
	if !ok {
		return
	}
	a.state.OnGroundLost(a)
}

func (c *Controller) emitCollision(ev CollisionEvent) {
	for _, l := range c.listeners {
		l.OnCollision(ev)
	}
}

func pathLength(start common.Vec3, path []common.Vec3) float64 {
	total := 0.0
	prev := start
	for _, wp := range path {
		total += prev.Distance(wp)
		prev = wp
	}
	return total
}
