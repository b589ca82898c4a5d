package physics

import (
	"fmt"
	"math"
	"sort"

	"github.com/jakecoffman/cp"

	"github.com/motorsim/navmotor/common"
)

const (
	collisionTypeAgent cp.CollisionType = iota + 1
	collisionTypeObstacle
)

// Terrain supplies the walkable surface the vertical axis resolves against.
type Terrain interface {
	HeightAt(x, z float64) float64
	NormalAt(x, z float64) common.Vec3
}

// groundEpsilon is the feet-to-surface slack treated as touching.
const groundEpsilon = 0.02

// AgentOptions describes a dynamic capsule-style agent body.
type AgentOptions struct {
	Radius   float64
	Height   float64
	Mass     float64
	Pushable bool
}

type agentBody struct {
	id       uint64
	body     *cp.Body
	shape    *cp.Shape
	radius   float64
	height   float64
	pushable bool

	// vertical axis state, integrated outside the planar solver
	y        float64
	vy       float64
	onGround bool
}

type obstacleBody struct {
	id     uint64
	shape  *cp.Shape
	pos    common.Vec3
	radius float64
}

// World is a 2.5D rigid-body world: the horizontal plane is solved by a
// Chipmunk space (the space's Y axis carries world Z), the vertical axis is
// integrated per body against the terrain heightfield.
type World struct {
	space   *cp.Space
	terrain Terrain
	gravity float64
	sink    ContactSink

	agents        map[uint64]*agentBody
	obstacles     map[uint64]*obstacleBody
	shapeToEntity map[*cp.Shape]uint64
}

func NewWorld(terrain Terrain, gravity float64) *World {
	space := cp.NewSpace()
	space.Iterations = 20
	// no planar gravity; gravity acts on the vertical axis only
	space.SetGravity(cp.Vector{})

	w := &World{
		space:         space,
		terrain:       terrain,
		gravity:       gravity,
		agents:        make(map[uint64]*agentBody),
		obstacles:     make(map[uint64]*obstacleBody),
		shapeToEntity: make(map[*cp.Shape]uint64),
	}
	w.setupHandlers()
	return w
}

// SetContactSink installs the contact strategy. Pass nil to detach.
func (w *World) SetContactSink(sink ContactSink) {
	if w == nil {
		return
	}
	w.sink = sink
}

// Gravity returns the configured gravitational acceleration magnitude.
func (w *World) Gravity() float64 {
	if w == nil {
		return 0
	}
	return w.gravity
}

// AddAgent registers a dynamic agent body at pos.
func (w *World) AddAgent(id uint64, pos common.Vec3, opt AgentOptions) error {
	if w == nil || w.space == nil {
		return fmt.Errorf("physics: world not initialized")
	}
	if id == TerrainID {
		return fmt.Errorf("physics: entity id %d is reserved", id)
	}
	if _, ok := w.agents[id]; ok {
		return fmt.Errorf("physics: agent %d already registered", id)
	}
	if _, ok := w.obstacles[id]; ok {
		return fmt.Errorf("physics: entity %d already registered as obstacle", id)
	}
	mass := opt.Mass
	if mass <= 0 {
		mass = 1.0
	}
	radius := opt.Radius
	if radius <= 0 {
		radius = 0.5
	}
	height := opt.Height
	if height <= 0 {
		height = 2 * radius
	}

	// infinite moment keeps agents upright (no spinning capsules)
	body := cp.NewBody(mass, math.Inf(1))
	body.SetPosition(cp.Vector{X: pos.X, Y: pos.Z})
	shape := cp.NewCircle(body, radius, cp.Vector{})
	shape.SetFriction(0.2)
	shape.SetElasticity(0)
	shape.SetCollisionType(collisionTypeAgent)

	w.space.AddBody(body)
	w.space.AddShape(shape)

	ab := &agentBody{
		id:       id,
		body:     body,
		shape:    shape,
		radius:   radius,
		height:   height,
		pushable: opt.Pushable,
		y:        pos.Y,
	}
	w.agents[id] = ab
	w.shapeToEntity[shape] = id
	return nil
}

// AddObstacle registers a static cylindrical obstacle.
func (w *World) AddObstacle(id uint64, pos common.Vec3, radius float64) error {
	if w == nil || w.space == nil {
		return fmt.Errorf("physics: world not initialized")
	}
	if id == TerrainID {
		return fmt.Errorf("physics: entity id %d is reserved", id)
	}
	if _, ok := w.agents[id]; ok {
		return fmt.Errorf("physics: entity %d already registered as agent", id)
	}
	if _, ok := w.obstacles[id]; ok {
		return fmt.Errorf("physics: obstacle %d already registered", id)
	}
	if radius <= 0 {
		radius = 0.5
	}
	shape := cp.NewCircle(w.space.StaticBody, radius, cp.Vector{X: pos.X, Y: pos.Z})
	shape.SetFriction(0.8)
	shape.SetElasticity(0)
	shape.SetCollisionType(collisionTypeObstacle)
	w.space.AddShape(shape)

	ob := &obstacleBody{id: id, shape: shape, pos: pos, radius: radius}
	w.obstacles[id] = ob
	w.shapeToEntity[shape] = id
	return nil
}

// Remove unregisters an entity and frees its shapes. Safe between steps only.
func (w *World) Remove(id uint64) {
	if w == nil || w.space == nil {
		return
	}
	if ab, ok := w.agents[id]; ok {
		delete(w.shapeToEntity, ab.shape)
		w.space.RemoveShape(ab.shape)
		w.space.RemoveBody(ab.body)
		delete(w.agents, id)
		return
	}
	if ob, ok := w.obstacles[id]; ok {
		delete(w.shapeToEntity, ob.shape)
		w.space.RemoveShape(ob.shape)
		delete(w.obstacles, id)
	}
}

// Registered reports whether the entity id is known to the world.
func (w *World) Registered(id uint64) bool {
	if w == nil {
		return false
	}
	if _, ok := w.agents[id]; ok {
		return true
	}
	_, ok := w.obstacles[id]
	return ok
}

// IsStatic reports whether the entity is a static obstacle.
func (w *World) IsStatic(id uint64) bool {
	if w == nil {
		return false
	}
	_, ok := w.obstacles[id]
	return ok
}

// Position returns the entity's 3D position.
func (w *World) Position(id uint64) (common.Vec3, bool) {
	if w == nil {
		return common.Vec3{}, false
	}
	if ab, ok := w.agents[id]; ok {
		p := ab.body.Position()
		return common.Vec3{X: p.X, Y: ab.y, Z: p.Y}, true
	}
	if ob, ok := w.obstacles[id]; ok {
		return ob.pos, true
	}
	return common.Vec3{}, false
}

// Velocity returns the entity's 3D velocity. Obstacles are always at rest.
func (w *World) Velocity(id uint64) (common.Vec3, bool) {
	if w == nil {
		return common.Vec3{}, false
	}
	if ab, ok := w.agents[id]; ok {
		v := ab.body.Velocity()
		return common.Vec3{X: v.X, Y: ab.vy, Z: v.Y}, true
	}
	if _, ok := w.obstacles[id]; ok {
		return common.Vec3{}, true
	}
	return common.Vec3{}, false
}

// SetVelocity writes an agent's 3D velocity.
func (w *World) SetVelocity(id uint64, v common.Vec3) bool {
	if w == nil {
		return false
	}
	ab, ok := w.agents[id]
	if !ok {
		return false
	}
	ab.body.SetVelocityVector(cp.Vector{X: v.X, Y: v.Z})
	ab.vy = v.Y
	return true
}

// Warp hard-sets an agent's position, clearing vertical velocity. Meant for
// recovery paths, not regular motion.
func (w *World) Warp(id uint64, pos common.Vec3) bool {
	if w == nil {
		return false
	}
	ab, ok := w.agents[id]
	if !ok {
		return false
	}
	ab.body.SetPosition(cp.Vector{X: pos.X, Y: pos.Z})
	ab.y = pos.Y
	ab.vy = 0
	return true
}

// OnGround reports whether the agent's feet touch the terrain.
func (w *World) OnGround(id uint64) bool {
	if w == nil {
		return false
	}
	ab, ok := w.agents[id]
	if !ok {
		return false
	}
	return ab.onGround
}

// QueryRadius returns entities within radius of center, excluding the given
// id, nearest first, capped at max (unlimited when max <= 0).
func (w *World) QueryRadius(exclude uint64, center common.Vec3, radius float64, max int) []EntityRef {
	if w == nil || radius <= 0 {
		return nil
	}
	type hit struct {
		ref  EntityRef
		dist float64
	}
	hits := make([]hit, 0, 8)
	for id, ab := range w.agents {
		if id == exclude {
			continue
		}
		p := ab.body.Position()
		d := center.FlatDistance(common.Vec3{X: p.X, Z: p.Y})
		if d <= radius {
			hits = append(hits, hit{ref: EntityRef{ID: id, Pushable: ab.pushable}, dist: d})
		}
	}
	for id, ob := range w.obstacles {
		if id == exclude {
			continue
		}
		d := center.FlatDistance(ob.pos)
		if d <= radius {
			hits = append(hits, hit{ref: EntityRef{ID: id, Static: true}, dist: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if max > 0 && len(hits) > max {
		hits = hits[:max]
	}
	refs := make([]EntityRef, len(hits))
	for i, h := range hits {
		refs[i] = h.ref
	}
	return refs
}

// Step advances the simulation: vertical integration and terrain resolution
// first, then the planar solver.
func (w *World) Step(dt float64) {
	if w == nil || w.space == nil || dt <= 0 {
		return
	}
	w.stepVertical(dt)
	w.space.Step(dt)
}

func (w *World) stepVertical(dt float64) {
	for _, ab := range w.agents {
		ab.vy -= w.gravity * dt
		ab.y += ab.vy * dt

		if w.terrain == nil {
			continue
		}
		p := ab.body.Position()
		groundY := w.terrain.HeightAt(p.X, p.Y)
		feet := ab.y - ab.height/2

		touching := feet <= groundY+groundEpsilon && ab.vy <= 0
		if touching {
			// inelastic terrain contact; never sink below the surface
			if feet < groundY {
				ab.y = groundY + ab.height/2
			}
			if ab.vy < 0 {
				ab.vy = 0
			}
		}

		if touching && !ab.onGround {
			ab.onGround = true
			w.dispatchGroundContact(ab, groundY, true)
		} else if touching {
			w.dispatchGroundContact(ab, groundY, false)
		} else if !touching && ab.onGround {
			ab.onGround = false
			if w.sink != nil {
				w.sink.OnContactEnd(w.agentRef(ab), EntityRef{ID: TerrainID, Static: true})
			}
		}
	}
}

func (w *World) dispatchGroundContact(ab *agentBody, groundY float64, begin bool) {
	if w.sink == nil {
		return
	}
	p := ab.body.Position()
	normal := common.Vec3{Y: 1}
	if w.terrain != nil {
		normal = w.terrain.NormalAt(p.X, p.Y)
	}
	c := Contact{
		A:      w.agentRef(ab),
		B:      EntityRef{ID: TerrainID, Static: true},
		Point:  common.Vec3{X: p.X, Y: groundY, Z: p.Y},
		Normal: normal,
		Depth:  groundY - (ab.y - ab.height/2),
	}
	if begin {
		w.sink.OnContactBegin(c)
	} else {
		w.sink.OnContactPersist(c)
	}
}

func (w *World) agentRef(ab *agentBody) EntityRef {
	return EntityRef{ID: ab.id, Pushable: ab.pushable}
}

func (w *World) setupHandlers() {
	pairs := []struct{ a, b cp.CollisionType }{
		{collisionTypeAgent, collisionTypeAgent},
		{collisionTypeAgent, collisionTypeObstacle},
	}
	for _, pair := range pairs {
		handler := w.space.NewCollisionHandler(pair.a, pair.b)
		handler.UserData = w
		handler.BeginFunc = func(arb *cp.Arbiter, _ *cp.Space, userData interface{}) bool {
			world, ok := userData.(*World)
			if !ok || world == nil || world.sink == nil {
				return true
			}
			c, ok := world.contactFromArbiter(arb)
			if !ok {
				return true
			}
			resp := world.sink.OnContactBegin(c)
			applyResponse(arb, resp)
			return resp.Process
		}
		handler.PreSolveFunc = func(arb *cp.Arbiter, _ *cp.Space, userData interface{}) bool {
			world, ok := userData.(*World)
			if !ok || world == nil || world.sink == nil {
				return true
			}
			c, ok := world.contactFromArbiter(arb)
			if !ok {
				return true
			}
			resp := world.sink.OnContactPersist(c)
			applyResponse(arb, resp)
			return resp.Process
		}
		handler.SeparateFunc = func(arb *cp.Arbiter, _ *cp.Space, userData interface{}) {
			world, ok := userData.(*World)
			if !ok || world == nil || world.sink == nil {
				return
			}
			shapeA, shapeB := arb.Shapes()
			refA, okA := world.refForShape(shapeA)
			refB, okB := world.refForShape(shapeB)
			if !okA || !okB {
				return
			}
			world.sink.OnContactEnd(refA, refB)
		}
	}
}

// applyResponse writes a sink's pair overrides back onto the two shapes.
// The solver derives a pair's friction and elasticity as the product of the
// shape values, so each shape gets the square root of the requested value.
func applyResponse(arb *cp.Arbiter, resp ContactResponse) {
	shapeA, shapeB := arb.Shapes()
	if resp.Friction >= 0 {
		f := math.Sqrt(resp.Friction)
		shapeA.SetFriction(f)
		shapeB.SetFriction(f)
	}
	if resp.Elasticity >= 0 {
		e := math.Sqrt(resp.Elasticity)
		shapeA.SetElasticity(e)
		shapeB.SetElasticity(e)
	}
}

// contactFromArbiter rebuilds a manifold from the two circle shapes. Point
// and depth come from the shape geometry rather than the arbiter's contact
// set so the sink sees engine-independent values.
func (w *World) contactFromArbiter(arb *cp.Arbiter) (Contact, bool) {
	shapeA, shapeB := arb.Shapes()
	refA, okA := w.refForShape(shapeA)
	refB, okB := w.refForShape(shapeB)
	if !okA || !okB {
		return Contact{}, false
	}

	posA, radA, yA := w.shapeGeometry(refA)
	posB, radB, yB := w.shapeGeometry(refB)

	n := arb.Normal()
	dist := posA.FlatDistance(posB)
	depth := radA + radB - dist
	if depth < 0 {
		depth = 0
	}
	mid := posA.Add(posB).Scale(0.5)
	return Contact{
		A:      refA,
		B:      refB,
		Point:  common.Vec3{X: mid.X, Y: (yA + yB) / 2, Z: mid.Z},
		Normal: common.Vec3{X: n.X, Z: n.Y},
		Depth:  depth,
	}, true
}

func (w *World) refForShape(shape *cp.Shape) (EntityRef, bool) {
	id, ok := w.shapeToEntity[shape]
	if !ok {
		return EntityRef{}, false
	}
	if ab, ok := w.agents[id]; ok {
		return w.agentRef(ab), true
	}
	if _, ok := w.obstacles[id]; ok {
		return EntityRef{ID: id, Static: true}, true
	}
	return EntityRef{}, false
}

func (w *World) shapeGeometry(ref EntityRef) (common.Vec3, float64, float64) {
	if ab, ok := w.agents[ref.ID]; ok {
		p := ab.body.Position()
		return common.Vec3{X: p.X, Z: p.Y}, ab.radius, ab.y
	}
	if ob, ok := w.obstacles[ref.ID]; ok {
		return ob.pos, ob.radius, ob.pos.Y
	}
	return common.Vec3{}, 0, 0
}
