package movement

import (
	"math"
	"sort"
	"testing"

	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/navmesh"
	"github.com/motorsim/navmotor/physics"
)

// fakeBody backs the fake physics surface with Euler integration.
type fakeBody struct {
	pos      common.Vec3
	vel      common.Vec3
	static   bool
	pushable bool
}

type fakePhys struct {
	gravity float64
	bodies  map[uint64]*fakeBody
}

func newFakePhys() *fakePhys {
	return &fakePhys{gravity: 9.81, bodies: map[uint64]*fakeBody{}}
}

func (f *fakePhys) add(id uint64, pos common.Vec3) *fakeBody {
	b := &fakeBody{pos: pos}
	f.bodies[id] = b
	return b
}

func (f *fakePhys) Registered(id uint64) bool {
	_, ok := f.bodies[id]
	return ok
}

func (f *fakePhys) IsStatic(id uint64) bool {
	b, ok := f.bodies[id]
	return ok && b.static
}

func (f *fakePhys) Position(id uint64) (common.Vec3, bool) {
	b, ok := f.bodies[id]
	if !ok {
		return common.Vec3{}, false
	}
	return b.pos, true
}

func (f *fakePhys) Velocity(id uint64) (common.Vec3, bool) {
	b, ok := f.bodies[id]
	if !ok {
		return common.Vec3{}, false
	}
	return b.vel, true
}

func (f *fakePhys) SetVelocity(id uint64, v common.Vec3) bool {
	b, ok := f.bodies[id]
	if !ok {
		return false
	}
	b.vel = v
	return true
}

func (f *fakePhys) Warp(id uint64, pos common.Vec3) bool {
	b, ok := f.bodies[id]
	if !ok {
		return false
	}
	b.pos = pos
	b.vel = common.Vec3{}
	return true
}

func (f *fakePhys) QueryRadius(exclude uint64, center common.Vec3, radius float64, max int) []physics.EntityRef {
	type hit struct {
		ref  physics.EntityRef
		dist float64
	}
	var hits []hit
	for id, b := range f.bodies {
		if id == exclude {
			continue
		}
		d := b.pos.FlatDistance(center)
		if d > radius {
			continue
		}
		hits = append(hits, hit{
			ref:  physics.EntityRef{ID: id, Static: b.static, Pushable: b.pushable},
			dist: d,
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })
	if max > 0 && len(hits) > max {
		hits = hits[:max]
	}
	refs := make([]physics.EntityRef, len(hits))
	for i, h := range hits {
		refs[i] = h.ref
	}
	return refs
}

func (f *fakePhys) Gravity() float64 { return f.gravity }

// step integrates every body and clamps feet to the flat floor at y=0.
func (f *fakePhys) step(dt, agentHeight float64) {
	for _, b := range f.bodies {
		if b.static {
			continue
		}
		b.vel.Y -= f.gravity * dt
		b.pos = b.pos.Add(b.vel.Scale(dt))
		floor := agentHeight / 2
		if b.pos.Y < floor {
			b.pos.Y = floor
			if b.vel.Y < 0 {
				b.vel.Y = 0
			}
		}
	}
}

// recorder captures listener callbacks for assertions.
type recorder struct {
	started   []uint64
	progress  int
	blocked   []bool
	replanned []string
	reached   []uint64
	collided  int
}

func (r *recorder) OnMovementStarted(id uint64, start, target common.Vec3, estimatedTime float64) {
	r.started = append(r.started, id)
}
func (r *recorder) OnMovementProgress(id uint64, percent float64, wpIndex, totalWps int) {
	r.progress++
}
func (r *recorder) OnPathBlocked(id uint64, current, blocked common.Vec3, isTemporary bool) {
	r.blocked = append(r.blocked, isTemporary)
}
func (r *recorder) OnPathReplanned(id uint64, current, target common.Vec3, wps int, reason string) {
	r.replanned = append(r.replanned, reason)
}
func (r *recorder) OnDestinationReached(id uint64, pos common.Vec3, dist, dur float64) {
	r.reached = append(r.reached, id)
}
func (r *recorder) OnCollision(ev CollisionEvent) { r.collided++ }

func flatGrid(t *testing.T) *navmesh.Grid {
	t.Helper()
	return navmesh.NewGrid(40, 40, 1.0)
}

const testAgentHeight = 1.8

func spawnPos(x, z float64) common.Vec3 {
	return common.Vec3{X: x, Y: testAgentHeight / 2, Z: z}
}

func newTestController(t *testing.T, phys PhysicsSurface, nav NavSurface) *Controller {
	t.Helper()
	c, err := NewController(phys, nav, DefaultConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.SetDiagnostics(NopDiagnostics())
	return c
}

func TestRequestMovementValidation(t *testing.T) {
	phys := newFakePhys()
	phys.add(1, spawnPos(-5, 0))
	c := newTestController(t, phys, flatGrid(t))

	t.Run("unregistered entity", func(t *testing.T) {
		resp := c.RequestMovement(MovementRequest{EntityID: 99, Target: common.Vec3{X: 5}})
		if resp.Success {
			t.Fatal("unregistered entity must be rejected")
		}
	})

	t.Run("unreachable target", func(t *testing.T) {
		resp := c.RequestMovement(MovementRequest{
			EntityID: 1,
			Target:   common.Vec3{X: 500, Z: 500},
			Height:   testAgentHeight,
		})
		if resp.Success {
			t.Fatal("target outside the mesh must be rejected")
		}
	})

	t.Run("valid request", func(t *testing.T) {
		resp := c.RequestMovement(MovementRequest{
			EntityID: 1,
			Target:   common.Vec3{X: 5},
			Height:   testAgentHeight,
		})
		if !resp.Success {
			t.Fatalf("request failed: %s", resp.Message)
		}
		if len(resp.Path) == 0 || resp.PathLength <= 0 {
			t.Fatalf("successful response must carry a path: %+v", resp)
		}
		if c.ActiveAgents() != 1 {
			t.Fatalf("active agents = %d, want 1", c.ActiveAgents())
		}
	})
}

func TestRequestMovementSupersedes(t *testing.T) {
	phys := newFakePhys()
	phys.add(1, spawnPos(0, 0))
	c := newTestController(t, phys, flatGrid(t))

	rec := &recorder{}
	c.AddListener(rec)

	first := c.RequestMovement(MovementRequest{EntityID: 1, Target: common.Vec3{X: 8}, Height: testAgentHeight})
	second := c.RequestMovement(MovementRequest{EntityID: 1, Target: common.Vec3{X: -8}, Height: testAgentHeight})
	if !first.Success || !second.Success {
		t.Fatalf("both requests should succeed: %s / %s", first.Message, second.Message)
	}
	if c.ActiveAgents() != 1 {
		t.Fatalf("superseding request must not duplicate the agent: %d active", c.ActiveAgents())
	}
	if len(rec.started) != 2 {
		t.Fatalf("each accepted request fires a start event, got %d", len(rec.started))
	}
}

func TestCancelMovement(t *testing.T) {
	phys := newFakePhys()
	b := phys.add(1, spawnPos(0, 0))
	c := newTestController(t, phys, flatGrid(t))

	if c.CancelMovement(1) {
		t.Fatal("cancel without an active request must return false")
	}

	c.RequestMovement(MovementRequest{EntityID: 1, Target: common.Vec3{X: 8}, Height: testAgentHeight})
	c.UpdateMovement(1.0 / 60.0)
	if b.vel.FlatLength() == 0 {
		t.Fatal("agent should be moving before cancel")
	}

	if !c.CancelMovement(1) {
		t.Fatal("cancel with an active request must return true")
	}
	if b.vel.FlatLength() != 0 {
		t.Fatalf("cancel must zero planar velocity, got %v", b.vel)
	}
	if c.ActiveAgents() != 0 {
		t.Fatalf("agent still active after cancel: %d", c.ActiveAgents())
	}
}

func TestMovementReachesDestination(t *testing.T) {
	phys := newFakePhys()
	phys.add(1, spawnPos(-5, 0))
	c := newTestController(t, phys, flatGrid(t))

	rec := &recorder{}
	c.AddListener(rec)

	target := common.Vec3{X: 5, Y: 0, Z: 0}
	resp := c.RequestMovement(MovementRequest{EntityID: 1, Target: target, MaxSpeed: 2.0, Height: testAgentHeight})
	if !resp.Success {
		t.Fatalf("request failed: %s", resp.Message)
	}

	const dt = 1.0 / 60.0
	for tick := 0; tick < 60*15 && c.ActiveAgents() > 0; tick++ {
		c.UpdateMovement(dt)
		phys.step(dt, testAgentHeight)
	}

	if len(rec.reached) != 1 || rec.reached[0] != 1 {
		t.Fatalf("destination reached events = %v, want exactly one for agent 1", rec.reached)
	}
	pos, _ := phys.Position(1)
	if d := pos.FlatDistance(target); d > 1.0 {
		t.Fatalf("agent stopped %.2fm from target", d)
	}
	if rec.progress == 0 {
		t.Fatal("multi-waypoint move should report progress")
	}

	// completion is idempotent: further ticks change nothing
	before, _ := phys.Position(1)
	for tick := 0; tick < 60; tick++ {
		c.UpdateMovement(dt)
	}
	after, _ := phys.Position(1)
	if before.FlatDistance(after) > 1e-9 {
		t.Fatalf("completed agent drifted from %v to %v", before, after)
	}
}

func TestStuckAgentFiresPathBlocked(t *testing.T) {
	phys := newFakePhys()
	b := phys.add(1, spawnPos(0, 0))
	c := newTestController(t, phys, flatGrid(t))

	rec := &recorder{}
	c.AddListener(rec)

	resp := c.RequestMovement(MovementRequest{EntityID: 1, Target: common.Vec3{X: 10}, Height: testAgentHeight})
	if !resp.Success {
		t.Fatalf("request failed: %s", resp.Message)
	}

	// hold the body in place: velocity commands are issued but the position
	// never changes, as if pinned against an unmapped blocker
	const dt = 1.0 / 60.0
	cfg := DefaultConfig()
	for tick := 0; tick < cfg.StuckTickThreshold+5; tick++ {
		c.UpdateMovement(dt)
		b.vel = common.Vec3{}
	}

	if len(rec.blocked) == 0 {
		t.Fatal("pinned agent never reported a blocked path")
	}
	if rec.blocked[0] {
		t.Fatal("blockage with no dynamic entity nearby must not be reported as temporary")
	}
}

func TestUpdateMovementIsolatesAgentFailures(t *testing.T) {
	phys := newFakePhys()
	phys.add(1, spawnPos(-5, 0))
	phys.add(2, spawnPos(5, 5))
	c := newTestController(t, phys, flatGrid(t))

	if r := c.RequestMovement(MovementRequest{EntityID: 1, Target: common.Vec3{X: 5}, Height: testAgentHeight}); !r.Success {
		t.Fatalf("agent 1 request failed: %s", r.Message)
	}
	if r := c.RequestMovement(MovementRequest{EntityID: 2, Target: common.Vec3{X: -5, Z: 5}, Height: testAgentHeight}); !r.Success {
		t.Fatalf("agent 2 request failed: %s", r.Message)
	}

	// sabotage agent 1's state so its update panics
	c.agents[1].path = nil

	c.UpdateMovement(1.0 / 60.0)

	if vel, _ := phys.Velocity(2); vel.FlatLength() == 0 {
		t.Fatal("agent 2 must keep moving when agent 1's update fails")
	}
}

// Two agents swap positions along the same corridor. They must steer around
// each other without replanning the world away, keep a minimum separation,
// and both arrive.
func TestTwoAgentSwapEndToEnd(t *testing.T) {
	grid := navmesh.NewGrid(40, 40, 1.0)
	world := physics.NewWorld(grid, 9.81)

	const (
		radius = 0.45
		height = 1.8
		dt     = 1.0 / 60.0
	)
	opts := physics.AgentOptions{Radius: radius, Height: height, Pushable: false}
	if err := world.AddAgent(1, common.Vec3{X: -8, Y: height / 2}, opts); err != nil {
		t.Fatalf("add agent 1: %v", err)
	}
	if err := world.AddAgent(2, common.Vec3{X: 8, Y: height / 2}, opts); err != nil {
		t.Fatalf("add agent 2: %v", err)
	}

	c, err := NewController(world, grid, DefaultConfig())
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	c.SetDiagnostics(NopDiagnostics())
	world.SetContactSink(c.ContactSink())

	rec := &recorder{}
	c.AddListener(rec)

	targetA := common.Vec3{X: 8}
	targetB := common.Vec3{X: -8}
	if r := c.RequestMovement(MovementRequest{EntityID: 1, Target: targetA, MaxSpeed: 2, Height: height, Radius: radius}); !r.Success {
		t.Fatalf("agent 1 request failed: %s", r.Message)
	}
	if r := c.RequestMovement(MovementRequest{EntityID: 2, Target: targetB, MaxSpeed: 2, Height: height, Radius: radius}); !r.Success {
		t.Fatalf("agent 2 request failed: %s", r.Message)
	}

	minSeparation := math.MaxFloat64
	for tick := 0; tick < 60*20 && c.ActiveAgents() > 0; tick++ {
		c.UpdateMovement(dt)
		world.Step(dt)

		p1, _ := world.Position(1)
		p2, _ := world.Position(2)
		if d := p1.FlatDistance(p2); d < minSeparation {
			minSeparation = d
		}
	}

	if len(rec.reached) != 2 {
		t.Fatalf("both agents must arrive, got %v", rec.reached)
	}
	if minSeparation < 0.8 {
		t.Fatalf("agents came within %.2fm of each other, minimum is 0.8m", minSeparation)
	}
	p1, _ := world.Position(1)
	p2, _ := world.Position(2)
	if d := p1.FlatDistance(targetA); d > 1.0 {
		t.Fatalf("agent 1 finished %.2fm from its target", d)
	}
	if d := p2.FlatDistance(targetB); d > 1.0 {
		t.Fatalf("agent 2 finished %.2fm from its target", d)
	}
}
