package movement

import (
	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/physics"
)

// PhysicsSurface is the slice of the rigid-body world the controller
// consumes. *physics.World satisfies it; tests may substitute fakes.
type PhysicsSurface interface {
	Registered(id uint64) bool
	IsStatic(id uint64) bool
	Position(id uint64) (common.Vec3, bool)
	Velocity(id uint64) (common.Vec3, bool)
	SetVelocity(id uint64, v common.Vec3) bool
	Warp(id uint64, pos common.Vec3) bool
	QueryRadius(exclude uint64, center common.Vec3, radius float64, max int) []physics.EntityRef
	Gravity() float64
}

// NavSurface is the navmesh query surface. *navmesh.Grid satisfies it.
type NavSurface interface {
	FindPath(start, goal, extents common.Vec3) ([]common.Vec3, bool)
	FindNearest(p, extents common.Vec3) (common.Vec3, bool)
	HeightAt(x, z float64) float64
}

// Neighbor is a read-only snapshot of a nearby entity used by the avoidance
// layer. Snapshots are captured before the tick's controller pass so no
// agent observes another agent's same-tick output.
type Neighbor struct {
	ID       uint64
	Static   bool
	Pushable bool
	Pos      common.Vec3
	Vel      common.Vec3
}
