package movement

import (
	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/physics"
)

// CollisionEvent is a deduplicated, semantically classified contact between
// two entities. A and B keep the order the physics surface reported.
type CollisionEvent struct {
	A, B   physics.EntityRef
	Point  common.Vec3
	Normal common.Vec3
	Depth  float64
}

// Listener receives movement lifecycle callbacks. Listeners are registered
// per controller instance; callbacks fire synchronously during
// UpdateMovement (and during the physics step for OnCollision).
type Listener interface {
	OnMovementStarted(id uint64, start, target common.Vec3, estimatedTime float64)
	OnMovementProgress(id uint64, percentComplete float64, waypointIndex, totalWaypoints int)
	OnPathBlocked(id uint64, current, blockedWaypoint common.Vec3, isTemporary bool)
	OnPathReplanned(id uint64, current, target common.Vec3, newWaypointCount int, reason string)
	OnDestinationReached(id uint64, position common.Vec3, totalDistance, totalTime float64)
	OnCollision(ev CollisionEvent)
}

// ListenerFuncs adapts individual funcs to the Listener interface; nil
// fields are ignored.
type ListenerFuncs struct {
	Started  func(id uint64, start, target common.Vec3, estimatedTime float64)
	Progress func(id uint64, percentComplete float64, waypointIndex, totalWaypoints int)
	Blocked  func(id uint64, current, blockedWaypoint common.Vec3, isTemporary bool)
	Replan   func(id uint64, current, target common.Vec3, newWaypointCount int, reason string)
	Reached  func(id uint64, position common.Vec3, totalDistance, totalTime float64)
	Collided func(ev CollisionEvent)
}

func (l ListenerFuncs) OnMovementStarted(id uint64, start, target common.Vec3, estimatedTime float64) {
	if l.Started != nil {
		l.Started(id, start, target, estimatedTime)
	}
}

func (l ListenerFuncs) OnMovementProgress(id uint64, percentComplete float64, waypointIndex, totalWaypoints int) {
	if l.Progress != nil {
		l.Progress(id, percentComplete, waypointIndex, totalWaypoints)
	}
}

func (l ListenerFuncs) OnPathBlocked(id uint64, current, blockedWaypoint common.Vec3, isTemporary bool) {
	if l.Blocked != nil {
		l.Blocked(id, current, blockedWaypoint, isTemporary)
	}
}

func (l ListenerFuncs) OnPathReplanned(id uint64, current, target common.Vec3, newWaypointCount int, reason string) {
	if l.Replan != nil {
		l.Replan(id, current, target, newWaypointCount, reason)
	}
}

func (l ListenerFuncs) OnDestinationReached(id uint64, position common.Vec3, totalDistance, totalTime float64) {
	if l.Reached != nil {
		l.Reached(id, position, totalDistance, totalTime)
	}
}

func (l ListenerFuncs) OnCollision(ev CollisionEvent) {
	if l.Collided != nil {
		l.Collided(ev)
	}
}
