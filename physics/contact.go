package physics

import "github.com/motorsim/navmotor/common"

// TerrainID is the reserved entity id reported for contacts with the
// walkable terrain surface.
const TerrainID uint64 = 0

// EntityRef identifies one side of a contact.
type EntityRef struct {
	ID       uint64
	Static   bool
	Pushable bool
}

// Contact is a single contact manifold between two entities. Normal points
// from A toward B.
type Contact struct {
	A, B   EntityRef
	Point  common.Vec3
	Normal common.Vec3
	Depth  float64
}

// ContactResponse configures how the solver treats a contact pair.
// Friction and Elasticity override the pair's surface properties; when
// Process is false the solver drops the pair entirely (overlap allowed,
// no impulses).
type ContactResponse struct {
	Friction   float64
	Elasticity float64
	Process    bool
}

// PassThrough keeps the solver's default handling for a pair.
func PassThrough() ContactResponse {
	return ContactResponse{Friction: -1, Elasticity: -1, Process: true}
}

// ContactSink receives contact lifecycle callbacks from the world. Begin and
// Persist return the response applied to the pair for that step. Implemented
// by the movement package's collision classifier; the sink never sees the
// underlying physics engine's types.
type ContactSink interface {
	OnContactBegin(c Contact) ContactResponse
	OnContactPersist(c Contact) ContactResponse
	OnContactEnd(a, b EntityRef)
}
