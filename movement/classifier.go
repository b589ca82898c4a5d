package movement

import (
	"github.com/motorsim/navmotor/physics"
)

// groundNormalCos: contacts with a normal this vertical or flatter than 45
// degrees count as ground.
const groundNormalCos = 0.7

// surface material presets applied per contact pair. Agent pairs that are
// not mutually pushable get near-zero friction and zero restitution: they
// block but never shove, sliding apart instead. Everything else keeps low
// friction so agents do not stick to obstacles.
var (
	responseBlocking = physics.ContactResponse{Friction: 0.01, Elasticity: 0, Process: true}
	responsePushable = physics.ContactResponse{Friction: 0.2, Elasticity: 0, Process: true}
)

// Classifier turns raw contact manifolds into semantic events: ground
// contact/loss for the state machine, deduplicated collision events for
// listeners, and per-pair material responses for the solver. It implements
// physics.ContactSink.
type Classifier struct {
	cfg Config

	// injected by the controller
	now           func() float64
	groundContact func(id uint64, c physics.Contact, begin bool)
	groundLost    func(id uint64)
	collision     func(ev CollisionEvent)

	lastEvent   map[[2]uint64]float64
	groundPairs map[[2]uint64]struct{}
}

func newClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:         cfg,
		lastEvent:   make(map[[2]uint64]float64),
		groundPairs: make(map[[2]uint64]struct{}),
	}
}

func (cl *Classifier) OnContactBegin(c physics.Contact) physics.ContactResponse {
	return cl.handle(c, true)
}

func (cl *Classifier) OnContactPersist(c physics.Contact) physics.ContactResponse {
	return cl.handle(c, false)
}

// OnContactEnd fires groundLost only for pairs that were classified as
// ground contact on begin or persist. A separating wall or obstacle brush
// never counts, regardless of which sides are static.
func (cl *Classifier) OnContactEnd(a, b physics.EntityRef) {
	if cl == nil {
		return
	}
	key := pairKey(a.ID, b.ID)
	if _, ok := cl.groundPairs[key]; !ok {
		return
	}
	delete(cl.groundPairs, key)
	if id, ok := groundPair(a, b); ok && cl.groundLost != nil {
		cl.groundLost(id)
	}
}

func (cl *Classifier) handle(c physics.Contact, begin bool) physics.ContactResponse {
	if cl == nil {
		return physics.PassThrough()
	}

	if isGroundContact(c) {
		id := c.A.ID
		if c.A.Static {
			id = c.B.ID
		}
		cl.groundPairs[pairKey(c.A.ID, c.B.ID)] = struct{}{}
		if cl.groundContact != nil {
			cl.groundContact(id, c, begin)
		}
		return physics.PassThrough()
	}

	cl.emit(c)

	if !c.A.Static && !c.B.Static {
		// agent vs agent
		if c.A.Pushable && c.B.Pushable {
			return responsePushable
		}
		return responseBlocking
	}
	// agent vs world
	return responsePushable
}

// emit dispatches a generic collision event, rate-limited per ordered
// entity pair so sustained contact does not storm the listeners.
func (cl *Classifier) emit(c physics.Contact) {
	if cl.collision == nil || cl.now == nil {
		return
	}
	key := [2]uint64{c.A.ID, c.B.ID}
	now := cl.now()
	if last, ok := cl.lastEvent[key]; ok && now-last < cl.cfg.CollisionEventCooldown {
		return
	}
	cl.lastEvent[key] = now
	cl.collision(CollisionEvent{
		A:      c.A,
		B:      c.B,
		Point:  c.Point,
		Normal: c.Normal,
		Depth:  c.Depth,
	})
}

// isGroundContact: one static side, one dynamic side, and a normal within
// 45 degrees of vertical.
func isGroundContact(c physics.Contact) bool {
	if c.A.Static == c.B.Static {
		return false
	}
	n := c.Normal
	if n.Y < 0 {
		n = n.Scale(-1)
	}
	return n.Y > groundNormalCos
}

// pairKey orders two entity ids so begin and end lookups agree no matter
// which side the engine reports first.
func pairKey(a, b uint64) [2]uint64 {
	if a > b {
		a, b = b, a
	}
	return [2]uint64{a, b}
}

// groundPair returns the dynamic entity of a static/dynamic pair.
func groundPair(a, b physics.EntityRef) (uint64, bool) {
	if a.Static == b.Static {
		return 0, false
	}
	if a.Static {
		return b.ID, true
	}
	return a.ID, true
}
