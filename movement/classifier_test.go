package movement

import (
	"testing"

	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/physics"
)

func agentRef(id uint64, pushable bool) physics.EntityRef {
	return physics.EntityRef{ID: id, Pushable: pushable}
}

func staticRef(id uint64) physics.EntityRef {
	return physics.EntityRef{ID: id, Static: true}
}

func TestClassifierGroundContact(t *testing.T) {
	cl := newClassifier(DefaultConfig())
	cl.now = func() float64 { return 0 }

	var groundID uint64
	var collisions int
	cl.groundContact = func(id uint64, c physics.Contact, begin bool) { groundID = id }
	cl.collision = func(ev CollisionEvent) { collisions++ }

	tests := []struct {
		name       string
		contact    physics.Contact
		wantGround bool
	}{
		{
			name: "terrain below agent",
			contact: physics.Contact{
				A:      staticRef(physics.TerrainID),
				B:      agentRef(7, false),
				Normal: common.Vec3{Y: 1},
			},
			wantGround: true,
		},
		{
			name: "terrain below agent, flipped normal",
			contact: physics.Contact{
				A:      agentRef(7, false),
				B:      staticRef(physics.TerrainID),
				Normal: common.Vec3{Y: -1},
			},
			wantGround: true,
		},
		{
			name: "wall beside agent",
			contact: physics.Contact{
				A:      staticRef(42),
				B:      agentRef(7, false),
				Normal: common.Vec3{X: 1},
			},
			wantGround: false,
		},
		{
			name: "agent bumping agent vertically",
			contact: physics.Contact{
				A:      agentRef(7, false),
				B:      agentRef(8, false),
				Normal: common.Vec3{Y: 1},
			},
			wantGround: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groundID = 0
			collisions = 0
			cl.lastEvent = map[[2]uint64]float64{}

			cl.OnContactBegin(tt.contact)
			if tt.wantGround {
				if groundID != 7 {
					t.Fatalf("ground contact should resolve to the dynamic entity, got %d", groundID)
				}
				if collisions != 0 {
					t.Fatalf("ground contact must not emit a collision event")
				}
			} else {
				if groundID != 0 {
					t.Fatalf("non-ground contact classified as ground for entity %d", groundID)
				}
				if collisions != 1 {
					t.Fatalf("want 1 collision event, got %d", collisions)
				}
			}
		})
	}
}

func TestClassifierMaterialResponse(t *testing.T) {
	cl := newClassifier(DefaultConfig())
	cl.now = func() float64 { return 0 }

	sideways := common.Vec3{X: 1}
	tests := []struct {
		name    string
		contact physics.Contact
		want    physics.ContactResponse
	}{
		{
			name:    "both pushable agents shove",
			contact: physics.Contact{A: agentRef(1, true), B: agentRef(2, true), Normal: sideways},
			want:    responsePushable,
		},
		{
			name:    "one rigid agent blocks",
			contact: physics.Contact{A: agentRef(1, true), B: agentRef(2, false), Normal: sideways},
			want:    responseBlocking,
		},
		{
			name:    "agent against obstacle slides",
			contact: physics.Contact{A: agentRef(1, false), B: staticRef(42), Normal: sideways},
			want:    responsePushable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cl.OnContactBegin(tt.contact); got != tt.want {
				t.Fatalf("response = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClassifierCollisionEventDedup(t *testing.T) {
	cfg := DefaultConfig()
	cl := newClassifier(cfg)

	now := 0.0
	cl.now = func() float64 { return now }

	var events []CollisionEvent
	cl.collision = func(ev CollisionEvent) { events = append(events, ev) }

	contact := physics.Contact{
		A:      agentRef(1, false),
		B:      agentRef(2, false),
		Normal: common.Vec3{X: 1},
	}

	// sustained contact inside the cooldown window: one event only
	for i := 0; i < 10; i++ {
		cl.OnContactPersist(contact)
		now += cfg.CollisionEventCooldown / 20
	}
	if len(events) != 1 {
		t.Fatalf("want 1 event during cooldown, got %d", len(events))
	}

	// once the cooldown elapses the pair may fire again
	now += cfg.CollisionEventCooldown
	cl.OnContactPersist(contact)
	if len(events) != 2 {
		t.Fatalf("want 2 events after cooldown, got %d", len(events))
	}

	// a different pair is tracked independently
	other := contact
	other.B = agentRef(3, false)
	cl.OnContactPersist(other)
	if len(events) != 3 {
		t.Fatalf("distinct pairs must not share a cooldown, got %d events", len(events))
	}
}

func TestClassifierGroundLost(t *testing.T) {
	cl := newClassifier(DefaultConfig())
	cl.now = func() float64 { return 0 }

	var lost []uint64
	cl.groundLost = func(id uint64) { lost = append(lost, id) }

	cl.OnContactBegin(physics.Contact{
		A:      staticRef(physics.TerrainID),
		B:      agentRef(9, false),
		Normal: common.Vec3{Y: 1},
	})
	cl.OnContactEnd(staticRef(physics.TerrainID), agentRef(9, false))
	cl.OnContactEnd(agentRef(1, false), agentRef(2, false)) // not a ground pair

	if len(lost) != 1 || lost[0] != 9 {
		t.Fatalf("ground lost should fire once for entity 9, got %v", lost)
	}

	// the pair was cleared on end: a second separation is silent
	cl.OnContactEnd(staticRef(physics.TerrainID), agentRef(9, false))
	if len(lost) != 1 {
		t.Fatalf("stale ground pair re-fired, got %v", lost)
	}
}

func TestClassifierWallBrushKeepsGround(t *testing.T) {
	cl := newClassifier(DefaultConfig())
	cl.now = func() float64 { return 0 }

	var lost []uint64
	cl.groundLost = func(id uint64) { lost = append(lost, id) }

	// agent 7 stands on terrain and brushes a static wall in passing
	cl.OnContactBegin(physics.Contact{
		A:      staticRef(physics.TerrainID),
		B:      agentRef(7, false),
		Normal: common.Vec3{Y: 1},
	})
	cl.OnContactBegin(physics.Contact{
		A:      staticRef(42),
		B:      agentRef(7, false),
		Normal: common.Vec3{X: 1},
	})
	cl.OnContactEnd(staticRef(42), agentRef(7, false))

	if len(lost) != 0 {
		t.Fatalf("leaving a wall must not report ground loss, got %v", lost)
	}

	// actually stepping off the terrain still does
	cl.OnContactEnd(staticRef(physics.TerrainID), agentRef(7, false))
	if len(lost) != 1 || lost[0] != 7 {
		t.Fatalf("ground lost should fire for entity 7, got %v", lost)
	}
}
