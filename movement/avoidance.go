package movement

import (
	"sort"

	"github.com/motorsim/navmotor/common"
)

const (
	// prediction horizon and replan threshold for time-to-collision
	collisionHorizon = 2.0
	headOnHorizon    = 1.5
	// dot-product thresholds: "roughly ahead" and "moving back toward us"
	aheadDot  = 0.5
	mutualDot = 0.5
	// 45 degree forward cone for CanAvoidLocally
	forwardConeDot = 0.70710678
	// how many blockers in the cone force a full replan
	replanObstacleCount = 3

	ttcEpsilon = 1e-3
)

// CollisionPrediction describes an anticipated convergence with another
// entity. Recomputed every avoidance evaluation, never stored.
type CollisionPrediction struct {
	Other           uint64
	TimeToCollision float64
	Distance        float64
	IsHeadOn        bool
	ShouldReplan    bool
}

// LocalAvoidance computes short-horizon steering adjustments that keep
// agents apart without replanning.
type LocalAvoidance struct {
	separationRadius float64
	avoidanceRadius  float64
	separationWeight float64
	avoidanceWeight  float64
}

func NewLocalAvoidance(cfg Config) *LocalAvoidance {
	return &LocalAvoidance{
		separationRadius: cfg.SeparationRadius,
		avoidanceRadius:  cfg.LocalAvoidanceRadius,
		separationWeight: cfg.SeparationWeight,
		avoidanceWeight:  cfg.AvoidanceWeight,
	}
}

// CalculateAvoidanceVelocity blends separation and predictive steering into
// the desired velocity, then renormalizes so the output speed equals the
// desired speed exactly: steering changes direction, never speed.
func (la *LocalAvoidance) CalculateAvoidanceVelocity(pos, desired common.Vec3, neighbors []Neighbor) common.Vec3 {
	speed := desired.FlatLength()
	if speed == 0 || len(neighbors) == 0 {
		return desired
	}

	steer := desired.Flat()
	steer = steer.Add(la.separationForce(pos, neighbors).Scale(la.separationWeight))
	steer = steer.Add(la.predictiveForce(pos, desired, neighbors).Scale(la.avoidanceWeight))

	if steer.FlatLength() == 0 {
		return desired
	}
	out := steer.Normalized().Scale(speed)
	out.Y = desired.Y
	return out
}

// separationForce is an inverse-square repulsion from each neighbor inside
// the separation radius.
func (la *LocalAvoidance) separationForce(pos common.Vec3, neighbors []Neighbor) common.Vec3 {
	var force common.Vec3
	for _, n := range neighbors {
		away := pos.Flat().Sub(n.Pos.Flat())
		d := away.Length()
		if d <= 0 || d >= la.separationRadius {
			continue
		}
		force = force.Add(away.Normalized().Scale(1 / (d * d)))
	}
	return force
}

// predictiveForce steers perpendicular to the travel direction, away from
// each predicted collision, scaled by urgency.
func (la *LocalAvoidance) predictiveForce(pos, desired common.Vec3, neighbors []Neighbor) common.Vec3 {
	travelDir := desired.Flat().Normalized()
	if travelDir.FlatLength() == 0 {
		return common.Vec3{}
	}
	var force common.Vec3
	for _, n := range neighbors {
		pred, ok := la.PredictPathCollision(pos, desired, pos.Add(desired), n)
		if !ok {
			continue
		}
		rel := n.Pos.Flat().Sub(pos.Flat())
		// sign of the cross-track component picks the side away from the
		// other agent; on an exact tie both agents fall to +1 in their own
		// frames, which are opposite in world space, so they split apart
		cross := travelDir.Z*rel.X - travelDir.X*rel.Z
		side := 1.0
		if cross < 0 {
			side = -1.0
		}
		perp := common.Vec3{X: -travelDir.Z, Z: travelDir.X}.Scale(side)
		mag := (1 - pred.Distance/la.avoidanceRadius) / (pred.TimeToCollision + ttcEpsilon)
		if mag <= 0 {
			continue
		}
		force = force.Add(perp.Scale(mag))
	}
	return force
}

// PredictPathCollision estimates whether the agent's current motion
// converges with another entity inside the prediction horizon. Valid only
// when the other entity is inside the avoidance radius, roughly ahead, and
// actually closing.
func (la *LocalAvoidance) PredictPathCollision(pos, vel, nextWaypoint common.Vec3, other Neighbor) (CollisionPrediction, bool) {
	rel := other.Pos.Flat().Sub(pos.Flat())
	dist := rel.Length()
	if dist <= 0 || dist > la.avoidanceRadius {
		return CollisionPrediction{}, false
	}
	relDir := rel.Normalized()

	travelDir := vel.Flat().Normalized()
	if travelDir.FlatLength() == 0 {
		travelDir = nextWaypoint.Flat().Sub(pos.Flat()).Normalized()
	}
	if travelDir.FlatLength() == 0 {
		return CollisionPrediction{}, false
	}
	if travelDir.Dot(relDir) <= aheadDot {
		return CollisionPrediction{}, false
	}

	// closing speed along the line between the two entities
	closing := vel.Flat().Sub(other.Vel.Flat()).Dot(relDir)
	if closing <= 0 {
		return CollisionPrediction{}, false
	}
	ttc := dist / (closing + ttcEpsilon)
	if ttc >= collisionHorizon {
		return CollisionPrediction{}, false
	}

	headOn := false
	otherDir := other.Vel.Flat().Normalized()
	if otherDir.FlatLength() > 0 && otherDir.Dot(relDir.Scale(-1)) > mutualDot {
		headOn = true
	}

	return CollisionPrediction{
		Other:           other.ID,
		TimeToCollision: ttc,
		Distance:        dist,
		IsHeadOn:        headOn,
		ShouldReplan:    headOn && ttc < headOnHorizon,
	}, true
}

// PredictCollisions evaluates every neighbor and returns predictions sorted
// by ascending time-to-collision.
func (la *LocalAvoidance) PredictCollisions(pos, vel, nextWaypoint common.Vec3, neighbors []Neighbor) []CollisionPrediction {
	preds := make([]CollisionPrediction, 0, len(neighbors))
	for _, n := range neighbors {
		if pred, ok := la.PredictPathCollision(pos, vel, nextWaypoint, n); ok {
			preds = append(preds, pred)
		}
	}
	sort.Slice(preds, func(i, j int) bool {
		return preds[i].TimeToCollision < preds[j].TimeToCollision
	})
	return preds
}

// CanAvoidLocally reports whether steering alone can get past the obstacles
// between currentPos and targetPos. Three or more blockers inside the
// separation radius and a 45 degree forward cone mean a full replan is the
// better move.
func (la *LocalAvoidance) CanAvoidLocally(currentPos, targetPos common.Vec3, obstacles []Neighbor) bool {
	dir := targetPos.Flat().Sub(currentPos.Flat()).Normalized()
	if dir.FlatLength() == 0 {
		return true
	}
	count := 0
	for _, o := range obstacles {
		rel := o.Pos.Flat().Sub(currentPos.Flat())
		d := rel.Length()
		if d <= 0 || d > la.separationRadius {
			continue
		}
		if dir.Dot(rel.Normalized()) <= forwardConeDot {
			continue
		}
		count++
		if count >= replanObstacleCount {
			return false
		}
	}
	return true
}
