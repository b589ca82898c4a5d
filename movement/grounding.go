package movement

import "github.com/motorsim/navmotor/common"

// GroundingMotor is the vertical proportional controller that keeps an
// agent's feet on the walkable surface. It never teleports; it only shapes
// vertical velocity, so the physics solver stays authoritative.
type GroundingMotor struct {
	cfg Config
}

func NewGroundingMotor(cfg Config) *GroundingMotor {
	return &GroundingMotor{cfg: cfg}
}

// Correct returns the new vertical velocity for one tick. gainScale lowers
// the effective gain (used while recovering, to avoid re-triggering
// oscillation). The damping term bleeds off retained velocity so the
// proportional command dominates and overshoot dies out.
func (m *GroundingMotor) Correct(currentY, targetY, currentVY, gainScale float64) (newVY, heightError float64) {
	heightError = targetY - currentY
	raw := heightError * m.cfg.HeightCorrectionStrength
	correction := common.Clamp(raw, -m.cfg.MaxVerticalCorrection, m.cfg.MaxVerticalCorrection)
	delta := correction * m.cfg.MotorStrength * gainScale
	newVY = currentVY*(1-m.cfg.VerticalDamping) + delta
	return newVY, heightError
}

// Stable reports whether the error is inside the tolerance band.
func (m *GroundingMotor) Stable(heightError float64) bool {
	if heightError < 0 {
		heightError = -heightError
	}
	return heightError < m.cfg.HeightErrorTolerance
}
