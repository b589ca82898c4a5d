package movement

// CharacterState names who has authority over an agent's motion.
type CharacterState int

const (
	// StateGrounded: path follower owns horizontal velocity, grounding
	// motor corrects vertical velocity.
	StateGrounded CharacterState = iota
	// StateAirborne: physics has full authority; controller output is
	// suppressed.
	StateAirborne
	// StateRecovering: horizontal control re-enabled, vertical correction
	// at reduced gain until the height error stabilizes.
	StateRecovering
)

func (s CharacterState) String() string {
	switch s {
	case StateGrounded:
		return "grounded"
	case StateAirborne:
		return "airborne"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// recoveringGainScale lowers the motor gain while re-stabilizing.
const recoveringGainScale = 0.5

// characterState is the interface each concrete state implements.
type characterState interface {
	Name() CharacterState
	Enter(a *agentState)
	// OnGroundContact fires when the classifier reports a new
	// upward-facing ground contact.
	OnGroundContact(a *agentState)
	// OnGroundLost fires when ground contact ends.
	OnGroundLost(a *agentState)
	// OnTick runs once per update with the agent's vertical speed and the
	// stability verdict for this tick.
	OnTick(a *agentState, cfg *Config, verticalSpeed float64, stableNow bool)
}

func (a *agentState) setState(s characterState) {
	if a == nil || s == nil || a.state == s {
		return
	}
	a.state = s
	a.state.Enter(a)
}

// Concrete states

type groundedState struct{}

func (groundedState) Name() CharacterState { return StateGrounded }
func (groundedState) Enter(a *agentState) {
	a.stableTicks = 0
}
func (groundedState) OnGroundContact(a *agentState) {}
func (groundedState) OnGroundLost(a *agentState) {
	a.setState(stateAirborne)
}
func (groundedState) OnTick(a *agentState, cfg *Config, verticalSpeed float64, _ bool) {
	if verticalSpeed > cfg.AirborneSpeedLimit || verticalSpeed < -cfg.AirborneSpeedLimit {
		// falling or knocked back
		a.setState(stateAirborne)
	}
}

type airborneState struct{}

func (airborneState) Name() CharacterState { return StateAirborne }
func (airborneState) Enter(a *agentState) {
	a.stableTicks = 0
}
func (airborneState) OnGroundContact(a *agentState) {
	a.setState(stateRecovering)
}
func (airborneState) OnGroundLost(a *agentState)                         {}
func (airborneState) OnTick(a *agentState, _ *Config, _ float64, _ bool) {}

type recoveringState struct{}

func (recoveringState) Name() CharacterState { return StateRecovering }
func (recoveringState) Enter(a *agentState) {
	a.stableTicks = 0
}
func (recoveringState) OnGroundContact(a *agentState) {}
func (recoveringState) OnGroundLost(a *agentState) {
	a.setState(stateAirborne)
}
func (recoveringState) OnTick(a *agentState, cfg *Config, _ float64, stableNow bool) {
	if stableNow {
		a.stableTicks++
	} else {
		a.stableTicks = 0
	}
	if a.stableTicks >= cfg.StabilityThreshold {
		a.setState(stateGrounded)
	}
}

// singletons for each state to avoid allocating on every transition
var (
	stateGrounded   characterState = groundedState{}
	stateAirborne   characterState = airborneState{}
	stateRecovering characterState = recoveringState{}
)
