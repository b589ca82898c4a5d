package movement

import (
	"fmt"

	"github.com/motorsim/navmotor/common"
)

// Config holds every tunable the movement subsystem recognizes. Gains were
// tuned empirically; Validate rejects sets that cannot work before a
// simulation starts.
type Config struct {
	// Path following
	PathValidationInterval float64     `yaml:"path_validation_interval"`
	ReplanCooldown         float64     `yaml:"replan_cooldown"`
	SearchExtents          common.Vec3 `yaml:"search_extents"`
	WaypointRadius         float64     `yaml:"waypoint_radius"`
	ArrivalThreshold       float64     `yaml:"arrival_threshold"`
	StuckTickThreshold     int         `yaml:"stuck_tick_threshold"`
	StuckEpsilon           float64     `yaml:"stuck_epsilon"`

	// Local avoidance
	EnableLocalAvoidance      bool    `yaml:"enable_local_avoidance"`
	EnableAutomaticReplanning bool    `yaml:"enable_automatic_replanning"`
	TryLocalAvoidanceFirst    bool    `yaml:"try_local_avoidance_first"`
	LocalAvoidanceRadius      float64 `yaml:"local_avoidance_radius"`
	MaxAvoidanceNeighbors     int     `yaml:"max_avoidance_neighbors"`
	SeparationRadius          float64 `yaml:"separation_radius"`
	SeparationWeight          float64 `yaml:"separation_weight"`
	AvoidanceWeight           float64 `yaml:"avoidance_weight"`

	// Grounding motor
	FloorLevelTolerance      float64 `yaml:"floor_level_tolerance"`
	MotorStrength            float64 `yaml:"motor_strength"`
	HeightCorrectionStrength float64 `yaml:"height_correction_strength"`
	MaxVerticalCorrection    float64 `yaml:"max_vertical_correction"`
	HeightErrorTolerance     float64 `yaml:"height_error_tolerance"`
	VerticalDamping          float64 `yaml:"vertical_damping"`
	StabilityThreshold       int     `yaml:"stability_threshold"`

	// Character state
	AirborneSpeedLimit float64 `yaml:"airborne_speed_limit"`

	// Collision events
	CollisionEventCooldown float64 `yaml:"collision_event_cooldown"`
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		PathValidationInterval: 1.0,
		ReplanCooldown:         1.0,
		SearchExtents:          common.Vec3{X: 2, Y: 4, Z: 2},
		WaypointRadius:         0.4,
		ArrivalThreshold:       0.5,
		StuckTickThreshold:     30,
		StuckEpsilon:           0.005,

		EnableLocalAvoidance:      true,
		EnableAutomaticReplanning: true,
		TryLocalAvoidanceFirst:    true,
		LocalAvoidanceRadius:      3.0,
		MaxAvoidanceNeighbors:     8,
		SeparationRadius:          1.5,
		SeparationWeight:          1.0,
		AvoidanceWeight:           1.5,

		FloorLevelTolerance:      1.0,
		MotorStrength:            1.0,
		HeightCorrectionStrength: 12.0,
		MaxVerticalCorrection:    5.0,
		HeightErrorTolerance:     0.05,
		VerticalDamping:          0.85,
		StabilityThreshold:       10,

		AirborneSpeedLimit: 3.0,

		CollisionEventCooldown: 0.25,
	}
}

// Validate checks the configuration against the world's gravitational
// acceleration. The motor must be able to beat gravity anywhere inside the
// declared operating envelope (FloorLevelTolerance), otherwise agents sink
// no matter how long the motor runs.
func (c Config) Validate(gravity float64) error {
	if c.HeightCorrectionStrength <= 0 {
		return fmt.Errorf("movement: height_correction_strength must be positive, got %g", c.HeightCorrectionStrength)
	}
	if c.MotorStrength <= 0 {
		return fmt.Errorf("movement: motor_strength must be positive, got %g", c.MotorStrength)
	}
	if c.MaxVerticalCorrection <= 0 {
		return fmt.Errorf("movement: max_vertical_correction must be positive, got %g", c.MaxVerticalCorrection)
	}
	if c.HeightErrorTolerance <= 0 {
		return fmt.Errorf("movement: height_error_tolerance must be positive, got %g", c.HeightErrorTolerance)
	}
	if c.FloorLevelTolerance <= 0 {
		return fmt.Errorf("movement: floor_level_tolerance must be positive, got %g", c.FloorLevelTolerance)
	}
	if c.VerticalDamping < 0 || c.VerticalDamping >= 1 {
		return fmt.Errorf("movement: vertical_damping must be in [0, 1), got %g", c.VerticalDamping)
	}
	if c.StabilityThreshold <= 0 {
		return fmt.Errorf("movement: stability_threshold must be positive, got %d", c.StabilityThreshold)
	}
	if gravity > 0 {
		// envelope gain check: correction velocity at the edge of the
		// operating envelope must exceed gravity
		lift := c.HeightCorrectionStrength * c.FloorLevelTolerance * c.MotorStrength
		if lift <= gravity {
			return fmt.Errorf("movement: grounding gains too weak: height_correction_strength*floor_level_tolerance*motor_strength = %g must exceed gravity %g", lift, gravity)
		}
	}
	if c.LocalAvoidanceRadius <= 0 {
		return fmt.Errorf("movement: local_avoidance_radius must be positive, got %g", c.LocalAvoidanceRadius)
	}
	if c.SeparationRadius <= 0 {
		return fmt.Errorf("movement: separation_radius must be positive, got %g", c.SeparationRadius)
	}
	if c.MaxAvoidanceNeighbors <= 0 {
		return fmt.Errorf("movement: max_avoidance_neighbors must be positive, got %d", c.MaxAvoidanceNeighbors)
	}
	if c.ReplanCooldown < 0 {
		return fmt.Errorf("movement: replan_cooldown must not be negative, got %g", c.ReplanCooldown)
	}
	return nil
}
