package scenario

import (
	"fmt"
	"math"

	"github.com/d5/tengo/v2"

	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/movement"
	"github.com/motorsim/navmotor/navmesh"
	"github.com/motorsim/navmotor/physics"
)

// obstaclePadding widens navmesh blocking around obstacles so planned paths
// leave clearance for an agent body.
const obstaclePadding = 0.45

// Sim is a fully wired simulation built from a Spec: terrain, physics world,
// movement controller, and an optional script driving goals at tick
// boundaries.
type Sim struct {
	Spec       *Spec
	Grid       *navmesh.Grid
	World      *physics.World
	Controller *movement.Controller
	Script     *Script

	api     *tengo.ImmutableMap
	now     float64
	started bool
	logf    func(format string, args ...any)

	reached map[uint64]bool
}

// Build constructs the simulation described by spec. The terrain heightfield,
// obstacle set and agent bodies are created up front; agents with declared
// goals are routed on the first Step.
func Build(spec *Spec) (*Sim, error) {
	if spec == nil {
		return nil, fmt.Errorf("scenario: nil spec")
	}

	grid := buildTerrain(spec.Terrain)
	world := physics.NewWorld(grid, spec.Gravity)

	for _, o := range spec.Obstacles {
		center := common.Vec3{X: o.X, Y: grid.HeightAt(o.X, o.Z), Z: o.Z}
		if err := world.AddObstacle(o.ID, center, o.Radius); err != nil {
			return nil, fmt.Errorf("scenario: obstacle %d: %w", o.ID, err)
		}
		grid.BlockCircle(center, o.Radius, obstaclePadding)
	}

	cfg := movement.DefaultConfig()
	if spec.Movement != nil {
		cfg = *spec.Movement
	}
	ctrl, err := movement.NewController(world, grid, cfg)
	if err != nil {
		return nil, fmt.Errorf("scenario: controller: %w", err)
	}
	world.SetContactSink(ctrl.ContactSink())

	for _, a := range spec.Agents {
		spawn := common.Vec3{
			X: a.X,
			Y: grid.HeightAt(a.X, a.Z) + a.Height/2,
			Z: a.Z,
		}
		err := world.AddAgent(a.ID, spawn, physics.AgentOptions{
			Radius:   a.Radius,
			Height:   a.Height,
			Pushable: a.Pushable,
		})
		if err != nil {
			return nil, fmt.Errorf("scenario: agent %d: %w", a.ID, err)
		}
	}

	sim := &Sim{
		Spec:       spec,
		Grid:       grid,
		World:      world,
		Controller: ctrl,
		logf:       func(string, ...any) {},
		reached:    make(map[uint64]bool),
	}
	sim.api = buildSimAPI(sim)

	if spec.Script != "" {
		script, err := LoadScript(spec.Script)
		if err != nil {
			return nil, err
		}
		sim.Script = script
	}

	ctrl.AddListener(movement.ListenerFuncs{
		Reached: func(id uint64, pos common.Vec3, traveled, elapsed float64) {
			sim.reached[id] = true
		},
	})
	return sim, nil
}

// SetLogf installs the sink for script log output.
func (s *Sim) SetLogf(logf func(format string, args ...any)) {
	if s == nil || logf == nil {
		return
	}
	s.logf = logf
}

// Step advances the simulation by dt: scenario script first, then the
// movement controller, then the physics world.
func (s *Sim) Step(dt float64) error {
	if s == nil || dt <= 0 {
		return nil
	}
	if !s.started {
		s.started = true
		s.dispatchGoals()
		if s.Script != nil {
			if err := s.Script.RunStart(s.api); err != nil {
				return fmt.Errorf("scenario: on_start: %w", err)
			}
		}
	}
	s.now += dt
	if s.Script != nil {
		if err := s.Script.RunTick(s.api, s.now); err != nil {
			return fmt.Errorf("scenario: on_tick: %w", err)
		}
	}
	s.Controller.UpdateMovement(dt)
	s.World.Step(dt)
	return nil
}

// Run steps the simulation for the spec's duration at its tick rate and
// returns the elapsed simulated time. It stops early once every goal-bearing
// agent has arrived and no script is driving further goals.
func (s *Sim) Run() (float64, error) {
	if s == nil || s.Spec == nil {
		return 0, fmt.Errorf("scenario: nil sim")
	}
	dt := 1.0 / float64(s.Spec.TickRate)
	ticks := int(math.Ceil(s.Spec.Duration / dt))
	for i := 0; i < ticks; i++ {
		if err := s.Step(dt); err != nil {
			return s.now, err
		}
		if s.Script == nil && s.started && s.Controller.ActiveAgents() == 0 {
			break
		}
	}
	return s.now, nil
}

// Now returns the simulated clock.
func (s *Sim) Now() float64 {
	if s == nil {
		return 0
	}
	return s.now
}

// Reached reports whether the agent has arrived at a requested destination.
func (s *Sim) Reached(id uint64) bool {
	if s == nil {
		return false
	}
	return s.reached[id]
}

// MoveAgent routes an agent toward a ground position, used by both declared
// goals and script calls.
func (s *Sim) MoveAgent(id uint64, x, z float64, maxSpeed float64) bool {
	if s == nil {
		return false
	}
	var radius, height float64
	for _, a := range s.Spec.Agents {
		if a.ID == id {
			radius = a.Radius
			height = a.Height
			if maxSpeed <= 0 {
				maxSpeed = a.MaxSpeed
			}
			break
		}
	}
	resp := s.Controller.RequestMovement(movement.MovementRequest{
		EntityID: id,
		Target:   common.Vec3{X: x, Y: s.Grid.HeightAt(x, z), Z: z},
		MaxSpeed: maxSpeed,
		Height:   height,
		Radius:   radius,
	})
	if !resp.Success {
		s.logf("agent %d: %s", id, resp.Message)
	}
	return resp.Success
}

func (s *Sim) dispatchGoals() {
	for _, a := range s.Spec.Agents {
		if a.Goal == nil {
			continue
		}
		s.MoveAgent(a.ID, a.Goal.X, a.Goal.Z, a.MaxSpeed)
	}
}

// buildTerrain stamps the spec's hills into a fresh heightfield. Hills use a
// raised-cosine profile so slopes stay smooth at the rim.
func buildTerrain(t TerrainSpec) *navmesh.Grid {
	grid := navmesh.NewGrid(t.Cols, t.Rows, t.CellSize)
	grid.SetMaxClimb(t.MaxClimb)
	if len(t.Hills) == 0 {
		return grid
	}
	half := t.CellSize / 2
	originX := -float64(t.Cols) * half
	originZ := -float64(t.Rows) * half
	for row := 0; row < t.Rows; row++ {
		for col := 0; col < t.Cols; col++ {
			x := originX + (float64(col)+0.5)*t.CellSize
			z := originZ + (float64(row)+0.5)*t.CellSize
			h := 0.0
			for _, hill := range t.Hills {
				if hill.Radius <= 0 {
					continue
				}
				d := math.Hypot(x-hill.X, z-hill.Z)
				if d >= hill.Radius {
					continue
				}
				h += hill.Height * 0.5 * (1 + math.Cos(math.Pi*d/hill.Radius))
			}
			if h != 0 {
				grid.SetHeight(col, row, h)
			}
		}
	}
	return grid
}
