// Package scenario loads declarative simulation setups: terrain, obstacles,
// agents and their goals, movement tuning overrides, and an optional tengo
// script hooked into the tick loop.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/motorsim/navmotor/movement"
)

type Spec struct {
	Name      string           `yaml:"name"`
	Duration  float64          `yaml:"duration"`
	TickRate  int              `yaml:"tick_rate"`
	Gravity   float64          `yaml:"gravity"`
	Terrain   TerrainSpec      `yaml:"terrain"`
	Obstacles []ObstacleSpec   `yaml:"obstacles"`
	Agents    []AgentSpec      `yaml:"agents"`
	Movement  *movement.Config `yaml:"movement"`
	Script    string           `yaml:"script"`
}

type TerrainSpec struct {
	Cols     int        `yaml:"cols"`
	Rows     int        `yaml:"rows"`
	CellSize float64    `yaml:"cell_size"`
	MaxClimb float64    `yaml:"max_climb"`
	Hills    []HillSpec `yaml:"hills"`
}

// HillSpec is a radial bump stamped into the heightfield.
type HillSpec struct {
	X      float64 `yaml:"x"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`
	Height float64 `yaml:"height"`
}

type ObstacleSpec struct {
	ID     uint64  `yaml:"id"`
	X      float64 `yaml:"x"`
	Z      float64 `yaml:"z"`
	Radius float64 `yaml:"radius"`
}

type AgentSpec struct {
	ID       uint64    `yaml:"id"`
	X        float64   `yaml:"x"`
	Z        float64   `yaml:"z"`
	Radius   float64   `yaml:"radius"`
	Height   float64   `yaml:"height"`
	MaxSpeed float64   `yaml:"max_speed"`
	Pushable bool      `yaml:"pushable"`
	Goal     *GoalSpec `yaml:"goal"`
}

type GoalSpec struct {
	X float64 `yaml:"x"`
	Z float64 `yaml:"z"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: load %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a scenario spec and applies defaults. Movement tuning starts
// from movement.DefaultConfig; the yaml only needs the fields it overrides.
func Parse(data []byte) (*Spec, error) {
	defaults := movement.DefaultConfig()
	spec := Spec{Movement: &defaults}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("scenario: unmarshal: %w", err)
	}
	spec.applyDefaults()
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.Duration <= 0 {
		s.Duration = 30
	}
	if s.TickRate <= 0 {
		s.TickRate = 60
	}
	if s.Gravity <= 0 {
		s.Gravity = 9.81
	}
	if s.Terrain.Cols <= 0 {
		s.Terrain.Cols = 32
	}
	if s.Terrain.Rows <= 0 {
		s.Terrain.Rows = 32
	}
	if s.Terrain.CellSize <= 0 {
		s.Terrain.CellSize = 1
	}
	if s.Terrain.MaxClimb <= 0 {
		s.Terrain.MaxClimb = 0.5
	}
	for i := range s.Agents {
		a := &s.Agents[i]
		if a.Radius <= 0 {
			a.Radius = 0.45
		}
		if a.Height <= 0 {
			a.Height = 1.8
		}
		if a.MaxSpeed <= 0 {
			a.MaxSpeed = 2.0
		}
	}
}

func (s *Spec) validate() error {
	seen := make(map[uint64]string)
	for _, a := range s.Agents {
		if a.ID == 0 {
			return fmt.Errorf("scenario: agent ids must be non-zero")
		}
		if prev, dup := seen[a.ID]; dup {
			return fmt.Errorf("scenario: entity id %d used by both %s and agent", a.ID, prev)
		}
		seen[a.ID] = "agent"
	}
	for _, o := range s.Obstacles {
		if o.ID == 0 {
			return fmt.Errorf("scenario: obstacle ids must be non-zero")
		}
		if prev, dup := seen[o.ID]; dup {
			return fmt.Errorf("scenario: entity id %d used by both %s and obstacle", o.ID, prev)
		}
		seen[o.ID] = "obstacle"
		if o.Radius <= 0 {
			return fmt.Errorf("scenario: obstacle %d needs a positive radius", o.ID)
		}
	}
	return nil
}
