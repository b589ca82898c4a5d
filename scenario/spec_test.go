package scenario

import (
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	spec, err := Parse([]byte(`
name: minimal
agents:
  - id: 1
    x: 0
    z: 0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Duration != 30 || spec.TickRate != 60 || spec.Gravity != 9.81 {
		t.Fatalf("run defaults wrong: %+v", spec)
	}
	if spec.Terrain.Cols != 32 || spec.Terrain.Rows != 32 || spec.Terrain.CellSize != 1 {
		t.Fatalf("terrain defaults wrong: %+v", spec.Terrain)
	}
	a := spec.Agents[0]
	if a.Radius != 0.45 || a.Height != 1.8 || a.MaxSpeed != 2.0 {
		t.Fatalf("agent defaults wrong: %+v", a)
	}
	if spec.Movement == nil {
		t.Fatal("movement config must default, not stay nil")
	}
	if err := spec.Movement.Validate(spec.Gravity); err != nil {
		t.Fatalf("default movement config invalid: %v", err)
	}
}

func TestParseMovementOverride(t *testing.T) {
	spec, err := Parse([]byte(`
movement:
  waypoint_radius: 0.75
  enable_local_avoidance: false
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.Movement.WaypointRadius != 0.75 {
		t.Fatalf("override lost: %+v", spec.Movement)
	}
	if spec.Movement.EnableLocalAvoidance {
		t.Fatal("boolean override lost")
	}
	// untouched fields keep their defaults
	if spec.Movement.ArrivalThreshold != 0.5 {
		t.Fatalf("unrelated field changed: %+v", spec.Movement)
	}
}

func TestParseRejectsBadSpecs(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "zero agent id",
			yaml: "agents:\n  - id: 0\n",
			want: "non-zero",
		},
		{
			name: "duplicate ids across kinds",
			yaml: "agents:\n  - id: 5\nobstacles:\n  - id: 5\n    radius: 1\n",
			want: "used by both",
		},
		{
			name: "obstacle without radius",
			yaml: "obstacles:\n  - id: 9\n",
			want: "positive radius",
		},
		{
			name: "malformed yaml",
			yaml: "agents: [",
			want: "unmarshal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("want error containing %q, got nil", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
