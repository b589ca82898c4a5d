package scenario

import (
	"testing"

	"github.com/d5/tengo/v2"
)

func TestScriptHooksAndState(t *testing.T) {
	script, err := CompileScript([]byte(`
on_start := func(sim, state) {
	state.count = 1
}

on_tick := func(sim, state, now) {
	state.count += 1
	state.last = now
}
`))
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}

	if err := script.RunStart(nil); err != nil {
		t.Fatalf("RunStart: %v", err)
	}
	if err := script.RunTick(nil, 0.5); err != nil {
		t.Fatalf("RunTick: %v", err)
	}
	if err := script.RunTick(nil, 1.0); err != nil {
		t.Fatalf("RunTick: %v", err)
	}

	count, ok := script.state.Value["count"].(*tengo.Int)
	if !ok || count.Value != 3 {
		t.Fatalf("state.count = %v, want 3", script.state.Value["count"])
	}
	last, ok := script.state.Value["last"].(*tengo.Float)
	if !ok || last.Value != 1.0 {
		t.Fatalf("state.last = %v, want 1.0", script.state.Value["last"])
	}
}

func TestScriptRequiresBothHooks(t *testing.T) {
	// the dispatch block references both hooks, so a script that omits one
	// fails at compile time rather than at run time
	if _, err := CompileScript([]byte(`
on_tick := func(sim, state, now) {
	state.ticked = true
}
`)); err == nil {
		t.Fatal("script missing on_start must fail to compile")
	}
}

func TestScriptCompileError(t *testing.T) {
	if _, err := CompileScript([]byte(`on_tick := func(`)); err == nil {
		t.Fatal("malformed script must fail to compile")
	}
}

func TestScriptSimAPI(t *testing.T) {
	spec, err := Parse([]byte(`
duration: 5
agents:
  - id: 1
    x: -4
    z: 0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	sim, err := Build(spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	script, err := CompileScript([]byte(`
on_start := func(sim, state) {
	state.requested = sim.request_movement(1, 4.0, 0.0)
	state.bogus = sim.request_movement(99, 4.0, 0.0)
	pos := sim.agent_position(1)
	state.start_x = pos[0]
}

on_tick := func(sim, state, now) {
}
`))
	if err != nil {
		t.Fatalf("CompileScript: %v", err)
	}
	sim.Script = script

	if err := sim.Step(1.0 / 60.0); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if v, ok := script.state.Value["requested"]; !ok || v.IsFalsy() {
		t.Fatalf("request_movement(1) = %v, want true", v)
	}
	if v, ok := script.state.Value["bogus"]; !ok || !v.IsFalsy() {
		t.Fatalf("request_movement for an unknown agent = %v, want false", v)
	}
	startX, ok := script.state.Value["start_x"].(*tengo.Float)
	if !ok || startX.Value != -4 {
		t.Fatalf("agent_position returned %v, want x=-4", script.state.Value["start_x"])
	}
	if sim.Controller.ActiveAgents() != 1 {
		t.Fatalf("script request did not register the agent: %d active", sim.Controller.ActiveAgents())
	}
}
