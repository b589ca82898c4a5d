package scenario

import (
	"fmt"
	"os"
	"strings"

	"github.com/d5/tengo/v2"
	"github.com/d5/tengo/v2/stdlib"
)

// hookDispatchScript is appended to every scenario script. The host sets
// __phase and runs the compiled program once per hook. Scripts must define
// both on_start and on_tick; tengo rejects unresolved references at compile
// time.
const hookDispatchScript = `
if __phase == "start" {
	on_start(__sim, __state)
} else if __phase == "tick" {
	on_tick(__sim, __state, __now)
}
`

// Script is a compiled tengo scenario script with persistent state across
// hook invocations.
type Script struct {
	path     string
	compiled *tengo.Compiled
	state    *tengo.Map
}

// LoadScript reads and compiles a scenario script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: load script %s: %w", path, err)
	}
	s, err := CompileScript(data)
	if err != nil {
		return nil, fmt.Errorf("scenario: compile %s: %w", path, err)
	}
	s.path = path
	return s, nil
}

// CompileScript compiles scenario script source.
func CompileScript(src []byte) (*Script, error) {
	composed := string(src) + "\n" + hookDispatchScript
	script := tengo.NewScript([]byte(composed))
	_ = script.Add("__phase", "")
	_ = script.Add("__sim", map[string]any{})
	_ = script.Add("__state", map[string]any{})
	_ = script.Add("__now", 0.0)

	script.SetImports(stdlib.GetModuleMap(stdlib.AllModuleNames()...))

	compiled, err := script.Compile()
	if err != nil {
		return nil, err
	}
	return &Script{
		compiled: compiled,
		state:    &tengo.Map{Value: map[string]tengo.Object{}},
	}, nil
}

// RunStart invokes the script's on_start hook, if defined.
func (s *Script) RunStart(api *tengo.ImmutableMap) error {
	return s.runPhase("start", api, 0)
}

// RunTick invokes the script's on_tick hook, if defined.
func (s *Script) RunTick(api *tengo.ImmutableMap, now float64) error {
	return s.runPhase("tick", api, now)
}

func (s *Script) runPhase(phase string, api *tengo.ImmutableMap, now float64) error {
	if s == nil || s.compiled == nil {
		return fmt.Errorf("scenario: nil script")
	}
	if api == nil {
		api = &tengo.ImmutableMap{Value: map[string]tengo.Object{}}
	}
	if err := s.compiled.Set("__phase", phase); err != nil {
		return err
	}
	if err := s.compiled.Set("__sim", api); err != nil {
		return err
	}
	if err := s.compiled.Set("__state", s.state); err != nil {
		return err
	}
	if err := s.compiled.Set("__now", &tengo.Float{Value: now}); err != nil {
		return err
	}
	return s.compiled.Run()
}

// buildSimAPI exposes the running simulation to scripts as an immutable map
// of host functions.
func buildSimAPI(sim *Sim) *tengo.ImmutableMap {
	values := map[string]tengo.Object{}

	values["request_movement"] = &tengo.UserFunction{Name: "request_movement", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if sim == nil || len(args) < 3 {
			return tengo.FalseValue, nil
		}
		id, ok := objectAsID(args[0])
		if !ok {
			return tengo.FalseValue, nil
		}
		x, okX := objectAsFloat(args[1])
		z, okZ := objectAsFloat(args[2])
		if !okX || !okZ {
			return tengo.FalseValue, nil
		}
		speed := 0.0
		if len(args) > 3 {
			speed, _ = objectAsFloat(args[3])
		}
		if sim.MoveAgent(id, x, z, speed) {
			return tengo.TrueValue, nil
		}
		return tengo.FalseValue, nil
	}}

	values["cancel_movement"] = &tengo.UserFunction{Name: "cancel_movement", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if sim == nil || len(args) < 1 {
			return tengo.FalseValue, nil
		}
		id, ok := objectAsID(args[0])
		if !ok {
			return tengo.FalseValue, nil
		}
		if sim.Controller.CancelMovement(id) {
			return tengo.TrueValue, nil
		}
		return tengo.FalseValue, nil
	}}

	values["agent_position"] = &tengo.UserFunction{Name: "agent_position", Value: func(args ...tengo.Object) (tengo.Object, error) {
		zero := &tengo.Array{Value: []tengo.Object{&tengo.Float{}, &tengo.Float{}, &tengo.Float{}}}
		if sim == nil || len(args) < 1 {
			return zero, nil
		}
		id, ok := objectAsID(args[0])
		if !ok {
			return zero, nil
		}
		pos, ok := sim.World.Position(id)
		if !ok {
			return zero, nil
		}
		return &tengo.Array{Value: []tengo.Object{
			&tengo.Float{Value: pos.X},
			&tengo.Float{Value: pos.Y},
			&tengo.Float{Value: pos.Z},
		}}, nil
	}}

	values["agent_state"] = &tengo.UserFunction{Name: "agent_state", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if sim == nil || len(args) < 1 {
			return &tengo.String{Value: ""}, nil
		}
		id, ok := objectAsID(args[0])
		if !ok {
			return &tengo.String{Value: ""}, nil
		}
		st, ok := sim.Controller.State(id)
		if !ok {
			return &tengo.String{Value: ""}, nil
		}
		return &tengo.String{Value: st.String()}, nil
	}}

	values["active_agents"] = &tengo.UserFunction{Name: "active_agents", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if sim == nil {
			return &tengo.Int{}, nil
		}
		return &tengo.Int{Value: int64(sim.Controller.ActiveAgents())}, nil
	}}

	values["log"] = &tengo.UserFunction{Name: "log", Value: func(args ...tengo.Object) (tengo.Object, error) {
		if sim == nil || len(args) < 1 {
			return tengo.UndefinedValue, nil
		}
		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, objectAsString(a))
		}
		sim.logf("script: %s", strings.Join(parts, " "))
		return tengo.UndefinedValue, nil
	}}

	return &tengo.ImmutableMap{Value: values}
}

func objectAsString(obj tengo.Object) string {
	if obj == nil {
		return ""
	}
	switch v := obj.(type) {
	case *tengo.String:
		return v.Value
	default:
		return strings.Trim(v.String(), "\"")
	}
}

func objectAsFloat(obj tengo.Object) (float64, bool) {
	switch v := obj.(type) {
	case *tengo.Float:
		return v.Value, true
	case *tengo.Int:
		return float64(v.Value), true
	default:
		return 0, false
	}
}

func objectAsID(obj tengo.Object) (uint64, bool) {
	v, ok := obj.(*tengo.Int)
	if !ok || v.Value < 0 {
		return 0, false
	}
	return uint64(v.Value), true
}
