// Command simulate runs a scenario file headlessly, logging movement events
// and printing a run summary. With -watch it reruns the scenario whenever the
// file or its script changes.
package main

import (
	"flag"
	"log"
	"path/filepath"

	"github.com/motorsim/navmotor/common"
	"github.com/motorsim/navmotor/movement"
	"github.com/motorsim/navmotor/scenario"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a scenario yaml file")
	watch := flag.Bool("watch", false, "rerun the scenario when its files change")
	verbose := flag.Bool("verbose", false, "log per-waypoint progress events")
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("simulate: -scenario is required")
	}

	scriptPath, err := runOnce(*scenarioPath, *verbose)
	if err != nil {
		log.Fatalf("simulate: %v", err)
	}
	if !*watch {
		return
	}

	watcher, err := scenario.NewWatcher(filepath.Dir(*scenarioPath))
	if err != nil {
		log.Fatalf("simulate: watch: %v", err)
	}
	defer watcher.Close()
	log.Printf("watching %s", filepath.Dir(*scenarioPath))

	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !concernsRun(ev, *scenarioPath, scriptPath) {
				continue
			}
			log.Printf("%s changed: %s", ev.Kind, ev.Path)
			next, err := runOnce(*scenarioPath, *verbose)
			if err != nil {
				log.Printf("simulate: %v", err)
				continue
			}
			scriptPath = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("simulate: watch: %v", err)
		}
	}
}

// concernsRun reports whether a watcher event touches the scenario being
// run: either the spec file itself or the script it names. Other files in
// the watched directory are ignored.
func concernsRun(ev scenario.Event, scenarioPath, scriptPath string) bool {
	switch ev.Kind {
	case scenario.EventScenario:
		return samePath(ev.Path, scenarioPath)
	case scenario.EventScript:
		return scriptPath != "" && samePath(ev.Path, scriptPath)
	}
	return false
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// runOnce loads, builds, and runs a scenario, returning the script path the
// spec names so the watch loop can track it across edits.
func runOnce(path string, verbose bool) (string, error) {
	spec, err := scenario.Load(path)
	if err != nil {
		return "", err
	}
	sim, err := scenario.Build(spec)
	if err != nil {
		return spec.Script, err
	}
	sim.SetLogf(log.Printf)
	sim.Controller.AddListener(eventLogger{verbose: verbose})

	log.Printf("running %q: %d agents, %d obstacles, %.0f Hz for up to %.1fs",
		spec.Name, len(spec.Agents), len(spec.Obstacles), float64(spec.TickRate), spec.Duration)

	elapsed, err := sim.Run()
	if err != nil {
		return spec.Script, err
	}

	arrived := 0
	for _, a := range spec.Agents {
		if a.Goal == nil {
			continue
		}
		status := "en route"
		if sim.Reached(a.ID) {
			status = "arrived"
			arrived++
		}
		pos, _ := sim.World.Position(a.ID)
		log.Printf("agent %d: %s at (%.2f, %.2f, %.2f)", a.ID, status, pos.X, pos.Y, pos.Z)
	}
	log.Printf("done in %.2fs simulated, %d arrived, %d still active", elapsed, arrived, sim.Controller.ActiveAgents())
	return spec.Script, nil
}

// eventLogger prints movement lifecycle events.
type eventLogger struct {
	verbose bool
}

func (l eventLogger) OnMovementStarted(id uint64, start, target common.Vec3, estimatedTime float64) {
	log.Printf("agent %d: moving (%.1f, %.1f) -> (%.1f, %.1f), ~%.1fs", id, start.X, start.Z, target.X, target.Z, estimatedTime)
}

func (l eventLogger) OnMovementProgress(id uint64, percent float64, waypointIndex, totalWaypoints int) {
	if l.verbose {
		log.Printf("agent %d: %.0f%% (waypoint %d/%d)", id, percent, waypointIndex, totalWaypoints)
	}
}

func (l eventLogger) OnPathBlocked(id uint64, current, blocked common.Vec3, isTemporary bool) {
	log.Printf("agent %d: blocked near (%.1f, %.1f), temporary=%v", id, blocked.X, blocked.Z, isTemporary)
}

func (l eventLogger) OnPathReplanned(id uint64, current, target common.Vec3, waypoints int, reason string) {
	log.Printf("agent %d: replanned (%s), %d waypoints", id, reason, waypoints)
}

func (l eventLogger) OnDestinationReached(id uint64, pos common.Vec3, distance, duration float64) {
	log.Printf("agent %d: arrived at (%.1f, %.1f) after %.1fm in %.1fs", id, pos.X, pos.Z, distance, duration)
}

func (l eventLogger) OnCollision(ev movement.CollisionEvent) {
	log.Printf("collision: %d vs %d, depth %.3f", ev.A.ID, ev.B.ID, ev.Depth)
}
