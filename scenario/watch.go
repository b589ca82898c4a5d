package scenario

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind says which half of a scenario changed on disk.
type EventKind int

const (
	EventScenario EventKind = iota // the yaml spec
	EventScript                    // a tengo script
)

func (k EventKind) String() string {
	if k == EventScript {
		return "script"
	}
	return "scenario"
}

// Event is a debounced file change, classified so callers can decide
// whether the changed file belongs to the scenario they are running.
type Event struct {
	Path string
	Kind EventKind
}

// debounceWindow collapses editor write bursts into a single event.
const debounceWindow = 100 * time.Millisecond

// Watcher reports classified changes to scenario files and their scripts.
type Watcher struct {
	watcher *fsnotify.Watcher
	Events  chan Event
	Errors  chan error
	closeCh chan struct{}
	once    sync.Once
}

func NewWatcher(dirs ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	watcher := &Watcher{
		watcher: w,
		Events:  make(chan Event, 16),
		Errors:  make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	go watcher.run()
	return watcher, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.watcher.Close()
		close(w.Events)
		close(w.Errors)
	})
	return err
}

func (w *Watcher) run() {
	last := make(map[string]time.Time)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			kind, ok := classifyPath(event.Name)
			if !ok {
				continue
			}
			now := time.Now()
			if t, ok := last[event.Name]; ok && now.Sub(t) < debounceWindow {
				continue
			}
			last[event.Name] = now
			w.Events <- Event{Path: event.Name, Kind: kind}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.Errors <- err
		case <-w.closeCh:
			return
		}
	}
}

// classifyPath maps a changed file to an event kind by extension. Files
// that are neither scenario specs nor scripts are dropped.
func classifyPath(path string) (EventKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return EventScenario, true
	case ".tengo":
		return EventScript, true
	}
	return 0, false
}
