package engine

import (
	"fmt"
	"sync"
)

// State is the engine lifecycle position. RUNNING is entered only after a
// successful recovery or an explicit clean-state start.
type State string

const (
	StateInit         State = "INIT"
	StateRecovering   State = "RECOVERING"
	StateReady        State = "READY"
	StateRunning      State = "RUNNING"
	StatePaused       State = "PAUSED"
	StateShuttingDown State = "SHUTTING_DOWN"
	StateStopped      State = "STOPPED"
)

// transitions is the closed set of legal lifecycle moves.
var transitions = map[State][]State{
	StateInit:         {StateRecovering},
	StateRecovering:   {StateReady, StateStopped},
	StateReady:        {StateRunning, StateShuttingDown},
	StateRunning:      {StatePaused, StateShuttingDown},
	StatePaused:       {StateRunning, StateShuttingDown},
	StateShuttingDown: {StateStopped},
	StateStopped:      {},
}

// lifecycle guards engine state with validated transitions.
type lifecycle struct {
	mu sync.RWMutex
	st State
}

func newLifecycle() *lifecycle {
	return &lifecycle{st: StateInit}
}

func (l *lifecycle) current() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.st
}

// to moves to the target state or fails if the move is not legal.
func (l *lifecycle) to(target State) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ok := range transitions[l.st] {
		if ok == target {
			l.st = target
			return nil
		}
	}
	return fmt.Errorf("illegal lifecycle transition %s -> %s", l.st, target)
}
