// Package display tracks the display power phase and renders the status view.
package display

import (
	"time"
)

// Phase is the display power phase. Values are persisted in the retained record.
type Phase uint8

const (
	PhaseOff Phase = iota
	PhaseOn
	PhaseSleeping
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOff:
		return "off"
	case PhaseOn:
		return "on"
	case PhaseSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool { return p <= PhaseSleeping }

// State is the display state. SleepStart is the beginning of the current
// sleep window; the next automatic wake is due one wake interval after it.
type State struct {
	Phase          Phase
	LastActivityAt time.Time
	LastAutoWakeAt time.Time
	AutoWakeActive bool
	SleepStart     time.Time
}

// Machine is the display state machine.
type Machine struct {
	wakeInterval time.Duration
	wakeDuration time.Duration
	st           State
}

// NewMachine returns a machine that is On with activity at now.
func NewMachine(wakeInterval, wakeDuration time.Duration, now time.Time) *Machine {
	return &Machine{
		wakeInterval: wakeInterval,
		wakeDuration: wakeDuration,
		st:           State{Phase: PhaseOn, LastActivityAt: now},
	}
}

// Tick advances the machine to now and reports whether the phase changed.
func (m *Machine) Tick(now time.Time) bool {
	prev := m.st.Phase
	m.st = step(m.st, now, m.wakeInterval, m.wakeDuration)
	return m.st.Phase != prev
}

// step is the transition table.
//
//	On (activity)  -> Sleeping  after wakeInterval without activity
//	On (auto-wake) -> Sleeping  after wakeDuration
//	Sleeping       -> On        after wakeInterval (auto-wake)
//	Off            -> Off       until activity
func step(st State, now time.Time, wakeInterval, wakeDuration time.Duration) State {
	switch st.Phase {
	case PhaseOn:
		if st.AutoWakeActive {
			if now.Sub(st.LastAutoWakeAt) >= wakeDuration {
				st.Phase = PhaseSleeping
				st.AutoWakeActive = false
				st.SleepStart = now
			}
		} else if now.Sub(st.LastActivityAt) >= wakeInterval {
			st.Phase = PhaseSleeping
			st.SleepStart = now
		}
	case PhaseSleeping:
		if now.Sub(st.SleepStart) >= wakeInterval {
			st.Phase = PhaseOn
			st.AutoWakeActive = true
			st.LastAutoWakeAt = now
		}
	}
	return st
}

// Activity signals a button press or radio activity. The display turns on
// from any phase and the inactivity timer restarts.
func (m *Machine) Activity(now time.Time) bool {
	prev := m.st.Phase
	m.st.Phase = PhaseOn
	m.st.LastActivityAt = now
	m.st.AutoWakeActive = false
	return prev != PhaseOn
}

// TurnOff puts the display into Off. Only activity leaves it.
func (m *Machine) TurnOff() bool {
	prev := m.st.Phase
	m.st.Phase = PhaseOff
	m.st.AutoWakeActive = false
	return prev != PhaseOff
}

// Restore reinstates the phase saved before deep sleep. A zero or future
// sleepStart for a sleeping display restarts the window at now.
func (m *Machine) Restore(phase Phase, sleepStart, now time.Time) {
	if !phase.Valid() {
		phase = PhaseOn
	}
	m.st = State{Phase: phase, LastActivityAt: now}
	if phase == PhaseSleeping {
		if sleepStart.IsZero() || sleepStart.After(now) {
			sleepStart = now
		}
		m.st.SleepStart = sleepStart
	}
}

// NextWake returns when a sleeping display auto-wakes, or zero otherwise.
func (m *Machine) NextWake() time.Time {
	if m.st.Phase != PhaseSleeping {
		return time.Time{}
	}
	return m.st.SleepStart.Add(m.wakeInterval)
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase { return m.st.Phase }

// State returns a copy of the full state.
func (m *Machine) State() State { return m.st }
