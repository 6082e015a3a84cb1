package control

import "time"

// AutoState is the autonomous controller state.
type AutoState int

const (
	AutoIdle AutoState = iota
	AutoHumidifying
)

// String returns a human-readable name for the state.
func (s AutoState) String() string {
	switch s {
	case AutoIdle:
		return "idle"
	case AutoHumidifying:
		return "humidifying"
	default:
		return "unknown"
	}
}

// Autonomous runs the element from sensor feedback with a hysteresis band
// and a minimum runtime latch.
type Autonomous struct {
	minRuntime time.Duration
	rs         RuntimeState
}

// NewAutonomous creates an idle autonomous controller.
func NewAutonomous(minRuntime time.Duration) *Autonomous {
	return &Autonomous{minRuntime: minRuntime}
}

// State returns the current state.
func (a *Autonomous) State() AutoState {
	if a.rs.Active {
		return AutoHumidifying
	}
	return AutoIdle
}

// Tick advances the controller. A nil measurement leaves the state as is.
func (a *Autonomous) Tick(now time.Time, s Settings, m *Measurement) bool {
	if m == nil {
		return a.rs.Active
	}

	next := nextAutoState(a.State(), m.Humidity, s, now.Sub(a.rs.ActivatedAt), a.minRuntime)
	switch {
	case next == AutoHumidifying && !a.rs.Active:
		a.rs.Active = true
		a.rs.ActivatedAt = now
	case next == AutoIdle && a.rs.Active:
		a.rs.Active = false
	}
	return a.rs.Active
}

// nextAutoState is the autonomous transition table.
//
//	Idle        -> Humidifying  humidity <  threshold - hysteresis
//	Humidifying -> Idle         humidity >= threshold + hysteresis and latch elapsed
func nextAutoState(cur AutoState, humidity float64, s Settings, sinceActivation, minRuntime time.Duration) AutoState {
	switch cur {
	case AutoIdle:
		if humidity < s.OnThreshold() {
			return AutoHumidifying
		}
		return AutoIdle
	case AutoHumidifying:
		if sinceActivation < minRuntime {
			return AutoHumidifying
		}
		if humidity >= s.OffThreshold() {
			return AutoIdle
		}
		return AutoHumidifying
	}
	return AutoIdle
}

// LatchEnd returns when the minimum runtime of the current activation ends.
// Zero when idle.
func (a *Autonomous) LatchEnd() time.Time {
	if !a.rs.Active {
		return time.Time{}
	}
	return a.rs.ActivatedAt.Add(a.minRuntime)
}

func (a *Autonomous) Runtime() RuntimeState { return a.rs }

func (a *Autonomous) Restore(rs RuntimeState) {
	a.rs = RuntimeState{Active: rs.Active, ActivatedAt: rs.ActivatedAt}
}

func (a *Autonomous) Reset() { a.rs = RuntimeState{} }

// NextActivation is always zero: activation follows the readings.
func (a *Autonomous) NextActivation(Settings) time.Time { return time.Time{} }
