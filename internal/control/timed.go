package control

import "time"

// TimedState is the timed controller state.
type TimedState int

const (
	TimedIdle TimedState = iota
	TimedDosing
)

// String returns a human-readable name for the state.
func (s TimedState) String() string {
	switch s {
	case TimedIdle:
		return "idle"
	case TimedDosing:
		return "dosing"
	default:
		return "unknown"
	}
}

// Timed doses for TimedDuration at the start of every TimedInterval,
// independent of the readings.
type Timed struct {
	rs RuntimeState
}

// NewTimed creates a timed controller whose first cycle is still pending.
func NewTimed() *Timed {
	return &Timed{}
}

// State returns the current state.
func (t *Timed) State() TimedState {
	if t.rs.Active {
		return TimedDosing
	}
	return TimedIdle
}

// Tick advances the dosing schedule.
func (t *Timed) Tick(now time.Time, s Settings, _ *Measurement) bool {
	if !t.rs.FirstCycleConsumed {
		t.rs.FirstCycleConsumed = true
		t.startCycle(now)
		return true
	}

	elapsed := now.Sub(t.rs.LastCycleStart)
	if t.rs.Active && elapsed >= s.TimedDuration {
		t.rs.Active = false
	}
	if !t.rs.Active && elapsed >= s.TimedInterval {
		t.startCycle(now)
	}
	return t.rs.Active
}

func (t *Timed) startCycle(now time.Time) {
	t.rs.Active = true
	t.rs.ActivatedAt = now
	t.rs.LastCycleStart = now
}

func (t *Timed) Runtime() RuntimeState { return t.rs }

func (t *Timed) Restore(rs RuntimeState) { t.rs = rs }

func (t *Timed) Reset() { t.rs = RuntimeState{} }

// NextActivation returns the start of the next dosing cycle. A pending
// first cycle is due immediately, reported as the zero-duration start.
func (t *Timed) NextActivation(s Settings) time.Time {
	if !t.rs.FirstCycleConsumed {
		return time.Unix(0, 0)
	}
	return t.rs.LastCycleStart.Add(s.TimedInterval)
}
