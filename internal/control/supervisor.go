package control

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Supervisor owns both controllers and dispatches to the one selected by
// the settings mode. The controller not selected is always idle.
type Supervisor struct {
	autonomous *Autonomous
	timed      *Timed
	dispatched Mode
}

// NewSupervisor creates a supervisor dispatching to mode with both
// controllers idle.
func NewSupervisor(mode Mode, minRuntime time.Duration) *Supervisor {
	return &Supervisor{
		autonomous: NewAutonomous(minRuntime),
		timed:      NewTimed(),
		dispatched: mode,
	}
}

// Tick dispatches to the active controller and returns the relay command.
// A mode differing from the last dispatched one triggers a switch first.
func (s *Supervisor) Tick(now time.Time, settings Settings, m *Measurement) bool {
	if settings.Mode != s.dispatched {
		s.Select(settings.Mode)
	}
	return s.Active().Tick(now, settings, m)
}

// Select switches to mode, resetting both controllers so that neither a
// latch from the previous mode nor a stale timer of the new one survives.
// Selecting the already dispatched mode is a no-op.
func (s *Supervisor) Select(mode Mode) {
	if mode == s.dispatched {
		return
	}
	prev := s.dispatched
	s.controller(prev).Reset()
	s.controller(mode).Reset()
	s.dispatched = mode

	log.Info().
		Str("from", prev.String()).
		Str("to", mode.String()).
		Msg("Control mode switched")
}

// Restore reinstates the dispatched mode and its controller state after a
// deep-sleep wake. The other controller stays idle.
func (s *Supervisor) Restore(mode Mode, rs RuntimeState) {
	s.dispatched = mode
	s.controller(otherMode(mode)).Reset()
	s.controller(mode).Restore(rs)
}

// Mode returns the mode of the active controller.
func (s *Supervisor) Mode() Mode { return s.dispatched }

// Active returns the controller currently dispatched to.
func (s *Supervisor) Active() Controller { return s.controller(s.dispatched) }

// Humidifying reports whether the active controller drives the relay on.
func (s *Supervisor) Humidifying() bool { return s.Active().Runtime().Active }

// Autonomous returns the autonomous controller.
func (s *Supervisor) Autonomous() *Autonomous { return s.autonomous }

// Timed returns the timed controller.
func (s *Supervisor) Timed() *Timed { return s.timed }

func (s *Supervisor) controller(mode Mode) Controller {
	if mode == ModeTimed {
		return s.timed
	}
	return s.autonomous
}

func otherMode(mode Mode) Mode {
	if mode == ModeTimed {
		return ModeAutonomous
	}
	return ModeTimed
}
