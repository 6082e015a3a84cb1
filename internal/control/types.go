// Package control decides when the humidifying element runs.
// It holds the operating settings, the two control strategies and the
// supervisor that keeps exactly one of them active.
package control

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects the active control strategy.
type Mode uint8

const (
	ModeAutonomous Mode = iota
	ModeTimed
)

// String returns a human-readable name for the mode.
func (m Mode) String() string {
	switch m {
	case ModeAutonomous:
		return "autonomous"
	case ModeTimed:
		return "timed"
	default:
		return "unknown"
	}
}

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModeAutonomous || m == ModeTimed
}

// ParseMode accepts AUTONOMOUS, AUTO or TIMED in any case.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "AUTONOMOUS", "AUTO":
		return ModeAutonomous, nil
	case "TIMED":
		return ModeTimed, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", s)
	}
}

// Humidity bounds accepted for the threshold, in percent relative humidity.
const (
	MinThreshold = 0.0
	MaxThreshold = 100.0
)

// Settings is the live operating configuration. The superloop is its only writer.
type Settings struct {
	Mode              Mode
	HumidityThreshold float64
	Hysteresis        float64
	TimedInterval     time.Duration
	TimedDuration     time.Duration
}

var (
	errBadMode       = errors.New("mode must be autonomous or timed")
	errBadThreshold  = fmt.Errorf("threshold must be within [%.0f, %.0f]", MinThreshold, MaxThreshold)
	errBadHysteresis = errors.New("hysteresis must be a finite value >= 0")
	errBadInterval   = errors.New("timed interval must be > 0")
	errBadDuration   = errors.New("timed duration must be > 0")
	errDurationLong  = errors.New("timed duration must not exceed timed interval")
)

// Validate checks the settings invariants.
func (s Settings) Validate() error {
	if !s.Mode.Valid() {
		return errBadMode
	}
	if math.IsNaN(s.HumidityThreshold) || s.HumidityThreshold < MinThreshold || s.HumidityThreshold > MaxThreshold {
		return errBadThreshold
	}
	if math.IsNaN(s.Hysteresis) || math.IsInf(s.Hysteresis, 0) || s.Hysteresis < 0 {
		return errBadHysteresis
	}
	if s.TimedInterval <= 0 {
		return errBadInterval
	}
	if s.TimedDuration <= 0 {
		return errBadDuration
	}
	if s.TimedDuration > s.TimedInterval {
		return errDurationLong
	}
	return nil
}

// OnThreshold is the humidity below which autonomous control starts.
func (s Settings) OnThreshold() float64 {
	return s.HumidityThreshold - s.Hysteresis
}

// OffThreshold is the humidity at or above which autonomous control may stop.
func (s Settings) OffThreshold() float64 {
	return s.HumidityThreshold + s.Hysteresis
}

// Measurement is one successful sensor read.
type Measurement struct {
	Temperature float64
	Humidity    float64
	TakenAt     time.Time
}

// RuntimeState is the per-controller timer state.
// FirstCycleConsumed is only meaningful for the timed controller.
type RuntimeState struct {
	Active             bool
	ActivatedAt        time.Time
	LastCycleStart     time.Time
	FirstCycleConsumed bool
}

// Controller is one control strategy. Tick returns the relay command.
type Controller interface {
	Tick(now time.Time, s Settings, m *Measurement) bool
	Runtime() RuntimeState
	Restore(rs RuntimeState)
	Reset()

	// NextActivation returns the earliest time the controller is due to
	// switch on by itself, or zero when activation depends on readings.
	NextActivation(s Settings) time.Time
}
