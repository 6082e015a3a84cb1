// Package hw binds the device capabilities (relay, button, sensor) to a
// platform: a Raspberry Pi through gobot, or a host simulation.
package hw

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/config"
	"github.com/paco7828/smart-humidifier/internal/display"
	"github.com/paco7828/smart-humidifier/internal/sensor"
	"github.com/paco7828/smart-humidifier/internal/sensor/luasim"
)

// Relay drives the humidifying element.
type Relay interface {
	Set(on bool) error
}

// Latch records a button press from the driver goroutine until the
// superloop takes it.
type Latch struct {
	pressed atomic.Bool
}

// Press records a press. Safe from any goroutine.
func (l *Latch) Press() { l.pressed.Store(true) }

// Take reports and clears a pending press.
func (l *Latch) Take() bool { return l.pressed.Swap(false) }

// LogRelay is the simulated relay. It only logs transitions, at info
// level when Verbose is set and at debug otherwise.
type LogRelay struct {
	Verbose bool
	on      atomic.Bool
}

func (r *LogRelay) Set(on bool) error {
	if r.on.Swap(on) == on {
		return nil
	}
	ev := log.Debug()
	if r.Verbose {
		ev = log.Info()
	}
	ev.Bool("on", on).Msg("Simulated relay switched")
	return nil
}

// On reports the last commanded state.
func (r *LogRelay) On() bool { return r.on.Load() }

// Devices is the opened platform.
type Devices struct {
	Relay    Relay
	Button   *Latch
	Sensor   sensor.Reader
	Renderer display.Renderer

	closers []func() error
}

// Close releases the platform. Errors are joined.
func (d *Devices) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open opens the platform named in cfg. now is the simulation clock.
func Open(cfg config.HardwareConfig, now func() time.Time) (*Devices, error) {
	switch cfg.Platform {
	case "sim":
		return openSim(cfg, now)
	case "raspi":
		return openRaspi(cfg)
	default:
		return nil, fmt.Errorf("unknown hardware platform %q", cfg.Platform)
	}
}

func openSim(cfg config.HardwareConfig, now func() time.Time) (*Devices, error) {
	s, err := luasim.Load(cfg.SimScript, now)
	if err != nil {
		return nil, err
	}

	d := &Devices{
		Relay:    &LogRelay{Verbose: cfg.SimRelayLog},
		Button:   &Latch{},
		Sensor:   s,
		Renderer: display.LogRenderer{},
	}
	d.closers = append(d.closers, func() error { s.Close(); return nil })

	log.Info().Str("script", scriptName(cfg.SimScript)).Msg("Simulated hardware ready")
	return d, nil
}

func scriptName(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}
