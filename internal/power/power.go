// Package power decides when the device may deep-sleep and performs the
// checkpoint-then-sleep sequence.
package power

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/display"
	"github.com/paco7828/smart-humidifier/internal/retained"
)

// ErrSlept is returned by Enter after a completed sleep. Volatile state is
// gone; the caller must rebuild from the retained store.
var ErrSlept = errors.New("woke from deep sleep")

// Inputs is what the superloop knows at the end of an iteration.
type Inputs struct {
	Now            time.Time
	Enabled        bool
	RelayOn        bool
	DisplayPhase   display.Phase
	Advertising    bool
	CommandPending bool

	// Wake sources; zero means none.
	NextSample      time.Time
	NextCycle       time.Time
	NextDisplayWake time.Time
}

// Decision is the outcome of Decide.
type Decision struct {
	Sleep    bool
	Duration time.Duration
	WakeAt   time.Time
	Reason   string
}

// Decide returns whether to sleep and for how long. The device stays awake
// while anything needs it; otherwise it sleeps until the earliest wake
// source, at least minSleep.
func Decide(in Inputs, minSleep time.Duration) Decision {
	switch {
	case !in.Enabled:
		return Decision{Reason: "disabled"}
	case in.RelayOn:
		return Decision{Reason: "relay_on"}
	case in.DisplayPhase == display.PhaseOn:
		return Decision{Reason: "display_on"}
	case in.Advertising:
		return Decision{Reason: "advertising"}
	case in.CommandPending:
		return Decision{Reason: "command_pending"}
	case in.NextSample.IsZero():
		// Never sampled.
		return Decision{Reason: "sample_due"}
	}

	wake := in.NextSample
	for _, t := range []time.Time{in.NextCycle, in.NextDisplayWake} {
		if !t.IsZero() && t.Before(wake) {
			wake = t
		}
	}

	d := wake.Sub(in.Now)
	if d <= 0 {
		return Decision{Reason: "work_due"}
	}
	if d < minSleep {
		d = minSleep
	}
	return Decision{Sleep: true, Duration: d, WakeAt: in.Now.Add(d), Reason: "idle"}
}

// Saver persists the snapshot. *retained.Store satisfies it.
type Saver interface {
	Save(snap retained.Snapshot) error
}

// Sleeper blocks for the sleep duration.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a timer. It stands in for the SoC deep-sleep call.
// A receive on Wake ends the sleep early, like a radio wake source.
type TimerSleeper struct {
	Wake <-chan struct{}
}

func (s TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.Wake:
		log.Debug().Msg("Woken early by radio write")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Manager runs the sleep sequence.
type Manager struct {
	saver   Saver
	sleeper Sleeper
}

// NewManager creates a power manager.
func NewManager(saver Saver, sleeper Sleeper) *Manager {
	return &Manager{saver: saver, sleeper: sleeper}
}

// Enter saves snap and then sleeps for d.Duration. If the save fails the
// device does not sleep and the error is returned. A finished sleep
// returns ErrSlept.
func (m *Manager) Enter(ctx context.Context, snap retained.Snapshot, d Decision) error {
	if !d.Sleep {
		return nil
	}
	if err := m.saver.Save(snap); err != nil {
		return fmt.Errorf("checkpoint before sleep: %w", err)
	}

	log.Info().
		Dur("duration", d.Duration).
		Time("wake_at", d.WakeAt).
		Msg("Entering deep sleep")

	if err := m.sleeper.Sleep(ctx, d.Duration); err != nil {
		return err
	}
	return ErrSlept
}
