package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/command"
	"github.com/paco7828/smart-humidifier/internal/config"
	"github.com/paco7828/smart-humidifier/internal/control"
	"github.com/paco7828/smart-humidifier/internal/display"
	"github.com/paco7828/smart-humidifier/internal/eventbus"
	"github.com/paco7828/smart-humidifier/internal/hw"
	"github.com/paco7828/smart-humidifier/internal/power"
	"github.com/paco7828/smart-humidifier/internal/radio"
	"github.com/paco7828/smart-humidifier/internal/retained"
	"github.com/paco7828/smart-humidifier/internal/sensor"
)

// Timing holds the loop cadences.
type Timing struct {
	SensorInterval        time.Duration
	SensorRetry           time.Duration
	MinRuntime            time.Duration
	DisplayWakeInterval   time.Duration
	DisplayWakeDuration   time.Duration
	DisplayUpdateInterval time.Duration
	AdvertisingDuration   time.Duration
	PowerEnabled          bool
	MinSleep              time.Duration
}

// TimingFromConfig extracts Timing from cfg.
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		SensorInterval:        cfg.Timing.SensorInterval.Duration(),
		SensorRetry:           cfg.Timing.SensorRetry.Duration(),
		MinRuntime:            cfg.Timing.MinRuntime.Duration(),
		DisplayWakeInterval:   cfg.Timing.DisplayWakeInterval.Duration(),
		DisplayWakeDuration:   cfg.Timing.DisplayWakeDuration.Duration(),
		DisplayUpdateInterval: cfg.Timing.DisplayUpdateInterval.Duration(),
		AdvertisingDuration:   cfg.Timing.AdvertisingDuration.Duration(),
		PowerEnabled:          cfg.Power.Enabled,
		MinSleep:              cfg.Power.MinSleep.Duration(),
	}
}

// Publisher accepts device events. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(e eventbus.Event)
}

// Advertising toggles the radio advertisement. *radio.Service satisfies it.
type Advertising interface {
	SetAdvertising(on bool) error
}

// Deps are the collaborators of a Device. Bus and Radio may be nil.
type Deps struct {
	Relay    hw.Relay
	Button   *hw.Latch
	Sensor   sensor.Reader
	Renderer display.Renderer
	Mailbox  *command.Mailbox
	Store    *retained.Store
	Bus      Publisher
	Radio    Advertising
}

// Device is the volatile runtime: everything here is lost on deep sleep
// and rebuilt from the retained store by Boot. Step must be called from a
// single goroutine.
type Device struct {
	deps   Deps
	timing Timing

	settings   control.Settings
	supervisor *control.Supervisor
	sampler    *sensor.Sampler
	display    *display.Machine
	view       *display.View
	advertiser *radio.Advertiser

	bootCount   uint32
	relayOn     bool
	advertising bool
}

// NewDevice creates an unbooted device.
func NewDevice(deps Deps, timing Timing) *Device {
	return &Device{
		deps:       deps,
		timing:     timing,
		sampler:    sensor.NewSampler(deps.Sensor, timing.SensorInterval, timing.SensorRetry),
		view:       display.NewView(deps.Renderer, timing.DisplayUpdateInterval),
		advertiser: radio.NewAdvertiser(timing.AdvertisingDuration),
	}
}

// Boot loads the retained snapshot and restores every state machine from
// it. fromSleep is false for a power-on boot, which opens an advertising
// window. A command posted while asleep stays in the mailbox for the first
// Step.
func (d *Device) Boot(now time.Time, fromSleep bool) {
	snap, count := d.deps.Store.Load()
	d.bootCount = count
	d.settings = snap.Settings

	d.supervisor = control.NewSupervisor(snap.Settings.Mode, d.timing.MinRuntime)
	d.supervisor.Restore(snap.Settings.Mode, snap.Runtime)
	d.sampler.Restore(snap.Measurement(), snap.LastSampleAt, now)
	d.display = display.NewMachine(d.timing.DisplayWakeInterval, d.timing.DisplayWakeDuration, now)
	d.display.Restore(snap.DisplayPhase, snap.DisplaySleepStart, now)

	// The relay state after reset is unknown; write it unconditionally.
	on := d.supervisor.Humidifying()
	if err := d.deps.Relay.Set(on); err != nil {
		log.Error().Err(err).Bool("on", on).Msg("Relay write failed")
		d.relayOn = !on
	} else {
		d.relayOn = on
	}

	if !fromSleep {
		d.advertiser.Start(now)
	}

	log.Info().
		Uint32("boot_count", count).
		Bool("from_sleep", fromSleep).
		Str("mode", d.settings.Mode.String()).
		Float64("threshold", d.settings.HumidityThreshold).
		Str("display", d.display.Phase().String()).
		Msg("Device booted")
	d.publish(eventbus.EventBoot, now, map[string]any{
		"boot_count": count,
		"from_sleep": fromSleep,
		"mode":       d.settings.Mode.String(),
	})
}

// Step runs one superloop iteration and returns the power decision.
func (d *Device) Step(now time.Time) power.Decision {
	if raw, ok := d.deps.Mailbox.Take(); ok {
		d.handleCommand(now, raw)
	}

	if d.deps.Button != nil && d.deps.Button.Take() {
		d.activity(now)
		d.advertiser.Start(now)
		log.Debug().Msg("Button pressed")
		d.publish(eventbus.EventButton, now, nil)
	}

	if m, ok := d.sampler.Sample(now); ok {
		d.publish(eventbus.EventMeasurement, now, map[string]any{
			"temperature": m.Temperature,
			"humidity":    m.Humidity,
		})
	}

	on := d.supervisor.Tick(now, d.settings, d.sampler.Current())
	d.driveRelay(now, on)

	if d.display.Tick(now) {
		d.displayChanged(now)
	}
	d.view.Update(now, d.display.Phase(), d.status())

	d.syncAdvertising(now)

	return power.Decide(d.powerInputs(now), d.timing.MinSleep)
}

func (d *Device) handleCommand(now time.Time, raw string) {
	d.activity(now)

	res, err := command.Process(raw, d.settings)
	if err != nil {
		log.Warn().Err(err).Str("command", raw).Msg("Command rejected")
		d.publish(eventbus.EventCommandRejected, now, map[string]any{
			"raw":   raw,
			"error": err.Error(),
		})
		return
	}

	d.settings = res.Settings
	if res.ModeChanged {
		d.supervisor.Select(d.settings.Mode)
		d.publish(eventbus.EventModeChanged, now, map[string]any{"mode": d.settings.Mode.String()})
	}
	if res.Display == command.DisplayOff && d.display.TurnOff() {
		d.displayChanged(now)
	}

	log.Info().Str("command", res.Command.String()).Msg("Command applied")
	d.publish(eventbus.EventCommandApplied, now, map[string]any{
		"command":    res.Command.String(),
		"mode":       d.settings.Mode.String(),
		"threshold":  d.settings.HumidityThreshold,
		"hysteresis": d.settings.Hysteresis,
		"interval_s": d.settings.TimedInterval.Seconds(),
		"duration_s": d.settings.TimedDuration.Seconds(),
	})
}

// activity is a button press or radio write.
func (d *Device) activity(now time.Time) {
	if d.display.Activity(now) {
		d.displayChanged(now)
	}
}

func (d *Device) displayChanged(now time.Time) {
	phase := d.display.Phase()
	log.Debug().Str("phase", phase.String()).Bool("auto_wake", d.display.State().AutoWakeActive).Msg("Display phase changed")
	d.publish(eventbus.EventDisplayPhase, now, map[string]any{"phase": phase.String()})
}

// driveRelay writes the relay on change. A failed write is retried on the
// next step.
func (d *Device) driveRelay(now time.Time, on bool) {
	if on == d.relayOn {
		return
	}
	if err := d.deps.Relay.Set(on); err != nil {
		log.Error().Err(err).Bool("on", on).Msg("Relay write failed")
		return
	}
	d.relayOn = on

	ev := log.Info().Bool("on", on).Str("mode", d.supervisor.Mode().String())
	if m := d.sampler.Current(); m != nil {
		ev = ev.Float64("humidity", m.Humidity)
	}
	ev.Msg("Humidifier relay switched")
	d.publish(eventbus.EventRelay, now, map[string]any{
		"relay_on": on,
		"mode":     d.supervisor.Mode().String(),
	})
}

func (d *Device) syncAdvertising(now time.Time) {
	active := d.advertiser.Active(now)
	if active == d.advertising {
		return
	}
	if d.deps.Radio != nil {
		if err := d.deps.Radio.SetAdvertising(active); err != nil {
			log.Warn().Err(err).Bool("advertising", active).Msg("Failed to update advertisement")
			return
		}
	}
	d.advertising = active
}

func (d *Device) status() display.Status {
	st := display.Status{
		Threshold:   d.settings.HumidityThreshold,
		Mode:        d.settings.Mode,
		RelayOn:     d.relayOn,
		Advertising: d.advertising,
	}
	if m := d.sampler.Current(); m != nil {
		st.HasMeasurement = true
		st.Temperature = m.Temperature
		st.Humidity = m.Humidity
	}
	return st
}

func (d *Device) powerInputs(now time.Time) power.Inputs {
	in := power.Inputs{
		Now:             now,
		Enabled:         d.timing.PowerEnabled,
		RelayOn:         d.relayOn || d.supervisor.Humidifying(),
		DisplayPhase:    d.display.Phase(),
		Advertising:     d.advertising,
		CommandPending:  d.deps.Mailbox.Pending(),
		NextSample:      d.sampler.NextDue(),
		NextDisplayWake: d.display.NextWake(),
	}
	if d.settings.Mode == control.ModeTimed {
		in.NextCycle = d.supervisor.Timed().NextActivation(d.settings)
	}
	return in
}

// Snapshot captures the state that must survive deep sleep.
func (d *Device) Snapshot() retained.Snapshot {
	snap := retained.Snapshot{
		Settings:          d.settings,
		Runtime:           d.supervisor.Active().Runtime(),
		DisplayPhase:      d.display.Phase(),
		DisplaySleepStart: d.display.State().SleepStart,
		LastSampleAt:      d.sampler.LastSampleAt(),
	}
	if m := d.sampler.Current(); m != nil {
		snap.HasMeasurement = true
		snap.LastTemperature = m.Temperature
		snap.LastHumidity = m.Humidity
	}
	return snap
}

// Settings returns the live settings.
func (d *Device) Settings() control.Settings { return d.settings }

// RelayOn reports the last state written to the relay.
func (d *Device) RelayOn() bool { return d.relayOn }

// DisplayPhase returns the display phase.
func (d *Device) DisplayPhase() display.Phase { return d.display.Phase() }

// Supervisor exposes the mode supervisor.
func (d *Device) Supervisor() *control.Supervisor { return d.supervisor }

// BootCount returns the boot count established by Boot.
func (d *Device) BootCount() uint32 { return d.bootCount }

func (d *Device) publish(t eventbus.EventType, now time.Time, data map[string]any) {
	if d.deps.Bus == nil {
		return
	}
	d.deps.Bus.Publish(eventbus.Event{Type: t, At: now, Data: data})
}
