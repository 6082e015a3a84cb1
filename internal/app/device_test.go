package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paco7828/smart-humidifier/internal/command"
	"github.com/paco7828/smart-humidifier/internal/control"
	"github.com/paco7828/smart-humidifier/internal/display"
	"github.com/paco7828/smart-humidifier/internal/eventbus"
	"github.com/paco7828/smart-humidifier/internal/hw"
	"github.com/paco7828/smart-humidifier/internal/power"
	"github.com/paco7828/smart-humidifier/internal/retained"
)

var t0 = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

var testTiming = Timing{
	SensorInterval:        30 * time.Second,
	SensorRetry:           2 * time.Second,
	MinRuntime:            5 * time.Minute,
	DisplayWakeInterval:   30 * time.Minute,
	DisplayWakeDuration:   2 * time.Minute,
	DisplayUpdateInterval: 2 * time.Second,
	AdvertisingDuration:   2 * time.Minute,
	PowerEnabled:          true,
	MinSleep:              time.Second,
}

var testSettings = control.Settings{
	Mode:              control.ModeAutonomous,
	HumidityThreshold: 50,
	Hysteresis:        5,
	TimedInterval:     time.Hour,
	TimedDuration:     5 * time.Minute,
}

type fakeRelay struct {
	writes []bool
	fail   int
}

func (r *fakeRelay) Set(on bool) error {
	if r.fail > 0 {
		r.fail--
		return errors.New("gpio busy")
	}
	r.writes = append(r.writes, on)
	return nil
}

func (r *fakeRelay) last() bool { return len(r.writes) > 0 && r.writes[len(r.writes)-1] }

type fakeSensor struct {
	humidity float64
	err      error
}

func (s *fakeSensor) Read() (float64, float64, error) { return 21, s.humidity, s.err }

type nopRenderer struct{}

func (nopRenderer) SetBacklight(bool)     {}
func (nopRenderer) Clear(display.Color)   {}
func (nopRenderer) DrawIcon(display.Icon) {}
func (nopRenderer) DrawText(display.Text) {}

type events struct {
	mu  sync.Mutex
	got []eventbus.Event
}

func (e *events) Publish(ev eventbus.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.got = append(e.got, ev)
}

func (e *events) count(t eventbus.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.got {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type fakeRadio struct{ states []bool }

func (r *fakeRadio) SetAdvertising(on bool) error {
	r.states = append(r.states, on)
	return nil
}

type rig struct {
	relay   *fakeRelay
	sensor  *fakeSensor
	button  *hw.Latch
	mailbox *command.Mailbox
	region  *retained.MemoryRegion
	store   *retained.Store
	bus     *events
	radio   *fakeRadio
}

func newRig(humidity float64) *rig {
	region := retained.NewMemoryRegion()
	return &rig{
		relay:   &fakeRelay{},
		sensor:  &fakeSensor{humidity: humidity},
		button:  &hw.Latch{},
		mailbox: &command.Mailbox{},
		region:  region,
		store:   retained.NewStore(region, retained.Default(testSettings)),
		bus:     &events{},
		radio:   &fakeRadio{},
	}
}

func (r *rig) device(fromSleep bool, now time.Time) *Device {
	d := NewDevice(Deps{
		Relay:    r.relay,
		Button:   r.button,
		Sensor:   r.sensor,
		Renderer: nopRenderer{},
		Mailbox:  r.mailbox,
		Store:    r.store,
		Bus:      r.bus,
		Radio:    r.radio,
	}, testTiming)
	d.Boot(now, fromSleep)
	return d
}

func TestDevice_FirstBoot(t *testing.T) {
	r := newRig(60)
	d := r.device(false, t0)

	if d.BootCount() != 1 || d.Settings() != testSettings {
		t.Fatalf("boot count %d, settings %+v", d.BootCount(), d.Settings())
	}
	if len(r.relay.writes) != 1 || r.relay.writes[0] {
		t.Fatalf("boot relay writes = %v, want [false]", r.relay.writes)
	}

	dec := d.Step(t0)
	if dec.Sleep || dec.Reason != "display_on" {
		t.Fatalf("first step decision = %+v", dec)
	}
	if len(r.radio.states) != 1 || !r.radio.states[0] {
		t.Fatalf("advertising states = %v, want [true]", r.radio.states)
	}
	if r.bus.count(eventbus.EventBoot) != 1 || r.bus.count(eventbus.EventMeasurement) != 1 {
		t.Fatalf("events = %+v", r.bus.got)
	}

	d.Step(t0.Add(2 * time.Minute))
	if len(r.radio.states) != 2 || r.radio.states[1] {
		t.Fatalf("advertising did not expire: %v", r.radio.states)
	}
}

func TestDevice_LatchScenario(t *testing.T) {
	r := newRig(40)
	d := r.device(true, t0)

	d.Step(t0)
	if !r.relay.last() {
		t.Fatal("relay should switch on below the on-threshold")
	}

	r.sensor.humidity = 56
	for s := 30; s < 300; s += 30 {
		d.Step(t0.Add(time.Duration(s) * time.Second))
		if !r.relay.last() {
			t.Fatalf("relay released at %ds inside the minimum runtime", s)
		}
	}

	d.Step(t0.Add(300 * time.Second))
	if r.relay.last() {
		t.Fatal("relay should release once the minimum runtime elapsed")
	}
	if got := r.bus.count(eventbus.EventRelay); got != 2 {
		t.Fatalf("relay events = %d, want 2", got)
	}
}

func TestDevice_ModeSwitchMidLatch(t *testing.T) {
	r := newRig(40)
	d := r.device(true, t0)
	d.Step(t0)

	r.sensor.humidity = 70
	switchAt := t0.Add(time.Minute)
	r.mailbox.Post("MODE=TIMED")
	d.Step(switchAt)

	sup := d.Supervisor()
	if sup.Mode() != control.ModeTimed || d.Settings().Mode != control.ModeTimed {
		t.Fatalf("mode = %v / %v", sup.Mode(), d.Settings().Mode)
	}
	if sup.Autonomous().Runtime().Active {
		t.Fatal("autonomous latch survived the switch")
	}
	rs := sup.Timed().Runtime()
	if !rs.FirstCycleConsumed || !rs.Active || !rs.LastCycleStart.Equal(switchAt) {
		t.Fatalf("timed runtime = %+v, want fresh cycle at %v", rs, switchAt)
	}
	if r.bus.count(eventbus.EventModeChanged) != 1 {
		t.Fatal("mode change not published")
	}

	d.Step(switchAt.Add(5 * time.Minute))
	if r.relay.last() {
		t.Fatal("timed dose should end after its duration")
	}
}

func TestDevice_RejectedCommand(t *testing.T) {
	r := newRig(44)
	d := r.device(true, t0)

	r.mailbox.Post("THRESHOLD=abc")
	d.Step(t0)

	if d.Settings() != testSettings {
		t.Fatalf("settings changed: %+v", d.Settings())
	}
	if !r.relay.last() {
		t.Fatal("tick should use the prior threshold (44 < 45)")
	}
	if r.bus.count(eventbus.EventCommandRejected) != 1 || r.bus.count(eventbus.EventCommandApplied) != 0 {
		t.Fatalf("events = %+v", r.bus.got)
	}
}

func TestDevice_CommandWakesDisplay(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)
	d.Step(t0)
	d.Step(t0.Add(testTiming.DisplayWakeInterval))
	if d.DisplayPhase() != display.PhaseSleeping {
		t.Fatalf("phase = %v, want sleeping", d.DisplayPhase())
	}

	r.mailbox.Post("THRESHOLD=55")
	d.Step(t0.Add(testTiming.DisplayWakeInterval + time.Second))
	if d.DisplayPhase() != display.PhaseOn {
		t.Fatalf("phase = %v, want on after radio activity", d.DisplayPhase())
	}
	if d.Settings().HumidityThreshold != 55 {
		t.Fatalf("threshold = %v", d.Settings().HumidityThreshold)
	}
}

func TestDevice_ButtonRestartsAdvertising(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)

	r.mailbox.Post("DISPLAY=OFF")
	d.Step(t0)
	if d.DisplayPhase() != display.PhaseOff || len(r.radio.states) != 0 {
		t.Fatalf("phase = %v, advertising = %v", d.DisplayPhase(), r.radio.states)
	}

	r.button.Press()
	dec := d.Step(t0.Add(time.Second))
	if d.DisplayPhase() != display.PhaseOn {
		t.Fatal("button should turn the display on")
	}
	if len(r.radio.states) != 1 || !r.radio.states[0] {
		t.Fatalf("advertising = %v, want [true]", r.radio.states)
	}
	if dec.Sleep {
		t.Fatal("should not sleep right after a button press")
	}
}

func TestDevice_RelayWriteRetried(t *testing.T) {
	r := newRig(40)
	d := r.device(true, t0)
	r.relay.fail = 1

	d.Step(t0)
	if d.RelayOn() {
		t.Fatal("failed write reported as on")
	}
	d.Step(t0.Add(100 * time.Millisecond))
	if !d.RelayOn() || !r.relay.last() {
		t.Fatal("relay write not retried")
	}
}

type recordingSleeper struct{ slept []time.Duration }

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func TestDevice_DeepSleepCycle(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)

	r.mailbox.Post("THRESHOLD=42")
	d.Step(t0)
	r.mailbox.Post("DISPLAY=OFF")
	dec := d.Step(t0.Add(time.Second))
	if !dec.Sleep || dec.Duration != 29*time.Second {
		t.Fatalf("decision = %+v, want sleep until the next sample", dec)
	}

	sleeper := &recordingSleeper{}
	before := d.Snapshot()
	err := power.NewManager(r.store, sleeper).Enter(context.Background(), before, dec)
	if !errors.Is(err, power.ErrSlept) || len(sleeper.slept) != 1 {
		t.Fatalf("Enter() = %v, slept %v", err, sleeper.slept)
	}

	wake := t0.Add(30 * time.Second)
	woken := r.device(true, wake)
	if woken.BootCount() != 2 {
		t.Fatalf("boot count = %d, want 2", woken.BootCount())
	}
	if woken.Snapshot() != before {
		t.Fatalf("restored %+v, want %+v", woken.Snapshot(), before)
	}
	if woken.Settings().HumidityThreshold != 42 || woken.DisplayPhase() != display.PhaseOff {
		t.Fatalf("settings %+v, phase %v", woken.Settings(), woken.DisplayPhase())
	}

	r.sensor.humidity = 35
	woken.Step(wake)
	if !r.relay.last() {
		t.Fatal("restored device should act on the restored threshold")
	}
}

func TestDevice_TimedBootstrapAfterWake(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)
	r.mailbox.Post("MODE=TIMED")
	d.Step(t0)
	if !r.relay.last() {
		t.Fatal("timed mode should dose immediately")
	}

	d.Step(t0.Add(5 * time.Minute))
	if r.relay.last() {
		t.Fatal("dose should end after the duration")
	}

	r.store.Save(d.Snapshot())
	woken := r.device(true, t0.Add(20*time.Minute))
	woken.Step(t0.Add(20 * time.Minute))
	if r.relay.last() {
		t.Fatal("consumed first cycle must not re-dose on wake")
	}
	woken.Step(t0.Add(time.Hour))
	if !r.relay.last() {
		t.Fatal("next dose should follow the restored cadence")
	}
}

func TestDevice_CommandPostedDuringSleep(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)
	d.Step(t0)

	if err := r.store.Save(d.Snapshot()); err != nil {
		t.Fatal(err)
	}
	r.mailbox.Post("THRESHOLD=42")

	wake := t0.Add(30 * time.Second)
	woken := r.device(true, wake)
	if !r.mailbox.Pending() {
		t.Fatal("boot consumed the command written during sleep")
	}

	woken.Step(wake)
	if got := woken.Settings().HumidityThreshold; got != 42 {
		t.Fatalf("threshold after wake = %v, want 42", got)
	}
	if r.bus.count(eventbus.EventCommandApplied) != 1 {
		t.Fatal("command not reported as applied")
	}
}

func TestDevice_SleepEndsOnCommand(t *testing.T) {
	r := newRig(60)
	d := r.device(true, t0)
	d.Step(t0)
	r.mailbox.Post("DISPLAY=OFF")
	dec := d.Step(t0.Add(time.Second))
	if !dec.Sleep {
		t.Fatalf("decision = %+v, want sleep", dec)
	}

	select {
	case <-r.mailbox.Notify():
		t.Fatal("consumed command left a wake signal behind")
	default:
	}

	mgr := power.NewManager(r.store, power.TimerSleeper{Wake: r.mailbox.Notify()})
	r.mailbox.Post("MODE=TIMED")
	if err := mgr.Enter(context.Background(), d.Snapshot(), dec); !errors.Is(err, power.ErrSlept) {
		t.Fatalf("Enter() = %v, want ErrSlept", err)
	}

	woken := r.device(true, t0.Add(2*time.Second))
	woken.Step(t0.Add(2 * time.Second))
	if woken.Settings().Mode != control.ModeTimed {
		t.Fatalf("mode = %v, want timed", woken.Settings().Mode)
	}
}
