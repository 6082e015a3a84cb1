package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/config"
	"github.com/paco7828/smart-humidifier/internal/eventbus"
	"github.com/paco7828/smart-humidifier/internal/power"
)

// App runs the device superloop on top of Services. Each deep-sleep cycle
// discards the Device and boots a new one from the retained store.
type App struct {
	cfg      *config.Config
	services *Services
	timing   Timing
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
		timing:   TimingFromConfig(cfg),
		now:      time.Now,
	}, nil
}

// Start connects services and starts the superloop.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	if err := a.services.Start(a.ctx); err != nil {
		return err
	}

	a.done = make(chan struct{})
	go a.run()

	log.Info().Str("run_id", a.services.RunID).Msg("Smart humidifier started")
	return nil
}

func (a *App) run() {
	defer close(a.done)

	fromSleep := false
	for {
		dev := NewDevice(a.services.Deps(), a.timing)
		dev.Boot(a.now(), fromSleep)

		err := a.loop(dev)
		if errors.Is(err, power.ErrSlept) {
			fromSleep = true
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("Superloop stopped")
			a.err = err
		}
		a.cancel()
		return
	}
}

// loop steps dev until shutdown or a completed deep sleep.
func (a *App) loop(dev *Device) error {
	ticker := time.NewTicker(a.cfg.Timing.LoopInterval.Duration())
	defer ticker.Stop()

	for {
		d := dev.Step(a.now())
		if d.Sleep {
			a.services.Bus.Publish(eventbus.Event{
				Type: eventbus.EventSleep,
				At:   a.now(),
				Data: map[string]any{
					"duration_ms": d.Duration.Milliseconds(),
					"boot_count":  dev.BootCount(),
				},
			})

			err := a.services.Power.Enter(a.ctx, dev.Snapshot(), d)
			switch {
			case errors.Is(err, power.ErrSlept):
				return err
			case a.ctx.Err() != nil:
				return nil
			case err != nil:
				log.Error().Err(err).Msg("Checkpoint failed, staying awake")
			}
		}

		select {
		case <-a.ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Stop gracefully shuts down the loop and all services.
func (a *App) Stop() error {
	log.Info().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		<-a.done
	}

	if a.services != nil {
		if err := a.services.Stop(); err != nil {
			return err
		}
	}
	return a.err
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// ClearRetainedState wipes the retained snapshot so the next boot uses
// the configured defaults.
func (a *App) ClearRetainedState() error {
	if a.services != nil {
		return a.services.ClearState()
	}
	return nil
}

// PressButton simulates a button press.
func (a *App) PressButton() {
	a.services.Hardware.Button.Press()
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
