package hw

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"github.com/paco7828/smart-humidifier/internal/config"
	"github.com/paco7828/smart-humidifier/internal/display"
	"github.com/paco7828/smart-humidifier/internal/sensor"
)

// GPIORelay is a relay on a gobot digital pin.
type GPIORelay struct {
	drv *gpio.RelayDriver
}

func (r *GPIORelay) Set(on bool) error {
	if on {
		return r.drv.On()
	}
	return r.drv.Off()
}

// SHT2x adapts the gobot SHT2x driver to sensor.Reader.
type SHT2x struct {
	drv *i2c.SHT2xDriver
}

func (s *SHT2x) Read() (float64, float64, error) {
	t, err := s.drv.Temperature()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", sensor.ErrInvalidReading, err)
	}
	h, err := s.drv.Humidity()
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", sensor.ErrInvalidReading, err)
	}
	return float64(t), float64(h), nil
}

func openRaspi(cfg config.HardwareConfig) (*Devices, error) {
	r := raspi.NewAdaptor()
	if err := r.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect raspi adaptor: %w", err)
	}

	d := &Devices{Button: &Latch{}, Renderer: display.LogRenderer{}}
	d.closers = append(d.closers, r.Finalize)

	relay := gpio.NewRelayDriver(r, cfg.RelayPin)
	sht := i2c.NewSHT2xDriver(r)
	button := gpio.NewButtonDriver(r, cfg.ButtonPin)

	for _, drv := range []interface {
		Start() error
		Halt() error
		Name() string
	}{relay, sht, button} {
		if err := drv.Start(); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to start %s: %w", drv.Name(), err)
		}
		d.closers = append(d.closers, drv.Halt)
	}

	if err := button.On(gpio.ButtonPush, func(interface{}) { d.Button.Press() }); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to subscribe button: %w", err)
	}

	// Drive the relay to a known state before the first decision.
	if err := relay.Off(); err != nil {
		log.Warn().Err(err).Msg("Failed to reset relay")
	}

	d.Relay = &GPIORelay{drv: relay}
	d.Sensor = &SHT2x{drv: sht}

	log.Info().
		Str("relay_pin", cfg.RelayPin).
		Str("button_pin", cfg.ButtonPin).
		Msg("Raspberry Pi hardware ready")
	return d, nil
}
