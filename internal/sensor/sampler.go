// Package sensor provides rate-limited temperature/humidity acquisition.
package sensor

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/control"
)

// ErrInvalidReading is returned by readers when the driver reports garbage.
var ErrInvalidReading = errors.New("invalid sensor reading")

// Reader is the sensor capability.
type Reader interface {
	Read() (temperature, humidity float64, err error)
}

// Plausible ranges of a DHT22/SHT2x class sensor.
const (
	minTemperature = -40.0
	maxTemperature = 80.0
	minHumidity    = 0.0
	maxHumidity    = 100.0
)

// Sampler reads the sensor at most once per interval and keeps the last
// good measurement. A failed read is retried on a later call, no sooner
// than retry after the failed attempt.
type Sampler struct {
	reader   Reader
	interval time.Duration
	retry    time.Duration

	lastSampleAt  time.Time
	lastAttemptAt time.Time
	current       *control.Measurement
}

// NewSampler creates a sampler. A first call to Sample always reads.
func NewSampler(reader Reader, interval, retry time.Duration) *Sampler {
	return &Sampler{
		reader:   reader,
		interval: interval,
		retry:    retry,
	}
}

// Sample returns a new measurement when one is due and the read succeeds.
func (s *Sampler) Sample(now time.Time) (control.Measurement, bool) {
	if !s.due(now) {
		return control.Measurement{}, false
	}
	s.lastAttemptAt = now

	temp, hum, err := s.reader.Read()
	if err == nil {
		err = validate(temp, hum)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Sensor read failed, keeping previous measurement")
		return control.Measurement{}, false
	}

	m := control.Measurement{Temperature: temp, Humidity: hum, TakenAt: now}
	s.current = &m
	s.lastSampleAt = now

	log.Debug().
		Float64("temperature", temp).
		Float64("humidity", hum).
		Msg("Sensor sampled")
	return m, true
}

func (s *Sampler) due(now time.Time) bool {
	if !s.lastSampleAt.IsZero() && now.Sub(s.lastSampleAt) < s.interval {
		return false
	}
	if !s.lastAttemptAt.IsZero() && s.lastAttemptAt.After(s.lastSampleAt) && now.Sub(s.lastAttemptAt) < s.retry {
		return false
	}
	return true
}

func validate(temp, hum float64) error {
	if math.IsNaN(temp) || math.IsNaN(hum) {
		return ErrInvalidReading
	}
	if temp < minTemperature || temp > maxTemperature {
		return fmt.Errorf("%w: temperature %.1f out of range", ErrInvalidReading, temp)
	}
	if hum < minHumidity || hum > maxHumidity {
		return fmt.Errorf("%w: humidity %.1f out of range", ErrInvalidReading, hum)
	}
	return nil
}

// Current returns the last good measurement, or nil before the first one.
func (s *Sampler) Current() *control.Measurement {
	if s.current == nil {
		return nil
	}
	m := *s.current
	return &m
}

// LastSampleAt returns the time of the last successful sample.
func (s *Sampler) LastSampleAt() time.Time { return s.lastSampleAt }

// NextDue returns when the next regular sample is due.
func (s *Sampler) NextDue() time.Time {
	if s.lastSampleAt.IsZero() {
		return time.Time{}
	}
	return s.lastSampleAt.Add(s.interval)
}

// Restore reinstates the sampling cadence and last measurement after a wake.
// A lastSampleAt after now, left by a clock stepping backwards, restarts the
// cadence at now.
func (s *Sampler) Restore(m *control.Measurement, lastSampleAt, now time.Time) {
	if lastSampleAt.After(now) {
		lastSampleAt = now
	}
	s.lastSampleAt = lastSampleAt
	s.lastAttemptAt = time.Time{}
	if m != nil {
		c := *m
		s.current = &c
	}
}
