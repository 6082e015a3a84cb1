// Package retained persists the operating snapshot across deep sleep.
//
// The snapshot is stored as a fixed-size little-endian record guarded by a
// magic, a version byte and a CRC-8 so a stale or damaged region is detected
// and replaced by defaults instead of being misread.
package retained

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sigurn/crc8"

	"github.com/paco7828/smart-humidifier/internal/control"
	"github.com/paco7828/smart-humidifier/internal/display"
)

// ErrCorrupt is returned by Decode for records that fail validation.
var ErrCorrupt = errors.New("retained record corrupt")

// Snapshot is everything that survives a deep-sleep cycle.
//
// Times are stored as Unix milliseconds. Decode returns them truncated to the
// millisecond and in UTC, so Decode(Encode(s)) equals s only for snapshots
// whose times are already whole UTC milliseconds; compare other times with
// Equal after Truncate(time.Millisecond). The zero time round-trips as zero.
type Snapshot struct {
	Settings control.Settings
	Runtime  control.RuntimeState

	DisplayPhase      display.Phase
	DisplaySleepStart time.Time

	LastSampleAt    time.Time
	HasMeasurement  bool
	LastTemperature float64
	LastHumidity    float64
}

// Default returns the first-boot snapshot for settings.
func Default(settings control.Settings) Snapshot {
	return Snapshot{
		Settings:     settings,
		DisplayPhase: display.PhaseOn,
	}
}

// Measurement returns the last measurement, or nil if none was taken.
func (s Snapshot) Measurement() *control.Measurement {
	if !s.HasMeasurement {
		return nil
	}
	return &control.Measurement{
		Temperature: s.LastTemperature,
		Humidity:    s.LastHumidity,
		TakenAt:     s.LastSampleAt,
	}
}

const (
	RecordSize = 96
	Version    = 1

	magic = "HUMI"
)

const (
	flagActive byte = 1 << iota
	flagFirstCycleConsumed
	flagHasMeasurement
)

// Record field offsets.
const (
	offMagic             = 0
	offVersion           = 4
	offMode              = 5
	offFlags             = 6
	offPhase             = 7
	offBootCount         = 8
	offThreshold         = 12
	offHysteresis        = 20
	offInterval          = 28
	offDuration          = 36
	offLastSampleAt      = 44
	offLastCycleStart    = 52
	offActivatedAt       = 60
	offDisplaySleepStart = 68
	offLastTemperature   = 76
	offLastHumidity      = 84
	offCRC               = RecordSize - 1
)

var crcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

var le = binary.LittleEndian

// Encode serializes s with bootCount into a record.
func Encode(s Snapshot, bootCount uint32) []byte {
	b := make([]byte, RecordSize)
	copy(b[offMagic:], magic)
	b[offVersion] = Version
	b[offMode] = byte(s.Settings.Mode)
	b[offPhase] = byte(s.DisplayPhase)

	var flags byte
	if s.Runtime.Active {
		flags |= flagActive
	}
	if s.Runtime.FirstCycleConsumed {
		flags |= flagFirstCycleConsumed
	}
	if s.HasMeasurement {
		flags |= flagHasMeasurement
	}
	b[offFlags] = flags

	le.PutUint32(b[offBootCount:], bootCount)
	le.PutUint64(b[offThreshold:], math.Float64bits(s.Settings.HumidityThreshold))
	le.PutUint64(b[offHysteresis:], math.Float64bits(s.Settings.Hysteresis))
	le.PutUint64(b[offInterval:], uint64(s.Settings.TimedInterval.Milliseconds()))
	le.PutUint64(b[offDuration:], uint64(s.Settings.TimedDuration.Milliseconds()))
	le.PutUint64(b[offLastSampleAt:], uint64(unixMilli(s.LastSampleAt)))
	le.PutUint64(b[offLastCycleStart:], uint64(unixMilli(s.Runtime.LastCycleStart)))
	le.PutUint64(b[offActivatedAt:], uint64(unixMilli(s.Runtime.ActivatedAt)))
	le.PutUint64(b[offDisplaySleepStart:], uint64(unixMilli(s.DisplaySleepStart)))
	le.PutUint64(b[offLastTemperature:], math.Float64bits(s.LastTemperature))
	le.PutUint64(b[offLastHumidity:], math.Float64bits(s.LastHumidity))

	b[offCRC] = crc8.Checksum(b[:offCRC], crcTable)
	return b
}

// Decode parses a record produced by Encode.
func Decode(b []byte) (Snapshot, uint32, error) {
	if len(b) != RecordSize {
		return Snapshot{}, 0, fmt.Errorf("%w: size %d", ErrCorrupt, len(b))
	}
	if string(b[offMagic:offMagic+len(magic)]) != magic {
		return Snapshot{}, 0, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if b[offVersion] != Version {
		return Snapshot{}, 0, fmt.Errorf("%w: version %d", ErrCorrupt, b[offVersion])
	}
	if got, want := b[offCRC], crc8.Checksum(b[:offCRC], crcTable); got != want {
		return Snapshot{}, 0, fmt.Errorf("%w: crc 0x%02x, want 0x%02x", ErrCorrupt, got, want)
	}

	flags := b[offFlags]
	s := Snapshot{
		Settings: control.Settings{
			Mode:              control.Mode(b[offMode]),
			HumidityThreshold: math.Float64frombits(le.Uint64(b[offThreshold:])),
			Hysteresis:        math.Float64frombits(le.Uint64(b[offHysteresis:])),
			TimedInterval:     time.Duration(le.Uint64(b[offInterval:])) * time.Millisecond,
			TimedDuration:     time.Duration(le.Uint64(b[offDuration:])) * time.Millisecond,
		},
		Runtime: control.RuntimeState{
			Active:             flags&flagActive != 0,
			FirstCycleConsumed: flags&flagFirstCycleConsumed != 0,
			ActivatedAt:        fromUnixMilli(int64(le.Uint64(b[offActivatedAt:]))),
			LastCycleStart:     fromUnixMilli(int64(le.Uint64(b[offLastCycleStart:]))),
		},
		DisplayPhase:      display.Phase(b[offPhase]),
		DisplaySleepStart: fromUnixMilli(int64(le.Uint64(b[offDisplaySleepStart:]))),
		LastSampleAt:      fromUnixMilli(int64(le.Uint64(b[offLastSampleAt:]))),
		HasMeasurement:    flags&flagHasMeasurement != 0,
		LastTemperature:   math.Float64frombits(le.Uint64(b[offLastTemperature:])),
		LastHumidity:      math.Float64frombits(le.Uint64(b[offLastHumidity:])),
	}

	if err := s.Settings.Validate(); err != nil {
		return Snapshot{}, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !s.DisplayPhase.Valid() {
		return Snapshot{}, 0, fmt.Errorf("%w: display phase %d", ErrCorrupt, s.DisplayPhase)
	}
	return s, le.Uint32(b[offBootCount:]), nil
}

// unixMilli maps the zero time to 0.
func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
