// Package command parses and applies configuration commands received over
// the wireless channel. A command is a single KEY=VALUE token.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paco7828/smart-humidifier/internal/control"
)

var (
	// ErrMalformed is returned when the command is not a KEY=VALUE token.
	ErrMalformed = errors.New("malformed command")
	// ErrUnknownKey is returned for keys outside the accepted set.
	ErrUnknownKey = errors.New("unknown command key")
	// ErrInvalidValue is returned when the value does not parse or violates
	// a settings invariant.
	ErrInvalidValue = errors.New("invalid command value")
)

// Key is an accepted command key.
type Key string

const (
	KeyMode       Key = "MODE"
	KeyThreshold  Key = "THRESHOLD"
	KeyHysteresis Key = "HYSTERESIS"
	KeyInterval   Key = "INTERVAL"
	KeyDuration   Key = "DURATION"
	KeyDisplay    Key = "DISPLAY"
)

// DisplayRequest is the effect of a DISPLAY command.
type DisplayRequest uint8

const (
	DisplayNone DisplayRequest = iota
	DisplayOn
	DisplayOff
)

// Command is a parsed command. Value is trimmed but otherwise raw.
type Command struct {
	Key   Key
	Value string
}

func (c Command) String() string { return string(c.Key) + "=" + c.Value }

// Parse splits raw into a command with a known key.
func Parse(raw string) (Command, error) {
	raw = strings.TrimSpace(raw)
	k, v, ok := strings.Cut(raw, "=")
	if !ok {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}
	k = strings.ToUpper(strings.TrimSpace(k))
	v = strings.TrimSpace(v)
	if k == "" || v == "" {
		return Command{}, fmt.Errorf("%w: %q", ErrMalformed, raw)
	}

	switch key := Key(k); key {
	case KeyMode, KeyThreshold, KeyHysteresis, KeyInterval, KeyDuration, KeyDisplay:
		return Command{Key: key, Value: v}, nil
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownKey, k)
	}
}

// Result is the outcome of a successfully applied command.
type Result struct {
	Command     Command
	Settings    control.Settings
	ModeChanged bool
	Display     DisplayRequest
}

// Process parses raw and applies it to a copy of current. The returned
// settings are validated as a whole; on any error current is the value the
// caller keeps.
func Process(raw string, current control.Settings) (Result, error) {
	cmd, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	return Apply(cmd, current)
}

// Apply applies cmd to a copy of current.
func Apply(cmd Command, current control.Settings) (Result, error) {
	next := current
	res := Result{Command: cmd}

	switch cmd.Key {
	case KeyMode:
		mode, err := control.ParseMode(cmd.Value)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
		}
		next.Mode = mode
		res.ModeChanged = mode != current.Mode
	case KeyThreshold:
		v, err := parseFloat(cmd.Value)
		if err != nil {
			return Result{}, err
		}
		next.HumidityThreshold = v
	case KeyHysteresis:
		v, err := parseFloat(cmd.Value)
		if err != nil {
			return Result{}, err
		}
		next.Hysteresis = v
	case KeyInterval:
		d, err := parseSeconds(cmd.Value)
		if err != nil {
			return Result{}, err
		}
		next.TimedInterval = d
	case KeyDuration:
		d, err := parseSeconds(cmd.Value)
		if err != nil {
			return Result{}, err
		}
		next.TimedDuration = d
	case KeyDisplay:
		switch strings.ToUpper(cmd.Value) {
		case "ON":
			res.Display = DisplayOn
		case "OFF":
			res.Display = DisplayOff
		default:
			return Result{}, fmt.Errorf("%w: display %q", ErrInvalidValue, cmd.Value)
		}
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownKey, cmd.Key)
	}

	if err := next.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	res.Settings = next
	return res, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	return v, nil
}

// parseSeconds accepts a positive whole number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a whole number of seconds", ErrInvalidValue, s)
	}
	return time.Duration(n) * time.Second, nil
}
