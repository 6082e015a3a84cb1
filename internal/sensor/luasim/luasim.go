// Package luasim provides a simulated temperature/humidity sensor whose
// readings come from a Lua script.
//
// The script defines a global function
//
//	function read(elapsed)  -- seconds since the simulation started
//	  return temperature, humidity
//	end
//
// Returning nil simulates a failed read.
package luasim

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/paco7828/smart-humidifier/internal/sensor"
)

const readFunc = "read"

// DefaultScript is used when no script file is configured: a slow dry
// drift with a failed read every ten minutes.
const DefaultScript = `
function read(elapsed)
  if math.floor(elapsed) % 600 == 0 and elapsed > 0 then
    return nil
  end
  local h = 48 + 10 * math.sin(elapsed / 900)
  local t = 21 + 1.5 * math.sin(elapsed / 3600)
  return t, h
end
`

// Sensor evaluates the script on every Read. It is safe for concurrent use.
type Sensor struct {
	mu    sync.Mutex
	L     *lua.LState
	fn    lua.LValue
	start time.Time
	now   func() time.Time
}

// Load reads the script at path, or uses DefaultScript when path is empty.
func Load(path string, now func() time.Time) (*Sensor, error) {
	src := DefaultScript
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sensor script: %w", err)
		}
		src = string(data)
	}
	return New(src, now)
}

// New compiles src. now supplies the simulation clock; time.Now when nil.
func New(src string, now func() time.Time) (*Sensor, error) {
	if now == nil {
		now = time.Now
	}

	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load sensor script: %w", err)
	}

	fn := L.GetGlobal(readFunc)
	if fn.Type() != lua.LTFunction {
		L.Close()
		return nil, fmt.Errorf("sensor script must define function %q", readFunc)
	}

	log.Debug().Msg("Lua sensor script loaded")
	return &Sensor{L: L, fn: fn, start: now(), now: now}, nil
}

// Read implements sensor.Reader.
func (s *Sensor) Read() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.now().Sub(s.start).Seconds()
	if err := s.L.CallByParam(lua.P{Fn: s.fn, NRet: 2, Protect: true}, lua.LNumber(elapsed)); err != nil {
		return 0, 0, fmt.Errorf("sensor script failed: %w", err)
	}
	tv, hv := s.L.Get(-2), s.L.Get(-1)
	s.L.Pop(2)

	temp, ok1 := tv.(lua.LNumber)
	hum, ok2 := hv.(lua.LNumber)
	if !ok1 || !ok2 {
		return 0, 0, sensor.ErrInvalidReading
	}
	return float64(temp), float64(hum), nil
}

// Close releases the Lua state.
func (s *Sensor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}
