package display

import (
	"fmt"
	"time"

	"github.com/paco7828/smart-humidifier/internal/control"
)

// Status is the set of values shown on the status screen.
type Status struct {
	Temperature    float64
	Humidity       float64
	HasMeasurement bool
	Threshold      float64
	Mode           control.Mode
	RelayOn        bool
	Advertising    bool
}

// Layout of the 160x128 landscape status screen.
const (
	iconX  = 12
	textX  = 30
	rowTop = 14
	rowGap = 26
	btX    = 138
	btY    = 4
)

type field uint8

const (
	fieldTemperature field = iota
	fieldHumidity
	fieldThreshold
	fieldMode
	fieldRelay
	fieldAdvertising
	fieldCount
)

// View draws Status through a Renderer. Fields are redrawn only when their
// rendered value changed, and no more often than the update interval. A
// full redraw happens every time the display enters On.
type View struct {
	r              Renderer
	updateInterval time.Duration

	lit        bool
	drawn      bool
	prev       [fieldCount]string
	lastDrawAt time.Time
	draws      int
}

// NewView creates a view drawing through r.
func NewView(r Renderer, updateInterval time.Duration) *View {
	return &View{r: r, updateInterval: updateInterval}
}

// Update syncs the backlight with phase and redraws what changed.
// It returns the number of draw requests issued.
func (v *View) Update(now time.Time, phase Phase, st Status) int {
	on := phase == PhaseOn
	if on != v.lit {
		v.r.SetBacklight(on)
		v.lit = on
	}
	if !on {
		v.drawn = false
		return 0
	}

	v.draws = 0
	cur := render(st)

	if !v.drawn {
		v.r.Clear(ColorBlack)
		v.icon(Icon{Kind: IconThermometer, X: iconX, Y: row(0), Color: ColorRed})
		v.icon(Icon{Kind: IconWaterDrop, X: iconX, Y: row(1), Color: ColorCyan})
		v.icon(Icon{Kind: IconTarget, X: iconX, Y: row(2), Color: ColorGreen})
		v.icon(Icon{Kind: IconMode, X: iconX, Y: row(3), Color: ColorYellow})
		for f := field(0); f < fieldCount; f++ {
			v.drawField(f, cur[f], st)
		}
		v.drawn = true
	} else {
		if now.Sub(v.lastDrawAt) < v.updateInterval {
			return 0
		}
		for f := field(0); f < fieldCount; f++ {
			if cur[f] != v.prev[f] {
				v.drawField(f, cur[f], st)
			}
		}
	}

	v.prev = cur
	v.lastDrawAt = now
	return v.draws
}

func render(st Status) [fieldCount]string {
	var out [fieldCount]string
	if st.HasMeasurement {
		out[fieldTemperature] = fmt.Sprintf("%.1f C", st.Temperature)
		out[fieldHumidity] = fmt.Sprintf("%.1f %%", st.Humidity)
	} else {
		out[fieldTemperature] = "--"
		out[fieldHumidity] = "--"
	}
	out[fieldThreshold] = fmt.Sprintf("%.0f %%", st.Threshold)
	if st.Mode == control.ModeTimed {
		out[fieldMode] = "TIMED"
	} else {
		out[fieldMode] = "AUTO"
	}
	if st.RelayOn {
		out[fieldRelay] = "ON"
	} else {
		out[fieldRelay] = "OFF"
	}
	if st.Advertising {
		out[fieldAdvertising] = "BT"
	}
	return out
}

func (v *View) drawField(f field, value string, st Status) {
	switch f {
	case fieldAdvertising:
		// Erasing the icon is drawing it in the background color.
		c := ColorBlack
		if st.Advertising {
			c = ColorBlue
		}
		v.icon(Icon{Kind: IconBluetooth, X: btX, Y: btY, Color: c})
	case fieldRelay:
		c := ColorGray
		if st.RelayOn {
			c = ColorGreen
		}
		v.text(Text{X: textX + 70, Y: row(3), Color: c, Size: 2, Value: value})
	default:
		v.text(Text{X: textX, Y: row(int(f)), Color: ColorWhite, Size: 2, Value: value})
	}
}

func (v *View) icon(i Icon) {
	v.r.DrawIcon(i)
	v.draws++
}

func (v *View) text(t Text) {
	v.r.DrawText(t)
	v.draws++
}

func row(i int) int { return rowTop + i*rowGap }
