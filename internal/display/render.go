package display

import (
	"github.com/rs/zerolog/log"
)

// Color is an RGB565 value as understood by ST77xx-class panels.
type Color uint16

const (
	ColorBlack  Color = 0x0000
	ColorWhite  Color = 0xFFFF
	ColorRed    Color = 0xF800
	ColorGreen  Color = 0x07E0
	ColorBlue   Color = 0x001F
	ColorCyan   Color = 0x07FF
	ColorYellow Color = 0xFFE0
	ColorOrange Color = 0xFC00
	ColorGray   Color = 0x8410
)

// IconKind names a glyph the renderer knows how to draw.
type IconKind uint8

const (
	IconThermometer IconKind = iota
	IconWaterDrop
	IconTarget
	IconMode
	IconBluetooth
)

func (k IconKind) String() string {
	switch k {
	case IconThermometer:
		return "thermometer"
	case IconWaterDrop:
		return "water_drop"
	case IconTarget:
		return "target"
	case IconMode:
		return "mode"
	case IconBluetooth:
		return "bluetooth"
	default:
		return "unknown"
	}
}

// Icon is a semantic draw request for a glyph.
type Icon struct {
	Kind  IconKind
	X, Y  int
	Color Color
}

// Text is a semantic draw request for a string. Value "" clears the field.
type Text struct {
	X, Y  int
	Color Color
	Size  int
	Value string
}

// Renderer is the display capability. It owns rasterization.
type Renderer interface {
	SetBacklight(on bool)
	Clear(bg Color)
	DrawIcon(icon Icon)
	DrawText(text Text)
}

// LogRenderer writes draw requests to the debug log. Used on hosts without a panel.
type LogRenderer struct{}

func (LogRenderer) SetBacklight(on bool) {
	log.Debug().Bool("on", on).Msg("Display backlight")
}

func (LogRenderer) Clear(bg Color) {
	log.Debug().Uint16("bg", uint16(bg)).Msg("Display cleared")
}

func (LogRenderer) DrawIcon(icon Icon) {
	log.Debug().
		Str("icon", icon.Kind.String()).
		Int("x", icon.X).
		Int("y", icon.Y).
		Msg("Display icon")
}

func (LogRenderer) DrawText(text Text) {
	log.Debug().
		Int("x", text.X).
		Int("y", text.Y).
		Str("value", text.Value).
		Msg("Display text")
}
