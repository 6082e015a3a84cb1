// Package radio is the wireless configuration service: a single writable
// characteristic bridged over MQTT, an advertising window, and status
// telemetry.
package radio

import "time"

// Advertiser tracks the advertising window. It has no stop operation; a
// window simply expires.
type Advertiser struct {
	duration time.Duration
	until    time.Time
}

// NewAdvertiser creates an advertiser whose windows last duration.
func NewAdvertiser(duration time.Duration) *Advertiser {
	return &Advertiser{duration: duration}
}

// Start opens a window at now, extending any open one.
func (a *Advertiser) Start(now time.Time) {
	a.until = now.Add(a.duration)
}

// Active reports whether the window is open at now.
func (a *Advertiser) Active(now time.Time) bool {
	return now.Before(a.until)
}

// Until returns when the current window closes.
func (a *Advertiser) Until() time.Time { return a.until }
