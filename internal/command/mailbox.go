package command

import (
	"sync"
	"sync/atomic"
)

// Mailbox is a single-slot inbox between the radio callback and the
// superloop. Post overwrites an unconsumed command; Take empties the slot.
type Mailbox struct {
	slot atomic.Pointer[string]

	once   sync.Once
	notify chan struct{}
}

// Post stores raw, replacing any pending command. Safe from any goroutine.
func (m *Mailbox) Post(raw string) {
	m.slot.Store(&raw)
	select {
	case m.signal() <- struct{}{}:
	default:
	}
}

// Take removes and returns the pending command and clears its signal.
func (m *Mailbox) Take() (string, bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		return "", false
	}
	select {
	case <-m.signal():
	default:
	}
	return *p, true
}

// Pending reports whether a command is waiting.
func (m *Mailbox) Pending() bool {
	return m.slot.Load() != nil
}

// Notify receives a value after a Post. Signals coalesce, so one receive
// may stand for several posts.
func (m *Mailbox) Notify() <-chan struct{} {
	return m.signal()
}

func (m *Mailbox) signal() chan struct{} {
	m.once.Do(func() { m.notify = make(chan struct{}, 1) })
	return m.notify
}
