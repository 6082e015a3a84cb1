package radio

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/paco7828/smart-humidifier/internal/eventbus"
)

// StatusSink sends a status payload. *Service satisfies it.
type StatusSink interface {
	PublishStatus(payload []byte) error
}

// StatusPublisher folds device events into a status document and publishes
// it. Measurement and display events are rate limited; state changes are
// always sent.
type StatusPublisher struct {
	sink    StatusSink
	limiter *rate.Limiter
	device  string

	mu    sync.Mutex
	state map[string]any
}

// NewStatusPublisher creates a publisher allowing rps limited publishes per
// second. rps <= 0 disables the limit.
func NewStatusPublisher(sink StatusSink, device string, rps float64) *StatusPublisher {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &StatusPublisher{
		sink:    sink,
		limiter: rate.NewLimiter(limit, 1),
		device:  device,
		state:   map[string]any{},
	}
}

func limited(t eventbus.EventType) bool {
	switch t {
	case eventbus.EventMeasurement, eventbus.EventDisplayPhase, eventbus.EventButton:
		return true
	default:
		return false
	}
}

// Handle is an eventbus.Handler.
func (p *StatusPublisher) Handle(e eventbus.Event) {
	p.mu.Lock()
	for k, v := range e.Data {
		p.state[k] = v
	}
	p.state["device"] = p.device
	p.state["event"] = string(e.Type)
	p.state["at"] = e.At.UTC().Format(time.RFC3339)

	if limited(e.Type) && !p.limiter.AllowN(e.At, 1) {
		p.mu.Unlock()
		return
	}
	payload, err := json.Marshal(p.state)
	p.mu.Unlock()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode status")
		return
	}

	if err := p.sink.PublishStatus(payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("Failed to publish status")
	}
}
