package radio

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/paco7828/smart-humidifier/internal/command"
	"github.com/paco7828/smart-humidifier/internal/eventbus"
)

type token struct{ err error }

func (t *token) Wait() bool                     { return true }
func (t *token) WaitTimeout(time.Duration) bool { return true }
func (t *token) Error() error                   { return t.err }
func (t *token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	handlers     map[string]mqtt.MessageHandler
	published    []published
	unsubscribed []string
	disconnected bool
	publishErr   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: map[string]mqtt.MessageHandler{}}
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = cb
	return &token{}
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &token{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &token{}
}

func (c *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, topics...)
	return &token{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeClient) write(topic string, payload []byte) {
	c.mu.Lock()
	h := c.handlers[topic]
	c.mu.Unlock()
	h(nil, &message{topic: topic, payload: payload})
}

type message struct {
	topic   string
	payload []byte
}

func (m *message) Duplicate() bool   { return false }
func (m *message) Qos() byte         { return 1 }
func (m *message) Retained() bool    { return false }
func (m *message) Topic() string     { return m.topic }
func (m *message) MessageID() uint16 { return 1 }
func (m *message) Payload() []byte   { return m.payload }
func (m *message) Ack()              {}

var testOptions = Options{
	DeviceName:         "Smart-humidifier",
	ServiceUUID:        "4fafc201-1fb5-459e-8fcc-c5c9c331914b",
	CharacteristicUUID: "beb5483e-36e1-4688-b7f5-ea07361b26a8",
	TopicPrefix:        "humidifier",
}

func TestService_Writes(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    string
		posted  bool
	}{
		{"command/trimmed", []byte("  MODE=TIMED\r\n"), "MODE=TIMED", true},
		{"command/raw_passthrough", []byte("THRESHOLD=abc"), "THRESHOLD=abc", true},
		{"dropped/blank", []byte(" \n"), "", false},
		{"dropped/invalid_utf8", []byte{0xff, 0xfe, 'M'}, "", false},
		{"dropped/oversized", make([]byte, maxWriteSize+1), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			var box command.Mailbox
			s := NewService(client, testOptions, &box)
			if err := s.Start(); err != nil {
				t.Fatalf("Start: %v", err)
			}

			topic := "humidifier/4fafc201-1fb5-459e-8fcc-c5c9c331914b/beb5483e-36e1-4688-b7f5-ea07361b26a8"
			if s.CharacteristicTopic() != topic {
				t.Fatalf("CharacteristicTopic() = %q", s.CharacteristicTopic())
			}
			client.write(topic, tt.payload)

			got, ok := box.Take()
			if ok != tt.posted || got != tt.want {
				t.Fatalf("mailbox = %q, %v, want %q, %v", got, ok, tt.want, tt.posted)
			}
		})
	}
}

func TestService_Advertising(t *testing.T) {
	client := newFakeClient()
	s := NewService(client, testOptions, &command.Mailbox{})

	if err := s.SetAdvertising(true); err != nil {
		t.Fatalf("SetAdvertising: %v", err)
	}
	if err := s.SetAdvertising(true); err != nil {
		t.Fatalf("SetAdvertising repeat: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("published %d advertisements, want 1", len(client.published))
	}

	p := client.published[0]
	var adv advertisement
	if err := json.Unmarshal(p.payload, &adv); err != nil {
		t.Fatal(err)
	}
	if p.topic != "humidifier/advertise" || !p.retained || !adv.Advertising || adv.Name != "Smart-humidifier" {
		t.Fatalf("advertisement = %s on %s (retained=%v)", p.payload, p.topic, p.retained)
	}

	s.Stop()
	if len(client.published) != 2 || !client.disconnected || len(client.unsubscribed) != 1 {
		t.Fatalf("Stop left published=%d disconnected=%v unsubscribed=%v",
			len(client.published), client.disconnected, client.unsubscribed)
	}
}

func TestService_AdvertisingPublishError(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.New("not connected")
	s := NewService(client, testOptions, &command.Mailbox{})

	if err := s.SetAdvertising(true); err == nil {
		t.Fatal("expected error")
	}
	client.publishErr = nil
	if err := s.SetAdvertising(true); err != nil || len(client.published) != 1 {
		t.Fatalf("retry after failure: err=%v published=%d", err, len(client.published))
	}
}

func TestAdvertiser(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	a := NewAdvertiser(2 * time.Minute)

	if a.Active(t0) {
		t.Fatal("active before Start")
	}
	a.Start(t0)
	if !a.Active(t0.Add(119 * time.Second)) {
		t.Fatal("window closed early")
	}
	if a.Active(t0.Add(2 * time.Minute)) {
		t.Fatal("window did not expire")
	}

	a.Start(t0.Add(time.Minute))
	if !a.Active(t0.Add(2*time.Minute)) || !a.Until().Equal(t0.Add(3*time.Minute)) {
		t.Fatalf("restart did not extend window, until=%v", a.Until())
	}
}

type sink struct{ payloads []map[string]any }

func (s *sink) PublishStatus(p []byte) error {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return err
	}
	s.payloads = append(s.payloads, m)
	return nil
}

func TestStatusPublisher(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	out := &sink{}
	p := NewStatusPublisher(out, "Smart-humidifier", 0.5)

	p.Handle(eventbus.Event{Type: eventbus.EventMeasurement, At: t0, Data: map[string]any{"humidity": 44.0}})
	p.Handle(eventbus.Event{Type: eventbus.EventMeasurement, At: t0.Add(time.Second), Data: map[string]any{"humidity": 45.0}})
	if len(out.payloads) != 1 {
		t.Fatalf("published %d, want 1 (rate limited)", len(out.payloads))
	}

	p.Handle(eventbus.Event{Type: eventbus.EventRelay, At: t0.Add(1500 * time.Millisecond), Data: map[string]any{"relay_on": true}})
	if len(out.payloads) != 2 {
		t.Fatalf("relay change not published immediately")
	}
	last := out.payloads[1]
	if last["humidity"] != 45.0 || last["relay_on"] != true || last["event"] != "relay" || last["device"] != "Smart-humidifier" {
		t.Fatalf("status = %v", last)
	}

	p.Handle(eventbus.Event{Type: eventbus.EventMeasurement, At: t0.Add(3 * time.Second), Data: map[string]any{"humidity": 46.0}})
	if len(out.payloads) != 3 {
		t.Fatalf("published %d after limiter refill, want 3", len(out.payloads))
	}
}
