package radio

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Client is the part of mqtt.Client the service uses.
type Client interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
}

// Inbox receives raw inbound writes. *command.Mailbox satisfies it.
type Inbox interface {
	Post(raw string)
}

// Options configures the service.
type Options struct {
	Broker             string
	ClientID           string
	Username           string
	Password           string
	DeviceName         string
	ServiceUUID        string
	CharacteristicUUID string
	TopicPrefix        string
	ConnectTimeout     time.Duration
}

// maxWriteSize matches the largest single BLE characteristic write.
const maxWriteSize = 512

// Dial connects to the broker.
func Dial(opts Options) (mqtt.Client, error) {
	co := mqtt.NewClientOptions().AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.SetAutoReconnect(true)
	co.SetConnectTimeout(opts.ConnectTimeout)
	co.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", opts.Broker).Msg("Connected to MQTT broker")
	})
	co.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	c := mqtt.NewClient(co)
	token := c.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out after %s", opts.Broker, opts.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", opts.Broker, err)
	}
	return c, nil
}

// Service exposes the configuration characteristic on
// <prefix>/<service_uuid>/<characteristic_uuid>. Writes are fire-and-forget:
// valid UTF-8 text is trimmed and posted to the inbox, nothing is answered.
type Service struct {
	client  Client
	opts    Options
	inbox   Inbox
	timeout time.Duration

	mu          sync.Mutex
	advertising bool
}

// NewService creates a service on an open client.
func NewService(client Client, opts Options, inbox Inbox) *Service {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{client: client, opts: opts, inbox: inbox, timeout: timeout}
}

// CharacteristicTopic is the topic inbound writes arrive on.
func (s *Service) CharacteristicTopic() string {
	return fmt.Sprintf("%s/%s/%s", s.opts.TopicPrefix, s.opts.ServiceUUID, s.opts.CharacteristicUUID)
}

// AdvertisementTopic carries the retained advertisement.
func (s *Service) AdvertisementTopic() string {
	return s.opts.TopicPrefix + "/advertise"
}

// StatusTopic carries status telemetry.
func (s *Service) StatusTopic() string {
	return s.opts.TopicPrefix + "/status"
}

// Start subscribes to the characteristic.
func (s *Service) Start() error {
	topic := s.CharacteristicTopic()
	if err := s.wait(s.client.Subscribe(topic, 1, s.onWrite)); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	log.Info().Str("topic", topic).Msg("Configuration characteristic ready")
	return nil
}

func (s *Service) onWrite(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()
	if len(payload) > maxWriteSize {
		log.Warn().Int("size", len(payload)).Msg("Dropping oversized characteristic write")
		return
	}
	if !utf8.Valid(payload) {
		log.Warn().Msg("Dropping non UTF-8 characteristic write")
		return
	}
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return
	}
	log.Debug().Str("command", raw).Msg("Characteristic written")
	s.inbox.Post(raw)
}

type advertisement struct {
	Name           string `json:"name"`
	Service        string `json:"service_uuid"`
	Characteristic string `json:"characteristic_uuid"`
	Advertising    bool   `json:"advertising"`
}

// SetAdvertising publishes the advertisement state when it changes.
func (s *Service) SetAdvertising(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on == s.advertising {
		return nil
	}

	payload, err := json.Marshal(advertisement{
		Name:           s.opts.DeviceName,
		Service:        s.opts.ServiceUUID,
		Characteristic: s.opts.CharacteristicUUID,
		Advertising:    on,
	})
	if err != nil {
		return err
	}
	if err := s.wait(s.client.Publish(s.AdvertisementTopic(), 1, true, payload)); err != nil {
		return fmt.Errorf("publish advertisement: %w", err)
	}
	s.advertising = on

	log.Info().Bool("advertising", on).Str("name", s.opts.DeviceName).Msg("Advertisement updated")
	return nil
}

// PublishStatus sends a status payload without retaining it.
func (s *Service) PublishStatus(payload []byte) error {
	return s.wait(s.client.Publish(s.StatusTopic(), 0, false, payload))
}

// Stop withdraws the advertisement and disconnects.
func (s *Service) Stop() {
	if err := s.SetAdvertising(false); err != nil {
		log.Warn().Err(err).Msg("Failed to withdraw advertisement")
	}
	if err := s.wait(s.client.Unsubscribe(s.CharacteristicTopic())); err != nil {
		log.Warn().Err(err).Msg("Failed to unsubscribe characteristic")
	}
	s.client.Disconnect(250)
}

func (s *Service) wait(t mqtt.Token) error {
	if !t.WaitTimeout(s.timeout) {
		return fmt.Errorf("timed out after %s", s.timeout)
	}
	return t.Error()
}
