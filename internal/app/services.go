package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/paco7828/smart-humidifier/internal/command"
	"github.com/paco7828/smart-humidifier/internal/config"
	"github.com/paco7828/smart-humidifier/internal/db"
	"github.com/paco7828/smart-humidifier/internal/eventbus"
	"github.com/paco7828/smart-humidifier/internal/hw"
	"github.com/paco7828/smart-humidifier/internal/ledger"
	"github.com/paco7828/smart-humidifier/internal/power"
	"github.com/paco7828/smart-humidifier/internal/radio"
	"github.com/paco7828/smart-humidifier/internal/retained"
)

// Services holds everything that outlives a deep-sleep cycle: the retained
// region, storage, hardware and the radio link.
type Services struct {
	cfg *config.Config

	// RunID tags ledger entries of this process.
	RunID string

	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	Region retained.Region
	Store  *retained.Store
	Power  *power.Manager

	Hardware *hw.Devices
	Mailbox  *command.Mailbox

	Radio  *radio.Service
	Status *radio.StatusPublisher
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg, RunID: uuid.NewString(), Mailbox: &command.Mailbox{}}

	settings, err := cfg.Settings()
	if err != nil {
		return nil, err
	}

	if cfg.Retained.Backend == "sqlite" || cfg.Ledger.Enabled {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
	}

	if cfg.Retained.Backend == "sqlite" {
		s.Region = retained.NewSQLiteRegion(s.DB.DB)
	} else {
		s.Region = retained.NewMemoryRegion()
	}
	s.Store = retained.NewStore(s.Region, retained.Default(settings))
	s.Power = power.NewManager(s.Store, power.TimerSleeper{Wake: s.Mailbox.Notify()})

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.Workers, cfg.EventBus.QueueSize)

	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(s.DB.DB)
		retention := time.Duration(cfg.Ledger.RetentionDays) * 24 * time.Hour
		if n, err := s.Ledger.DeleteOlderThan(time.Now(), retention); err != nil {
			log.Warn().Err(err).Msg("Ledger cleanup failed")
		} else if n > 0 {
			log.Info().Int64("deleted", n).Msg("Ledger cleanup")
		}
		s.Bus.SubscribeAll(s.Ledger.Recorder(s.RunID))
	}

	s.Hardware, err = hw.Open(cfg.Hardware, time.Now)
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Start connects the radio. A broker that cannot be reached is logged and
// the device runs without the wireless channel.
func (s *Services) Start(ctx context.Context) error {
	if !s.cfg.Radio.Enabled {
		log.Info().Msg("Radio disabled")
		return nil
	}

	opts := radio.Options{
		Broker:             s.cfg.Radio.Broker,
		ClientID:           s.cfg.Radio.ClientID,
		Username:           s.cfg.Radio.Username,
		Password:           s.cfg.Radio.Password,
		DeviceName:         s.cfg.Radio.DeviceName,
		ServiceUUID:        s.cfg.Radio.ServiceUUID,
		CharacteristicUUID: s.cfg.Radio.CharacteristicUUID,
		TopicPrefix:        s.cfg.Radio.TopicPrefix,
		ConnectTimeout:     s.cfg.Radio.ConnectTimeout.Duration(),
	}

	client, err := radio.Dial(opts)
	if err != nil {
		log.Error().Err(err).Msg("Radio unavailable, continuing without wireless configuration")
		return nil
	}

	svc := radio.NewService(client, opts, s.Mailbox)
	if err := svc.Start(); err != nil {
		client.Disconnect(250)
		log.Error().Err(err).Msg("Radio unavailable, continuing without wireless configuration")
		return nil
	}
	s.Radio = svc

	s.Status = radio.NewStatusPublisher(svc, s.cfg.Radio.DeviceName, s.cfg.Radio.StatusRPS)
	s.Bus.SubscribeAll(s.Status.Handle)
	return nil
}

// Deps returns the collaborators for a new Device.
func (s *Services) Deps() Deps {
	d := Deps{
		Relay:    s.Hardware.Relay,
		Button:   s.Hardware.Button,
		Sensor:   s.Hardware.Sensor,
		Renderer: s.Hardware.Renderer,
		Mailbox:  s.Mailbox,
		Store:    s.Store,
		Bus:      s.Bus,
	}
	if s.Radio != nil {
		d.Radio = s.Radio
	}
	return d
}

// ClearState wipes the retained region.
func (s *Services) ClearState() error {
	return s.Store.Clear()
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	if s.Radio != nil {
		s.Radio.Stop()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	s.Close()
	return nil
}

// Close releases hardware and storage.
func (s *Services) Close() {
	if s.Hardware != nil {
		if err := s.Hardware.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to release hardware")
		}
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
