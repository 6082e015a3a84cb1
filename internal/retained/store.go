package retained

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Store is the persistent state store: Save before sleep, Load once at boot.
type Store struct {
	region    Region
	defaults  Snapshot
	bootCount uint32
}

// NewStore creates a store over region. defaults is returned by Load on
// first boot and whenever the region does not hold a valid record.
func NewStore(region Region, defaults Snapshot) *Store {
	return &Store{region: region, defaults: defaults}
}

// Load returns the saved snapshot and the boot count of this boot. The
// incremented count is written back before returning. It never fails: an
// empty, unreadable or corrupt region yields the defaults.
func (s *Store) Load() (Snapshot, uint32) {
	snap, prev := s.read()
	if prev == 0 {
		snap = s.defaults
	}

	s.bootCount = prev + 1
	if err := s.region.Write(Encode(snap, s.bootCount)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist boot count")
	}

	log.Debug().
		Uint32("boot_count", s.bootCount).
		Bool("first_boot", prev == 0).
		Msg("Retained state loaded")
	return snap, s.bootCount
}

func (s *Store) read() (Snapshot, uint32) {
	raw, err := s.region.Read()
	if err != nil {
		log.Warn().Err(err).Msg("Retained region unreadable, using defaults")
		return Snapshot{}, 0
	}
	if raw == nil {
		return Snapshot{}, 0
	}

	snap, count, err := Decode(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Retained record invalid, using defaults")
		return Snapshot{}, 0
	}
	return snap, count
}

// Save writes snap with the current boot count. Sleep must not be entered
// unless Save returned nil.
func (s *Store) Save(snap Snapshot) error {
	if err := s.region.Write(Encode(snap, s.bootCount)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Clear wipes the region so the next Load is a first boot.
func (s *Store) Clear() error {
	s.bootCount = 0
	return s.region.Clear()
}

// BootCount returns the count established by the last Load.
func (s *Store) BootCount() uint32 { return s.bootCount }
