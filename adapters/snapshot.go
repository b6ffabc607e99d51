package adapters

import (
	"context"
	"sync"
	"time"

	"appliance-telemetry/application"

	"github.com/rs/zerolog"
)

const SnapshotDefaultSaveTimeout = 5 * time.Second

// SnapshotStore keeps the latest merged state of a device outside the process.
type SnapshotStore interface {
	Save(ctx context.Context, deviceID string, state map[string]any) error
}

type SnapshotParams struct {
	DeviceID string

	// optional
	Store       SnapshotStore
	SaveTimeout time.Duration

	Log zerolog.Logger
}

func (p *SnapshotParams) EnsureDefaults() {
	if p.SaveTimeout == 0 {
		p.SaveTimeout = SnapshotDefaultSaveTimeout
	}
}

// Snapshot accumulates reported fields for one device. Newer values replace
// older ones field by field.
type Snapshot struct {
	params SnapshotParams

	mu      sync.RWMutex
	state   map[string]any
	updated time.Time

	log zerolog.Logger
}

func NewSnapshot(params SnapshotParams) *Snapshot {
	params.EnsureDefaults()
	return &Snapshot{
		params: params,
		state:  make(map[string]any),
		log:    params.Log,
	}
}

func (s *Snapshot) Merge(reported map[string]any) {
	s.mu.Lock()
	for k, v := range reported {
		s.state[k] = v
	}
	s.updated = time.Now()
	state := s.copyLocked()
	s.mu.Unlock()

	s.log.Debug().Str("device_id", s.params.DeviceID).Int("fields", len(reported)).Msg("state merged")

	if s.params.Store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.params.SaveTimeout)
	defer cancel()

	if err := s.params.Store.Save(ctx, s.params.DeviceID, state); err != nil {
		s.log.Error().Err(err).Str("device_id", s.params.DeviceID).Msg("failed to save snapshot")
	}
}

// State returns a copy of the accumulated state.
func (s *Snapshot) State() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyLocked()
}

func (s *Snapshot) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}

func (s *Snapshot) copyLocked() map[string]any {
	state := make(map[string]any, len(s.state))
	for k, v := range s.state {
		state[k] = v
	}
	return state
}

var _ application.Consumer = &Snapshot{}
