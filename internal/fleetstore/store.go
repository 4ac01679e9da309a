// Package fleetstore implements a concurrency-safe mapping from vehicle
// id to latest vehicle record: one RWMutex-guarded map with deep-copy
// snapshots.
package fleetstore

import (
	"sync"
	"time"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// Telemetry is one inbound sample, decoded at the transport boundary
// (internal/transport) into this typed value before it ever reaches the
// store. Every field but the vehicle id itself is optional on the wire;
// a nil pointer (or, for Health, the empty string) means the sample
// omitted that field, and Ingest leaves the vehicle's last-known value
// in place rather than zeroing it.
type Telemetry struct {
	Position     *model.Vector3
	Velocity     *model.Vector3
	Energy       *float64
	Payload      *float64
	Health       model.Health
	TaskProgress map[int64]float64
}

// Store is the Fleet State Store. Many writers call Ingest concurrently
// (one per connected vehicle); exactly one reader, the orchestrator, calls
// Snapshot. A single RWMutex guards the map; writes and the snapshot copy
// both hold it only for their own short duration.
type Store struct {
	mu         sync.RWMutex
	vehicles   map[int64]model.Vehicle
	generation uint64

	// dischargeAlpha is the EMA smoothing constant for discharge-rate
	// tracking.
	dischargeAlpha float64
}

// New builds an empty store seeded with the given initial vehicle roster.
func New(initial []model.Vehicle) *Store {
	s := &Store{
		vehicles:       make(map[int64]model.Vehicle, len(initial)),
		dischargeAlpha: 0.3,
	}
	for _, v := range initial {
		s.vehicles[v.ID] = v
	}
	return s
}

// RegisterVehicle seeds or updates vehicleID's static capability fields
// (energy capacity, max payload, efficiency) — values the inbound
// telemetry wire format does not carry per-sample, so a fleet-registration
// surface sets them once up front. Dynamic fields (position, energy
// fraction, health, ...) are left untouched if the vehicle already has a
// record.
func (s *Store) RegisterVehicle(v model.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.vehicles[v.ID]
	if !ok {
		s.vehicles[v.ID] = v
		return
	}
	existing.EnergyCapacity = v.EnergyCapacity
	existing.MaxPayload = v.MaxPayload
	existing.Efficiency = v.Efficiency
	if v.Permissions != nil {
		existing.Permissions = v.Permissions
	}
	s.vehicles[v.ID] = existing
}

// Ingest updates vehicleID's record from telemetry. last-contact advances
// to arrivalTime and is kept monotonic per vehicle: a stale/out-of-order
// sample is ignored rather than rewinding the clock.
// Only fields present on the wire sample (non-nil, or non-empty for
// Health) overwrite the record; a field telemetry omitted keeps the
// vehicle's last-known value, rather than being zeroed.
// The discharge rate is recomputed as an exponential moving average
// (α=0.3) of the fractional energy drop per second since the previous
// sample, and only when the sample actually carried an energy reading.
func (s *Store) Ingest(vehicleID int64, t Telemetry, arrivalTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, existed := s.vehicles[vehicleID]
	if !existed {
		v = model.Vehicle{ID: vehicleID, Operational: true, Health: model.HealthHealthy}
	}

	if existed && !v.LastContact.IsZero() && !arrivalTime.After(v.LastContact) {
		// Out-of-order or duplicate sample: last-contact must stay
		// monotonic, so the sample is dropped rather than rewinding it.
		return
	}

	if t.Position != nil {
		if existed {
			v.PrevPosition = v.Position
			v.HavePrevPosition = true
		}
		v.Position = *t.Position
	}
	if t.Velocity != nil {
		v.Velocity = *t.Velocity
	}
	if t.Health != "" {
		v.Health = t.Health
	}
	v.LastContact = arrivalTime

	if t.Energy != nil {
		prevEnergy := v.PrevEnergySample
		prevTime := v.PrevSampleTime
		havePrev := !prevTime.IsZero()

		v.Energy = *t.Energy

		if havePrev {
			elapsed := arrivalTime.Sub(prevTime).Seconds()
			if elapsed > 0 {
				instantaneousRate := (prevEnergy - *t.Energy) / elapsed
				if instantaneousRate < 0 {
					instantaneousRate = 0
				}
				v.DischargeRateEMA = s.dischargeAlpha*instantaneousRate + (1-s.dischargeAlpha)*v.DischargeRateEMA
			}
		}
		v.PrevEnergySample = *t.Energy
		v.PrevSampleTime = arrivalTime
	}
	if t.Payload != nil {
		v.Payload = *t.Payload
	}

	s.vehicles[vehicleID] = v
}

// PositionJump returns the distance between vehicleID's current and
// previous ingested position, and whether a previous sample exists at all
// (false on the vehicle's first-ever sample — there is nothing to jump
// from yet).
func (s *Store) PositionJump(vehicleID int64) (distance float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, exists := s.vehicles[vehicleID]
	if !exists || !v.HavePrevPosition {
		return 0, false
	}
	return model.Distance(v.Position, v.PrevPosition), true
}

// Snapshot returns an immutable, deep-copied view of every vehicle record
// and increments the generation counter. The orchestrator reads its
// snapshot without further locking.
func (s *Store) Snapshot() model.FleetSnapshot {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles := make(map[int64]model.Vehicle, len(s.vehicles))
	for id, v := range s.vehicles {
		vehicles[id] = v.Clone()
	}
	return model.FleetSnapshot{Vehicles: vehicles, Taken: time.Now(), Generation: gen}
}

// MarkFailed transitions vehicleID to failed health and clears its
// operational flag. Idempotent: calling it on an already-failed vehicle is
// a no-op beyond refreshing the cause (caller-side logging only; the store
// itself does not record cause).
func (s *Store) MarkFailed(vehicleID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return
	}
	v.Health = model.HealthFailed
	v.Operational = false
	s.vehicles[vehicleID] = v
}

// Get returns a deep copy of one vehicle's current record.
func (s *Store) Get(vehicleID int64) (model.Vehicle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vehicles[vehicleID]
	if !ok {
		return model.Vehicle{}, false
	}
	return v.Clone(), true
}
