// Package vehicle is a standalone telemetry simulator producing the core's
// exact inbound telemetry JSON shape. It is a demo/test harness only —
// the core packages never import it.
package vehicle

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// State is one vehicle's simulated state, guarded by its own lock so
// GetState can return a safe copy while the simulation loop keeps
// mutating it in the background.
type State struct {
	VehicleID    int64
	Position     [3]float64
	Velocity     [3]float64
	EnergyFrac   float64 // [0,1]
	Payload      float64
	Health       string
	Armed        bool
	Mode         string
	TaskProgress map[int64]float64
	Messages     []string

	mu sync.RWMutex
}

// Simulator drives one vehicle's State forward in simulated time, circling
// a center point and discharging energy while armed, matching the
// teacher's updateState discharge-rate and low-battery-warning idiom.
type Simulator struct {
	state      *State
	updateRate time.Duration
	stopCh     chan struct{}

	mu      sync.Mutex
	running bool

	centerX, centerY float64
	radiusM          float64
	omega            float64
	cruiseAltitudeM  float64
	dischargePerSec  float64
}

// New builds a Simulator for vehicleID, circling (centerX, centerY) at
// radiusM meters.
func New(vehicleID int64, centerX, centerY, radiusM float64) *Simulator {
	return &Simulator{
		state: &State{
			VehicleID:    vehicleID,
			Position:     [3]float64{centerX + radiusM, centerY, 50.0},
			EnergyFrac:   1.0,
			Health:       "healthy",
			Mode:         "STABILIZE",
			TaskProgress: map[int64]float64{},
		},
		updateRate:      100 * time.Millisecond,
		stopCh:          make(chan struct{}),
		centerX:         centerX,
		centerY:         centerY,
		radiusM:         radiusM,
		omega:           0.1,
		cruiseAltitudeM: 50.0,
		dischargePerSec: 0.001, // 0.1%/sec while armed
	}
}

// Start begins the background simulation loop. Idempotent.
func (s *Simulator) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.loop()
}

// Stop halts the simulation loop. Idempotent.
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// Arm transitions the vehicle to AUTO mode. Arm and takeoff are collapsed
// into one call since this simulator has no ground taxi phase to model.
func (s *Simulator) Arm() {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()
	s.state.Armed = true
	s.state.Mode = "AUTO"
}

// GetState returns a defensive copy of the current state.
func (s *Simulator) GetState() State {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	cp := *s.state
	cp.TaskProgress = make(map[int64]float64, len(s.state.TaskProgress))
	for k, v := range s.state.TaskProgress {
		cp.TaskProgress[k] = v
	}
	cp.Messages = append([]string(nil), s.state.Messages...)
	return cp
}

func (s *Simulator) loop() {
	ticker := time.NewTicker(s.updateRate)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.update(time.Since(start).Seconds())
		}
	}
}

func (s *Simulator) update(elapsedSec float64) {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	if s.state.Armed && s.state.Mode == "AUTO" {
		s.state.Position[0] = s.centerX + s.radiusM*math.Cos(s.omega*elapsedSec)
		s.state.Position[1] = s.centerY + s.radiusM*math.Sin(s.omega*elapsedSec)
		s.state.Position[2] = s.cruiseAltitudeM + 5.0*math.Sin(0.05*elapsedSec)

		speed := s.radiusM * s.omega
		s.state.Velocity[0] = -speed * math.Sin(s.omega*elapsedSec)
		s.state.Velocity[1] = speed * math.Cos(s.omega*elapsedSec)
		s.state.Velocity[2] = 5.0 * 0.05 * math.Cos(0.05*elapsedSec)
	}

	if s.state.Armed {
		jitter := 1.0 + (rand.Float64()-0.5)*0.1
		s.state.EnergyFrac -= s.dischargePerSec * jitter * s.updateRate.Seconds()
		if s.state.EnergyFrac < 0 {
			s.state.EnergyFrac = 0
		}
	}

	if s.state.EnergyFrac < 0.20 && s.state.Health == "healthy" {
		s.state.Health = "degraded"
		s.state.Messages = appendCapped(s.state.Messages, "low battery warning")
	}
	if s.state.EnergyFrac < 0.10 {
		s.state.Health = "degraded"
		s.state.Messages = appendCapped(s.state.Messages, "critical battery level - RTL recommended")
	}
}

func appendCapped(messages []string, msg string) []string {
	messages = append(messages, msg)
	if len(messages) > 10 {
		messages = messages[len(messages)-10:]
	}
	return messages
}

// TelemetryMessage renders the current state as the exact wire struct for
// the inbound telemetry message, ready for encoding/json.
type TelemetryMessage struct {
	VehicleID    int64              `json:"vehicle_id"`
	T            float64            `json:"t"`
	Pos          [3]float64         `json:"pos"`
	Vel          [3]float64         `json:"vel"`
	Energy       float64            `json:"energy"`
	Payload      float64            `json:"payload"`
	Health       string             `json:"health"`
	TaskProgress map[string]float64 `json:"task_progress,omitempty"`
}

// Telemetry builds one TelemetryMessage from the simulator's current
// state, as a vehicle agent would marshal it before POSTing.
func (s *Simulator) Telemetry() TelemetryMessage {
	st := s.GetState()
	progress := make(map[string]float64, len(st.TaskProgress))
	for k, v := range st.TaskProgress {
		progress[strconv.FormatInt(k, 10)] = v
	}
	return TelemetryMessage{
		VehicleID:    st.VehicleID,
		T:            float64(time.Now().UnixNano()) / 1e9,
		Pos:          st.Position,
		Vel:          st.Velocity,
		Energy:       st.EnergyFrac,
		Payload:      st.Payload,
		Health:       st.Health,
		TaskProgress: progress,
	}
}

