// Package transport decodes inbound telemetry JSON and encodes outbound
// command/decision-event JSON. Decoding is tagged-variant rather than
// dynamic dispatch on string keys: the core speaks only in typed values.
// No network server lives here, only the codec; cmd/fleet-controller
// wires it to an actual chi HTTP route.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vriez/multi-uav-ooda-system/internal/fleetstore"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// telemetryWire is the exact inbound JSON shape. Unknown fields are
// ignored by encoding/json by default. vehicle_id is the only required
// field; every other field is a pointer (or, for task_progress, a nil
// map) so a key absent from the JSON object decodes to nil rather than
// a zero value indistinguishable from an explicit zero — that nil is
// what lets DecodeTelemetry tell the store "leave this at last-known"
// instead of overwriting it with a false zero.
type telemetryWire struct {
	VehicleID    int64               `json:"vehicle_id"`
	T            float64             `json:"t"`
	Pos          *[3]float64         `json:"pos"`
	Vel          *[3]float64         `json:"vel"`
	Energy       *float64            `json:"energy"`
	Payload      *float64            `json:"payload"`
	Health       *string             `json:"health"`
	TaskProgress map[string]float64  `json:"task_progress"`
}

// DecodeTelemetry parses one inbound telemetry message. arrivalTime should
// be the time the transport actually received the bytes (used as the
// Fleet State Store's monotonic last-contact anchor, not the embedded "t"
// field, which is the vehicle's own clock and may drift).
func DecodeTelemetry(raw []byte, arrivalTime time.Time) (vehicleID int64, telemetry fleetstore.Telemetry, taskProgress map[int64]float64, err error) {
	var wire telemetryWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return 0, fleetstore.Telemetry{}, nil, fmt.Errorf("decode telemetry: %w", err)
	}
	if wire.VehicleID == 0 {
		return 0, fleetstore.Telemetry{}, nil, fmt.Errorf("decode telemetry: missing vehicle_id")
	}

	progress := make(map[int64]float64, len(wire.TaskProgress))
	for k, v := range wire.TaskProgress {
		var taskID int64
		if _, scanErr := fmt.Sscanf(k, "%d", &taskID); scanErr != nil {
			continue
		}
		progress[taskID] = v
	}

	t := fleetstore.Telemetry{
		Energy:       wire.Energy,
		Payload:      wire.Payload,
		TaskProgress: progress,
	}
	if wire.Pos != nil {
		t.Position = &model.Vector3{X: wire.Pos[0], Y: wire.Pos[1], Z: wire.Pos[2]}
	}
	if wire.Vel != nil {
		t.Velocity = &model.Vector3{X: wire.Vel[0], Y: wire.Vel[1], Z: wire.Vel[2]}
	}
	if wire.Health != nil {
		t.Health = model.Health(*wire.Health)
	}
	return wire.VehicleID, t, progress, nil
}

// EncodeCommand renders a Command in the exact outbound JSON shape.
func EncodeCommand(cmd model.Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// EncodeDecisionEvent renders a DecisionEvent in the exact outbound JSON
// shape.
func EncodeDecisionEvent(evt model.DecisionEvent) ([]byte, error) {
	return json.Marshal(evt)
}

// vehicleSeedWire is the fleet-registration wire shape: static vehicle
// capability fields the telemetry stream never carries (telemetry has no
// max_payload/efficiency/capacity fields — those are set once, out of
// band, by a mission loader / fleet roster).
type vehicleSeedWire struct {
	VehicleID      int64            `json:"vehicle_id"`
	EnergyCapacity float64          `json:"energy_capacity"`
	MaxPayload     float64          `json:"max_payload"`
	Efficiency     float64          `json:"efficiency_m_per_energy_unit"`
	Permissions    map[int64]bool   `json:"permissions,omitempty"`
}

// DecodeVehicleSeed parses one fleet-registration message into a
// model.Vehicle carrying only its static fields; dynamic fields are zero
// and left untouched by fleetstore.Store.RegisterVehicle.
func DecodeVehicleSeed(raw []byte) (model.Vehicle, error) {
	var wire vehicleSeedWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return model.Vehicle{}, fmt.Errorf("decode vehicle seed: %w", err)
	}
	if wire.VehicleID == 0 {
		return model.Vehicle{}, fmt.Errorf("decode vehicle seed: missing vehicle_id")
	}
	return model.Vehicle{
		ID:             wire.VehicleID,
		EnergyCapacity: wire.EnergyCapacity,
		MaxPayload:     wire.MaxPayload,
		Efficiency:     wire.Efficiency,
		Permissions:    wire.Permissions,
	}, nil
}

// taskSeedWire is one mission-scenario task definition, as loaded by the
// mission-seed demo tool.
type taskSeedWire struct {
	TaskID      int64   `json:"task_id"`
	Type        string  `json:"type"`
	Position    [3]float64 `json:"position"`
	Priority    int     `json:"priority"`
	DurationSec float64 `json:"duration_sec"`
	PayloadReq  float64 `json:"payload_req"`
	DeadlineSec *float64 `json:"deadline_in_sec,omitempty"`
	ZoneID      string  `json:"zone_id"`
}

// DecodeTaskSeeds parses a batch of mission-scenario task definitions.
// DeadlineSec, if present, is relative to now (seconds until deadline) —
// the scenario fixture format has no absolute-clock dependency.
func DecodeTaskSeeds(raw []byte, now time.Time) ([]model.Task, error) {
	var wire []taskSeedWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode task seeds: %w", err)
	}
	tasks := make([]model.Task, 0, len(wire))
	for _, w := range wire {
		t := model.Task{
			ID:          w.TaskID,
			Type:        model.TaskType(w.Type),
			Position:    model.Vector3{X: w.Position[0], Y: w.Position[1], Z: w.Position[2]},
			Priority:    w.Priority,
			DurationSec: w.DurationSec,
			PayloadReq:  w.PayloadReq,
			ZoneID:      w.ZoneID,
			State:       model.TaskUnassigned,
		}
		if w.DeadlineSec != nil {
			d := now.Add(time.Duration(*w.DeadlineSec * float64(time.Second)))
			t.Deadline = &d
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
