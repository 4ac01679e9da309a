package transport

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

func TestDecodeTelemetry_ParsesFields(t *testing.T) {
	raw := []byte(`{
		"vehicle_id": 7, "t": 12.5, "pos": [1,2,3], "vel": [4,5,6],
		"energy": 0.8, "payload": 1.5, "health": "degraded",
		"task_progress": {"10": 0.5, "11": 1.0}
	}`)
	arrival := time.Unix(1000, 0)

	id, telemetry, progress, err := DecodeTelemetry(raw, arrival)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected vehicle id 7, got %d", id)
	}
	if telemetry.Position == nil || *telemetry.Position != (model.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("unexpected position %v", telemetry.Position)
	}
	if telemetry.Velocity == nil || *telemetry.Velocity != (model.Vector3{X: 4, Y: 5, Z: 6}) {
		t.Fatalf("unexpected velocity %v", telemetry.Velocity)
	}
	if telemetry.Energy == nil || *telemetry.Energy != 0.8 || telemetry.Payload == nil || *telemetry.Payload != 1.5 {
		t.Fatalf("unexpected energy/payload %v/%v", telemetry.Energy, telemetry.Payload)
	}
	if telemetry.Health != model.HealthDegraded {
		t.Fatalf("unexpected health %s", telemetry.Health)
	}
	if progress[10] != 0.5 || progress[11] != 1.0 {
		t.Fatalf("unexpected task progress %v", progress)
	}
}

func TestDecodeTelemetry_MissingVehicleIDErrors(t *testing.T) {
	_, _, _, err := DecodeTelemetry([]byte(`{"t": 1}`), time.Now())
	if err == nil {
		t.Fatalf("expected an error for a missing vehicle_id")
	}
}

func TestDecodeTelemetry_MalformedJSONErrors(t *testing.T) {
	_, _, _, err := DecodeTelemetry([]byte(`not json`), time.Now())
	if err == nil {
		t.Fatalf("expected an error for malformed json")
	}
}

func TestDecodeTelemetry_MissingOptionalFieldsDecodeAsAbsent(t *testing.T) {
	_, telemetry, _, err := DecodeTelemetry([]byte(`{"vehicle_id": 1}`), time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A sample that omits health, position, velocity, energy or payload
	// must decode those as absent (nil / empty), not as a hard default —
	// fleetstore.Store.Ingest is what decides how an absent field is
	// handled (it preserves the vehicle's last-known value).
	if telemetry.Health != "" {
		t.Fatalf("expected absent health to decode empty, got %q", telemetry.Health)
	}
	if telemetry.Position != nil {
		t.Fatalf("expected absent position to decode nil, got %v", telemetry.Position)
	}
	if telemetry.Velocity != nil {
		t.Fatalf("expected absent velocity to decode nil, got %v", telemetry.Velocity)
	}
	if telemetry.Energy != nil {
		t.Fatalf("expected absent energy to decode nil, got %v", telemetry.Energy)
	}
	if telemetry.Payload != nil {
		t.Fatalf("expected absent payload to decode nil, got %v", telemetry.Payload)
	}
}

func TestDecodeTelemetry_MalformedTaskProgressKeyIsSkipped(t *testing.T) {
	raw := []byte(`{"vehicle_id": 1, "task_progress": {"not-a-number": 0.5, "2": 0.7}}`)
	_, _, progress, err := DecodeTelemetry(raw, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(progress) != 1 || progress[2] != 0.7 {
		t.Fatalf("expected only the parseable key to survive, got %v", progress)
	}
}

func TestEncodeCommand_RoundTrips(t *testing.T) {
	cmd := model.Command{
		VehicleID: 1,
		Op:        "assign",
		Tasks:     []model.CommandTask{{TaskID: 10, Kind: "patrol-zone"}},
	}
	raw, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty encoded bytes")
	}
	var got model.Command
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode encoded command: %v", err)
	}
	if got.VehicleID != 1 || got.Op != "assign" || len(got.Tasks) != 1 || got.Tasks[0].TaskID != 10 || got.Tasks[0].Kind != "patrol-zone" {
		t.Fatalf("command did not round-trip: %+v", got)
	}
}

func TestEncodeDecisionEvent_RoundTrips(t *testing.T) {
	evt := model.DecisionEvent{ID: "abc", Cycle: 3, Strategy: "greedy+local-search"}
	raw, err := EncodeDecisionEvent(evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(raw) == 0 {
		t.Fatalf("expected non-empty encoded bytes")
	}
	var got model.DecisionEvent
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode encoded event: %v", err)
	}
	if got.ID != "abc" || got.Cycle != 3 || got.Strategy != "greedy+local-search" {
		t.Fatalf("event did not round-trip: %+v", got)
	}
}

func TestDecodeVehicleSeed_ParsesStaticFields(t *testing.T) {
	raw := []byte(`{"vehicle_id": 3, "energy_capacity": 500, "max_payload": 2.5, "efficiency_m_per_energy_unit": 80, "permissions": {"10": true}}`)
	v, err := DecodeVehicleSeed(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ID != 3 || v.EnergyCapacity != 500 || v.MaxPayload != 2.5 || v.Efficiency != 80 {
		t.Fatalf("unexpected vehicle: %+v", v)
	}
	if !v.Permissions[10] {
		t.Fatalf("expected permission for task 10 to be set")
	}
}

func TestDecodeVehicleSeed_MissingVehicleIDErrors(t *testing.T) {
	_, err := DecodeVehicleSeed([]byte(`{"energy_capacity": 100}`))
	if err == nil {
		t.Fatalf("expected an error for a missing vehicle_id")
	}
}

func TestDecodeTaskSeeds_ParsesBatchAndRelativeDeadline(t *testing.T) {
	now := time.Unix(1000, 0)
	raw := []byte(`[
		{"task_id": 1, "type": "patrol-zone", "position": [10,20,30], "priority": 50, "duration_sec": 60, "zone_id": "z1"},
		{"task_id": 2, "type": "pickup", "position": [1,1,1], "priority": 80, "deadline_in_sec": 120}
	]`)

	tasks, err := DecodeTaskSeeds(raw, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Deadline != nil {
		t.Fatalf("expected task 1 to have no deadline")
	}
	if tasks[1].Deadline == nil {
		t.Fatalf("expected task 2 to have a computed deadline")
	}
	wantDeadline := now.Add(120 * time.Second)
	if !tasks[1].Deadline.Equal(wantDeadline) {
		t.Fatalf("expected deadline %v, got %v", wantDeadline, *tasks[1].Deadline)
	}
	if tasks[0].State != model.TaskUnassigned {
		t.Fatalf("expected default state unassigned, got %s", tasks[0].State)
	}
}

func TestDecodeTaskSeeds_MalformedJSONErrors(t *testing.T) {
	_, err := DecodeTaskSeeds([]byte(`not json`), time.Now())
	if err == nil {
		t.Fatalf("expected an error for malformed json")
	}
}
