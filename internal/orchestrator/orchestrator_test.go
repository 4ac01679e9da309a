package orchestrator

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/internal/eventbus"
	"github.com/vriez/multi-uav-ooda-system/internal/fleetstore"
	"github.com/vriez/multi-uav-ooda-system/internal/missiondb"
	"github.com/vriez/multi-uav-ooda-system/internal/validator"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testFleetCfg() config.FleetConfig {
	return config.FleetConfig{
		TelemetryPeriodMS:     500,
		TimeoutThresholdMS:    1500,
		AnomalyMultiplier:     1.5,
		DischargeBaselinePctS: 0.05,
		PositionJumpThreshold: 100.0,
		MinAltitudeM:          5.0,
		MaxAltitudeM:          120.0,
	}
}

func testOrchCfg() config.OrchestratorConfig {
	return config.OrchestratorConfig{
		CycleBudgetMS:    6000,
		ObserveTimeoutMS: 500,
		OrientTimeoutMS:  500,
		DecideTimeoutMS:  2000,
		ActTimeoutMS:     500,
	}
}

func testOptCfg() config.OptimizerConfig {
	return config.OptimizerConfig{
		OptimizationBudgetMS:       100,
		MaxIterations:              50,
		MaxIterationsNoImprovement: 10,
		Weights: map[string]config.MissionWeights{
			"surveillance": {
				WTemporal: 0.3, WCriticality: 0.5, WSpatial: 0.2,
				LambdaUnallocated: 0.3, GammaCoverageGap: 0.2, UAVMaxRangeM: 2000.0,
			},
		},
	}
}

func testConstraintCfg() config.ConstraintConfig {
	return config.ConstraintConfig{
		SafetyReserveFraction: 0.20,
		CollisionBufferM:      15.0,
		RegionMinX:            0,
		RegionMaxX:            3000,
		RegionMinY:            0,
		RegionMaxY:            2000,
		AvgVelocityMPS:        10.0,
	}
}

func newTestOrchestrator(store *fleetstore.Store, mdb *missiondb.DB, bus eventbus.Publisher) *Orchestrator {
	v := validator.New(testConstraintCfg())
	return New(silentLogger(), store, mdb, v, bus, testFleetCfg(), testOrchCfg(), testOptCfg(), model.MissionSurveillance, nil)
}

func TestTriggerExternalFault_NoOrphansEmitsNoOp(t *testing.T) {
	store := fleetstore.New([]model.Vehicle{{ID: 1, Operational: true, Health: model.HealthHealthy}})
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	orch.TriggerExternalFault(context.Background())

	select {
	case evt := <-bus.Events():
		assert.Equal(t, "no-op", evt.Strategy)
	default:
		t.Fatalf("expected a no-op decision event to be emitted")
	}
	assert.Equal(t, StateIdle, orch.State())
}

func TestTriggerExternalFault_RecoversOrphanedTask(t *testing.T) {
	store := fleetstore.New([]model.Vehicle{{
		ID: 1, Operational: true, Health: model.HealthHealthy,
		Position: model.Vector3{X: 0, Y: 0, Z: 50}, Energy: 1.0,
		EnergyCapacity: 100000, MaxPayload: 10, Efficiency: 200,
		LastContact: time.Now(),
	}})
	mdb := missiondb.New([]model.Task{{
		ID: 10, Position: model.Vector3{X: 100, Y: 0, Z: 50}, Priority: 50,
		State: model.TaskUnassigned,
	}})
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	orch.TriggerExternalFault(context.Background())

	select {
	case evt := <-bus.Events():
		assert.Equal(t, "full_reallocation", evt.Strategy)
		assert.Contains(t, evt.Assignments[1], int64(10))
	default:
		t.Fatalf("expected a full_reallocation decision event")
	}

	task, ok := mdb.Get(10)
	require.True(t, ok)
	assert.Equal(t, model.TaskAssigned, task.State)
	assert.Equal(t, int64(1), task.Owner)

	select {
	case cmd := <-bus.Commands():
		assert.Equal(t, int64(1), cmd.VehicleID)
		require.Len(t, cmd.Tasks, 1)
		assert.Equal(t, int64(10), cmd.Tasks[0].TaskID)
	default:
		t.Fatalf("expected a command to be published for vehicle 1")
	}
}

func TestTriggerExternalFault_InfeasibleTaskEscalates(t *testing.T) {
	store := fleetstore.New([]model.Vehicle{{
		ID: 1, Operational: true, Health: model.HealthHealthy,
		Position: model.Vector3{X: 0, Y: 0, Z: 50}, Energy: 1.0,
		EnergyCapacity: 1.0, MaxPayload: 10, Efficiency: 1,
		LastContact: time.Now(),
	}})
	// far enough away that the lone vehicle cannot reach it on its tiny
	// energy budget, forcing an escalation rather than an assignment
	mdb := missiondb.New([]model.Task{{
		ID: 10, Position: model.Vector3{X: 100000, Y: 0, Z: 50}, Priority: 50,
		State: model.TaskUnassigned,
	}})
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	orch.TriggerExternalFault(context.Background())

	task, ok := mdb.Get(10)
	require.True(t, ok)
	assert.Equal(t, model.TaskEscalated, task.State)
}

func TestTriggerExternalFault_SecondFailureOfReallocatedOwnerReallocatesAgain(t *testing.T) {
	// Task 10 starts already committed to vehicle 2 (as if a prior cycle
	// had reallocated it there). Vehicle 2 then fails; a healthy vehicle 3
	// is available to take the task over. A second cycle must recover the
	// task cleanly instead of reproducing a stale-plan validation failure
	// against vehicle 2 forever.
	store := fleetstore.New([]model.Vehicle{
		{
			ID: 2, Operational: true, Health: model.HealthHealthy,
			Position: model.Vector3{X: 0, Y: 0, Z: 50}, Energy: 1.0,
			EnergyCapacity: 100000, MaxPayload: 10, Efficiency: 200,
			LastContact: time.Now(),
		},
		{
			ID: 3, Operational: true, Health: model.HealthHealthy,
			Position: model.Vector3{X: 0, Y: 0, Z: 50}, Energy: 1.0,
			EnergyCapacity: 100000, MaxPayload: 10, Efficiency: 200,
			LastContact: time.Now(),
		},
	})
	mdb := missiondb.New([]model.Task{{
		ID: 10, Position: model.Vector3{X: 100, Y: 0, Z: 50}, Priority: 50,
		State: model.TaskAssigned, Owner: 2,
	}})
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	store.MarkFailed(2)
	orch.TriggerExternalFault(context.Background())

	select {
	case evt := <-bus.Events():
		assert.Equal(t, "full_reallocation", evt.Strategy)
	default:
		t.Fatalf("expected a full_reallocation decision event on the first fault")
	}
	task, ok := mdb.Get(10)
	require.True(t, ok)
	assert.Equal(t, int64(3), task.Owner)
	assert.Equal(t, model.TaskAssigned, task.State)

	// Fail vehicle 3 too — the vehicle the task was just reallocated to —
	// and run another cycle. With a stale cached plan this would still
	// carry {3: [10]} into the validator and fail forever; deriving the
	// plan fresh from mission-db ownership each cycle lets it recover.
	store.MarkFailed(3)
	orch.TriggerExternalFault(context.Background())

	select {
	case evt := <-bus.Events():
		assert.Equal(t, model.TaskEscalated, mustGetState(t, mdb, 10))
		assert.NotEqual(t, "error", evt.Strategy)
	default:
		t.Fatalf("expected a decision event on the second fault")
	}
}

func mustGetState(t *testing.T, mdb *missiondb.DB, taskID int64) model.TaskState {
	t.Helper()
	task, ok := mdb.Get(taskID)
	require.True(t, ok)
	return task.State
}

func TestAggregates_AccumulateAcrossCycles(t *testing.T) {
	store := fleetstore.New([]model.Vehicle{{ID: 1, Operational: true, Health: model.HealthHealthy}})
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	orch.TriggerExternalFault(context.Background())
	orch.TriggerExternalFault(context.Background())

	agg := orch.Aggregates()
	assert.Equal(t, uint64(2), agg.TotalCycles)
}

func TestDetectFailure_TimeoutFiresOnlyStrictlyPastThreshold(t *testing.T) {
	store := fleetstore.New(nil)
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	now := time.Now()
	v := model.Vehicle{LastContact: now.Add(-1500 * time.Millisecond), Position: model.Vector3{Z: 50}}
	_, failedAtExactly := orch.detectFailure(now, 1, v)
	assert.False(t, failedAtExactly, "exactly at the threshold must not fire")

	vPast := model.Vehicle{LastContact: now.Add(-1501 * time.Millisecond), Position: model.Vector3{Z: 50}}
	cause, failedPast := orch.detectFailure(now, 1, vPast)
	assert.True(t, failedPast)
	assert.Equal(t, "timeout", cause)
}

func TestDetectFailure_AltitudeViolation(t *testing.T) {
	store := fleetstore.New(nil)
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	now := time.Now()
	v := model.Vehicle{LastContact: now, Position: model.Vector3{Z: 200}}
	cause, failed := orch.detectFailure(now, 1, v)
	assert.True(t, failed)
	assert.Equal(t, "altitude-violation", cause)
}

func TestDetectFailure_HealthyVehiclePasses(t *testing.T) {
	store := fleetstore.New(nil)
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	now := time.Now()
	v := model.Vehicle{LastContact: now, Position: model.Vector3{Z: 50}}
	_, failed := orch.detectFailure(now, 1, v)
	assert.False(t, failed)
}

func TestFailureSweep_MarksTimedOutVehicleFailed(t *testing.T) {
	store := fleetstore.New([]model.Vehicle{{
		ID: 1, Operational: true, Health: model.HealthHealthy,
		LastContact: time.Now().Add(-10 * time.Second), Position: model.Vector3{Z: 50},
	}})
	mdb := missiondb.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	faulted := orch.failureSweep()
	assert.True(t, faulted)

	v, _ := store.Get(1)
	assert.False(t, v.Operational)
	assert.Equal(t, model.HealthFailed, v.Health)
}

func TestCoverageLossFraction_WeightsByPriority(t *testing.T) {
	mdb := missiondb.New([]model.Task{
		{ID: 1, Priority: 10},
		{ID: 2, Priority: 90},
	})
	store := fleetstore.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	loss := orch.coverageLossFraction([]int64{2})
	assert.InDelta(t, 0.9, loss, 1e-9)
}

func TestCoverageLossFraction_EmptyMissionDBIsZero(t *testing.T) {
	mdb := missiondb.New(nil)
	store := fleetstore.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	assert.Equal(t, 0.0, orch.coverageLossFraction(nil))
}

func TestSparesOf_OnlyCountsOperationalVehicles(t *testing.T) {
	snap := model.FleetSnapshot{Vehicles: map[int64]model.Vehicle{
		1: {Operational: true, Energy: 0.5, EnergyCapacity: 100, MaxPayload: 5, Payload: 2},
		2: {Operational: false, Energy: 1.0, EnergyCapacity: 1000, MaxPayload: 50, Payload: 0},
	}}
	battery, payload := sparesOf(snap)
	assert.Equal(t, 50.0, battery)
	assert.Equal(t, 3.0, payload)
}

func TestCountHealth_SplitsOperationalAndFailed(t *testing.T) {
	snap := model.FleetSnapshot{Vehicles: map[int64]model.Vehicle{
		1: {Operational: true},
		2: {Operational: false},
		3: {Operational: false},
	}}
	operational, failed := countHealth(snap)
	assert.Equal(t, 1, operational)
	assert.Equal(t, 2, failed)
}

func TestBuildCommand_SkipsUnknownTaskIDs(t *testing.T) {
	mdb := missiondb.New([]model.Task{{ID: 1, Position: model.Vector3{X: 1, Y: 2, Z: 3}, Type: model.TaskPatrolZone}})
	store := fleetstore.New(nil)
	bus := eventbus.NewMemoryBus(8, 8)
	orch := newTestOrchestrator(store, mdb, bus)

	cmd := orch.buildCommand(5, []int64{1, 999})
	assert.Equal(t, int64(5), cmd.VehicleID)
	require.Len(t, cmd.Tasks, 1)
	assert.Equal(t, int64(1), cmd.Tasks[0].TaskID)
	assert.Equal(t, [][3]float64{{1, 2, 3}}, cmd.Tasks[0].Waypoints)
}
