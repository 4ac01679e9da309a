// Package model defines the data types shared by every component of the
// reallocation core: vehicles, tasks, fleet snapshots, assignment plans,
// and decision events.
package model

import (
	"math"
	"sort"
	"time"
)

// Health is a vehicle's operational health classification.
type Health string

const (
	HealthHealthy           Health = "healthy"
	HealthDegraded          Health = "degraded"
	HealthFailed            Health = "failed"
	HealthCharging          Health = "charging"
	HealthChargingComplete  Health = "charging-complete"
	HealthAwaitingPermission Health = "awaiting-permission"
	HealthCrashed           Health = "crashed"
)

// Vector3 is a 3-component (x, y, z) vector in meters or meters/second.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Vector3) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Vehicle is one fleet member's latest known state. The Fleet State Store
// owns these records; tasks reference a vehicle only by id.
type Vehicle struct {
	ID             int64
	Position       Vector3
	Velocity       Vector3
	Energy         float64 // fraction in [0,1]
	EnergyCapacity float64 // absolute energy-units
	Payload        float64 // current payload, mass-units
	MaxPayload     float64 // max payload, mass-units
	Operational    bool
	Health         Health
	LastContact    time.Time
	// Efficiency is distance-per-energy-unit (meters per energy-unit),
	// used by the validator's energy cost estimate.
	Efficiency float64
	// CommittedTasks is an ordered list of task ids carried on the record.
	// The fleet store and orchestrator do not fill it; current ownership is
	// read from Task.Owner in the mission database.
	CommittedTasks []int64
	// Permissions maps task id to boundary-exit permission grant.
	Permissions map[int64]bool
	// DischargeRateEMA is the exponential moving average of the fractional
	// energy discharge rate (per second), maintained by the store.
	DischargeRateEMA float64
	// PrevEnergySample and PrevSampleTime back the EMA recompute in ingest;
	// not part of the public snapshot contract but carried on the record.
	PrevEnergySample float64
	PrevSampleTime   time.Time
	PrevPosition     Vector3
	HavePrevPosition bool
}

// Clone returns a deep copy of the vehicle record, used by the store's
// snapshot operation so readers never share mutable state with writers.
func (v Vehicle) Clone() Vehicle {
	cp := v
	if v.CommittedTasks != nil {
		cp.CommittedTasks = append([]int64(nil), v.CommittedTasks...)
	}
	if v.Permissions != nil {
		cp.Permissions = make(map[int64]bool, len(v.Permissions))
		for k, val := range v.Permissions {
			cp.Permissions[k] = val
		}
	}
	return cp
}

// TaskType enumerates the kinds of mission task the core understands.
type TaskType string

const (
	TaskPatrolZone   TaskType = "patrol-zone"
	TaskSearchZone   TaskType = "search-zone"
	TaskPickup       TaskType = "pickup"
	TaskDropoff      TaskType = "dropoff"
	TaskDeliveryPair TaskType = "delivery-pair"
)

// TaskState is a task's position in its lifecycle state machine.
type TaskState string

const (
	TaskUnassigned TaskState = "unassigned"
	TaskAssigned   TaskState = "assigned"
	TaskInProgress TaskState = "in-progress"
	TaskCompleted  TaskState = "completed"
	TaskOrphaned   TaskState = "orphaned"
	TaskEscalated  TaskState = "escalated"
)

// Task is one unit of mission work.
type Task struct {
	ID          int64
	Type        TaskType
	Position    Vector3
	Priority    int // higher = more important
	DurationSec float64
	PayloadReq  float64 // mass-units, zero for non-delivery
	Deadline    *time.Time
	ZoneID      string
	State       TaskState
	// Owner is the vehicle id this task is currently committed to; zero
	// value (0) means unowned. This id is the only ownership reference the
	// system maintains — it is never a pointer to the vehicle record
	// itself, and Vehicle.CommittedTasks is not kept in step with it.
	Owner int64
}

// MissionType selects an objective weighting for the optimizer.
type MissionType string

const (
	MissionSurveillance MissionType = "surveillance"
	MissionSearchRescue MissionType = "search-rescue"
	MissionDelivery     MissionType = "delivery"
)

// FleetSnapshot is an immutable copy of every vehicle record taken at the
// start of one OODA cycle.
type FleetSnapshot struct {
	Vehicles   map[int64]Vehicle
	Taken      time.Time
	Generation uint64
}

// OperationalIDs returns the ids of all operational vehicles in the snapshot,
// in ascending id order (for deterministic iteration downstream).
func (s FleetSnapshot) OperationalIDs() []int64 {
	ids := make([]int64, 0, len(s.Vehicles))
	for id, v := range s.Vehicles {
		if v.Operational {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AssignmentPlan maps vehicle id to its ordered task list, plus the set of
// tasks that could not be placed.
type AssignmentPlan struct {
	Assignments map[int64][]int64
	Escalated   []int64
}

// PhaseTimings records the observe/orient/decide/act duration of one cycle.
type PhaseTimings struct {
	ObserveMS float64 `json:"observe"`
	OrientMS  float64 `json:"orient"`
	DecideMS  float64 `json:"decide"`
	ActMS     float64 `json:"act"`
}

// CycleMetrics is the structured metrics record attached to every
// decision event.
type CycleMetrics struct {
	RecoveryRate           float64 `json:"recovery_rate"`
	TasksRecovered         int     `json:"tasks_recovered"`
	TasksLost              int     `json:"tasks_lost"`
	UnallocatedCount       int     `json:"unallocated_count"`
	CoverageLossFraction   float64 `json:"coverage_loss"`
	BatterySpare           float64 `json:"battery_spare"`
	PayloadSpare           float64 `json:"payload_spare"`
	OperationalVehicles    int     `json:"operational_uavs"`
	FailedVehicles         int     `json:"failed_uavs"`
	TemporalMarginSec      float64 `json:"temporal_margin"`
	AffectedZones          int     `json:"affected_zones"`
	ObjectiveScore         float64 `json:"objective_score"`
	OptimizationTimeMS     float64 `json:"optimization_time_ms"`
	OptimizationIterations int     `json:"optimization_iterations"`
	OptimalityGapEstimate  float64 `json:"optimality_gap_estimate"`
}

// DecisionEvent is the outbound audit record emitted once per OODA cycle.
type DecisionEvent struct {
	ID            string            `json:"id"`
	Cycle         uint64            `json:"cycle"`
	Strategy      string            `json:"strategy"`
	Rationale     string            `json:"rationale"`
	PhaseTimings  PhaseTimings      `json:"phase_timings_ms"`
	Metrics       CycleMetrics      `json:"metrics"`
	Assignments   map[int64][]int64 `json:"assignments"`
	Escalated     []int64           `json:"escalated"`
	EmittedAt     time.Time         `json:"-"`
}

// Command is the outbound per-vehicle task-list update.
type Command struct {
	VehicleID int64          `json:"vehicle_id"`
	Op        string         `json:"op"`
	Tasks     []CommandTask  `json:"tasks"`
}

// CommandTask describes one task within an outbound command.
type CommandTask struct {
	TaskID    int64      `json:"task_id"`
	Waypoints [][3]float64 `json:"waypoints"`
	Kind      string     `json:"kind"`
}
