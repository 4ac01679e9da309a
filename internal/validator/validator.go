// Package validator implements pure, side-effect-free feasibility checks
// for one (vehicle, task, snapshot) triple.
package validator

import (
	"fmt"
	"sort"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// ReasonKind tags why a candidate (vehicle, task) pair was rejected.
type ReasonKind string

const (
	ReasonOK                   ReasonKind = "ok"
	ReasonNotOperational       ReasonKind = "not-operational"
	ReasonPayloadExceeded      ReasonKind = "payload-exceeded"
	ReasonInsufficientEnergy   ReasonKind = "insufficient-energy"
	ReasonOutsideRegionNoPermit ReasonKind = "outside-region-no-permission"
	ReasonCollision            ReasonKind = "collision-with"
	ReasonDeadlineMissed       ReasonKind = "deadline-missed"
)

// Result is the tagged outcome of a single constraint check. Margin carries
// the numeric slack (positive = passed by this much, negative = failed by
// this much) where applicable. The optimizer's candidate selection reads
// only OK(), not Margin.
type Result struct {
	Kind         ReasonKind
	CollidesWith int64 // only set when Kind == ReasonCollision
	Margin       float64
}

func (r Result) OK() bool { return r.Kind == ReasonOK }

// Reason renders a tagged value describing the failure, e.g. "collision-with:7".
func (r Result) Reason() string {
	if r.Kind == ReasonCollision {
		return fmt.Sprintf("%s:%d", ReasonCollision, r.CollidesWith)
	}
	return string(r.Kind)
}

// Validator holds the immutable configuration constraint checks are
// parameterized by. It carries no mutable state — every method is a pure
// function of its arguments plus this configuration.
type Validator struct {
	safetyReserveFraction  float64
	collisionBufferM       float64
	regionMinX, regionMaxX float64
	regionMinY, regionMaxY float64
	avgVelocityMPS         float64
}

// New builds a Validator from the immutable core configuration.
func New(cfg config.ConstraintConfig) *Validator {
	return &Validator{
		safetyReserveFraction: cfg.SafetyReserveFraction,
		collisionBufferM:      cfg.CollisionBufferM,
		regionMinX:            cfg.RegionMinX,
		regionMaxX:            cfg.RegionMaxX,
		regionMinY:            cfg.RegionMinY,
		regionMaxY:            cfg.RegionMaxY,
		avgVelocityMPS:        cfg.AvgVelocityMPS,
	}
}

// CanAssign checks whether task can be appended after alreadyCommitted on
// vehicle, in a fixed order: operational, payload, energy, boundary,
// collision, temporal. The first failing check short-circuits and
// is returned. snap supplies the other vehicles' current positions for the
// collision check; alreadyCommitted is this vehicle's resolved (in-order)
// committed tasks, so energy/payload accumulate correctly across repeated
// calls during greedy seeding and local search.
func (v *Validator) CanAssign(snap model.FleetSnapshot, vehicle model.Vehicle, task model.Task, alreadyCommitted []model.Task) Result {
	if r := v.checkOperational(vehicle); !r.OK() {
		return r
	}
	if r := v.checkPayload(vehicle, task, alreadyCommitted); !r.OK() {
		return r
	}
	if r := v.checkEnergy(vehicle, task, alreadyCommitted); !r.OK() {
		return r
	}
	if r := v.checkBoundary(vehicle, task); !r.OK() {
		return r
	}
	if r := v.checkCollision(snap, vehicle, task); !r.OK() {
		return r
	}
	if r := v.checkTemporal(vehicle, task); !r.OK() {
		return r
	}
	return Result{Kind: ReasonOK}
}

func (v *Validator) checkOperational(vehicle model.Vehicle) Result {
	if !vehicle.Operational {
		return Result{Kind: ReasonNotOperational}
	}
	switch vehicle.Health {
	case model.HealthHealthy, model.HealthDegraded, model.HealthChargingComplete:
		return Result{Kind: ReasonOK}
	default:
		return Result{Kind: ReasonNotOperational}
	}
}

// checkPayload treats pickup/dropoff as paired: a pickup adds payload, its
// paired dropoff releases it, so a contiguous pickup→dropoff pair nets to
// zero steady-state payload by the time both are committed. For any single
// candidate task the net payload after alreadyCommitted plus task must stay
// within capacity.
func (v *Validator) checkPayload(vehicle model.Vehicle, task model.Task, alreadyCommitted []model.Task) Result {
	running := vehicle.Payload
	for _, t := range alreadyCommitted {
		running = applyPayloadDelta(running, t)
	}
	after := applyPayloadDelta(running, task)
	margin := vehicle.MaxPayload - after
	if margin < 0 {
		return Result{Kind: ReasonPayloadExceeded, Margin: margin}
	}
	return Result{Kind: ReasonOK, Margin: margin}
}

func applyPayloadDelta(current float64, t model.Task) float64 {
	switch t.Type {
	case model.TaskDropoff:
		next := current - t.PayloadReq
		if next < 0 {
			next = 0
		}
		return next
	default:
		return current + t.PayloadReq
	}
}

// checkEnergy estimates the energy required to fly vehicle's already
// committed waypoints plus the candidate task and back to base (a round
// trip, via a `distance*2/efficiency` approximation), then requires the
// post-plan remaining energy to stay at or above the safety reserve.
// Altitude change is folded into the travel distance. Hover time is not
// charged: the configured hover_energy_rate is not read here.
func (v *Validator) checkEnergy(vehicle model.Vehicle, task model.Task, alreadyCommitted []model.Task) Result {
	efficiency := vehicle.Efficiency
	if efficiency <= 0 {
		efficiency = 1
	}

	committedEnergy := 0.0
	from := vehicle.Position
	for _, t := range alreadyCommitted {
		committedEnergy += model.Distance(from, t.Position) / efficiency
		from = t.Position
	}

	legDistance := model.Distance(from, task.Position)
	returnDistance := model.Distance(task.Position, vehicle.Position)
	energyRequired := (legDistance + returnDistance) / efficiency

	availableEnergy := vehicle.Energy * vehicle.EnergyCapacity
	reserve := v.safetyReserveFraction * vehicle.EnergyCapacity
	spare := availableEnergy - committedEnergy - reserve

	margin := spare - energyRequired
	if margin < 0 {
		return Result{Kind: ReasonInsufficientEnergy, Margin: margin}
	}
	return Result{Kind: ReasonOK, Margin: margin}
}

func (v *Validator) checkBoundary(vehicle model.Vehicle, task model.Task) Result {
	inside := task.Position.X >= v.regionMinX && task.Position.X <= v.regionMaxX &&
		task.Position.Y >= v.regionMinY && task.Position.Y <= v.regionMaxY
	if inside {
		return Result{Kind: ReasonOK}
	}
	if vehicle.Permissions[task.ID] {
		return Result{Kind: ReasonOK}
	}
	return Result{Kind: ReasonOutsideRegionNoPermit}
}

// checkCollision rejects a candidate whose straight-line leg from vehicle's
// current position to task's position passes within collisionBufferM of
// any other operational vehicle's current position. ValidatePlan applies
// this same leg-versus-position check per task; no pairwise
// waypoint-versus-waypoint sweep between planned routes is made.
func (v *Validator) checkCollision(snap model.FleetSnapshot, vehicle model.Vehicle, task model.Task) Result {
	for otherID, other := range snap.Vehicles {
		if otherID == vehicle.ID || !other.Operational {
			continue
		}
		d := pointToSegmentDistance(other.Position, vehicle.Position, task.Position)
		if d < v.collisionBufferM {
			return Result{Kind: ReasonCollision, CollidesWith: otherID, Margin: d - v.collisionBufferM}
		}
	}
	return Result{Kind: ReasonOK}
}

// pointToSegmentDistance returns the distance from point p to the closest
// point on the segment [a,b], clamped to the segment's endpoints.
func pointToSegmentDistance(p, a, b model.Vector3) float64 {
	abx, aby, abz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	apx, apy, apz := p.X-a.X, p.Y-a.Y, p.Z-a.Z

	abLenSq := abx*abx + aby*aby + abz*abz
	if abLenSq == 0 {
		return model.Distance(p, a)
	}

	t := (apx*abx + apy*aby + apz*abz) / abLenSq
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := model.Vector3{X: a.X + t*abx, Y: a.Y + t*aby, Z: a.Z + t*abz}
	return model.Distance(p, closest)
}

func (v *Validator) checkTemporal(vehicle model.Vehicle, task model.Task) Result {
	if task.Deadline == nil {
		return Result{Kind: ReasonOK}
	}
	distance := model.Distance(vehicle.Position, task.Position)
	velocity := v.avgVelocityMPS
	if velocity <= 0 {
		velocity = 10.0
	}
	travelSec := distance / velocity
	executionSec := task.DurationSec
	if executionSec <= 0 {
		executionSec = 60.0
	}
	totalSec := travelSec + executionSec

	timeAvailable := task.Deadline.Sub(vehicle.LastContact).Seconds()
	margin := timeAvailable - totalSec
	if margin < 0 {
		return Result{Kind: ReasonDeadlineMissed, Margin: margin}
	}
	return Result{Kind: ReasonOK, Margin: margin}
}

// Violation pairs a rejected (vehicle, task) candidate with its reason, for
// ValidatePlan's collected-violations mode.
type Violation struct {
	VehicleID int64
	TaskID    int64
	Result    Result
}

// ValidatePlan checks an entire plan atomically: every vehicle's committed
// list is replayed through CanAssign incrementally (so each task sees the
// ones already accepted ahead of it in that vehicle's list), collecting
// every violation rather than short-circuiting on the first. tasksByID
// resolves committed task ids to their current definitions.
func (v *Validator) ValidatePlan(snap model.FleetSnapshot, plan model.AssignmentPlan, tasksByID map[int64]model.Task) []Violation {
	var violations []Violation

	vehicleIDs := make([]int64, 0, len(plan.Assignments))
	for id := range plan.Assignments {
		vehicleIDs = append(vehicleIDs, id)
	}
	sort.Slice(vehicleIDs, func(i, j int) bool { return vehicleIDs[i] < vehicleIDs[j] })

	for _, vehicleID := range vehicleIDs {
		vehicle, ok := snap.Vehicles[vehicleID]
		if !ok {
			for _, taskID := range plan.Assignments[vehicleID] {
				violations = append(violations, Violation{VehicleID: vehicleID, TaskID: taskID, Result: Result{Kind: ReasonNotOperational}})
			}
			continue
		}
		var committed []model.Task
		for _, taskID := range plan.Assignments[vehicleID] {
			task, ok := tasksByID[taskID]
			if !ok {
				continue
			}
			res := v.CanAssign(snap, vehicle, task, committed)
			if !res.OK() {
				violations = append(violations, Violation{VehicleID: vehicleID, TaskID: taskID, Result: res})
			}
			committed = append(committed, task)
		}
	}
	return violations
}
