// Package orchestrator implements the OODA orchestrator: the ticking
// scheduler, failure detector, and cycle driver that runs the
// Observe/Orient/Decide/Act loop over the fleet.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/internal/eventbus"
	"github.com/vriez/multi-uav-ooda-system/internal/fleetstore"
	"github.com/vriez/multi-uav-ooda-system/internal/missiondb"
	"github.com/vriez/multi-uav-ooda-system/internal/optimizer"
	"github.com/vriez/multi-uav-ooda-system/internal/validator"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// State is the orchestrator's own state machine: idle, cycling, stopped.
type State string

const (
	StateIdle    State = "idle"
	StateCycling State = "cycling"
	StateStopped State = "stopped"
)

// Aggregates holds lifetime counters reported for diagnostics, per spec
// §4.4 "Aggregate counters".
type Aggregates struct {
	TotalCycles         uint64
	TotalTasksRecovered int
	TotalTasksLost      int
	RecoveryRates       []float64
	ObjectiveScores     []float64
	CommandsDropped     uint64
	EventsDropped       uint64
}

// Orchestrator drives the observe/orient/decide/act cycle. It owns the
// cycle counter and is the only component that logs, emits, or decides to
// shut down — every other component returns structured outcomes instead
// of raising errors directly.
type Orchestrator struct {
	logger *logrus.Logger

	store     *fleetstore.Store
	missionDB *missiondb.DB
	valid     *validator.Validator
	bus       eventbus.Publisher

	fleetCfg config.FleetConfig
	orchCfg  config.OrchestratorConfig
	optCfg   config.OptimizerConfig

	mission model.MissionType

	mu           sync.Mutex
	state        State
	cycle        uint64
	retrigger    bool
	aggregates   Aggregates
	newOptimizer func() *optimizer.Optimizer
}

// New builds an Orchestrator. newOptimizer is a factory so each cycle gets
// a fresh Optimizer instance (deterministic rng reseed is the caller's
// choice); passing nil uses optimizer.New(cfg, v, nil) every cycle.
func New(
	logger *logrus.Logger,
	store *fleetstore.Store,
	missionDB *missiondb.DB,
	valid *validator.Validator,
	bus eventbus.Publisher,
	fleetCfg config.FleetConfig,
	orchCfg config.OrchestratorConfig,
	optCfg config.OptimizerConfig,
	mission model.MissionType,
	newOptimizer func() *optimizer.Optimizer,
) *Orchestrator {
	if newOptimizer == nil {
		newOptimizer = func() *optimizer.Optimizer { return optimizer.New(optCfg, valid, nil) }
	}
	return &Orchestrator{
		logger:       logger,
		store:        store,
		missionDB:    missionDB,
		valid:        valid,
		bus:          bus,
		fleetCfg:     fleetCfg,
		orchCfg:      orchCfg,
		optCfg:       optCfg,
		mission:      mission,
		state:        StateIdle,
		newOptimizer: newOptimizer,
	}
}

// Run starts the telemetry_period ticker loop. It returns when ctx is
// cancelled; shutdown is cooperative, so any in-flight Act phase always
// finishes before the loop exits.
func (o *Orchestrator) Run(ctx context.Context) {
	period := time.Duration(o.fleetCfg.TelemetryPeriodMS) * time.Millisecond
	if period <= 0 {
		period = 500 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	o.logger.WithField("period", period).Info("orchestrator tick loop starting")

	for {
		faulted := o.failureSweep()
		o.maybeRunCycle(ctx, faulted)

		select {
		case <-ctx.Done():
			o.setState(StateStopped)
			o.logger.Info("orchestrator stopped")
			return
		case <-ticker.C:
		}
	}
}

// TriggerExternalFault lets an external fault-injection surface (tests,
// demo tooling) request a cycle outside the normal tick.
func (o *Orchestrator) TriggerExternalFault(ctx context.Context) {
	o.maybeRunCycle(ctx, true)
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

// State returns the orchestrator's current state machine value.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Aggregates returns a copy of the lifetime counters.
func (o *Orchestrator) Aggregates() Aggregates {
	o.mu.Lock()
	defer o.mu.Unlock()
	agg := o.aggregates
	agg.RecoveryRates = append([]float64(nil), o.aggregates.RecoveryRates...)
	agg.ObjectiveScores = append([]float64(nil), o.aggregates.ObjectiveScores...)
	return agg
}

// failureSweep runs the per-tick failure-detection sweep over the store
// and returns true if any vehicle transitioned to failed this tick.
func (o *Orchestrator) failureSweep() bool {
	now := time.Now()
	anyFault := false

	snap := o.store.Snapshot()
	for id, v := range snap.Vehicles {
		if !v.Operational {
			continue
		}
		if cause, failed := o.detectFailure(now, id, v); failed {
			o.logger.WithFields(logrus.Fields{"vehicle_id": id, "cause": cause}).Warn("vehicle transitioned to failed")
			o.store.MarkFailed(id)
			anyFault = true
		}
	}
	return anyFault
}

// detectFailure checks the four failure conditions in order: contact
// timeout, discharge-rate anomaly, position jump, and altitude bounds.
// A value exactly at a threshold does not fire; strictly past it does.
func (o *Orchestrator) detectFailure(now time.Time, vehicleID int64, v model.Vehicle) (cause string, failed bool) {
	timeout := time.Duration(o.fleetCfg.TimeoutThresholdMS) * time.Millisecond
	if now.Sub(v.LastContact) > timeout {
		return "timeout", true
	}

	baseline := o.fleetCfg.DischargeBaselinePctS
	if baseline > 0 && v.DischargeRateEMA > o.fleetCfg.AnomalyMultiplier*baseline {
		return "discharge-rate-anomaly", true
	}

	if jump, ok := o.store.PositionJump(vehicleID); ok && jump > o.fleetCfg.PositionJumpThreshold {
		return "position-discontinuity", true
	}

	if v.Position.Z < o.fleetCfg.MinAltitudeM || v.Position.Z > o.fleetCfg.MaxAltitudeM {
		return "altitude-violation", true
	}

	return "", false
}

// maybeRunCycle enforces "at most one cycle is in flight at a time" (spec
// §5): if a cycle is already cycling, a trigger sets the re-trigger flag
// and returns immediately; otherwise it runs one cycle, and if a
// re-trigger arrived during that cycle, runs one more before returning.
func (o *Orchestrator) maybeRunCycle(ctx context.Context, trigger bool) {
	o.mu.Lock()
	if o.state == StateCycling {
		if trigger {
			o.retrigger = true
		}
		o.mu.Unlock()
		return
	}
	if !trigger {
		o.mu.Unlock()
		return
	}
	o.state = StateCycling
	o.mu.Unlock()

	o.runCycle(ctx)

	for {
		o.mu.Lock()
		again := o.retrigger
		o.retrigger = false
		if !again {
			o.state = StateIdle
			o.mu.Unlock()
			return
		}
		o.mu.Unlock()
		o.runCycle(ctx)
	}
}

// runCycle executes exactly one Observe→Orient→Decide→Act pass.
// Optimizer errors are trapped — never expected to leak since the
// optimizer is pure, but guarded regardless — and degrade to
// strategy=error with no commands emitted.
func (o *Orchestrator) runCycle(ctx context.Context) {
	cycleStart := time.Now()

	o.mu.Lock()
	o.cycle++
	cycleNum := o.cycle
	o.mu.Unlock()

	cycleCtx, cancel := context.WithTimeout(ctx, time.Duration(o.orchCfg.CycleBudgetMS)*time.Millisecond)
	defer cancel()

	timings := model.PhaseTimings{}

	// Observe.
	observeStart := time.Now()
	snap := o.store.Snapshot()
	timings.ObserveMS = msSince(observeStart)
	o.warnIfSlow("observe", timings.ObserveMS, o.orchCfg.ObserveTimeoutMS)

	// Orient.
	orientStart := time.Now()
	orphanIDs, affectedZones, tasksByID := o.orient(snap)
	timings.OrientMS = msSince(orientStart)
	o.warnIfSlow("orient", timings.OrientMS, o.orchCfg.OrientTimeoutMS)

	if len(orphanIDs) == 0 {
		// no-op strategy: nothing lost, nothing to reassign.
		o.emitNoOp(cycleNum, timings, snap)
		o.mu.Lock()
		o.aggregates.TotalCycles++
		o.mu.Unlock()
		return
	}

	// Decide.
	decideStart := time.Now()
	result, decideErr := o.decide(cycleCtx, snap, orphanIDs, tasksByID)
	timings.DecideMS = msSince(decideStart)
	o.warnIfSlow("decide", timings.DecideMS, o.orchCfg.DecideTimeoutMS)

	if decideErr != nil {
		o.logger.WithError(decideErr).Error("optimizer invariant violation, cycle abandoned")
		o.emitError(cycleNum, timings, decideErr)
		o.mu.Lock()
		o.aggregates.TotalCycles++
		o.mu.Unlock()
		return
	}

	// Act.
	actStart := time.Now()
	o.act(cycleNum, timings, snap, orphanIDs, affectedZones, result)
	timings.ActMS = msSince(actStart)
	o.warnIfSlow("act", timings.ActMS, o.orchCfg.ActTimeoutMS)

	if time.Since(cycleStart) > time.Duration(o.orchCfg.CycleBudgetMS)*time.Millisecond {
		o.logger.WithField("cycle", cycleNum).Warn("cycle exceeded soft budget")
	}
}

func (o *Orchestrator) warnIfSlow(phase string, actualMS float64, budgetMS int) {
	if budgetMS > 0 && actualMS > float64(budgetMS) {
		o.logger.WithFields(logrus.Fields{"phase": phase, "ms": actualMS, "budget_ms": budgetMS}).Warn("phase exceeded soft timeout")
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

// orient computes the orphaned task set: owned by a now-failed vehicle, or
// already unassigned.
func (o *Orchestrator) orient(snap model.FleetSnapshot) (orphanIDs []int64, affectedZones []string, tasksByID map[int64]model.Task) {
	var orphans []int64
	for id, v := range snap.Vehicles {
		if v.Operational {
			continue
		}
		orphans = append(orphans, o.missionDB.OrphanOwnedBy(id)...)
	}
	orphans = append(orphans, o.missionDB.OrphanedIDs()...)
	orphans = append(orphans, o.missionDB.UnassignedIDs()...)

	seen := map[int64]bool{}
	var deduped []int64
	for _, id := range orphans {
		if seen[id] {
			continue
		}
		seen[id] = true
		deduped = append(deduped, id)
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i] < deduped[j] })

	return deduped, o.missionDB.AffectedZones(deduped), o.missionDB.Snapshot()
}

// currentAssignments derives each operational vehicle's presently
// committed task ids directly from task ownership in tasksByID, rather
// than from a cached plan: a task counts only while it is still assigned
// or in-progress under its current owner, so a task whose owner later
// fails — orient() has already flipped it to orphaned by the time this
// runs — or that has since completed, drops out on its own without any
// separate reconciliation step.
func currentAssignments(tasksByID map[int64]model.Task) map[int64][]int64 {
	out := map[int64][]int64{}
	for id, t := range tasksByID {
		if t.Owner == 0 {
			continue
		}
		if t.State != model.TaskAssigned && t.State != model.TaskInProgress {
			continue
		}
		out[t.Owner] = append(out[t.Owner], id)
	}
	for vid := range out {
		sort.Slice(out[vid], func(i, j int) bool { return out[vid][i] < out[vid][j] })
	}
	return out
}

// decide invokes the Optimizer with the Constraint Validator as an oracle.
func (o *Orchestrator) decide(ctx context.Context, snap model.FleetSnapshot, orphanIDs []int64, tasksByID map[int64]model.Task) (optimizer.Result, error) {
	opt := o.newOptimizer()

	existingPlan := model.AssignmentPlan{Assignments: currentAssignments(tasksByID)}

	result := opt.Optimize(snap, orphanIDs, tasksByID, existingPlan, o.mission)

	violations := o.valid.ValidatePlan(snap, result.Plan, tasksByID)
	if len(violations) > 0 {
		return result, fmt.Errorf("optimizer produced an infeasible plan: %d violations (first: vehicle %d task %d %s)",
			len(violations), violations[0].VehicleID, violations[0].TaskID, violations[0].Result.Reason())
	}
	return result, nil
}

// act applies task-state transitions, emits commands for every changed
// vehicle in vehicle-id order, and emits the cycle's decision event.
func (o *Orchestrator) act(cycleNum uint64, timings model.PhaseTimings, snap model.FleetSnapshot, orphanIDs []int64, affectedZones []string, result optimizer.Result) {
	before := currentAssignments(o.missionDB.Snapshot())
	if err := o.missionDB.CommitReallocation(result.Plan); err != nil {
		o.logger.WithError(err).Error("commit reallocation failed")
		o.emitError(cycleNum, timings, err)
		return
	}

	changedVehicles := make([]int64, 0, len(result.Plan.Assignments))
	for vid, ids := range result.Plan.Assignments {
		prev := before[vid]
		same := len(prev) == len(ids)
		for i := 0; same && i < len(ids); i++ {
			same = prev[i] == ids[i]
		}
		if !same {
			changedVehicles = append(changedVehicles, vid)
		}
	}
	sort.Slice(changedVehicles, func(i, j int) bool { return changedVehicles[i] < changedVehicles[j] })

	for _, vid := range changedVehicles {
		cmd := o.buildCommand(vid, result.Plan.Assignments[vid])
		if !o.bus.PublishCommand(cmd) {
			o.mu.Lock()
			o.aggregates.CommandsDropped++
			o.mu.Unlock()
		}
	}

	orphanSet := make(map[int64]bool, len(orphanIDs))
	for _, id := range orphanIDs {
		orphanSet[id] = true
	}
	recovered := 0
	for _, vid := range changedVehicles {
		for _, tid := range result.Plan.Assignments[vid] {
			if orphanSet[tid] {
				recovered++
			}
		}
	}
	lost := len(orphanIDs)
	recoveryRate := 0.0
	if lost > 0 {
		recoveryRate = float64(recovered) / float64(lost)
	}

	batterySpare, payloadSpare := sparesOf(snap)
	operational, failed := countHealth(snap)
	coverageLoss := o.coverageLossFraction(result.Plan.Escalated)

	metrics := model.CycleMetrics{
		RecoveryRate:           recoveryRate,
		TasksRecovered:         recovered,
		TasksLost:              lost,
		UnallocatedCount:       len(result.Plan.Escalated),
		CoverageLossFraction:   coverageLoss,
		BatterySpare:           batterySpare,
		PayloadSpare:           payloadSpare,
		OperationalVehicles:    operational,
		FailedVehicles:         failed,
		TemporalMarginSec:      temporalMargin(snap, o.missionDB),
		AffectedZones:          len(affectedZones),
		ObjectiveScore:         result.ObjectiveScore,
		OptimizationTimeMS:     result.OptimizationTimeMS,
		OptimizationIterations: result.Iterations,
		OptimalityGapEstimate:  result.OptimalityGapEstimate,
	}

	strategy := "full_reallocation"
	rationale := fmt.Sprintf("recovered %d/%d orphaned tasks across %d operational vehicles", recovered, lost, operational)

	event := model.DecisionEvent{
		ID:           uuid.NewString(),
		Cycle:        cycleNum,
		Strategy:     strategy,
		Rationale:    rationale,
		PhaseTimings: timings,
		Metrics:      metrics,
		Assignments:  result.Plan.Assignments,
		Escalated:    result.Plan.Escalated,
		EmittedAt:    time.Now(),
	}

	if !o.bus.PublishEvent(event) {
		o.mu.Lock()
		o.aggregates.EventsDropped++
		o.mu.Unlock()
	}

	o.mu.Lock()
	o.aggregates.TotalCycles++
	o.aggregates.TotalTasksRecovered += recovered
	o.aggregates.TotalTasksLost += lost
	o.aggregates.RecoveryRates = append(o.aggregates.RecoveryRates, recoveryRate)
	o.aggregates.ObjectiveScores = append(o.aggregates.ObjectiveScores, result.ObjectiveScore)
	o.mu.Unlock()
}

func (o *Orchestrator) buildCommand(vehicleID int64, taskIDs []int64) model.Command {
	cmd := model.Command{VehicleID: vehicleID, Op: "set_task_list"}
	for _, tid := range taskIDs {
		task, ok := o.missionDB.Get(tid)
		if !ok {
			continue
		}
		cmd.Tasks = append(cmd.Tasks, model.CommandTask{
			TaskID:    tid,
			Waypoints: [][3]float64{{task.Position.X, task.Position.Y, task.Position.Z}},
			Kind:      string(task.Type),
		})
	}
	return cmd
}

// emitNoOp emits a strategy=no-op decision event when the orphan set was
// empty. Whether a vehicle failed just before this cycle is not checked:
// a failure of a vehicle that held no tasks also ends in a no-op event.
func (o *Orchestrator) emitNoOp(cycleNum uint64, timings model.PhaseTimings, snap model.FleetSnapshot) {
	operational, failed := countHealth(snap)
	event := model.DecisionEvent{
		ID:           uuid.NewString(),
		Cycle:        cycleNum,
		Strategy:     "no-op",
		Rationale:    "no orphaned tasks to reallocate",
		PhaseTimings: timings,
		Metrics: model.CycleMetrics{
			OperationalVehicles: operational,
			FailedVehicles:      failed,
		},
		Assignments: map[int64][]int64{},
	}
	if !o.bus.PublishEvent(event) {
		o.mu.Lock()
		o.aggregates.EventsDropped++
		o.mu.Unlock()
	}
}

// emitError emits a strategy=error decision event; no commands are
// emitted and the previous plan remains in force.
func (o *Orchestrator) emitError(cycleNum uint64, timings model.PhaseTimings, cause error) {
	event := model.DecisionEvent{
		ID:           uuid.NewString(),
		Cycle:        cycleNum,
		Strategy:     "error",
		Rationale:    cause.Error(),
		PhaseTimings: timings,
		Assignments:  map[int64][]int64{},
	}
	if !o.bus.PublishEvent(event) {
		o.mu.Lock()
		o.aggregates.EventsDropped++
		o.mu.Unlock()
	}
}

func sparesOf(snap model.FleetSnapshot) (battery, payload float64) {
	for _, v := range snap.Vehicles {
		if !v.Operational {
			continue
		}
		battery += v.Energy * v.EnergyCapacity
		payload += v.MaxPayload - v.Payload
	}
	return
}

func countHealth(snap model.FleetSnapshot) (operational, failed int) {
	for _, v := range snap.Vehicles {
		if v.Operational {
			operational++
		} else {
			failed++
		}
	}
	return
}

// temporalMargin returns the smallest deadline margin (seconds) across
// every task with a deadline, or 0 if none have one.
func temporalMargin(snap model.FleetSnapshot, mdb *missiondb.DB) float64 {
	now := time.Now()
	min := 0.0
	found := false
	for _, t := range mdb.Snapshot() {
		if t.Deadline == nil {
			continue
		}
		margin := t.Deadline.Sub(now).Seconds()
		if !found || margin < min {
			min = margin
			found = true
		}
	}
	return min
}

// coverageLossFraction is the priority-weighted fraction of mission demand
// now escalated, weighting each task by priority rather than a plain
// count ratio so high-priority losses register more heavily.
func (o *Orchestrator) coverageLossFraction(escalated []int64) float64 {
	all := o.missionDB.Snapshot()
	if len(all) == 0 {
		return 0
	}
	totalPriority := 0
	escalatedPriority := 0
	escalatedSet := make(map[int64]bool, len(escalated))
	for _, id := range escalated {
		escalatedSet[id] = true
	}
	for id, t := range all {
		totalPriority += t.Priority
		if escalatedSet[id] {
			escalatedPriority += t.Priority
		}
	}
	if totalPriority == 0 {
		return 0
	}
	return float64(escalatedPriority) / float64(totalPriority)
}
