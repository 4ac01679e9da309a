package optimizer

import (
	"time"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// localSearch runs up to cfg.MaxIterations rounds after the greedy seed,
// each picking a random pair of assigned tasks and considering either a
// swap of their owning vehicles or relocating one task to the other's
// vehicle, accepting the first strictly-improving feasible move found
// (first-improvement, no simulated annealing). Stops early after
// MaxIterationsNoImprovement consecutive non-improving rounds, or when the
// wall-clock budget is spent — whichever comes first.
func (o *Optimizer) localSearch(
	snap model.FleetSnapshot,
	plan model.AssignmentPlan,
	perTaskScore map[int64]float64,
	tasksByID map[int64]model.Task,
	obj Objective,
	now time.Time,
	start time.Time,
	budget time.Duration,
) (model.AssignmentPlan, map[int64]float64, float64, int) {
	bestScore := obj.ComputeObjective(perTaskScore, len(plan.Escalated))
	noImprovement := 0
	iterations := 0

	maxNoImprove := o.cfg.MaxIterationsNoImprovement
	if maxNoImprove <= 0 {
		maxNoImprove = 10
	}

	for iterations < o.cfg.MaxIterations {
		if budget > 0 && time.Since(start) > budget {
			break
		}
		if noImprovement >= maxNoImprove {
			break
		}
		iterations++

		assigned := assignedTaskRefs(plan)
		if len(assigned) < 2 {
			break
		}
		i := o.rand.Intn(len(assigned))
		j := o.rand.Intn(len(assigned))
		if i == j {
			noImprovement++
			continue
		}
		a, b := assigned[i], assigned[j]

		improved := false

		if swapped, swapScores, swapScore, ok := o.trySwap(snap, plan, perTaskScore, tasksByID, obj, now, a, b, bestScore); ok {
			plan, perTaskScore, bestScore = swapped, swapScores, swapScore
			improved = true
		} else if relocated, relocScores, relocScore, ok := o.tryRelocate(snap, plan, perTaskScore, tasksByID, obj, now, a, b.vehicleID, bestScore); ok {
			plan, perTaskScore, bestScore = relocated, relocScores, relocScore
			improved = true
		}

		if improved {
			noImprovement = 0
		} else {
			noImprovement++
		}
	}

	return plan, perTaskScore, bestScore, iterations
}

type taskRef struct {
	taskID    int64
	vehicleID int64
}

// assignedTaskRefs flattens plan.Assignments into a stable, sorted list of
// (task, owning vehicle) pairs so random pair selection is deterministic
// given a seeded rng.
func assignedTaskRefs(plan model.AssignmentPlan) []taskRef {
	var refs []taskRef
	vehicleIDs := make([]int64, 0, len(plan.Assignments))
	for vid := range plan.Assignments {
		vehicleIDs = append(vehicleIDs, vid)
	}
	sortInt64Asc(vehicleIDs)
	for _, vid := range vehicleIDs {
		for _, tid := range plan.Assignments[vid] {
			refs = append(refs, taskRef{taskID: tid, vehicleID: vid})
		}
	}
	return refs
}

func sortInt64Asc(ids []int64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// trySwap considers exchanging a and b's owning vehicles, validating the
// resulting plan in full and requiring a strictly higher objective score.
func (o *Optimizer) trySwap(
	snap model.FleetSnapshot,
	plan model.AssignmentPlan,
	perTaskScore map[int64]float64,
	tasksByID map[int64]model.Task,
	obj Objective,
	now time.Time,
	a, b taskRef,
	currentScore float64,
) (model.AssignmentPlan, map[int64]float64, float64, bool) {
	if a.vehicleID == b.vehicleID {
		return plan, nil, 0, false
	}

	candidate := clonePlan(plan)
	moveTask(candidate, a.taskID, a.vehicleID, b.vehicleID)
	moveTask(candidate, b.taskID, b.vehicleID, a.vehicleID)

	if violations := o.valid.ValidatePlan(snap, candidate, tasksByID); len(violations) > 0 {
		return plan, nil, 0, false
	}

	updated, candidateScore := rescoreMoved(perTaskScore, obj, now, snap, tasksByID, candidate, []int64{a.taskID, b.taskID}, candidate.Escalated)
	if candidateScore <= currentScore {
		return plan, nil, 0, false
	}
	return candidate, updated, candidateScore, true
}

// tryRelocate considers moving task a onto toVehicle, validating the
// resulting plan and requiring a strictly higher objective score.
func (o *Optimizer) tryRelocate(
	snap model.FleetSnapshot,
	plan model.AssignmentPlan,
	perTaskScore map[int64]float64,
	tasksByID map[int64]model.Task,
	obj Objective,
	now time.Time,
	a taskRef,
	toVehicle int64,
	currentScore float64,
) (model.AssignmentPlan, map[int64]float64, float64, bool) {
	if a.vehicleID == toVehicle {
		return plan, nil, 0, false
	}

	candidate := clonePlan(plan)
	moveTask(candidate, a.taskID, a.vehicleID, toVehicle)

	if violations := o.valid.ValidatePlan(snap, candidate, tasksByID); len(violations) > 0 {
		return plan, nil, 0, false
	}

	updated, candidateScore := rescoreMoved(perTaskScore, obj, now, snap, tasksByID, candidate, []int64{a.taskID}, candidate.Escalated)
	if candidateScore <= currentScore {
		return plan, nil, 0, false
	}
	return candidate, updated, candidateScore, true
}

func clonePlan(plan model.AssignmentPlan) model.AssignmentPlan {
	return model.AssignmentPlan{
		Assignments: copyPlan(plan.Assignments),
		Escalated:   append([]int64(nil), plan.Escalated...),
	}
}

func moveTask(plan model.AssignmentPlan, taskID, from, to int64) {
	list := plan.Assignments[from]
	for i, id := range list {
		if id == taskID {
			plan.Assignments[from] = append(list[:i], list[i+1:]...)
			break
		}
	}
	plan.Assignments[to] = append(plan.Assignments[to], taskID)
}

// rescoreMoved recomputes perTaskScore entries for the moved task ids
// against their new owning vehicle and returns the updated total
// objective. Scores for untouched tasks are carried forward unchanged.
func rescoreMoved(
	perTaskScore map[int64]float64,
	obj Objective,
	now time.Time,
	snap model.FleetSnapshot,
	tasksByID map[int64]model.Task,
	plan model.AssignmentPlan,
	movedTaskIDs []int64,
	escalated []int64,
) (map[int64]float64, float64) {
	updated := make(map[int64]float64, len(perTaskScore))
	for k, v := range perTaskScore {
		updated[k] = v
	}

	ownerOf := map[int64]int64{}
	for vid, ids := range plan.Assignments {
		for _, id := range ids {
			ownerOf[id] = vid
		}
	}

	operationalIDs := snap.OperationalIDs()
	for _, taskID := range movedTaskIDs {
		task, ok := tasksByID[taskID]
		if !ok {
			continue
		}
		vid, owned := ownerOf[taskID]
		if !owned {
			delete(updated, taskID)
			continue
		}
		vehicle := snap.Vehicles[vid]
		nearest := nearestOperationalDistance(snap, operationalIDs, task.Position)
		priority := obj.ComputeTaskPriority(task, now, nearest)
		completion := EstimateCompletionTime(vehicle.Position, task, now)
		modifier := obj.ComputeModifier(task, completion, now)
		updated[taskID] = priority * modifier
	}

	return updated, obj.ComputeObjective(updated, len(escalated))
}
