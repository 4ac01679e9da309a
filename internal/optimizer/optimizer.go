package optimizer

import (
	"math/rand"
	"sort"
	"time"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/internal/validator"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// Result is the optimizer's output: a feasible-by-construction plan plus
// the bookkeeping needed to record and report on the optimization run.
type Result struct {
	Plan                  model.AssignmentPlan
	ObjectiveScore        float64
	OptimizationTimeMS    float64
	Iterations            int
	OptimalityGapEstimate float64
}

// Optimizer computes an assignment plan for one orphan set against one
// fleet snapshot.
type Optimizer struct {
	cfg    config.OptimizerConfig
	valid  *validator.Validator
	rand   *rand.Rand
}

// New builds an Optimizer. rng lets callers (tests, determinism checks)
// inject a seeded source; a nil rng uses a fixed seed so the optimizer is
// deterministic by default — running it twice on identical inputs
// yields identical plans.
func New(cfg config.OptimizerConfig, v *validator.Validator, rng *rand.Rand) *Optimizer {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Optimizer{cfg: cfg, valid: v, rand: rng}
}

// Optimize runs the greedy seed followed by bounded local search against
// orphanIDs, constrained to the operational vehicles in snap, under
// mission's objective weighting. existingPlan carries forward any tasks
// already committed on surviving vehicles so the validator's
// already-committed accounting is correct.
func (o *Optimizer) Optimize(snap model.FleetSnapshot, orphanIDs []int64, tasksByID map[int64]model.Task, existingPlan model.AssignmentPlan, mission model.MissionType) Result {
	start := time.Now()
	budget := time.Duration(o.cfg.OptimizationBudgetMS) * time.Millisecond

	obj, _ := NewObjective(mission, o.cfg)

	operationalIDs := snap.OperationalIDs()
	if len(operationalIDs) == 0 {
		escalated := append([]int64(nil), orphanIDs...)
		sort.Slice(escalated, func(i, j int) bool { return escalated[i] < escalated[j] })
		return Result{
			Plan:               model.AssignmentPlan{Assignments: copyPlan(existingPlan.Assignments), Escalated: escalated},
			OptimizationTimeMS: msSince(start),
		}
	}

	if len(orphanIDs) == 0 {
		return Result{
			Plan:               model.AssignmentPlan{Assignments: copyPlan(existingPlan.Assignments), Escalated: nil},
			OptimizationTimeMS: msSince(start),
		}
	}

	plan := model.AssignmentPlan{Assignments: copyPlan(existingPlan.Assignments)}
	perTaskScore := map[int64]float64{}
	now := time.Now()

	orphans := make([]model.Task, 0, len(orphanIDs))
	for _, id := range orphanIDs {
		if t, ok := tasksByID[id]; ok {
			orphans = append(orphans, t)
		}
	}
	sortByGreedyOrder(orphans)

	for _, task := range orphans {
		bestVehicle, bestCost, found := o.selectGreedyCandidate(snap, task, plan, tasksByID, operationalIDs, obj, now)
		if !found {
			plan.Escalated = append(plan.Escalated, task.ID)
			continue
		}
		plan.Assignments[bestVehicle] = append(plan.Assignments[bestVehicle], task.ID)
		perTaskScore[task.ID] = bestCost
	}
	sort.Slice(plan.Escalated, func(i, j int) bool { return plan.Escalated[i] < plan.Escalated[j] })

	seedScore := obj.ComputeObjective(perTaskScore, len(plan.Escalated))

	iterations := 0
	finalScore := seedScore
	if o.cfg.MaxIterations > 0 {
		plan, perTaskScore, finalScore, iterations = o.localSearch(snap, plan, perTaskScore, tasksByID, obj, now, start, budget)
	}

	return Result{
		Plan:                  plan,
		ObjectiveScore:        finalScore,
		OptimizationTimeMS:    msSince(start),
		Iterations:            iterations,
		OptimalityGapEstimate: EstimateOptimalityGap(seedScore, finalScore),
	}
}

// sortByGreedyOrder orders orphaned tasks by (priority desc, deadline asc,
// payload asc) before the greedy seed pass assigns them.
func sortByGreedyOrder(tasks []model.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ad, bd := deadlineOrMax(a), deadlineOrMax(b)
		if !ad.Equal(bd) {
			return ad.Before(bd)
		}
		if a.PayloadReq != b.PayloadReq {
			return a.PayloadReq < b.PayloadReq
		}
		return a.ID < b.ID
	})
}

func deadlineOrMax(t model.Task) time.Time {
	if t.Deadline == nil {
		return time.Unix(1<<62, 0)
	}
	return *t.Deadline
}

// selectGreedyCandidate enumerates operational vehicles for task, rejects
// any the validator refuses, and returns the minimum-cost feasible
// candidate. Ties break lexicographically on (priority desc already
// applied by caller ordering, vehicle id asc).
func (o *Optimizer) selectGreedyCandidate(snap model.FleetSnapshot, task model.Task, plan model.AssignmentPlan, tasksByID map[int64]model.Task, operationalIDs []int64, obj Objective, now time.Time) (vehicleID int64, score float64, found bool) {
	bestCost := 0.0
	bestScore := 0.0
	haveBest := false

	for _, vid := range operationalIDs {
		vehicle := snap.Vehicles[vid]
		committed := resolveCommitted(plan.Assignments[vid], tasksByID)
		res := o.valid.CanAssign(snap, vehicle, task, committed)
		if !res.OK() {
			continue
		}

		nearest := nearestOperationalDistance(snap, operationalIDs, task.Position)
		priority := obj.ComputeTaskPriority(task, now, nearest)
		completion := EstimateCompletionTime(vehicle.Position, task, now)
		modifier := obj.ComputeModifier(task, completion, now)
		candidateScore := priority * modifier

		travelCost := model.Distance(vehicle.Position, task.Position)
		cost := travelCost - candidateScore*1000 // lower cost wins; score dominates tie-break

		if !haveBest || cost < bestCost || (cost == bestCost && vid < vehicleID) {
			bestCost = cost
			bestScore = candidateScore
			vehicleID = vid
			haveBest = true
		}
	}
	return vehicleID, bestScore, haveBest
}

func resolveCommitted(ids []int64, byID map[int64]model.Task) []model.Task {
	if len(ids) == 0 {
		return nil
	}
	out := make([]model.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func nearestOperationalDistance(snap model.FleetSnapshot, operationalIDs []int64, pos model.Vector3) float64 {
	min := -1.0
	for _, vid := range operationalIDs {
		d := model.Distance(snap.Vehicles[vid].Position, pos)
		if min < 0 || d < min {
			min = d
		}
	}
	if min < 0 {
		return 0
	}
	return min
}

func copyPlan(in map[int64][]int64) map[int64][]int64 {
	out := make(map[int64][]int64, len(in))
	for k, v := range in {
		out[k] = append([]int64(nil), v...)
	}
	return out
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
