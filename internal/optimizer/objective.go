// Package optimizer implements the greedy priority-seed plus bounded
// local-search reallocation algorithm: priority scoring, mission-type
// modifiers, and an optimality-gap heuristic over candidate plans.
package optimizer

import (
	"math"
	"time"

	"github.com/vriez/multi-uav-ooda-system/internal/config"
	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// Objective computes task priority and per-mission-type modifiers against
// one MissionType's weight vector.
type Objective struct {
	mission model.MissionType
	weights config.MissionWeights
}

// NewObjective selects the weight vector for mission from cfg, falling
// back to the surveillance weights (with a caller-visible ok=false) if
// the config has no entry for it.
func NewObjective(mission model.MissionType, cfg config.OptimizerConfig) (Objective, bool) {
	w, ok := cfg.Weights[string(mission)]
	if !ok {
		w = cfg.Weights[string(model.MissionSurveillance)]
	}
	return Objective{mission: mission, weights: w}, ok
}

// ComputeTaskPriority is Algorithm 1: a [0,1]-clamped combination of
// temporal urgency, criticality, and spatial cost, used both to rank the
// greedy seed and inside the objective score.
func (o Objective) ComputeTaskPriority(task model.Task, now time.Time, nearestOperationalDistance float64) float64 {
	urgency := temporalUrgency(task, now)
	criticality := float64(task.Priority) / 100.0

	maxRange := o.weights.UAVMaxRangeM
	if maxRange <= 0 {
		maxRange = 2000.0
	}
	spatialCost := nearestOperationalDistance / maxRange
	if spatialCost > 1 {
		spatialCost = 1
	}
	if spatialCost < 0 {
		spatialCost = 0
	}

	p := o.weights.WTemporal*urgency + o.weights.WCriticality*criticality - o.weights.WSpatial*spatialCost
	return clamp01(p)
}

// temporalUrgency is 1 - min(1, remaining/total), where total is twice
// the task's estimated duration (or a 0.5 default fraction when the task
// has no deadline at all).
func temporalUrgency(task model.Task, now time.Time) float64 {
	if task.Deadline == nil {
		return 0.5
	}
	total := task.DurationSec * 2
	if total <= 0 {
		total = 1
	}
	remaining := task.Deadline.Sub(now).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return 1 - math.Min(1, remaining/total)
}

// ComputeModifier is φ_m(task, vehicle): the mission-specific objective
// modifier applied to a task's priority once a candidate completion time
// is known.
//   - surveillance: 1 - γ·coverage_gap (coverage gap is always 0 in this
//     core — no partial-coverage bookkeeping exists yet, kept as a
//     documented stub).
//   - search-rescue: 1 + β·max(0, (golden_hour - completion)/golden_hour).
//   - delivery: 1.0 on-time, 0.5 late penalty.
func (o Objective) ComputeModifier(task model.Task, completionTime time.Time, now time.Time) float64 {
	switch o.mission {
	case model.MissionSearchRescue:
		golden := o.weights.GoldenHourSec
		if golden <= 0 {
			return 1.0
		}
		completionSec := completionTime.Sub(now).Seconds()
		bonus := (golden - completionSec) / golden
		if bonus < 0 {
			bonus = 0
		}
		return 1 + o.weights.BetaGoldenHour*bonus
	case model.MissionDelivery:
		if task.Deadline == nil || !completionTime.After(*task.Deadline) {
			return 1.0
		}
		return 0.5
	default: // surveillance and anything unrecognized
		coverageGap := 0.0
		return 1 - o.weights.GammaCoverageGap*coverageGap
	}
}

// EstimateCompletionTime assumes a constant average cruise speed
// (12 m/s) from vehiclePos to task.Position, plus the task's own
// execution duration.
func EstimateCompletionTime(vehiclePos model.Vector3, task model.Task, now time.Time) time.Time {
	const avgSpeedMPS = 12.0
	distance := model.Distance(vehiclePos, task.Position)
	travelSec := distance / avgSpeedMPS
	execSec := task.DurationSec
	if execSec <= 0 {
		execSec = 60.0
	}
	return now.Add(time.Duration((travelSec + execSec) * float64(time.Second)))
}

// ComputeObjective is J(A) = Σ[priority_i · φ_m(t_i,u_j)] - λ·|unallocated|
// over every assigned task in plan, given each task's precomputed priority
// and modifier.
func (o Objective) ComputeObjective(perTaskScore map[int64]float64, unallocatedCount int) float64 {
	total := 0.0
	for _, score := range perTaskScore {
		total += score
	}
	total -= o.weights.LambdaUnallocated * float64(unallocatedCount)
	return total
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// EstimateOptimalityGap assumes local search captures ~85% of the
// remaining achievable improvement, so the remaining gap is
// improvement * 0.15/0.85, clamped to [0, 30]%.
func EstimateOptimalityGap(initialScore, finalScore float64) float64 {
	if initialScore <= 0 {
		return 0
	}
	improvementPct := (finalScore - initialScore) / math.Abs(initialScore) * 100
	if improvementPct <= 0 {
		return 0
	}
	estimated := improvementPct * (0.15 / 0.85)
	if estimated > 30 {
		estimated = 30
	}
	if estimated < 0 {
		estimated = 0
	}
	return estimated
}
