// Package missiondb is the mission task database: it owns Task records
// and their lifecycle transitions across the full state machine
// (unassigned/assigned/in-progress/completed/orphaned/escalated).
package missiondb

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// DB holds every task known to the core. Writes happen only from the
// orchestrator's Act phase; Orient and Decide read the same snapshot of
// tasks within one cycle, so a single mutex held briefly per call is
// sufficient.
type DB struct {
	mu    sync.Mutex
	tasks map[int64]model.Task
}

// New builds a mission database seeded with an initial task roster.
func New(initial []model.Task) *DB {
	db := &DB{tasks: make(map[int64]model.Task, len(initial))}
	for _, t := range initial {
		db.tasks[t.ID] = t
	}
	return db
}

// AddTasks inserts new tasks into the database (the mission-loader /
// scenario seed path, external to the OODA cycle). A task id that
// already exists is left untouched rather than overwritten.
func (db *DB) AddTasks(tasks []model.Task) {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, t := range tasks {
		if _, exists := db.tasks[t.ID]; exists {
			continue
		}
		if t.State == "" {
			t.State = model.TaskUnassigned
		}
		db.tasks[t.ID] = t
	}
}

// Snapshot returns a copy of every task, keyed by id.
func (db *DB) Snapshot() map[int64]model.Task {
	db.mu.Lock()
	defer db.mu.Unlock()
	out := make(map[int64]model.Task, len(db.tasks))
	for id, t := range db.tasks {
		out[id] = t
	}
	return out
}

// Get returns one task by id.
func (db *DB) Get(taskID int64) (model.Task, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[taskID]
	return t, ok
}

// OrphanOwnedBy transitions every task currently owned by vehicleID from
// assigned|in-progress to orphaned, and returns their ids in ascending
// order. Called by the orchestrator's Orient phase once a vehicle is
// marked failed.
func (db *DB) OrphanOwnedBy(vehicleID int64) []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	var orphaned []int64
	for id, t := range db.tasks {
		if t.Owner != vehicleID {
			continue
		}
		if t.State != model.TaskAssigned && t.State != model.TaskInProgress {
			continue
		}
		t.State = model.TaskOrphaned
		t.Owner = 0
		db.tasks[id] = t
		orphaned = append(orphaned, id)
	}
	sort.Slice(orphaned, func(i, j int) bool { return orphaned[i] < orphaned[j] })
	return orphaned
}

// OrphanedIDs returns every task still sitting in the orphaned state, in
// ascending id order — covers the case where a previous cycle's Act phase
// never ran (an abandoned cycle) and the task was never reassigned or
// escalated.
func (db *DB) OrphanedIDs() []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var ids []int64
	for id, t := range db.tasks {
		if t.State == model.TaskOrphaned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UnassignedIDs returns every task currently in the unassigned state, in
// ascending id order — these are also orphan-set members: tasks whose
// owner is now failed, or which were never assigned in the first place.
func (db *DB) UnassignedIDs() []int64 {
	db.mu.Lock()
	defer db.mu.Unlock()
	var ids []int64
	for id, t := range db.tasks {
		if t.State == model.TaskUnassigned {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CommitReallocation applies plan: every assigned task id transitions to
// assigned with the new owner, every escalated task id transitions to
// escalated. All task ids are validated to exist before any mutation is
// applied — an all-or-nothing id check.
func (db *DB) CommitReallocation(plan model.AssignmentPlan) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for vehicleID, taskIDs := range plan.Assignments {
		for _, taskID := range taskIDs {
			if _, ok := db.tasks[taskID]; !ok {
				return fmt.Errorf("commit reallocation: unknown task id %d for vehicle %d", taskID, vehicleID)
			}
		}
	}
	for _, taskID := range plan.Escalated {
		if _, ok := db.tasks[taskID]; !ok {
			return fmt.Errorf("commit reallocation: unknown escalated task id %d", taskID)
		}
	}

	for vehicleID, taskIDs := range plan.Assignments {
		for _, taskID := range taskIDs {
			t := db.tasks[taskID]
			t.State = model.TaskAssigned
			t.Owner = vehicleID
			db.tasks[taskID] = t
		}
	}
	for _, taskID := range plan.Escalated {
		t := db.tasks[taskID]
		t.State = model.TaskEscalated
		t.Owner = 0
		db.tasks[taskID] = t
	}
	return nil
}

// Complete transitions taskID to completed. Called when the vehicle
// agent's telemetry reports task_progress == 1.0 for it (outside the
// OODA cycle proper; wired from the transport decode path).
func (db *DB) Complete(taskID int64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tasks[taskID]
	if !ok {
		return
	}
	t.State = model.TaskCompleted
	t.Owner = 0
	db.tasks[taskID] = t
}

// AffectedZones dedupes the zone tags of the given task ids.
func (db *DB) AffectedZones(taskIDs []int64) []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	seen := make(map[string]bool)
	var zones []string
	for _, id := range taskIDs {
		t, ok := db.tasks[id]
		if !ok || t.ZoneID == "" || seen[t.ZoneID] {
			continue
		}
		seen[t.ZoneID] = true
		zones = append(zones, t.ZoneID)
	}
	sort.Strings(zones)
	return zones
}

// Stats is a snapshot of task counts by state, for the demo/diagnostic
// HTTP surface.
type Stats struct {
	Total            int            `json:"total"`
	ByState          map[string]int `json:"by_state"`
	CompletionPercent float64       `json:"completion_percent"`
}

// Stats computes the current Stats over every task.
func (db *DB) Stats() Stats {
	db.mu.Lock()
	defer db.mu.Unlock()
	s := Stats{Total: len(db.tasks), ByState: map[string]int{}}
	completed := 0
	for _, t := range db.tasks {
		s.ByState[string(t.State)]++
		if t.State == model.TaskCompleted {
			completed++
		}
	}
	if s.Total > 0 {
		s.CompletionPercent = float64(completed) / float64(s.Total) * 100
	}
	return s
}
