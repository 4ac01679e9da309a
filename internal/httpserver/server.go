// Package httpserver is the core's inbound telemetry ingest and
// diagnostic HTTP surface: a chi router with RequestID/RealIP/Recoverer/
// Timeout middleware, one handler per route, and shared
// respondJSON/respondError helpers. It decodes/encodes wire schemas via
// internal/transport and otherwise only calls into the core's typed APIs.
package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vriez/multi-uav-ooda-system/internal/eventbus"
	"github.com/vriez/multi-uav-ooda-system/internal/fleetstore"
	"github.com/vriez/multi-uav-ooda-system/internal/missiondb"
	"github.com/vriez/multi-uav-ooda-system/internal/orchestrator"
	"github.com/vriez/multi-uav-ooda-system/internal/transport"
)

// Server wires the HTTP surface to the core's components. It holds no
// business logic of its own — every handler decodes/encodes and delegates.
type Server struct {
	store  *fleetstore.Store
	missDB *missiondb.DB
	orch   *orchestrator.Orchestrator
	bus    eventbus.Publisher
	logger *logrus.Logger
}

// New builds a Server.
func New(store *fleetstore.Store, missDB *missiondb.DB, orch *orchestrator.Orchestrator, bus eventbus.Publisher, logger *logrus.Logger) *Server {
	return &Server{store: store, missDB: missDB, orch: orch, bus: bus, logger: logger}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Post("/telemetry", s.handleTelemetry)
	r.Post("/fleet/vehicles", s.handleRegisterVehicle)
	r.Get("/fleet/snapshot", s.handleFleetSnapshot)

	r.Post("/missions/tasks", s.handleSeedTasks)
	r.Get("/missions/stats", s.handleMissionStats)

	r.Post("/faults/{vehicleId}", s.handleInjectFault)

	r.Get("/orchestrator/state", s.handleOrchestratorState)
	r.Get("/orchestrator/aggregates", s.handleAggregates)

	r.Get("/events/stream", s.handleEventStream)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"state":  s.orch.State(),
	})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	arrival := time.Now()
	vehicleID, telemetry, progress, err := transport.DecodeTelemetry(raw, arrival)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.store.Ingest(vehicleID, telemetry, arrival)
	for taskID, frac := range progress {
		if frac >= 1.0 {
			s.missDB.Complete(taskID)
		}
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{"status": "accepted"})
}

func (s *Server) handleRegisterVehicle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	v, err := transport.DecodeVehicleSeed(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.store.RegisterVehicle(v)
	respondJSON(w, http.StatusCreated, map[string]interface{}{"status": "registered", "vehicle_id": v.ID})
}

func (s *Server) handleFleetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"generation": snap.Generation,
		"taken":      snap.Taken,
		"vehicles":   snap.Vehicles,
	})
}

func (s *Server) handleSeedTasks(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	defer r.Body.Close()

	tasks, err := transport.DecodeTaskSeeds(raw, time.Now())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.missDB.AddTasks(tasks)
	respondJSON(w, http.StatusCreated, map[string]interface{}{"status": "seeded", "count": len(tasks)})
}

func (s *Server) handleMissionStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.missDB.Stats())
}

func (s *Server) handleInjectFault(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "vehicleId")
	vehicleID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid vehicle id")
		return
	}
	s.store.MarkFailed(vehicleID)
	s.orch.TriggerExternalFault(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "fault injected", "vehicle_id": vehicleID})
}

func (s *Server) handleOrchestratorState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"state": s.orch.State()})
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.orch.Aggregates())
}

// handleEventStream serves decision events as newline-delimited JSON
// (application/x-ndjson), draining the bus's Events() channel for as long
// as the client stays connected. A monitoring dashboard is the expected
// consumer.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, open := <-s.bus.Events():
			if !open {
				return
			}
			if err := enc.Encode(evt); err != nil {
				s.logger.WithError(err).Warn("event stream encode failed, dropping client")
				return
			}
			flusher.Flush()
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
