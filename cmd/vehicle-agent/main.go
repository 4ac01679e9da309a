// Command vehicle-agent runs pkg/vehicle's telemetry simulator and POSTs
// its state to a running fleet-controller, the way a real onboard agent
// would relay MAVLink-derived telemetry over the wire.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/vriez/multi-uav-ooda-system/pkg/vehicle"
)

func main() {
	var (
		controllerAddr string
		vehicleID      int64
		centerX        float64
		centerY        float64
		radiusM        float64
		energyCapacity float64
		maxPayload     float64
		efficiency     float64
		period         time.Duration
	)
	flag.StringVar(&controllerAddr, "controller", "http://localhost:8080", "fleet-controller base URL")
	flag.Int64Var(&vehicleID, "id", 1, "vehicle id")
	flag.Float64Var(&centerX, "center-x", 1000, "patrol circle center x (m)")
	flag.Float64Var(&centerY, "center-y", 1000, "patrol circle center y (m)")
	flag.Float64Var(&radiusM, "radius", 200, "patrol circle radius (m)")
	flag.Float64Var(&energyCapacity, "energy-capacity", 500.0, "absolute energy capacity (energy-units)")
	flag.Float64Var(&maxPayload, "max-payload", 2.5, "max payload (mass-units)")
	flag.Float64Var(&efficiency, "efficiency", 80.0, "meters per energy-unit")
	flag.DurationVar(&period, "period", 500*time.Millisecond, "telemetry send period")
	flag.Parse()

	client := &http.Client{Timeout: 5 * time.Second}

	if err := registerVehicle(client, controllerAddr, vehicleID, energyCapacity, maxPayload, efficiency); err != nil {
		log.Fatalf("register vehicle: %v", err)
	}

	sim := vehicle.New(vehicleID, centerX, centerY, radiusM)
	sim.Start()
	sim.Arm()
	defer sim.Stop()

	log.Printf("vehicle-agent %d starting, sending telemetry to %s every %s", vehicleID, controllerAddr, period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for range ticker.C {
		msg := sim.Telemetry()
		if err := postJSON(client, controllerAddr+"/telemetry", msg); err != nil {
			log.Printf("telemetry post failed: %v", err)
		}
	}
}

type vehicleSeed struct {
	VehicleID      int64   `json:"vehicle_id"`
	EnergyCapacity float64 `json:"energy_capacity"`
	MaxPayload     float64 `json:"max_payload"`
	Efficiency     float64 `json:"efficiency_m_per_energy_unit"`
}

func registerVehicle(client *http.Client, base string, id int64, capacity, maxPayload, efficiency float64) error {
	return postJSON(client, base+"/fleet/vehicles", vehicleSeed{
		VehicleID:      id,
		EnergyCapacity: capacity,
		MaxPayload:     maxPayload,
		Efficiency:     efficiency,
	})
}

func postJSON(client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, url: url}
	}
	return nil
}

type httpStatusError struct {
	status int
	url    string
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.status) + ": " + e.url
}
