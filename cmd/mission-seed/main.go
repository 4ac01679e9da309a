// Command mission-seed loads a YAML mission-scenario fixture and POSTs its
// task list into a running fleet-controller's mission database. It stands
// in for an external mission-planning tool, kept out of process.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// scenarioTask mirrors internal/transport's task-seed wire shape so the
// marshaled JSON this tool POSTs decodes cleanly on the other end.
type scenarioTask struct {
	TaskID      int64      `yaml:"task_id" json:"task_id"`
	Type        string     `yaml:"type" json:"type"`
	Position    [3]float64 `yaml:"position" json:"position"`
	Priority    int        `yaml:"priority" json:"priority"`
	DurationSec float64    `yaml:"duration_sec" json:"duration_sec"`
	PayloadReq  float64    `yaml:"payload_req" json:"payload_req"`
	DeadlineSec *float64   `yaml:"deadline_in_sec,omitempty" json:"deadline_in_sec,omitempty"`
	ZoneID      string     `yaml:"zone_id" json:"zone_id"`
}

type scenario struct {
	Name  string         `yaml:"name"`
	Tasks []scenarioTask `yaml:"tasks"`
}

func main() {
	var controllerAddr, scenarioPath string
	flag.StringVar(&controllerAddr, "controller", "http://localhost:8080", "fleet-controller base URL")
	flag.StringVar(&scenarioPath, "scenario", "", "path to a mission scenario YAML fixture")
	flag.Parse()

	if scenarioPath == "" {
		log.Fatal("missing -scenario")
	}

	raw, err := os.ReadFile(scenarioPath)
	if err != nil {
		log.Fatalf("read scenario: %v", err)
	}

	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		log.Fatalf("parse scenario: %v", err)
	}

	body, err := json.Marshal(sc.Tasks)
	if err != nil {
		log.Fatalf("marshal tasks: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(controllerAddr+"/missions/tasks", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("seed tasks: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		log.Fatalf("seed tasks: unexpected status %s", resp.Status)
	}

	log.Printf("seeded scenario %q with %d tasks", sc.Name, len(sc.Tasks))
}
