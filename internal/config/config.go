// Package config loads the core's single immutable configuration object,
// viper-backed with file, env, and default layers.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration object. It is read once at startup and
// never mutated afterward; every component receives a copy of the sub-tree
// it needs.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Fleet       FleetConfig       `mapstructure:"fleet"`
	Constraints ConstraintConfig  `mapstructure:"constraints"`
	Optimizer   OptimizerConfig   `mapstructure:"optimizer"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	EventBus    EventBusConfig    `mapstructure:"eventbus"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig configures the inbound telemetry/health HTTP surface.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// FleetConfig parameterizes failure detection over the Fleet State Store.
type FleetConfig struct {
	TelemetryPeriodMS     int     `mapstructure:"telemetry_period_ms"`
	TimeoutThresholdMS    int     `mapstructure:"timeout_threshold_ms"`
	AnomalyMultiplier     float64 `mapstructure:"anomaly_multiplier"`
	DischargeBaselinePctS float64 `mapstructure:"discharge_baseline_pct_per_sec"`
	PositionJumpThreshold float64 `mapstructure:"position_jump_threshold_m"`
	MinAltitudeM          float64 `mapstructure:"min_altitude_m"`
	MaxAltitudeM          float64 `mapstructure:"max_altitude_m"`
}

// ConstraintConfig parameterizes the Constraint Validator.
type ConstraintConfig struct {
	SafetyReserveFraction float64 `mapstructure:"safety_reserve_fraction"`
	CollisionBufferM      float64 `mapstructure:"collision_buffer_m"`
	RegionMinX            float64 `mapstructure:"region_min_x"`
	RegionMaxX            float64 `mapstructure:"region_max_x"`
	RegionMinY            float64 `mapstructure:"region_min_y"`
	RegionMaxY            float64 `mapstructure:"region_max_y"`
	AvgVelocityMPS        float64 `mapstructure:"avg_velocity_mps"`
	// HoverEnergyRate is loaded as energy-units/sec for time spent
	// executing a task in place. The validator's energy estimate does not
	// read it: energy cost comes from travel distance only, whatever its
	// value.
	HoverEnergyRate float64 `mapstructure:"hover_energy_rate"`
}

// MissionWeights is one mission type's objective weighting.
type MissionWeights struct {
	WTemporal         float64 `mapstructure:"w_temporal"`
	WCriticality      float64 `mapstructure:"w_criticality"`
	WSpatial          float64 `mapstructure:"w_spatial"`
	LambdaUnallocated float64 `mapstructure:"lambda_unallocated"`
	GammaCoverageGap  float64 `mapstructure:"gamma_coverage_gap"`
	BetaGoldenHour    float64 `mapstructure:"beta_golden_hour"`
	GoldenHourSec     float64 `mapstructure:"golden_hour_sec"`
	UAVMaxRangeM      float64 `mapstructure:"uav_max_range_m"`
}

// OptimizerConfig parameterizes the greedy seed + local search.
type OptimizerConfig struct {
	OptimizationBudgetMS      int                        `mapstructure:"optimization_budget_ms"`
	MaxIterations             int                        `mapstructure:"max_iterations"`
	MaxIterationsNoImprovement int                       `mapstructure:"max_iterations_without_improvement"`
	Weights                   map[string]MissionWeights  `mapstructure:"weights"`
}

// OrchestratorConfig parameterizes the OODA cycle driver.
type OrchestratorConfig struct {
	CycleBudgetMS     int `mapstructure:"cycle_budget_ms"`
	ObserveTimeoutMS  int `mapstructure:"observe_timeout_ms"`
	OrientTimeoutMS   int `mapstructure:"orient_timeout_ms"`
	DecideTimeoutMS   int `mapstructure:"decide_timeout_ms"`
	ActTimeoutMS      int `mapstructure:"act_timeout_ms"`
}

// EventBusConfig selects and parameterizes the outbound Publisher.
type EventBusConfig struct {
	CommandQueueDepth int      `mapstructure:"command_queue_depth"`
	EventQueueDepth   int      `mapstructure:"event_queue_depth"`
	Backend           string   `mapstructure:"backend"` // "memory" or "kafka"
	KafkaBrokers      []string `mapstructure:"kafka_brokers"`
	KafkaCommandTopic string   `mapstructure:"kafka_command_topic"`
	KafkaEventTopic   string   `mapstructure:"kafka_event_topic"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configPath (YAML), applies defaults, allows environment
// override, and unmarshals into a Config. A malformed or missing config
// file is a fatal configuration error at startup.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every configuration default value.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("fleet.telemetry_period_ms", 500)
	v.SetDefault("fleet.timeout_threshold_ms", 1500)
	v.SetDefault("fleet.anomaly_multiplier", 1.5)
	v.SetDefault("fleet.discharge_baseline_pct_per_sec", 0.05)
	v.SetDefault("fleet.position_jump_threshold_m", 100.0)
	v.SetDefault("fleet.min_altitude_m", 5.0)
	v.SetDefault("fleet.max_altitude_m", 120.0)

	v.SetDefault("constraints.safety_reserve_fraction", 0.20)
	v.SetDefault("constraints.collision_buffer_m", 15.0)
	v.SetDefault("constraints.region_min_x", 0.0)
	v.SetDefault("constraints.region_max_x", 3000.0)
	v.SetDefault("constraints.region_min_y", 0.0)
	v.SetDefault("constraints.region_max_y", 2000.0)
	v.SetDefault("constraints.avg_velocity_mps", 10.0)
	v.SetDefault("constraints.hover_energy_rate", 0.0)

	v.SetDefault("optimizer.optimization_budget_ms", 100)
	v.SetDefault("optimizer.max_iterations", 50)
	v.SetDefault("optimizer.max_iterations_without_improvement", 10)
	v.SetDefault("optimizer.weights", map[string]interface{}{
		"surveillance": map[string]interface{}{
			"w_temporal": 0.3, "w_criticality": 0.5, "w_spatial": 0.2,
			"lambda_unallocated": 0.3, "gamma_coverage_gap": 0.2, "beta_golden_hour": 0.0,
			"golden_hour_sec": 0.0, "uav_max_range_m": 2000.0,
		},
		"search-rescue": map[string]interface{}{
			"w_temporal": 0.5, "w_criticality": 0.3, "w_spatial": 0.2,
			"lambda_unallocated": 0.5, "gamma_coverage_gap": 0.0, "beta_golden_hour": 0.5,
			"golden_hour_sec": 3600.0, "uav_max_range_m": 2000.0,
		},
		"delivery": map[string]interface{}{
			"w_temporal": 0.2, "w_criticality": 0.6, "w_spatial": 0.2,
			"lambda_unallocated": 0.4, "gamma_coverage_gap": 0.0, "beta_golden_hour": 0.0,
			"golden_hour_sec": 0.0, "uav_max_range_m": 2000.0,
		},
	})

	v.SetDefault("orchestrator.cycle_budget_ms", 6000)
	v.SetDefault("orchestrator.observe_timeout_ms", 500)
	v.SetDefault("orchestrator.orient_timeout_ms", 500)
	v.SetDefault("orchestrator.decide_timeout_ms", 2000)
	v.SetDefault("orchestrator.act_timeout_ms", 500)

	v.SetDefault("eventbus.command_queue_depth", 256)
	v.SetDefault("eventbus.event_queue_depth", 256)
	v.SetDefault("eventbus.backend", "memory")
	v.SetDefault("eventbus.kafka_command_topic", "uav-fleet.commands")
	v.SetDefault("eventbus.kafka_event_topic", "uav-fleet.decision-events")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
